// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"io"
)

// Object is one upload request.
type Object struct {
	Bucket string
	Key    string

	// Body is read from offset zero on every attempt. Sinks may read
	// it more than once.
	Body io.ReadSeeker
	Size int64

	// ContentEncoding is empty for uncompressed bodies.
	ContentEncoding string

	// HostID is set only when the key rendering already resolved the
	// host identity. Sinks may attach it as object metadata.
	HostID string
}

// Sink stores objects. Implementations return errors wrapped with
// Permanent for rejections that no retry can fix.
type Sink interface {
	Put(ctx context.Context, object Object) error
}

// Permanent marks err as not worth retrying. Returns nil for a nil
// err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or anything it wraps was marked by
// Permanent.
func IsPermanent(err error) bool {
	var permanent *permanentError
	return errors.As(err, &permanent)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
