// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File extensions in the staging directory.
const (
	ExtActive     = ".active"
	ExtSealed     = ".sealed"
	ExtManifest   = ".manifest"
	ExtCompressed = ".compressed"
)

// ErrSealed is returned by Write and Seal on a segment that has
// already been sealed or discarded.
var ErrSealed = errors.New("segment is sealed")

// Segment is the writable staging file of one batch. Not safe for
// concurrent use: the flush controller serializes access.
type Segment struct {
	id       uint64
	path     string
	file     *os.File
	written  int64
	openedAt time.Time
	sealed   bool
}

// ID returns the segment's sequence id.
func (s *Segment) ID() uint64 { return s.id }

// Path returns the current path of the staging file.
func (s *Segment) Path() string { return s.path }

// Written returns the number of bytes appended so far.
func (s *Segment) Written() int64 { return s.written }

// OpenedAt returns when the segment started accepting data.
func (s *Segment) OpenedAt() time.Time { return s.openedAt }

// Write appends p to the staging file. On a short write the counter
// reflects what actually reached the file.
func (s *Segment) Write(p []byte) (int, error) {
	if s.sealed {
		return 0, ErrSealed
	}
	n, err := s.file.Write(p)
	s.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing segment %s: %w", s.path, err)
	}
	return n, nil
}

// Seal flushes the staging file to stable storage, closes it and
// renames it to its sealed name. A segment is sealed at most once;
// later calls return ErrSealed.
func (s *Segment) Seal(at time.Time) (*Sealed, error) {
	if s.sealed {
		return nil, ErrSealed
	}
	s.sealed = true

	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return nil, fmt.Errorf("syncing segment %s: %w", s.path, err)
	}
	if err := s.file.Close(); err != nil {
		return nil, fmt.Errorf("closing segment %s: %w", s.path, err)
	}
	sealedPath := strings.TrimSuffix(s.path, ExtActive) + ExtSealed
	if err := os.Rename(s.path, sealedPath); err != nil {
		return nil, fmt.Errorf("sealing segment %s: %w", s.path, err)
	}
	s.path = sealedPath
	if directory, err := os.Open(filepath.Dir(sealedPath)); err == nil {
		directory.Sync()
		directory.Close()
	}

	return &Sealed{
		ID:       s.id,
		Path:     sealedPath,
		Size:     s.written,
		OpenedAt: s.openedAt,
		SealedAt: at,
	}, nil
}

// Discard closes and removes the staging file without sealing it.
// Used for segments that never received data.
func (s *Segment) Discard() error {
	if s.sealed {
		return ErrSealed
	}
	s.sealed = true
	closeErr := s.file.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing segment %s: %w", s.path, err)
	}
	return closeErr
}

// Sealed is an immutable staging file handed to delivery.
type Sealed struct {
	ID       uint64
	Path     string
	Size     int64
	OpenedAt time.Time
	SealedAt time.Time
}

// Open opens the sealed file for reading.
func (s *Sealed) Open() (*os.File, error) {
	return os.Open(s.Path)
}

// ManifestPath is where a retention manifest for this segment lives.
func (s *Sealed) ManifestPath() string {
	return strings.TrimSuffix(s.Path, ExtSealed) + ExtManifest
}

// CompressedPath is where the compressed upload body is staged.
func (s *Sealed) CompressedPath() string {
	return strings.TrimSuffix(s.Path, ExtSealed) + ExtCompressed
}

// Name returns the file name without directory, for logs.
func (s *Sealed) Name() string { return filepath.Base(s.Path) }

// Remove deletes the sealed file and any compressed body or manifest
// staged beside it.
func (s *Sealed) Remove() error {
	var errs []error
	for _, path := range []string{s.CompressedPath(), s.ManifestPath(), s.Path} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
