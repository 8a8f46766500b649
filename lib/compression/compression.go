// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to an upload body.
type Codec uint8

const (
	// None uploads the segment bytes unchanged.
	None Codec = iota

	// Gzip is gzip at the default level. Readable by every HTTP
	// client and by most log tooling.
	Gzip

	// Zstd is zstd at the default level. Better ratio and speed than
	// gzip for log text.
	Zstd

	// LZ4 is the LZ4 frame format. Lowest CPU cost.
	LZ4
)

// String returns the codec name accepted by Parse.
func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// Parse returns the codec with the given name.
func Parse(name string) (Codec, error) {
	switch name {
	case "none", "":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("unknown compression codec %q (want none, gzip, zstd or lz4)", name)
	}
}

// ContentEncoding is the HTTP Content-Encoding for bodies produced by
// the codec, empty for None.
func (c Codec) ContentEncoding() string {
	if c == None {
		return ""
	}
	return c.String()
}

// NewWriter returns a writer that compresses into w. Close flushes
// the codec's trailer; it does not close w.
func (c Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopCloser{w}, nil
	case Gzip:
		writer, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		return writer, nil
	case Zstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return encoder, nil
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec: %d", c)
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
