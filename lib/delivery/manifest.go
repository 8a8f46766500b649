// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/logship/lib/codec"
	"github.com/bureau-foundation/logship/lib/segment"
)

// manifestVersion is bumped when a field changes meaning.
const manifestVersion = 1

// Manifest describes a segment whose delivery failed terminally. It
// is written next to the segment as <segment>.manifest.
type Manifest struct {
	Version    int    `cbor:"version"`
	Segment    string `cbor:"segment"`
	SequenceID uint64 `cbor:"sequence_id"`

	Bucket string `cbor:"bucket"`

	// Key is empty when the failure happened before the key could
	// be rendered (for example, the host identity was unresolvable).
	// Replay renders a fresh key in that case.
	Key             string `cbor:"key,omitempty"`
	ContentEncoding string `cbor:"content_encoding,omitempty"`
	HostID          string `cbor:"host_id,omitempty"`

	SealedAt time.Time `cbor:"sealed_at"`
	FailedAt time.Time `cbor:"failed_at"`

	// Size and Digest (BLAKE3-256) cover the raw segment bytes.
	Size   int64  `cbor:"size"`
	Digest []byte `cbor:"digest"`

	Attempts  int    `cbor:"attempts"`
	LastError string `cbor:"last_error"`
}

// WriteManifest writes manifest beside sealed atomically: a temporary
// file in the same directory is written, fsynced, and renamed into
// place, then the directory is synced. Readers never see a partial
// manifest.
func WriteManifest(sealed *segment.Sealed, manifest Manifest) error {
	data, err := codec.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	path := sealed.ManifestPath()
	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary manifest: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary manifest: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary manifest: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary manifest: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming manifest into place: %w", err)
	}

	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// ReadManifest reads the manifest beside sealed. A missing manifest
// returns an error wrapping os.ErrNotExist.
func ReadManifest(sealed *segment.Sealed) (Manifest, error) {
	data, err := os.ReadFile(sealed.ManifestPath())
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := codec.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decoding manifest %s: %w", sealed.ManifestPath(), err)
	}
	if manifest.Version != manifestVersion {
		return Manifest{}, fmt.Errorf("manifest %s: unsupported version %d", sealed.ManifestPath(), manifest.Version)
	}
	return manifest, nil
}

// DescribeManifest returns the CBOR diagnostic notation of the
// manifest beside sealed.
func DescribeManifest(sealed *segment.Sealed) (string, error) {
	data, err := os.ReadFile(sealed.ManifestPath())
	if err != nil {
		return "", err
	}
	return codec.Diagnose(data)
}

// Verify checks that the segment on disk still matches the size and
// digest recorded in manifest.
func Verify(sealed *segment.Sealed, manifest Manifest) error {
	size, digest, err := digestFile(sealed.Path)
	if err != nil {
		return err
	}
	if size != manifest.Size {
		return fmt.Errorf("segment %s: size %d does not match manifest size %d", sealed.Name(), size, manifest.Size)
	}
	if !bytes.Equal(digest, manifest.Digest) {
		return fmt.Errorf("segment %s: content does not match manifest digest", sealed.Name())
	}
	return nil
}

// digestFile returns the size and BLAKE3-256 digest of the file at
// path.
func digestFile(path string) (int64, []byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("opening %s for digest: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return 0, nil, fmt.Errorf("hashing %s: %w", path, err)
	}
	return size, hasher.Sum(nil), nil
}
