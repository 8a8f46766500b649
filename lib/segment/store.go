// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bureau-foundation/logship/lib/clock"
)

// Store creates segments in a staging directory and assigns their
// sequence ids.
type Store struct {
	directory string
	clock     clock.Clock
	lastID    atomic.Uint64
}

// NewStore prepares directory (creating it with mode 0700 if needed).
func NewStore(directory string, clk clock.Clock) (*Store, error) {
	if directory == "" {
		return nil, fmt.Errorf("segment store: staging directory is required")
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging directory %s: %w", directory, err)
	}
	return &Store{directory: directory, clock: clk}, nil
}

// Directory returns the staging directory.
func (s *Store) Directory() string { return s.directory }

// Create opens a new, empty active segment with the next sequence id.
func (s *Store) Create() (*Segment, error) {
	id := s.lastID.Add(1)
	path := filepath.Join(s.directory, fmt.Sprintf("%016d-%s%s", id, uuid.NewString(), ExtActive))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating segment: %w", err)
	}
	return &Segment{
		id:       id,
		path:     path,
		file:     file,
		openedAt: s.clock.Now(),
	}, nil
}

// Recovery is what a previous run left in the staging directory.
type Recovery struct {
	// Pending are sealed segments that were never delivered, including
	// non-empty active segments from a crash (sealed by Recover).
	Pending []*Sealed

	// Retained are sealed segments with a manifest: terminal delivery
	// failures waiting for replay. Recover does not touch them.
	Retained []*Sealed

	// Removed counts empty active segments and stale compressed
	// bodies that were deleted.
	Removed int
}

// Recover scans the staging directory for files left by an earlier
// process. It must run before the first Create, which then numbers
// new segments after the highest recovered id. Sealed and active
// files get their modification time as seal time.
func (s *Store) Recover() (*Recovery, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("reading staging directory %s: %w", s.directory, err)
	}

	recovery := &Recovery{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.directory, entry.Name())
		extension := filepath.Ext(entry.Name())

		if extension == ExtCompressed || strings.HasSuffix(entry.Name(), ExtManifest+".tmp") {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("removing stale %s: %w", path, err)
			}
			recovery.Removed++
			continue
		}
		if extension != ExtActive && extension != ExtSealed {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("inspecting %s: %w", path, err)
		}

		if extension == ExtActive {
			if info.Size() == 0 {
				if err := os.Remove(path); err != nil {
					return nil, fmt.Errorf("removing empty segment %s: %w", path, err)
				}
				recovery.Removed++
				continue
			}
			sealedPath := strings.TrimSuffix(path, ExtActive) + ExtSealed
			if err := os.Rename(path, sealedPath); err != nil {
				return nil, fmt.Errorf("sealing recovered segment %s: %w", path, err)
			}
			path = sealedPath
		}

		sealed := &Sealed{
			ID:       parseID(entry.Name()),
			Path:     path,
			Size:     info.Size(),
			OpenedAt: info.ModTime(),
			SealedAt: info.ModTime(),
		}
		if sealed.ID > s.lastID.Load() {
			s.lastID.Store(sealed.ID)
		}
		if _, err := os.Stat(sealed.ManifestPath()); err == nil {
			recovery.Retained = append(recovery.Retained, sealed)
		} else {
			recovery.Pending = append(recovery.Pending, sealed)
		}
	}

	byID := func(list []*Sealed) {
		sort.Slice(list, func(i, j int) bool {
			if list[i].ID != list[j].ID {
				return list[i].ID < list[j].ID
			}
			return list[i].Path < list[j].Path
		})
	}
	byID(recovery.Pending)
	byID(recovery.Retained)
	return recovery, nil
}

// Retained lists sealed segments that have a manifest beside them.
func (s *Store) Retained() ([]*Sealed, error) {
	matches, err := filepath.Glob(filepath.Join(s.directory, "*"+ExtManifest))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var retained []*Sealed
	for _, manifestPath := range matches {
		path := strings.TrimSuffix(manifestPath, ExtManifest) + ExtSealed
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("manifest %s has no segment: %w", manifestPath, err)
		}
		retained = append(retained, &Sealed{
			ID:       parseID(filepath.Base(path)),
			Path:     path,
			Size:     info.Size(),
			OpenedAt: info.ModTime(),
			SealedAt: info.ModTime(),
		})
	}
	return retained, nil
}

// parseID reads the sequence id prefix of a staging file name. Names
// not produced by Create yield 0.
func parseID(name string) uint64 {
	prefix, _, found := strings.Cut(name, "-")
	if !found {
		return 0
	}
	id, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
