// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// checkInput verifies that path is readable and of a type logship can
// stream from. The file is not opened: opening a FIFO blocks until a
// writer appears.
func checkInput(path string) error {
	if path == "" {
		return nil
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return fmt.Errorf("unable to open %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", path, err)
	}
	switch mode := info.Mode(); {
	case mode.IsDir():
		return fmt.Errorf("unable to open %s: is a directory", path)
	case mode&os.ModeSocket != 0:
		return fmt.Errorf("unable to open %s: is a socket", path)
	}
	return nil
}

// openInput opens path for reading, or returns stdin for an empty
// path. The returned closer is a no-op for stdin.
func openInput(path string) (io.Reader, func() error, error) {
	if path == "" {
		return os.Stdin, func() error { return nil }, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}
	return file, file.Close, nil
}
