// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest reads the input stream into the flush controller and
// runs the shutdown sequence when the stream ends.
//
// The input is read in 64 KiB chunks on a dedicated goroutine, so a
// blocking read on stdin or a FIFO never delays a termination signal.
// Each chunk is copied before it is appended. When input ends, a read
// fails, or the context is cancelled, [Loop.Run] stops the duration
// ticker, seals the last segment, hands it to delivery, and waits for
// every delivery in flight.
package ingest
