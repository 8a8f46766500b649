// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/logship/lib/segment"
)

// DefaultChunkSize is the read buffer size.
const DefaultChunkSize = 64 << 10

// Controller is the flush controller. *flush.Controller implements
// it.
type Controller interface {
	Append(data []byte) error
	Shutdown() (*segment.Sealed, error)
	Run(ctx context.Context)
}

// Handoff accepts the final segment and waits for delivery to drain.
// *delivery.Dispatcher implements it.
type Handoff interface {
	Submit(sealed *segment.Sealed)
	Wait()
}

// Loop moves bytes from Input into Controller.
type Loop struct {
	Input      io.Reader
	Controller Controller
	Handoff    Handoff

	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize int

	Logger *slog.Logger
}

// Run reads until end of input, a read error, or ctx is cancelled,
// then shuts the controller down and waits for deliveries. Read
// errors count as end of input. An Append error (the staging disk
// failed) stops reading and is returned after the drain.
func (l *Loop) Run(ctx context.Context) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := l.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	tickContext, stopTicks := context.WithCancel(context.Background())
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		l.Controller.Run(tickContext)
	}()

	input := newReader(l.Input, chunkSize)
	go input.run()

	var (
		runErr    error
		bytesRead uint64
	)
	appendChunk := func(chunk []byte) bool {
		bytesRead += uint64(len(chunk))
		if err := l.Controller.Append(chunk); err != nil {
			logger.Error("appending to segment failed", "error", err)
			runErr = fmt.Errorf("staging input: %w", err)
			return false
		}
		return true
	}
reading:
	for {
		select {
		case <-ctx.Done():
			logger.Info("termination requested, stopping input")
			break reading
		case chunk := <-input.chunks:
			if !appendChunk(chunk) {
				break reading
			}
		case err := <-input.done:
			if err != nil && !errors.Is(err, io.EOF) {
				logger.Warn("input read failed, treating as end of input", "error", err)
			}
			break reading
		}
	}
	// Bytes already taken from the input still belong in a segment.
	for _, chunk := range input.finish() {
		if runErr != nil || !appendChunk(chunk) {
			break
		}
	}

	stopTicks()
	<-tickerDone

	final, err := l.Controller.Shutdown()
	if err != nil {
		logger.Error("sealing final segment failed", "error", err)
		runErr = errors.Join(runErr, fmt.Errorf("sealing final segment: %w", err))
	}
	if final != nil {
		l.Handoff.Submit(final)
	}

	logger.Info("input finished, waiting for deliveries",
		"read", humanize.IBytes(bytesRead),
	)
	l.Handoff.Wait()
	return runErr
}

// reader moves chunks from an input to the loop. A chunk returned by
// Read is never dropped once the loop has started shutting down:
// finish collects it. Only a Read still blocked when finish runs is
// abandoned.
type reader struct {
	input     io.Reader
	chunkSize int

	chunks chan []byte
	done   chan error
	stop   chan struct{}

	mu      sync.Mutex
	stopped bool
	pending []byte
}

func newReader(input io.Reader, chunkSize int) *reader {
	return &reader{
		input:     input,
		chunkSize: chunkSize,
		chunks:    make(chan []byte, 1),
		done:      make(chan error, 1),
		stop:      make(chan struct{}),
	}
}

// run sends copies of each chunk read from the input on chunks, then
// the terminating error on done.
func (r *reader) run() {
	buffer := make([]byte, r.chunkSize)
	for {
		n, err := r.input.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			if !r.offer(chunk) {
				return
			}
		}
		if err != nil {
			r.done <- err
			return
		}
	}
}

// offer hands chunk to the loop, or parks it for finish once stop is
// closed. It reports whether reading should continue.
func (r *reader) offer(chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	select {
	case r.chunks <- chunk:
		return true
	case <-r.stop:
		r.pending = chunk
		return false
	}
}

// finish stops the reader and returns, in input order, every chunk it
// read that the loop has not received.
func (r *reader) finish() [][]byte {
	close(r.stop)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true

	var leftover [][]byte
	select {
	case chunk := <-r.chunks:
		leftover = append(leftover, chunk)
	default:
	}
	if r.pending != nil {
		leftover = append(leftover, r.pending)
		r.pending = nil
	}
	return leftover
}
