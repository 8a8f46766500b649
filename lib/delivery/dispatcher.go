// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/logship/lib/hostid"
	"github.com/bureau-foundation/logship/lib/segment"
)

// Deliverer delivers one sealed segment. *Pipeline implements it.
type Deliverer interface {
	Deliver(ctx context.Context, sealed *segment.Sealed) error
}

// Stats counts deliveries since the dispatcher was created.
type Stats struct {
	Delivered uint64
	Failed    uint64
	InFlight  int64
}

// Dispatcher runs each submitted segment's delivery in its own
// goroutine. Submit never blocks, so the flush controller can call it
// while holding its lock.
type Dispatcher struct {
	ctx       context.Context
	deliverer Deliverer
	logger    *slog.Logger

	wg        sync.WaitGroup
	delivered atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64

	fatalOnce sync.Once
	fatal     chan struct{}
	fatalErr  error
}

// NewDispatcher returns a Dispatcher whose deliveries run under ctx.
// Cancelling ctx stops pending retries; those segments are retained.
func NewDispatcher(ctx context.Context, deliverer Deliverer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{ctx: ctx, deliverer: deliverer, logger: logger, fatal: make(chan struct{})}
}

// Submit starts delivering sealed. The dispatcher owns sealed from
// here on.
func (d *Dispatcher) Submit(sealed *segment.Sealed) {
	d.wg.Add(1)
	d.inFlight.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)

		err := d.deliverer.Deliver(d.ctx, sealed)
		if err == nil {
			d.delivered.Add(1)
			return
		}
		d.failed.Add(1)
		var terminal *TerminalError
		if !errors.As(err, &terminal) {
			d.logger.Error("delivery failed", "segment", sealed.Name(), "error", err)
		}
		if errors.Is(err, hostid.ErrUnresolved) {
			d.fatalOnce.Do(func() {
				d.fatalErr = err
				close(d.fatal)
			})
		}
	}()
}

// Fatal is closed once a delivery fails in a way every later delivery
// would too: the key template needs a host identity and none could be
// resolved. Err returns that failure.
func (d *Dispatcher) Fatal() <-chan struct{} {
	return d.fatal
}

// Err returns the failure that closed Fatal, or nil.
func (d *Dispatcher) Err() error {
	select {
	case <-d.fatal:
		return d.fatalErr
	default:
		return nil
	}
}

// Wait blocks until every submitted delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats returns a snapshot of the delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		InFlight:  d.inFlight.Load(),
	}
}
