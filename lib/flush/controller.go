// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/logship/lib/clock"
	"github.com/bureau-foundation/logship/lib/segment"
)

// ErrClosed is returned by Append after Shutdown.
var ErrClosed = errors.New("flush controller is shut down")

// sizeReportInterval is how many bytes an active segment accumulates
// between debug size reports.
const sizeReportInterval = 10 << 20

// Handoff receives sealed segments. Submit must not block on
// delivery: it is called with the controller's lock held.
type Handoff interface {
	Submit(sealed *segment.Sealed)
}

// Config holds the parameters for New.
type Config struct {
	// Store creates the staging files. Required.
	Store *segment.Store

	// SizeThreshold seals the active segment once it holds at least
	// this many bytes. Required, positive.
	SizeThreshold int64

	// DurationThreshold seals the active segment once it has been
	// open this long. Required, positive.
	DurationThreshold time.Duration

	// TickInterval is how often Run calls Tick. Defaults to one
	// second, or DurationThreshold if that is shorter.
	TickInterval time.Duration

	// Handoff receives every sealed segment except the one returned
	// by Shutdown. Required.
	Handoff Handoff

	Clock  clock.Clock
	Logger *slog.Logger
}

// Controller is the flush state machine. All methods are safe for
// concurrent use.
type Controller struct {
	store             *segment.Store
	sizeThreshold     int64
	durationThreshold time.Duration
	tickInterval      time.Duration
	handoff           Handoff
	clock             clock.Clock
	logger            *slog.Logger

	mu         sync.Mutex
	active     *segment.Segment
	nextReport int64
	closed     bool
}

// New validates config and returns a Controller with no active
// segment.
func New(config Config) (*Controller, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("flush: store is required")
	}
	if config.Handoff == nil {
		return nil, fmt.Errorf("flush: handoff is required")
	}
	if config.SizeThreshold <= 0 {
		return nil, fmt.Errorf("flush: size threshold must be positive, got %d", config.SizeThreshold)
	}
	if config.DurationThreshold <= 0 {
		return nil, fmt.Errorf("flush: duration threshold must be positive, got %s", config.DurationThreshold)
	}

	tickInterval := config.TickInterval
	if tickInterval <= 0 {
		tickInterval = min(time.Second, config.DurationThreshold)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		store:             config.Store,
		sizeThreshold:     config.SizeThreshold,
		durationThreshold: config.DurationThreshold,
		tickInterval:      tickInterval,
		handoff:           config.Handoff,
		clock:             clk,
		logger:            logger,
	}, nil
}

// Append writes data to the active segment, opening one first if
// needed. When the segment reaches the size threshold it is sealed
// and handed off, and a fresh segment is opened before Append
// returns. A single Append is never split across segments.
//
// A write error seals whatever reached the segment, hands it off, and
// returns the error. Returns ErrClosed after Shutdown.
func (c *Controller) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.active == nil {
		if err := c.openLocked(); err != nil {
			return err
		}
	}

	if _, err := c.active.Write(data); err != nil {
		return errors.Join(err, c.sealLocked("write-error"))
	}

	if written := c.active.Written(); written >= c.nextReport {
		c.logger.Debug("active segment size",
			"segment", c.active.Path(),
			"size", humanize.IBytes(uint64(written)),
		)
		c.nextReport = written - written%sizeReportInterval + sizeReportInterval
	}

	if c.active.Written() >= c.sizeThreshold {
		if err := c.sealLocked("size"); err != nil {
			return err
		}
		return c.openLocked()
	}
	return nil
}

// Tick seals the active segment if it has been open for at least the
// duration threshold. An expired segment with no data is discarded.
func (c *Controller) Tick() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil
	}
	if c.clock.Now().Sub(c.active.OpenedAt()) < c.durationThreshold {
		return nil
	}
	return c.sealLocked("duration")
}

// Shutdown rejects further appends and seals the active segment
// regardless of thresholds. The sealed segment is returned to the
// caller instead of being handed off; it is nil when there was no
// active segment or it was empty. Later calls return nil.
func (c *Controller) Shutdown() (*segment.Sealed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	active := c.active
	c.active = nil
	if active == nil {
		return nil, nil
	}
	if active.Written() == 0 {
		return nil, active.Discard()
	}
	sealed, err := active.Seal(c.clock.Now())
	if err != nil {
		return nil, err
	}
	c.logger.Info("segment sealed",
		"segment", sealed.Name(),
		"trigger", "shutdown",
		"size", humanize.IBytes(uint64(sealed.Size)),
	)
	return sealed, nil
}

// Run calls Tick every tick interval until ctx is cancelled. Tick
// errors are logged; the next tick retries with a fresh segment.
func (c *Controller) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Tick(); err != nil {
				c.logger.Error("duration-triggered seal failed", "error", err)
			}
		}
	}
}

func (c *Controller) openLocked() error {
	active, err := c.store.Create()
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	c.active = active
	c.nextReport = sizeReportInterval
	return nil
}

// sealLocked seals the active segment and hands it off, or discards
// it when empty. The slot is cleared either way: a segment whose seal
// failed is never retried.
func (c *Controller) sealLocked(trigger string) error {
	active := c.active
	c.active = nil

	if active.Written() == 0 {
		c.logger.Debug("discarding empty segment", "segment", active.Path(), "trigger", trigger)
		return active.Discard()
	}

	sealed, err := active.Seal(c.clock.Now())
	if err != nil {
		return err
	}
	c.logger.Info("segment sealed",
		"segment", sealed.Name(),
		"trigger", trigger,
		"size", humanize.IBytes(uint64(sealed.Size)),
	)
	c.handoff.Submit(sealed)
	return nil
}
