// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source used by logship's timer-driven
// components: the flush controller's age trigger and the delivery
// pipeline's retry backoff.
//
// Production code receives Real(). Tests receive Fake(), whose time
// only moves when Advance is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	controller := flush.New(flush.Config{Clock: c, ...})
//	go controller.Run(ctx)
//	c.WaitForTimers(1)          // the tick loop registered its ticker
//	c.Advance(time.Minute)      // fire it deterministically
//
// WaitForTimers closes the race between a goroutine registering a timer
// and the test advancing the clock past it.
package clock
