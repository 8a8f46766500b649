// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bureau-foundation/logship/lib/hostid"
	"github.com/bureau-foundation/logship/lib/segment"
)

type contextKey struct{}

// gatedDeliverer blocks every delivery until release is closed, then
// fails the segments whose ID is in fail.
type gatedDeliverer struct {
	release chan struct{}
	fail    map[uint64]bool

	mu       sync.Mutex
	received []uint64
	contexts []context.Context
}

func (g *gatedDeliverer) Deliver(ctx context.Context, sealed *segment.Sealed) error {
	g.mu.Lock()
	g.received = append(g.received, sealed.ID)
	g.contexts = append(g.contexts, ctx)
	g.mu.Unlock()

	<-g.release
	if g.fail[sealed.ID] {
		return &TerminalError{Segment: sealed.Name(), Err: errors.New("rejected")}
	}
	return nil
}

func TestDispatcherRunsDeliveriesConcurrently(t *testing.T) {
	deliverer := &gatedDeliverer{
		release: make(chan struct{}),
		fail:    map[uint64]bool{2: true, 5: true},
	}
	ctx := context.WithValue(context.Background(), contextKey{}, "delivery")
	dispatcher := NewDispatcher(ctx, deliverer, discardLogger())

	for id := uint64(1); id <= 6; id++ {
		// Submit returns even though every delivery is blocked.
		dispatcher.Submit(&segment.Sealed{ID: id, Path: "/staging/segment.sealed"})
	}
	if got := dispatcher.Stats().InFlight; got != 6 {
		t.Fatalf("in flight = %d, want 6", got)
	}

	close(deliverer.release)
	dispatcher.Wait()

	stats := dispatcher.Stats()
	if stats.Delivered != 4 || stats.Failed != 2 || stats.InFlight != 0 {
		t.Fatalf("stats = %+v, want 4 delivered, 2 failed, 0 in flight", stats)
	}
	if len(deliverer.received) != 6 {
		t.Fatalf("deliverer saw %d segments, want 6", len(deliverer.received))
	}
	for _, deliveryContext := range deliverer.contexts {
		if deliveryContext.Value(contextKey{}) != "delivery" {
			t.Fatal("delivery did not run under the dispatcher's context")
		}
	}
}

func TestDispatcherWaitWithNothingSubmitted(t *testing.T) {
	dispatcher := NewDispatcher(context.Background(), &gatedDeliverer{}, discardLogger())
	dispatcher.Wait()
	if stats := dispatcher.Stats(); stats != (Stats{}) {
		t.Fatalf("stats = %+v, want zero", stats)
	}
}

func TestDispatcherWithPipeline(t *testing.T) {
	f := newPipelineFixture(t, "{unique}", func(config *Config) {
		config.Unique = func() string { return "u" }
	})
	dispatcher := NewDispatcher(context.Background(), f.pipeline, discardLogger())
	var sealed []*segment.Sealed
	for i := 0; i < 3; i++ {
		sealed = append(sealed, sealSegment(t, f.store, f.clock, "chunk"))
	}
	for _, s := range sealed {
		dispatcher.Submit(s)
	}
	dispatcher.Wait()

	if stats := dispatcher.Stats(); stats.Delivered != 3 {
		t.Fatalf("stats = %+v, want 3 delivered", stats)
	}
	assertGone(t, sealed[0].Path, sealed[1].Path, sealed[2].Path)
}

func TestDispatcherUnresolvedIdentityIsFatal(t *testing.T) {
	f := newPipelineFixture(t, "{host_id}/{unique}", nil)
	dispatcher := NewDispatcher(context.Background(), f.pipeline, discardLogger())

	f.sink.alwaysFail = Permanent(errors.New("AccessDenied"))
	dispatcher.Submit(sealSegment(t, f.store, f.clock, "rejected by the sink"))
	dispatcher.Wait()
	select {
	case <-dispatcher.Fatal():
		t.Fatal("an ordinary terminal failure closed Fatal")
	default:
	}
	if err := dispatcher.Err(); err != nil {
		t.Fatalf("Err = %v after an ordinary failure, want nil", err)
	}

	f.identity.err = hostid.ErrUnresolved
	dispatcher.Submit(sealSegment(t, f.store, f.clock, "no identity"))
	dispatcher.Submit(sealSegment(t, f.store, f.clock, "still no identity"))
	dispatcher.Wait()

	select {
	case <-dispatcher.Fatal():
	default:
		t.Fatal("Fatal not closed after identity resolution failed")
	}
	if err := dispatcher.Err(); !errors.Is(err, hostid.ErrUnresolved) {
		t.Fatalf("Err = %v, want one wrapping hostid.ErrUnresolved", err)
	}
	if stats := dispatcher.Stats(); stats.Failed != 3 {
		t.Errorf("failed = %d, want 3", stats.Failed)
	}
}
