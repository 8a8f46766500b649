// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Origin records which probe produced an Identity.
type Origin uint8

const (
	OriginEC2InstanceID Origin = iota + 1
	OriginECSTaskID
	OriginHostname
	OriginIPAddress
)

// String returns a short name for the origin, used in logs.
func (o Origin) String() string {
	switch o {
	case OriginEC2InstanceID:
		return "ec2-instance-id"
	case OriginECSTaskID:
		return "ecs-task-id"
	case OriginHostname:
		return "hostname"
	case OriginIPAddress:
		return "ip-address"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// Identity is a resolved host identifier.
type Identity struct {
	Origin Origin
	Value  string
}

// String returns the display form substituted for {host_id}.
func (i Identity) String() string { return i.Value }

// Probe is one identity source.
type Probe interface {
	// Name identifies the probe in logs.
	Name() string

	// Probe returns the identity from this source, or an error if the
	// source is unavailable. The context carries the probe timeout.
	Probe(ctx context.Context) (Identity, error)
}

// ErrUnresolved is returned when every probe failed.
var ErrUnresolved = errors.New("host identity could not be resolved from any source")

// DefaultProbeTimeout bounds each probe. Metadata endpoints are
// link-local, so anything slower means the endpoint is absent.
const DefaultProbeTimeout = 250 * time.Millisecond

// Resolver resolves and caches the host identity. Safe for concurrent
// use: concurrent callers of Resolve serialize on the first
// resolution and then share its result.
type Resolver struct {
	probes       []Probe
	probeTimeout time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	resolved *Identity
}

// NewResolver returns a Resolver that tries probes in order. A
// non-positive probeTimeout selects DefaultProbeTimeout.
func NewResolver(logger *slog.Logger, probeTimeout time.Duration, probes ...Probe) *Resolver {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Resolver{
		probes:       probes,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// Resolve returns the cached identity, resolving it on first use. A
// failed resolution is not cached; the next call probes again.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != nil {
		return *r.resolved, nil
	}

	for _, probe := range r.probes {
		if err := ctx.Err(); err != nil {
			return Identity{}, err
		}
		probeContext, cancel := context.WithTimeout(ctx, r.probeTimeout)
		identity, err := probe.Probe(probeContext)
		cancel()
		if err != nil {
			r.logger.Debug("host identity probe failed", "probe", probe.Name(), "error", err)
			continue
		}
		if identity.Value == "" {
			r.logger.Debug("host identity probe returned an empty value", "probe", probe.Name())
			continue
		}
		r.logger.Info("resolved host identity",
			"probe", probe.Name(),
			"origin", identity.Origin.String(),
			"host_id", identity.Value,
		)
		r.resolved = &identity
		return identity, nil
	}
	return Identity{}, ErrUnresolved
}
