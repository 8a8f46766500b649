// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostid determines a stable identifier for the running
// instance, used as the {host_id} variable in object-key templates.
//
// A Resolver tries an ordered list of probes and keeps the first
// success for the life of the process. The default order is:
//
//  1. EC2 instance metadata (IMDSv2, falling back to IMDSv1): the
//     instance id, e.g. "i-0123456789abcdef0".
//  2. ECS task metadata (v4, v3, then v2 endpoints): the task id
//     taken from the task ARN.
//  3. The local hostname.
//  4. The first non-loopback, non-link-local interface address.
//
// Each probe runs under its own short timeout, and a failing probe
// only moves resolution to the next one. New identity sources are
// added by implementing Probe; existing probes are unaffected.
package hostid
