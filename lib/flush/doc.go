// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package flush decides when the active segment is sealed.
//
// A [Controller] owns the single active segment. Appends go to it
// until it reaches the size threshold; a periodic [Controller.Tick]
// seals it once it has been open for the duration threshold, however
// little it holds. Sealed segments leave the controller through a
// [Handoff] and are never touched by it again, so ingestion continues
// into a fresh segment while the sealed one is compressed and
// uploaded elsewhere.
//
// Segments that received no bytes are discarded instead of sealed:
// an idle input produces no objects.
package flush
