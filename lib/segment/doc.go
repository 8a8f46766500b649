// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package segment manages the on-disk staging files that hold one
// pending batch each.
//
// A Segment is writable. Sealing it closes the file, renames it from
// "<id>-<uuid>.active" to "<id>-<uuid>.sealed", and returns a Sealed
// value describing the now-immutable file. Batch contents are never
// held in memory, so memory use does not depend on batch size.
//
// Ownership moves with the value: the flush controller owns a Segment
// while it is active, and whoever receives the Sealed (one delivery
// goroutine) owns the file afterwards. A Sealed is not shared.
//
// Staging directory layout:
//
//	0000000000000007-<uuid>.active      being written
//	0000000000000006-<uuid>.sealed      awaiting or in delivery
//	0000000000000003-<uuid>.sealed      retained after terminal failure
//	0000000000000003-<uuid>.manifest    delivery record for the above
//	0000000000000006-<uuid>.compressed  compressed body during upload
package segment
