// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for logship packages.
//
// [RequireReceive] and [RequireClosed] wrap the timeout safety valve
// (a select with a time.After fallback) so that tests driven by the
// fake clock never hang forever when a goroutine fails to report.
// They are the only place in the test suite that reads the wall
// clock.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
