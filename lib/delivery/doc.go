// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery moves sealed segments into the object store.
//
// [Pipeline.Deliver] handles one segment from start to finish: it
// compresses the segment into a sibling staging file, renders the
// object key once, and uploads through a [Sink] with bounded
// exponential backoff. Every attempt reuses the same key and the same
// compressed body. On success all staging files for the segment are
// removed. On terminal failure (attempts exhausted, a [Permanent]
// rejection, or cancellation) the raw segment stays on disk with a
// CBOR [Manifest] beside it, and Deliver returns a [*TerminalError].
//
// [Dispatcher] runs one goroutine per sealed segment so that slow
// uploads never hold up ingestion. Retained segments are re-sent with
// [Pipeline.Redeliver], which reuses the key recorded in the manifest
// after checking the segment still matches its digest.
package delivery
