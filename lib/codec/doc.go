// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration for everything logship
// persists in its staging directory, currently the retention
// manifests written beside segments whose delivery failed for good.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same manifest always produces the same bytes. Decoding ignores
// unknown fields, which lets a newer logship add manifest fields
// without breaking replay by an older one.
package codec
