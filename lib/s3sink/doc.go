// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3sink stores delivered segments in Amazon S3 or an
// S3-compatible service.
//
// Uploads go through the SDK upload manager: bodies up to the part
// size are sent with a single PutObject, larger ones as a multipart
// upload that is aborted if any part fails. Objects are written with
// server-side encryption (AES256 unless configured otherwise) and,
// when the key was rendered with the host identity, tagged
// HostId=<id>.
//
// The SDK's own retryer is disabled: lib/delivery owns the retry
// policy, and errors that no retry can fix are marked with
// delivery.Permanent.
package s3sink
