// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression provides the stream codecs logship applies to
// a sealed segment before upload. Each codec names the HTTP
// Content-Encoding that object readers use to decode the body.
package compression
