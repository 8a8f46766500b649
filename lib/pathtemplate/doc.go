// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathtemplate compiles object-key templates such as
//
//	logs/{host_id}/{year}/{month}/{day}/{hour}{minute}{second}-{unique}.log
//
// into a token sequence that can be rendered many times without
// re-parsing. Recognized variables are host_id, year, month, day, hour,
// minute, second and unique. A doubled brace ("{{" or "}}") renders as
// a single literal brace.
//
// Every syntax problem is reported by Compile, so an invalid template
// is rejected at startup, before any input is consumed. Render cannot
// fail.
//
// Time fields are always rendered in UTC from the timestamp passed in
// Values, not from the wall clock at render time. The unique variable
// is supplied by the caller (see NewUnique) so that a delivery can
// render its key once and reuse it across upload retries.
package pathtemplate
