// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// logship buffers a log stream on local disk and ships it to S3 in
// batches.
//
// It reads stdin (or a FIFO named by --input) and appends to a staging
// segment. A segment is sealed when it reaches the size threshold
// (--size, default 1MiB) or has been open for the duration threshold
// (--duration, default 1h), then compressed and uploaded in the
// background while reading continues into a fresh segment. The object
// key comes from the destination's template:
//
//	logship -s 64MiB -d 5m -z 's3://my-logs/{host_id}/{year}/{month}/{day}/{hour}{minute}{second}-{unique}.gz'
//
// Template variables are {host_id}, {year}, {month}, {day}, {hour},
// {minute}, {second} (all UTC) and {unique}. {{ and }} produce literal
// braces. {host_id} is the EC2 instance id, ECS task id, hostname, or
// IP address, whichever is found first.
//
// On end of input or SIGINT/SIGTERM, logship seals what it has, waits
// for uploads in flight to finish, and exits. A second signal stops
// retries. Segments that could not be delivered stay in the staging
// directory with a manifest; "logship replay" uploads them again.
// Segments left by a crash are delivered at the next startup.
package main
