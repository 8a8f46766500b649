// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads logship's configuration.
//
// A YAML file, named by the --config flag or the LOGSHIP_CONFIG
// environment variable, is decoded over [Default]. The command line
// then overrides individual fields for flags the user set explicitly,
// so a file can carry site defaults while a unit file or shell passes
// the destination and thresholds.
//
// Sizes are human-readable strings ("1MiB", "512KB", "10 MB") and
// durations use time.ParseDuration syntax ("90s", "1h"). Both are
// checked by [Config.Validate] and converted by [Config.Settings],
// which is what the rest of logship consumes.
//
// ${VAR} and ${VAR:-default} are expanded in the staging directory
// and input path after loading.
//
// This package depends on no other logship packages except
// lib/compression, for codec names.
package config
