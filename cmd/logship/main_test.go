// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/logship/lib/clock"
	"github.com/bureau-foundation/logship/lib/compression"
	"github.com/bureau-foundation/logship/lib/config"
	"github.com/bureau-foundation/logship/lib/delivery"
	"github.com/bureau-foundation/logship/lib/segment"
)

// isolate clears configuration inputs from the environment so tests do
// not pick up the developer's settings.
func isolate(t *testing.T) string {
	t.Helper()
	directory := t.TempDir()
	t.Setenv(config.EnvironmentVariable, "")
	t.Setenv("TMPDIR", directory)
	return directory
}

func TestParseShipFlagsUsageErrors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing destination", nil, "missing S3 write destination"},
		{"bad scheme", []string{"http://bucket/key"}, "invalid S3 URL format"},
		{"bad template", []string{"s3://bucket/{nope}"}, "nope"},
		{"extra argument", []string{"s3://bucket/key", "extra"}, "unknown argument extra"},
		{"unknown flag", []string{"--frobnicate", "s3://bucket/key"}, "frobnicate"},
		{"bad size", []string{"-s", "lots", "s3://bucket/key"}, "flush.size"},
		{"gzip conflict", []string{"-z", "--compression", "zstd", "s3://bucket/key"}, "--gzip conflicts"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := parseShipFlags(test.args)
			if err == nil {
				t.Fatal("parseShipFlags succeeded, want usage error")
			}
			var usage *usageError
			if !errors.As(err, &usage) {
				t.Fatalf("error %v is not a usage error", err)
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q, want it to contain %q", err, test.want)
			}
		})
	}
}

func TestParseShipFlagsOverrides(t *testing.T) {
	directory := isolate(t)
	input := filepath.Join(directory, "input.log")
	if err := os.WriteFile(input, []byte("line\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	staging := filepath.Join(directory, "staging")

	options, done, err := parseShipFlags([]string{
		"-d", "90s",
		"-s", "512KiB",
		"-i", input,
		"-z",
		"-t", staging,
		"--max-attempts", "3",
		"--no-tagging",
		"--encryption", "none",
		"s3://logs-bucket/app/{year}/{unique}",
	})
	if err != nil {
		t.Fatalf("parseShipFlags: %v", err)
	}
	if done {
		t.Fatal("parseShipFlags reported done for a ship invocation")
	}
	settings := options.settings
	if settings.Bucket != "logs-bucket" || settings.KeyTemplate != "app/{year}/{unique}" {
		t.Errorf("destination = %q %q", settings.Bucket, settings.KeyTemplate)
	}
	if settings.DurationThreshold != 90*time.Second {
		t.Errorf("DurationThreshold = %v, want 90s", settings.DurationThreshold)
	}
	if settings.SizeThreshold != 512<<10 {
		t.Errorf("SizeThreshold = %d, want %d", settings.SizeThreshold, 512<<10)
	}
	if settings.Input != input {
		t.Errorf("Input = %q, want %q", settings.Input, input)
	}
	if settings.Codec != compression.Gzip {
		t.Errorf("Codec = %v, want gzip", settings.Codec)
	}
	if settings.StagingDirectory != staging {
		t.Errorf("StagingDirectory = %q, want %q", settings.StagingDirectory, staging)
	}
	if settings.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", settings.MaxAttempts)
	}
	if settings.TagHostID {
		t.Error("TagHostID = true after --no-tagging")
	}
	if settings.Encryption != "" {
		t.Errorf("Encryption = %q, want empty", settings.Encryption)
	}
	if options.template.UsesHostID() {
		t.Error("template reports host_id use")
	}
}

func TestParseShipFlagsConfigFile(t *testing.T) {
	directory := isolate(t)
	path := filepath.Join(directory, "logship.yaml")
	err := os.WriteFile(path, []byte("destination: s3://from-file/{host_id}\nflush:\n  size: 2MiB\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	options, _, err := parseShipFlags([]string{"--config", path, "-s", "4MiB"})
	if err != nil {
		t.Fatalf("parseShipFlags: %v", err)
	}
	if options.settings.Bucket != "from-file" {
		t.Errorf("Bucket = %q, want from-file", options.settings.Bucket)
	}
	if options.settings.SizeThreshold != 4<<20 {
		t.Errorf("SizeThreshold = %d, want flag value %d", options.settings.SizeThreshold, 4<<20)
	}
	if !options.template.UsesHostID() {
		t.Error("template does not report host_id use")
	}

	options, _, err = parseShipFlags([]string{"--config", path, "s3://from-flag/key"})
	if err != nil {
		t.Fatalf("parseShipFlags: %v", err)
	}
	if options.settings.Bucket != "from-flag" {
		t.Errorf("Bucket = %q, want the positional destination", options.settings.Bucket)
	}
}

func TestParseShipFlagsVersionAndHelp(t *testing.T) {
	isolate(t)
	for _, flag := range []string{"--version", "--help"} {
		options, done, err := parseShipFlags([]string{flag})
		if err != nil {
			t.Fatalf("%s: %v", flag, err)
		}
		if !done || options != nil {
			t.Errorf("%s: done = %v, options = %v; want done with no options", flag, done, options)
		}
	}
}

func TestCheckInput(t *testing.T) {
	directory := t.TempDir()

	if err := checkInput(""); err != nil {
		t.Errorf("checkInput(stdin) = %v", err)
	}

	file := filepath.Join(directory, "input")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := checkInput(file); err != nil {
		t.Errorf("checkInput(regular file) = %v", err)
	}

	if err := checkInput(filepath.Join(directory, "missing")); err == nil {
		t.Error("checkInput(missing) succeeded")
	}

	err := checkInput(directory)
	if err == nil || !strings.Contains(err.Error(), "is a directory") {
		t.Errorf("checkInput(directory) = %v, want directory error", err)
	}

	socketPath := filepath.Join(directory, "s.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	err = checkInput(socketPath)
	if err == nil || !strings.Contains(err.Error(), "is a socket") {
		t.Errorf("checkInput(socket) = %v, want socket error", err)
	}
}

func TestNewLogger(t *testing.T) {
	var output bytes.Buffer
	logger := newLogger(&output, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("logged %d lines, want 1: %q", len(lines), output.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["msg"] != "shown" || record["key"] != "value" {
		t.Errorf("record = %v", record)
	}

	output.Reset()
	newLogger(&output, "debug", "text").Debug("plain")
	if !strings.Contains(output.String(), "msg=plain") {
		t.Errorf("text output = %q", output.String())
	}
}

// retainSegment stages a sealed segment with a manifest, the way a
// terminal delivery failure leaves it.
func retainSegment(t *testing.T, store *segment.Store, content string, key string) *segment.Sealed {
	t.Helper()
	active, err := store.Create()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := active.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	sealedAt := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	sealed, err := active.Seal(sealedAt)
	if err != nil {
		t.Fatal(err)
	}
	digest := blake3.Sum256([]byte(content))
	err = delivery.WriteManifest(sealed, delivery.Manifest{
		Version:    1,
		Segment:    sealed.Name(),
		SequenceID: sealed.ID,
		Bucket:     "logs-bucket",
		Key:        key,
		SealedAt:   sealedAt,
		FailedAt:   sealedAt.Add(time.Minute),
		Size:       int64(len(content)),
		Digest:     digest[:],
		Attempts:   8,
		LastError:  "connection refused",
	})
	if err != nil {
		t.Fatal(err)
	}
	return sealed
}

func TestListRetained(t *testing.T) {
	store, err := segment.NewStore(t.TempDir(), clock.Real())
	if err != nil {
		t.Fatal(err)
	}

	var output bytes.Buffer
	if err := listRetained(&output, store, false); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(output.String(), "no retained segments") {
		t.Errorf("empty listing = %q", output.String())
	}

	intact := retainSegment(t, store, "hello world\n", "app/2026/143000-A.log")
	modified := retainSegment(t, store, "original\n", "")
	if err := os.WriteFile(modified.Path, []byte("tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	output.Reset()
	if err := listRetained(&output, store, true); err != nil {
		t.Fatal(err)
	}
	listing := output.String()
	for _, want := range []string{
		intact.Name(),
		"s3://logs-bucket/app/2026/143000-A.log",
		"attempts=8",
		"status=ok",
		"last error: connection refused",
		modified.Name(),
		"(key not rendered)",
		"does not match manifest digest",
		`"sealed_at"`,
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestRunReplayDryRun(t *testing.T) {
	directory := isolate(t)
	store, err := segment.NewStore(filepath.Join(directory, "logship"), clock.Real())
	if err != nil {
		t.Fatal(err)
	}
	retainSegment(t, store, "data", "k")

	if err := run([]string{"replay", "--dry-run"}); err != nil {
		t.Fatalf("replay --dry-run: %v", err)
	}
	retained, err := store.Retained()
	if err != nil {
		t.Fatal(err)
	}
	if len(retained) != 1 {
		t.Errorf("dry run changed retained segments: %d remain, want 1", len(retained))
	}
}

func TestRunReplayRequiresDestination(t *testing.T) {
	isolate(t)
	err := run([]string{"replay"})
	var usage *usageError
	if !errors.As(err, &usage) {
		t.Fatalf("replay without destination = %v, want usage error", err)
	}
}
