// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/logship/lib/clock"
	"github.com/bureau-foundation/logship/lib/delivery"
	"github.com/bureau-foundation/logship/lib/pathtemplate"
	"github.com/bureau-foundation/logship/lib/segment"
)

func runReplay(args []string) error {
	var (
		common  commonFlags
		dryRun  bool
		verbose bool
	)
	flagSet := pflag.NewFlagSet("logship replay", pflag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	common.register(flagSet)
	flagSet.BoolVarP(&dryRun, "dry-run", "n", false, "list retained segments without uploading")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "with --dry-run, print each manifest in CBOR diagnostic notation")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printReplayHelp(flagSet)
			return nil
		}
		return usagef("%w", err)
	}
	if common.help {
		printReplayHelp(flagSet)
		return nil
	}

	cfg, err := common.load(flagSet)
	if err != nil {
		return err
	}
	switch positional := flagSet.Args(); len(positional) {
	case 0:
	case 1:
		cfg.Destination = positional[0]
	default:
		return usagef("unknown argument %s", positional[1])
	}

	if dryRun {
		store, err := segment.NewStore(cfg.Staging.Directory, clock.Real())
		if err != nil {
			return err
		}
		return listRetained(os.Stdout, store, verbose)
	}

	if cfg.Destination == "" {
		return usagef("missing S3 write destination")
	}
	settings, err := cfg.Settings()
	if err != nil {
		return usagef("%w", err)
	}
	template, err := pathtemplate.Compile(settings.KeyTemplate)
	if err != nil {
		return usagef("%w", err)
	}
	logger := newLogger(os.Stderr, settings.LogLevel, settings.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	store, err := segment.NewStore(settings.StagingDirectory, clk)
	if err != nil {
		return err
	}
	retained, err := store.Retained()
	if err != nil {
		return err
	}
	if len(retained) == 0 {
		logger.Info("no retained segments", "directory", store.Directory())
		return nil
	}

	sink, err := newSink(ctx, settings, logger)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(settings, template, sink, clk, logger)
	if err != nil {
		return err
	}

	var failed int
	for _, sealed := range retained {
		if err := pipeline.Redeliver(ctx, sealed); err != nil {
			failed++
			var terminal *delivery.TerminalError
			if !errors.As(err, &terminal) {
				logger.Error("replay failed", "segment", sealed.Name(), "error", err)
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	logger.Info("replay finished", "retained", len(retained), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d retained segments could not be delivered", failed, len(retained))
	}
	return ctx.Err()
}

// listRetained prints one line per retained segment along with the
// destination recorded in its manifest and whether the segment still
// matches that manifest.
func listRetained(output io.Writer, store *segment.Store, verbose bool) error {
	retained, err := store.Retained()
	if err != nil {
		return err
	}
	if len(retained) == 0 {
		fmt.Fprintf(output, "no retained segments in %s\n", store.Directory())
		return nil
	}
	for _, sealed := range retained {
		manifest, err := delivery.ReadManifest(sealed)
		if err != nil {
			fmt.Fprintf(output, "%s  unreadable manifest: %v\n", sealed.Name(), err)
			continue
		}
		destination := "s3://" + manifest.Bucket + "/" + manifest.Key
		if manifest.Key == "" {
			destination = "s3://" + manifest.Bucket + " (key not rendered)"
		}
		status := "ok"
		if err := delivery.Verify(sealed, manifest); err != nil {
			status = err.Error()
		}
		fmt.Fprintf(output, "%s  %s  %s  attempts=%d  status=%s\n",
			sealed.Name(), humanize.IBytes(uint64(sealed.Size)), destination, manifest.Attempts, status)
		if manifest.LastError != "" {
			fmt.Fprintf(output, "    last error: %s\n", manifest.LastError)
		}
		if verbose {
			diagnostic, err := delivery.DescribeManifest(sealed)
			if err != nil {
				return err
			}
			fmt.Fprintf(output, "    %s\n", diagnostic)
		}
	}
	return nil
}

func printReplayHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `logship replay uploads segments kept in the staging directory after
their delivery failed. Each segment is uploaded under the key recorded
when it was first attempted.

Usage:
  logship replay [flags] s3://bucket/prefix/path-template
  logship replay --dry-run [flags]

Flags:
`)
	flagSet.PrintDefaults()
}
