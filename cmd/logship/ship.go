// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/logship/lib/clock"
	"github.com/bureau-foundation/logship/lib/config"
	"github.com/bureau-foundation/logship/lib/delivery"
	"github.com/bureau-foundation/logship/lib/flush"
	"github.com/bureau-foundation/logship/lib/hostid"
	"github.com/bureau-foundation/logship/lib/ingest"
	"github.com/bureau-foundation/logship/lib/pathtemplate"
	"github.com/bureau-foundation/logship/lib/segment"
	"github.com/bureau-foundation/logship/lib/version"
)

// shipOptions is everything runShip resolved from the command line
// and configuration before any input is read.
type shipOptions struct {
	settings config.Settings
	template *pathtemplate.Template
}

func parseShipFlags(args []string) (*shipOptions, bool, error) {
	var (
		common      commonFlags
		duration    string
		size        string
		input       string
		gzip        bool
		codec       string
		maxAttempts int
		noTagging   bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("logship", pflag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	common.register(flagSet)
	flagSet.StringVarP(&duration, "duration", "d", "", "maximum time to buffer before flushing, e.g. 90s or 1h (default: 1h)")
	flagSet.StringVarP(&size, "size", "s", "", "maximum bytes to buffer before flushing, e.g. 512KiB or 64MB (default: 1MiB)")
	flagSet.StringVarP(&input, "input", "i", "", "read from this file or FIFO instead of stdin")
	flagSet.BoolVarP(&gzip, "gzip", "z", false, "compress objects with gzip (same as --compression=gzip)")
	flagSet.StringVar(&codec, "compression", "", "compression codec: none, gzip, zstd or lz4 (default: none)")
	flagSet.IntVar(&maxAttempts, "max-attempts", 0, "upload attempts per segment before it is retained (default: 8)")
	flagSet.BoolVar(&noTagging, "no-tagging", false, "do not tag objects with HostId")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printShipHelp(flagSet)
			return nil, true, nil
		}
		return nil, false, usagef("%w", err)
	}
	if common.help {
		printShipHelp(flagSet)
		return nil, true, nil
	}
	if showVersion {
		fmt.Printf("logship %s\n", version.Info())
		return nil, true, nil
	}

	cfg, err := common.load(flagSet)
	if err != nil {
		return nil, false, err
	}
	if flagSet.Changed("duration") {
		cfg.Flush.Duration = duration
	}
	if flagSet.Changed("size") {
		cfg.Flush.Size = size
	}
	if flagSet.Changed("input") {
		cfg.Input = input
		cfg.ExpandVariables()
	}
	if flagSet.Changed("compression") {
		cfg.Compression = codec
	}
	if gzip {
		if flagSet.Changed("compression") && codec != "gzip" {
			return nil, false, usagef("--gzip conflicts with --compression=%s", codec)
		}
		cfg.Compression = "gzip"
	}
	if flagSet.Changed("max-attempts") {
		cfg.Upload.MaxAttempts = maxAttempts
	}
	if noTagging {
		cfg.Upload.TagHostID = false
	}

	switch positional := flagSet.Args(); len(positional) {
	case 0:
		if cfg.Destination == "" {
			return nil, false, usagef("missing S3 write destination")
		}
	case 1:
		cfg.Destination = positional[0]
	default:
		return nil, false, usagef("unknown argument %s", positional[1])
	}

	settings, err := cfg.Settings()
	if err != nil {
		return nil, false, usagef("%w", err)
	}
	template, err := pathtemplate.Compile(settings.KeyTemplate)
	if err != nil {
		return nil, false, usagef("%w", err)
	}
	if err := checkInput(settings.Input); err != nil {
		return nil, false, err
	}
	return &shipOptions{settings: settings, template: template}, false, nil
}

func runShip(args []string) error {
	options, done, err := parseShipFlags(args)
	if err != nil || done {
		return err
	}
	settings := options.settings
	logger := newLogger(os.Stderr, settings.LogLevel, settings.LogFormat)

	// The first signal ends input; the second abandons retries.
	ingestContext, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	deliveryContext, stopDelivery := context.WithCancel(context.Background())
	defer stopDelivery()
	finished := make(chan struct{})
	defer close(finished)
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go relaySignals(signals, finished, stopIngest, stopDelivery, logger)

	clk := clock.Real()
	store, err := segment.NewStore(settings.StagingDirectory, clk)
	if err != nil {
		return err
	}
	recovery, err := store.Recover()
	if err != nil {
		return err
	}

	sink, err := newSink(ingestContext, settings, logger)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(settings, options.template, sink, clk, logger)
	if err != nil {
		return err
	}
	dispatcher := delivery.NewDispatcher(deliveryContext, pipeline, logger)
	go stopOnFatal(dispatcher.Fatal(), dispatcher.Err, finished, stopIngest, logger)

	if len(recovery.Pending) > 0 || recovery.Removed > 0 {
		logger.Info("recovered staging directory",
			"pending", len(recovery.Pending),
			"removed", recovery.Removed,
		)
	}
	for _, sealed := range recovery.Pending {
		dispatcher.Submit(sealed)
	}
	if len(recovery.Retained) > 0 {
		logger.Warn("staging directory holds undelivered segments; run \"logship replay\" to upload them",
			"retained", len(recovery.Retained),
			"directory", store.Directory(),
		)
	}

	controller, err := flush.New(flush.Config{
		Store:             store,
		SizeThreshold:     settings.SizeThreshold,
		DurationThreshold: settings.DurationThreshold,
		TickInterval:      settings.TickInterval,
		Handoff:           dispatcher,
		Clock:             clk,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	input, closeInput, err := openInput(settings.Input)
	if err != nil {
		return err
	}
	defer closeInput()

	logger.Info("logship running",
		"version", version.Info(),
		"bucket", settings.Bucket,
		"template", options.template.String(),
		"size_threshold", settings.SizeThreshold,
		"duration_threshold", settings.DurationThreshold,
		"compression", settings.Codec.String(),
		"staging", store.Directory(),
	)

	loop := &ingest.Loop{
		Input:      input,
		Controller: controller,
		Handoff:    dispatcher,
		Logger:     logger,
	}
	runErr := loop.Run(ingestContext)

	stats := dispatcher.Stats()
	logger.Info("logship finished", "delivered", stats.Delivered, "failed", stats.Failed)
	if runErr != nil {
		return runErr
	}
	if err := dispatcher.Err(); err != nil {
		return fmt.Errorf("host identity could not be resolved for the key template: %w", err)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d segments could not be delivered and were kept in %s; run \"logship replay\" to retry",
			stats.Failed, store.Directory())
	}
	return nil
}

// newPipeline wires the delivery pipeline. Host identity probes are
// only built when the template needs them.
func newPipeline(settings config.Settings, template *pathtemplate.Template, sink delivery.Sink, clk clock.Clock, logger *slog.Logger) (*delivery.Pipeline, error) {
	var identity delivery.IdentitySource
	if template.UsesHostID() {
		identity = hostid.NewResolver(logger, settings.ProbeTimeout, hostid.DefaultProbes(&http.Client{})...)
	}
	return delivery.NewPipeline(delivery.Config{
		Bucket:         settings.Bucket,
		Template:       template,
		Identity:       identity,
		Sink:           sink,
		Codec:          settings.Codec,
		MaxAttempts:    settings.MaxAttempts,
		InitialBackoff: settings.InitialBackoff,
		MaxBackoff:     settings.MaxBackoff,
		AttemptTimeout: settings.AttemptTimeout,
		Clock:          clk,
		Logger:         logger,
	})
}

func printShipHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `logship buffers a log stream and writes it to S3 in batches.

Usage:
  logship [flags] s3://bucket/prefix/path-template
  logship replay [flags] [s3://bucket/prefix/path-template]

The path template can include the following variables. Timestamps are
the seal time of the batch in UTC.

  {host_id}   The EC2 instance id, ECS task id, hostname, or IP address.
  {year}      The year.
  {month}     The month as a 2-digit string.
  {day}       The day as a 2-digit string.
  {hour}      The hour as a 2-digit string.
  {minute}    The minute as a 2-digit string.
  {second}    The second as a 2-digit string.
  {unique}    A unique identifier to ensure key uniqueness.

To include a raw '{' or '}' in the key, double it: '{{' / '}}'.

Flags:
`)
	flagSet.PrintDefaults()
}
