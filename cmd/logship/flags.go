// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/logship/lib/config"
)

// commonFlags are shared by the ship and replay commands. Each value
// overrides the configuration file only when given on the command
// line.
type commonFlags struct {
	configPath string
	tempdir    string
	region     string
	endpoint   string
	pathStyle  bool
	encryption string
	logLevel   string
	logFormat  string
	help       bool
}

func (f *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "YAML configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVarP(&f.tempdir, "tempdir", "t", "", "staging directory for buffered segments (default: $TMPDIR/logship)")
	flagSet.StringVar(&f.region, "region", "", "bucket region (default: discovered from the bucket)")
	flagSet.StringVar(&f.endpoint, "endpoint", "", "S3-compatible endpoint URL")
	flagSet.BoolVar(&f.pathStyle, "path-style", false, "use path-style bucket addressing")
	flagSet.StringVar(&f.encryption, "encryption", "", "server-side encryption: AES256, aws:kms or none (default: AES256)")
	flagSet.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error (default: info)")
	flagSet.StringVar(&f.logFormat, "log-format", "", "log format: json or text (default: json)")
	flagSet.BoolVarP(&f.help, "help", "h", false, "show this help")
}

// load reads the configuration file and applies the flags that were
// set.
func (f *commonFlags) load(flagSet *pflag.FlagSet) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, usagef("%w", err)
	}

	if flagSet.Changed("tempdir") {
		cfg.Staging.Directory = f.tempdir
	}
	if flagSet.Changed("region") {
		cfg.Upload.Region = f.region
	}
	if flagSet.Changed("endpoint") {
		cfg.Upload.Endpoint = f.endpoint
	}
	if flagSet.Changed("path-style") {
		cfg.Upload.PathStyle = f.pathStyle
	}
	if flagSet.Changed("encryption") {
		cfg.Upload.Encryption = f.encryption
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	cfg.ExpandVariables()
	return cfg, nil
}
