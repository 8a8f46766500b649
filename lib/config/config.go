// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/logship/lib/compression"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "LOGSHIP_CONFIG"

// MaxSegmentSize is the largest size threshold accepted: the S3
// single-object ceiling of 5 TiB.
const MaxSegmentSize int64 = 5 << 40

// Config is the file-level configuration. String fields holding sizes
// and durations are parsed by Settings.
type Config struct {
	// Destination is s3://bucket/key-template.
	Destination string `yaml:"destination"`

	// Input is a file or FIFO to read instead of stdin. Empty or "-"
	// means stdin.
	Input string `yaml:"input"`

	Staging     StagingConfig  `yaml:"staging"`
	Flush       FlushConfig    `yaml:"flush"`
	Compression string         `yaml:"compression"`
	Upload      UploadConfig   `yaml:"upload"`
	Identity    IdentityConfig `yaml:"identity"`
	Log         LogConfig      `yaml:"log"`
}

// StagingConfig configures where segments are buffered on disk.
type StagingConfig struct {
	// Directory holds active, sealed and retained segments.
	// Default: $TMPDIR/logship.
	Directory string `yaml:"directory"`
}

// FlushConfig holds the two seal triggers.
type FlushConfig struct {
	// Size seals a segment once it holds this many bytes.
	// Default: 1MiB.
	Size string `yaml:"size"`

	// Duration seals a segment once it has been open this long.
	// Default: 1h.
	Duration string `yaml:"duration"`

	// TickInterval is how often the duration trigger is checked.
	// Default: 1s, or Duration if shorter.
	TickInterval string `yaml:"tick_interval"`
}

// UploadConfig configures the object store client and retry policy.
type UploadConfig struct {
	// Region overrides bucket region discovery.
	Region string `yaml:"region"`

	// Endpoint points the client at an S3-compatible service.
	Endpoint string `yaml:"endpoint"`

	// PathStyle addresses buckets as endpoint/bucket instead of
	// bucket.endpoint. Needed by most S3-compatible services.
	PathStyle bool `yaml:"path_style"`

	// Encryption is the server-side encryption algorithm: AES256,
	// aws:kms, or none. Default: AES256.
	Encryption string `yaml:"encryption"`

	// TagHostID tags objects with HostId=<id> when the key used the
	// host identity. Default: true.
	TagHostID bool `yaml:"tag_host_id"`

	// PartSize is the multipart threshold and part size.
	// Default: 10MiB.
	PartSize string `yaml:"part_size"`

	MaxAttempts    int    `yaml:"max_attempts"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
	AttemptTimeout string `yaml:"attempt_timeout"`
}

// IdentityConfig configures host identity resolution.
type IdentityConfig struct {
	// ProbeTimeout bounds each metadata probe. Default: 250ms.
	ProbeTimeout string `yaml:"probe_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Staging: StagingConfig{
			Directory: "${TMPDIR:-/tmp}/logship",
		},
		Flush: FlushConfig{
			Size:     "1MiB",
			Duration: "1h",
		},
		Compression: "none",
		Upload: UploadConfig{
			Encryption:     "AES256",
			TagHostID:      true,
			PartSize:       "10MiB",
			MaxAttempts:    8,
			InitialBackoff: "1s",
			MaxBackoff:     "30s",
			AttemptTimeout: "10m",
		},
		Identity: IdentityConfig{
			ProbeTimeout: "250ms",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file named by LOGSHIP_CONFIG, or returns Default
// when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		config := Default()
		config.ExpandVariables()
		return config, nil
	}
	return LoadFile(path)
}

// LoadFile reads path over Default. Unknown keys are an error so that
// typos do not silently fall back to defaults.
func LoadFile(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	config.ExpandVariables()
	return config, nil
}

// ExpandVariables expands ${VAR} patterns in path fields. Load and
// LoadFile call it; callers that override paths afterwards call it
// again.
func (c *Config) ExpandVariables() {
	c.Staging.Directory = expandVars(c.Staging.Directory)
	c.Input = expandVars(c.Input)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
// An unset or empty variable without a default expands to "".
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Settings is the parsed, validated form of Config.
type Settings struct {
	Bucket      string
	KeyTemplate string

	// Input is empty for stdin.
	Input string

	StagingDirectory string

	SizeThreshold     int64
	DurationThreshold time.Duration
	TickInterval      time.Duration

	Codec compression.Codec

	Region     string
	Endpoint   string
	PathStyle  bool
	Encryption string
	TagHostID  bool
	PartSize   int64

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration

	ProbeTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	_, err := c.Settings()
	return err
}

// Settings parses and validates the configuration.
func (c *Config) Settings() (Settings, error) {
	var errs []error
	settings := Settings{
		Input:            c.Input,
		StagingDirectory: c.Staging.Directory,
		Region:           c.Upload.Region,
		Endpoint:         c.Upload.Endpoint,
		PathStyle:        c.Upload.PathStyle,
		TagHostID:        c.Upload.TagHostID,
		MaxAttempts:      c.Upload.MaxAttempts,
		LogLevel:         strings.ToLower(c.Log.Level),
		LogFormat:        strings.ToLower(c.Log.Format),
	}
	if settings.Input == "-" {
		settings.Input = ""
	}

	if c.Destination == "" {
		errs = append(errs, fmt.Errorf("destination is required (s3://bucket/key-template)"))
	} else {
		bucket, template, err := ParseDestination(c.Destination)
		if err != nil {
			errs = append(errs, err)
		}
		settings.Bucket, settings.KeyTemplate = bucket, template
	}

	if settings.StagingDirectory == "" {
		errs = append(errs, fmt.Errorf("staging.directory is required"))
	}

	var err error
	if settings.SizeThreshold, err = parseSize("flush.size", c.Flush.Size); err != nil {
		errs = append(errs, err)
	} else if settings.SizeThreshold > MaxSegmentSize {
		errs = append(errs, fmt.Errorf("flush.size %s exceeds the maximum object size of %s",
			c.Flush.Size, humanize.IBytes(uint64(MaxSegmentSize))))
	}
	if settings.DurationThreshold, err = parseDuration("flush.duration", c.Flush.Duration); err != nil {
		errs = append(errs, err)
	}
	if c.Flush.TickInterval != "" {
		if settings.TickInterval, err = parseDuration("flush.tick_interval", c.Flush.TickInterval); err != nil {
			errs = append(errs, err)
		}
	}

	if settings.Codec, err = compression.Parse(c.Compression); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}

	switch encryption := c.Upload.Encryption; encryption {
	case "AES256", "aws:kms":
		settings.Encryption = encryption
	case "none", "":
	default:
		errs = append(errs, fmt.Errorf("upload.encryption must be AES256, aws:kms or none, got %q", encryption))
	}
	if settings.PartSize, err = parseSize("upload.part_size", c.Upload.PartSize); err != nil {
		errs = append(errs, err)
	} else if settings.PartSize < 5<<20 {
		errs = append(errs, fmt.Errorf("upload.part_size must be at least 5MiB, got %s", c.Upload.PartSize))
	}
	if settings.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("upload.max_attempts must be at least 1, got %d", settings.MaxAttempts))
	}
	if settings.InitialBackoff, err = parseDuration("upload.initial_backoff", c.Upload.InitialBackoff); err != nil {
		errs = append(errs, err)
	}
	if settings.MaxBackoff, err = parseDuration("upload.max_backoff", c.Upload.MaxBackoff); err != nil {
		errs = append(errs, err)
	}
	if settings.InitialBackoff > 0 && settings.MaxBackoff > 0 && settings.MaxBackoff < settings.InitialBackoff {
		errs = append(errs, fmt.Errorf("upload.max_backoff %s is shorter than upload.initial_backoff %s",
			settings.MaxBackoff, settings.InitialBackoff))
	}
	if settings.AttemptTimeout, err = parseDuration("upload.attempt_timeout", c.Upload.AttemptTimeout); err != nil {
		errs = append(errs, err)
	}
	if settings.ProbeTimeout, err = parseDuration("identity.probe_timeout", c.Identity.ProbeTimeout); err != nil {
		errs = append(errs, err)
	}

	switch settings.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch settings.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return Settings{}, errors.Join(errs...)
	}
	return settings, nil
}

// ParseDestination splits s3://bucket/template into bucket and key
// template. The template may contain further slashes.
func ParseDestination(destination string) (bucket, template string, err error) {
	rest, found := strings.CutPrefix(destination, "s3://")
	if !found {
		return "", "", invalidDestination("URL must begin with 's3://'", destination)
	}
	bucket, template, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", invalidDestination("bucket/path cannot be empty", destination)
	}
	if template == "" {
		return "", "", invalidDestination("path cannot be empty", destination)
	}
	return bucket, template, nil
}

func invalidDestination(reason, destination string) error {
	return fmt.Errorf("invalid S3 URL format: %s: %s", reason, destination)
}

func parseSize(field, value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: unable to parse %q as a size: %w", field, value, err)
	}
	if size == 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	if size > uint64(1<<62) {
		return 0, fmt.Errorf("%s: %q is out of range", field, value)
	}
	return int64(size), nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: unable to parse %q as a duration: %w", field, value, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}
