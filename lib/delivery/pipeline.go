// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/logship/lib/clock"
	"github.com/bureau-foundation/logship/lib/compression"
	"github.com/bureau-foundation/logship/lib/hostid"
	"github.com/bureau-foundation/logship/lib/pathtemplate"
	"github.com/bureau-foundation/logship/lib/segment"
)

// Retry defaults.
const (
	DefaultMaxAttempts    = 8
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultAttemptTimeout = 10 * time.Minute
)

// IdentitySource resolves the host identity for {host_id}.
// *hostid.Resolver implements it.
type IdentitySource interface {
	Resolve(ctx context.Context) (hostid.Identity, error)
}

// Config holds the parameters for NewPipeline.
type Config struct {
	Bucket   string
	Template *pathtemplate.Template

	// Identity is required when Template uses {host_id}, and is
	// never consulted otherwise.
	Identity IdentitySource

	Sink  Sink
	Codec compression.Codec

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// AttemptTimeout bounds a single Put call.
	AttemptTimeout time.Duration

	// Unique produces the {unique} token. Defaults to
	// pathtemplate.NewUnique.
	Unique func() string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Pipeline compresses, names, and uploads sealed segments. Safe for
// concurrent use: each Deliver call owns its segment and staging
// files.
type Pipeline struct {
	bucket         string
	template       *pathtemplate.Template
	identity       IdentitySource
	sink           Sink
	codec          compression.Codec
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	attemptTimeout time.Duration
	unique         func() string
	clock          clock.Clock
	logger         *slog.Logger
}

// NewPipeline validates config and fills in defaults.
func NewPipeline(config Config) (*Pipeline, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("delivery: bucket is required")
	}
	if config.Template == nil {
		return nil, fmt.Errorf("delivery: key template is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("delivery: sink is required")
	}
	if config.Template.UsesHostID() && config.Identity == nil {
		return nil, fmt.Errorf("delivery: template %q uses {host_id} but no identity source is configured", config.Template)
	}

	pipeline := &Pipeline{
		bucket:         config.Bucket,
		template:       config.Template,
		identity:       config.Identity,
		sink:           config.Sink,
		codec:          config.Codec,
		maxAttempts:    config.MaxAttempts,
		initialBackoff: config.InitialBackoff,
		maxBackoff:     config.MaxBackoff,
		attemptTimeout: config.AttemptTimeout,
		unique:         config.Unique,
		clock:          config.Clock,
		logger:         config.Logger,
	}
	if pipeline.maxAttempts <= 0 {
		pipeline.maxAttempts = DefaultMaxAttempts
	}
	if pipeline.initialBackoff <= 0 {
		pipeline.initialBackoff = DefaultInitialBackoff
	}
	if pipeline.maxBackoff <= 0 {
		pipeline.maxBackoff = DefaultMaxBackoff
	}
	if pipeline.attemptTimeout <= 0 {
		pipeline.attemptTimeout = DefaultAttemptTimeout
	}
	if pipeline.unique == nil {
		pipeline.unique = pathtemplate.NewUnique
	}
	if pipeline.clock == nil {
		pipeline.clock = clock.Real()
	}
	if pipeline.logger == nil {
		pipeline.logger = slog.Default()
	}
	return pipeline, nil
}

// UploadTask is the state of one segment's delivery.
type UploadTask struct {
	Source *segment.Sealed

	// Key is rendered once and reused by every attempt.
	Key    string
	HostID string

	// Codec compresses the body. A key recorded in a manifest keeps
	// the codec it was rendered for.
	Codec compression.Codec

	Attempts        int
	Compressed      bool
	ContentEncoding string
}

// TerminalError reports a delivery that gave up. The raw segment is
// retained with a manifest.
type TerminalError struct {
	Segment  string
	Key      string
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("delivering %s failed after %d attempts: %v", e.Segment, e.Attempts, e.Err)
	}
	return fmt.Sprintf("delivering %s to %s failed after %d attempts: %v", e.Segment, e.Key, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Deliver uploads sealed under a freshly rendered key. It returns nil
// once the object is stored and the staging files are gone, or an
// error matching *TerminalError once the segment has been retained.
// If writing the manifest failed, the error wraps that failure too.
func (p *Pipeline) Deliver(ctx context.Context, sealed *segment.Sealed) error {
	return p.deliver(ctx, &UploadTask{Source: sealed, Codec: p.codec})
}

// Redeliver uploads a retained segment under the key recorded in its
// manifest, or a freshly rendered one if the manifest has none. A
// recorded key is uploaded with the manifest's content encoding, not
// the pipeline's codec, so that the key's extension stays truthful.
// The segment must match the manifest's digest.
func (p *Pipeline) Redeliver(ctx context.Context, sealed *segment.Sealed) error {
	manifest, err := ReadManifest(sealed)
	if err != nil {
		return err
	}
	if err := Verify(sealed, manifest); err != nil {
		return err
	}
	if manifest.Bucket != "" && manifest.Bucket != p.bucket {
		return fmt.Errorf("segment %s was destined for bucket %q, not %q", sealed.Name(), manifest.Bucket, p.bucket)
	}
	// Keep the original seal time so a freshly rendered key lands in
	// the same time partition.
	if !manifest.SealedAt.IsZero() {
		sealed.SealedAt = manifest.SealedAt
	}
	codec := p.codec
	if manifest.Key != "" {
		codec, err = compression.Parse(manifest.ContentEncoding)
		if err != nil {
			return fmt.Errorf("segment %s: manifest content encoding: %w", sealed.Name(), err)
		}
	}
	return p.deliver(ctx, &UploadTask{
		Source: sealed,
		Key:    manifest.Key,
		HostID: manifest.HostID,
		Codec:  codec,
	})
}

func (p *Pipeline) deliver(ctx context.Context, task *UploadTask) error {
	sealed := task.Source
	logger := p.logger.With("segment", sealed.Name())

	if task.Key == "" {
		if err := p.renderKey(ctx, task); err != nil {
			return p.retain(task, logger, fmt.Errorf("rendering key: %w", err))
		}
	}
	logger = logger.With("key", task.Key)

	body, size, err := p.prepareBody(task)
	if err != nil {
		return p.retain(task, logger, err)
	}

	uploadErr := p.upload(ctx, task, body, size, logger)
	body.Close()
	if uploadErr != nil {
		return p.retain(task, logger, uploadErr)
	}

	if err := sealed.Remove(); err != nil {
		// The object is stored. A leftover segment is uploaded again
		// by the next startup's recovery under a new key.
		logger.Warn("removing delivered segment failed", "error", err)
	}
	logger.Info("segment delivered",
		"bucket", p.bucket,
		"size", humanize.IBytes(uint64(size)),
		"attempts", task.Attempts,
	)
	return nil
}

func (p *Pipeline) renderKey(ctx context.Context, task *UploadTask) error {
	values := pathtemplate.Values{
		Time:   task.Source.SealedAt,
		Unique: p.unique(),
	}
	if p.template.UsesHostID() {
		identity, err := p.identity.Resolve(ctx)
		if err != nil {
			return err
		}
		task.HostID = identity.Value
	}
	values.HostID = task.HostID
	task.Key = p.template.Render(values)
	return nil
}

// prepareBody returns the upload body: the compressed staging file,
// or the raw segment when the task's codec is None.
func (p *Pipeline) prepareBody(task *UploadTask) (*os.File, int64, error) {
	sealed := task.Source
	path := sealed.Path
	if task.Codec != compression.None {
		if err := compress(sealed, task.Codec); err != nil {
			return nil, 0, err
		}
		path = sealed.CompressedPath()
		task.Compressed = true
		task.ContentEncoding = task.Codec.ContentEncoding()
	}

	body, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening upload body: %w", err)
	}
	info, err := body.Stat()
	if err != nil {
		body.Close()
		return nil, 0, fmt.Errorf("inspecting upload body: %w", err)
	}
	return body, info.Size(), nil
}

func compress(sealed *segment.Sealed, codec compression.Codec) error {
	source, err := sealed.Open()
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer source.Close()

	destination, err := os.OpenFile(sealed.CompressedPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating compressed body: %w", err)
	}
	writer, err := codec.NewWriter(destination)
	if err != nil {
		destination.Close()
		return err
	}
	if _, err := io.Copy(writer, source); err != nil {
		writer.Close()
		destination.Close()
		return fmt.Errorf("compressing segment: %w", err)
	}
	if err := writer.Close(); err != nil {
		destination.Close()
		return fmt.Errorf("finishing %s stream: %w", codec, err)
	}
	if err := destination.Close(); err != nil {
		return fmt.Errorf("closing compressed body: %w", err)
	}
	return nil
}

// upload runs attempts until one succeeds or the retry budget, a
// permanent error, or ctx ends the delivery.
func (p *Pipeline) upload(ctx context.Context, task *UploadTask, body io.ReadSeeker, size int64, logger *slog.Logger) error {
	backoff := p.initialBackoff
	for {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewinding upload body: %w", err)
		}
		task.Attempts++

		attemptContext, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		err := p.sink.Put(attemptContext, Object{
			Bucket:          p.bucket,
			Key:             task.Key,
			Body:            body,
			Size:            size,
			ContentEncoding: task.ContentEncoding,
			HostID:          task.HostID,
		})
		cancel()
		if err == nil {
			return nil
		}

		switch {
		case ctx.Err() != nil:
			return errors.Join(err, ctx.Err())
		case IsPermanent(err):
			return err
		case task.Attempts >= p.maxAttempts:
			return err
		}

		logger.Warn("upload failed, will retry",
			"error", err,
			"attempt", task.Attempts,
			"backoff", backoff,
		)
		select {
		case <-p.clock.After(backoff):
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
		backoff = min(backoff*2, p.maxBackoff)
	}
}

// retain keeps the raw segment with a manifest and returns the
// terminal error for cause.
func (p *Pipeline) retain(task *UploadTask, logger *slog.Logger, cause error) error {
	sealed := task.Source
	terminal := &TerminalError{
		Segment:  sealed.Name(),
		Key:      task.Key,
		Attempts: task.Attempts,
		Err:      cause,
	}
	logger.Error("delivery failed, retaining segment",
		"error", cause,
		"attempts", task.Attempts,
		"path", sealed.Path,
	)

	if err := os.Remove(sealed.CompressedPath()); err != nil && !os.IsNotExist(err) {
		logger.Warn("removing compressed body failed", "error", err)
	}

	size, digest, err := digestFile(sealed.Path)
	if err != nil {
		logger.Error("writing manifest failed", "error", err)
		return errors.Join(terminal, err)
	}
	err = WriteManifest(sealed, Manifest{
		Version:         manifestVersion,
		Segment:         sealed.Name(),
		SequenceID:      sealed.ID,
		Bucket:          p.bucket,
		Key:             task.Key,
		ContentEncoding: task.ContentEncoding,
		HostID:          task.HostID,
		SealedAt:        sealed.SealedAt,
		FailedAt:        p.clock.Now(),
		Size:            size,
		Digest:          digest,
		Attempts:        task.Attempts,
		LastError:       cause.Error(),
	})
	if err != nil {
		logger.Error("writing manifest failed", "error", err)
		return errors.Join(terminal, err)
	}
	return terminal
}
