// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package s3sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bureau-foundation/logship/lib/delivery"
)

// DefaultPartSize is the multipart threshold and part size.
const DefaultPartSize = 10 << 20

// permanentCodes are S3 error codes that the same request will keep
// getting no matter how often it is retried.
var permanentCodes = map[string]bool{
	"AccessDenied":          true,
	"AccountProblem":        true,
	"AllAccessDisabled":     true,
	"InvalidAccessKeyId":    true,
	"InvalidArgument":       true,
	"InvalidBucketName":     true,
	"InvalidObjectState":    true,
	"InvalidTag":            true,
	"KMS.DisabledException": true,
	"NoSuchBucket":          true,
	"SignatureDoesNotMatch": true,
}

// Config holds the parameters for New.
type Config struct {
	// Client is usually an *s3.Client from NewClient.
	Client manager.UploadAPIClient

	// PartSize defaults to DefaultPartSize. The SDK minimum is 5 MiB.
	PartSize int64

	// Concurrency is the number of parts uploaded in parallel for one
	// multipart object. Defaults to the upload manager's default.
	Concurrency int

	// ServerSideEncryption is "AES256", "aws:kms", or empty for none.
	ServerSideEncryption string

	// TagHostID attaches HostId=<id> to objects whose key used the
	// host identity.
	TagHostID bool

	Logger *slog.Logger
}

// Sink implements delivery.Sink over the S3 upload manager.
type Sink struct {
	uploader   *manager.Uploader
	encryption types.ServerSideEncryption
	tagHostID  bool
	logger     *slog.Logger
}

// New returns a Sink uploading through config.Client.
func New(config Config) (*Sink, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("s3sink: client is required")
	}
	partSize := config.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	if partSize < manager.MinUploadPartSize {
		return nil, fmt.Errorf("s3sink: part size %d is below the minimum of %d", partSize, manager.MinUploadPartSize)
	}

	var encryption types.ServerSideEncryption
	switch config.ServerSideEncryption {
	case "":
	case string(types.ServerSideEncryptionAes256), string(types.ServerSideEncryptionAwsKms):
		encryption = types.ServerSideEncryption(config.ServerSideEncryption)
	default:
		return nil, fmt.Errorf("s3sink: unsupported server-side encryption %q", config.ServerSideEncryption)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	uploader := manager.NewUploader(config.Client, func(uploader *manager.Uploader) {
		uploader.PartSize = partSize
		uploader.LeavePartsOnError = false
		if config.Concurrency > 0 {
			uploader.Concurrency = config.Concurrency
		}
	})
	return &Sink{
		uploader:   uploader,
		encryption: encryption,
		tagHostID:  config.TagHostID,
		logger:     logger,
	}, nil
}

// Put uploads object. Errors carrying a permanent S3 error code are
// wrapped with delivery.Permanent.
func (s *Sink) Put(ctx context.Context, object delivery.Object) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(object.Bucket),
		Key:    aws.String(object.Key),
		Body:   object.Body,
	}
	if object.ContentEncoding != "" {
		input.ContentEncoding = aws.String(object.ContentEncoding)
	}
	if s.encryption != "" {
		input.ServerSideEncryption = s.encryption
	}
	if s.tagHostID && object.HostID != "" {
		tags := url.Values{"HostId": []string{object.HostID}}
		input.Tagging = aws.String(tags.Encode())
	}

	output, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return classify(err)
	}
	s.logger.Debug("object stored",
		"bucket", object.Bucket,
		"key", object.Key,
		"etag", aws.ToString(output.ETag),
		"multipart", output.UploadID != "",
	)
	return nil
}

// classify marks err permanent when S3 rejected the request with a
// code in permanentCodes.
func classify(err error) error {
	var apiError smithy.APIError
	if errors.As(err, &apiError) && permanentCodes[apiError.ErrorCode()] {
		return delivery.Permanent(err)
	}
	return err
}
