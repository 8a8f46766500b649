// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package s3sink

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientOptions adjusts the S3 client built by NewClient.
type ClientOptions struct {
	// Region overrides the region from the AWS configuration.
	Region string

	// Endpoint targets an S3-compatible service instead of AWS.
	Endpoint string

	// PathStyle addresses buckets as endpoint/bucket.
	PathStyle bool
}

// NewClient returns an S3 client for uploads. SDK retries are off
// and checksums are computed only where the API requires them.
func NewClient(config aws.Config, options ClientOptions) *s3.Client {
	return s3.NewFromConfig(config, func(o *s3.Options) {
		if options.Region != "" {
			o.Region = options.Region
		}
		if options.Endpoint != "" {
			o.BaseEndpoint = aws.String(options.Endpoint)
		}
		o.UsePathStyle = options.PathStyle
		o.Retryer = aws.NopRetryer{}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
}

// BucketRegion asks S3 which region holds bucket. The request is
// unsigned, so it works before credentials for the right region are
// known.
func BucketRegion(ctx context.Context, client manager.HeadBucketAPIClient, bucket string) (string, error) {
	region, err := manager.GetBucketRegion(ctx, client, bucket)
	if err != nil {
		return "", fmt.Errorf("determining the region of bucket %s: %w", bucket, err)
	}
	return region, nil
}
