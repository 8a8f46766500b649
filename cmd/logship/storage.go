// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/bureau-foundation/logship/lib/config"
	"github.com/bureau-foundation/logship/lib/s3sink"
	"github.com/bureau-foundation/logship/lib/version"
)

// discoveryRegion is used for the bucket region lookup when neither
// the configuration nor the AWS environment names a region.
const discoveryRegion = "us-east-1"

// newSink loads AWS credentials from the standard chain and returns a
// sink for settings.Bucket. Without a configured region the bucket's
// region is looked up first.
func newSink(ctx context.Context, settings config.Settings, logger *slog.Logger) (*s3sink.Sink, error) {
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithAppID(version.AppID()))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	region := settings.Region
	if region == "" {
		lookupOptions := s3sink.ClientOptions{
			Region:    awsConfig.Region,
			Endpoint:  settings.Endpoint,
			PathStyle: settings.PathStyle,
		}
		if lookupOptions.Region == "" {
			lookupOptions.Region = discoveryRegion
		}
		region, err = s3sink.BucketRegion(ctx, s3sink.NewClient(awsConfig, lookupOptions), settings.Bucket)
		if err != nil {
			return nil, err
		}
		logger.Debug("discovered bucket region", "bucket", settings.Bucket, "region", region)
	}

	client := s3sink.NewClient(awsConfig, s3sink.ClientOptions{
		Region:    region,
		Endpoint:  settings.Endpoint,
		PathStyle: settings.PathStyle,
	})
	return s3sink.New(s3sink.Config{
		Client:               client,
		PartSize:             settings.PartSize,
		ServerSideEncryption: settings.Encryption,
		TagHostID:            settings.TagHostID,
		Logger:               logger,
	})
}
