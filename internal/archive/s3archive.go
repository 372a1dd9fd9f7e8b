// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package archive optionally copies finalized stream cache files to S3 once
// a stream transitions to READY. It runs asynchronously and never blocks
// the STOPPED reply.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config describes the archival destination.
type Config struct {
	Bucket string
	Region string
	Prefix string
}

// Archiver uploads finalized stream cache files to S3.
type Archiver struct {
	cfg    Config
	client *s3.Client
	logger *slog.Logger
}

// New builds an Archiver using the default AWS credential chain, scoped to
// cfg.Region.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &Archiver{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg),
		logger: logger.With("component", "archive"),
	}, nil
}

// ArchiveAsync uploads cachePath under key {prefix}/{streamID}.cache in a new
// goroutine, logging the outcome. Intended to be fired right after a stream
// transitions to READY.
func (a *Archiver) ArchiveAsync(streamID, cachePath string) {
	go func() {
		if err := a.archive(context.Background(), streamID, cachePath); err != nil {
			a.logger.Error("archive upload failed", "stream_id", streamID, "error", err)
			return
		}
		a.logger.Info("archive upload complete", "stream_id", streamID)
	}()
}

func (a *Archiver) archive(ctx context.Context, streamID, cachePath string) error {
	f, err := os.Open(cachePath)
	if err != nil {
		return fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()

	key := path.Join(a.cfg.Prefix, streamID+".cache")
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("uploading to s3://%s/%s: %w", a.cfg.Bucket, key, err)
	}
	return nil
}
