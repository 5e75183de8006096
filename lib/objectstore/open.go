// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/tessera-data/tessera/lib/config"
)

// Open builds the adapter chain described by cfg: the backend, then
// encryption when a key file is configured, then the per-request
// timeout outermost.
func Open(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var store Store
	switch cfg.Backend {
	case config.BackendMemory:
		store = NewMemory(nil)

	case config.BackendFilesystem:
		filesystem, err := NewFilesystem(cfg.Path)
		if err != nil {
			return nil, err
		}
		store = filesystem

	case config.BackendBolt:
		bolt, err := OpenBolt(cfg.Path, WithBoltLogger(logger))
		if err != nil {
			return nil, err
		}
		store = bolt

	case config.BackendS3:
		awsConfig := aws.NewConfig().WithS3ForcePathStyle(cfg.S3.ForcePathStyle)
		if cfg.S3.Region != "" {
			awsConfig = awsConfig.WithRegion(cfg.S3.Region)
		}
		if cfg.S3.Endpoint != "" {
			awsConfig = awsConfig.WithEndpoint(cfg.S3.Endpoint)
		}
		awsSession, err := session.NewSession(awsConfig)
		if err != nil {
			return nil, fmt.Errorf("creating AWS session: %w", err)
		}
		s3Store, err := NewS3(s3.New(awsSession), S3Options{
			Bucket:            cfg.S3.Bucket,
			Prefix:            cfg.S3.Prefix,
			ConditionalWrites: cfg.S3.ConditionalWritesEnabled(),
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		store = s3Store

	default:
		return nil, fmt.Errorf("objectstore: unknown backend %q", cfg.Backend)
	}

	if cfg.EncryptionKeyFile != "" {
		contents, err := os.ReadFile(cfg.EncryptionKeyFile)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("reading encryption key: %w", err)
		}
		key, err := ParseKey(contents)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("%s: %w", cfg.EncryptionKeyFile, err)
		}
		encrypted, err := NewEncrypted(store, key)
		if err != nil {
			store.Close()
			return nil, err
		}
		store = encrypted
	}

	logger.Info("object store opened",
		"backend", cfg.Backend,
		"encrypted", cfg.EncryptionKeyFile != "",
		"request_timeout", cfg.RequestTimeout,
	)
	return WithTimeout(store, cfg.RequestTimeout), nil
}
