// Package gcs implements a content-addressed blob store on Google Cloud
// Storage, with the CID as the object name.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"newsmesh/internal/hash/sha256"
	"newsmesh/internal/logging"
	"newsmesh/internal/metrics"
	"newsmesh/internal/news"
)

// Config captures bucket parameters for the GCS blob store.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Store writes blobs into a GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	hasher news.Hasher
	logger *zap.Logger
}

// New initializes a GCS client and verifies bucket access so startup fails
// fast on misconfiguration. Authentication is handled via Application
// Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob.gcs.bucket is required")
	}
	logger = logging.OrNop(logger)

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client after attrs failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", cfg.Bucket, err)
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		hasher: sha256.New(),
		logger: logger,
	}, nil
}

// Put uploads data under its content identifier and returns the CID.
// Re-putting identical content overwrites the same object with the same
// bytes, so the operation is idempotent.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	cid, err := s.hasher.Hash(data)
	if err != nil {
		metrics.ObserveBlobOp("put", err)
		return "", fmt.Errorf("derive cid: %w", err)
	}

	wc := s.client.Bucket(s.bucket).Object(s.objectName(cid)).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			s.logger.Warn("close gcs writer after write failure", zap.Error(closeErr))
		}
		metrics.ObserveBlobOp("put", err)
		return "", fmt.Errorf("write gcs object %s: %w", cid, err)
	}
	if err := wc.Close(); err != nil {
		metrics.ObserveBlobOp("put", err)
		return "", fmt.Errorf("finalize gcs object %s: %w", cid, err)
	}
	metrics.ObserveBlobOp("put", nil)
	return cid, nil
}

// Get fetches a blob by CID.
func (s *Store) Get(ctx context.Context, cid string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(s.objectName(cid)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		metrics.ObserveBlobOp("get", news.ErrBlobNotFound)
		return nil, fmt.Errorf("cid %s: %w", cid, news.ErrBlobNotFound)
	}
	if err != nil {
		metrics.ObserveBlobOp("get", err)
		return nil, fmt.Errorf("open gcs object %s: %w", cid, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			s.logger.Warn("close gcs reader", zap.Error(closeErr))
		}
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		metrics.ObserveBlobOp("get", err)
		return nil, fmt.Errorf("read gcs object %s: %w", cid, err)
	}
	metrics.ObserveBlobOp("get", nil)
	return data, nil
}

// Close releases the GCS client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

func (s *Store) objectName(cid string) string {
	if s.prefix == "" {
		return cid
	}
	return s.prefix + "/" + cid
}
