// Package local implements a filesystem-backed content-addressed blob store.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"newsmesh/internal/hash/sha256"
	"newsmesh/internal/metrics"
	"newsmesh/internal/news"
)

// Config captures the parameters for the filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir"`
}

// Store writes blobs under BaseDir, sharded by CID prefix.
type Store struct {
	baseDir string
	hasher  news.Hasher
}

// New creates a filesystem-backed blob store, verifying the base directory
// exists and is writable so startup fails fast on misconfiguration.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir, hasher: sha256.New()}, nil
}

// Put writes data under its content identifier and returns the CID.
func (s *Store) Put(_ context.Context, data []byte) (string, error) {
	cid, err := s.hasher.Hash(data)
	if err != nil {
		metrics.ObserveBlobOp("put", err)
		return "", fmt.Errorf("derive cid: %w", err)
	}
	path, err := s.pathFor(cid)
	if err != nil {
		metrics.ObserveBlobOp("put", err)
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		metrics.ObserveBlobOp("put", err)
		return "", fmt.Errorf("create shard directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		metrics.ObserveBlobOp("put", err)
		return "", fmt.Errorf("write blob %s: %w", cid, err)
	}
	metrics.ObserveBlobOp("put", nil)
	return cid, nil
}

// Get fetches a blob by CID.
func (s *Store) Get(_ context.Context, cid string) ([]byte, error) {
	path, err := s.pathFor(cid)
	if err != nil {
		metrics.ObserveBlobOp("get", err)
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		metrics.ObserveBlobOp("get", news.ErrBlobNotFound)
		return nil, fmt.Errorf("cid %s: %w", cid, news.ErrBlobNotFound)
	}
	if err != nil {
		metrics.ObserveBlobOp("get", err)
		return nil, fmt.Errorf("read blob %s: %w", cid, err)
	}
	metrics.ObserveBlobOp("get", nil)
	return data, nil
}

// pathFor shards blobs by the first two CID characters and guards against
// path traversal through a malformed CID.
func (s *Store) pathFor(cid string) (string, error) {
	if len(cid) < 3 {
		return "", fmt.Errorf("malformed cid %q", cid)
	}
	fullPath := filepath.Join(s.baseDir, cid[:2], cid)
	cleanBase := filepath.Clean(s.baseDir)
	cleanFull := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFull, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected for cid %q", cid)
	}
	return cleanFull, nil
}
