// Package memory stores blobs in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"newsmesh/internal/hash/sha256"
	"newsmesh/internal/metrics"
	"newsmesh/internal/news"
)

// Store keeps content-addressed blobs in a map.
type Store struct {
	hasher news.Hasher

	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore creates an empty in-memory blob store.
func NewStore() *Store {
	return &Store{
		hasher: sha256.New(),
		data:   make(map[string][]byte),
	}
}

// Put stores data under its content identifier. Identical content always
// yields the same CID, so re-puts are no-ops.
func (s *Store) Put(_ context.Context, data []byte) (string, error) {
	cid, err := s.hasher.Hash(data)
	if err != nil {
		metrics.ObserveBlobOp("put", err)
		return "", fmt.Errorf("derive cid: %w", err)
	}
	s.mu.Lock()
	s.data[cid] = append([]byte(nil), data...)
	s.mu.Unlock()
	metrics.ObserveBlobOp("put", nil)
	return cid, nil
}

// Get fetches a blob by CID.
func (s *Store) Get(_ context.Context, cid string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.data[cid]
	s.mu.RUnlock()
	if !ok {
		metrics.ObserveBlobOp("get", news.ErrBlobNotFound)
		return nil, fmt.Errorf("cid %s: %w", cid, news.ErrBlobNotFound)
	}
	metrics.ObserveBlobOp("get", nil)
	return append([]byte(nil), data...), nil
}

// Len reports the number of stored blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
