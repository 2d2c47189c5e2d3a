// Package store implements the key-indexed article stores on top of a
// replicated document collection. One generic implementation backs the three
// deployed instances: local (keyed by URL), analyzed (keyed by id) and
// federated (append-only pointer list).
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"newsmesh/internal/audit"
	"newsmesh/internal/logging"
	"newsmesh/internal/metrics"
	"newsmesh/internal/news"
)

// Store instance names used for metrics and audit entries.
const (
	NameLocal     = "local"
	NameAnalyzed  = "analyzed"
	NameFederated = "federated"
)

// Document is anything the store can persist.
type Document interface {
	StoreKey() string
	Identifiers() (id, url, cid string)
}

// Store is an upsert store over one replicated collection. Writes surface
// errors; reads degrade to "not found" since callers treat read failures and
// missing documents identically.
type Store[T Document] struct {
	name   string
	coll   news.Collection
	audit  *audit.Logger
	logger *zap.Logger
}

// New wires a Store to its backing collection. The audit logger may be nil.
func New[T Document](name string, coll news.Collection, auditLog *audit.Logger, logger *zap.Logger) *Store[T] {
	return &Store[T]{
		name:   name,
		coll:   coll,
		audit:  auditLog,
		logger: logging.OrNop(logger).Named("store." + name),
	}
}

// Name returns the instance name.
func (s *Store[T]) Name() string { return s.name }

// Save upserts by primary key. With overwrite=false an existing key is left
// untouched and Save reports false; the bulk ingest path uses this to avoid
// clobbering enriched fields with fresh raw fetches.
func (s *Store[T]) Save(ctx context.Context, doc T, overwrite bool) (bool, error) {
	key := doc.StoreKey()
	if key == "" {
		return false, fmt.Errorf("store %s: document has empty key", s.name)
	}
	if !overwrite {
		if _, exists, err := s.coll.Get(ctx, key); err == nil && exists {
			return false, nil
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("store %s: marshal %q: %w", s.name, key, err)
	}
	if err := s.coll.Put(ctx, key, data); err != nil {
		metrics.ObserveStoreOp(s.name, "save", err)
		s.logger.Error("save failed", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("store %s: save %q: %w", s.name, key, err)
	}
	metrics.ObserveStoreOp(s.name, "save", nil)
	s.audit.Record("store."+s.name, "save", key, "")
	return true, nil
}

// Get fetches a document by primary key. Read failures degrade to not-found.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	data, exists, err := s.coll.Get(ctx, key)
	if err != nil {
		s.logger.Warn("get degraded to not-found", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	if !exists {
		return zero, false
	}
	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("undecodable document", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return doc, true
}

// QueryByPredicate returns every stored document matching fn. Read failures
// and undecodable documents degrade to an empty result.
func (s *Store[T]) QueryByPredicate(ctx context.Context, fn func(T) bool) []T {
	all, err := s.coll.All(ctx)
	if err != nil {
		s.logger.Warn("query degraded to empty", zap.Error(err))
		return nil
	}
	var out []T
	for key, data := range all {
		var doc T
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("skipping undecodable document", zap.String("key", key), zap.Error(err))
			continue
		}
		if fn(doc) {
			out = append(out, doc)
		}
	}
	return out
}

// Delete removes a document by primary key. Unlike reads, delete failures
// are surfaced.
func (s *Store[T]) Delete(ctx context.Context, key string) error {
	if err := s.coll.Delete(ctx, key); err != nil {
		metrics.ObserveStoreOp(s.name, "delete", err)
		return fmt.Errorf("store %s: delete %q: %w", s.name, key, err)
	}
	metrics.ObserveStoreOp(s.name, "delete", nil)
	s.audit.Record("store."+s.name, "delete", key, "")
	return nil
}

// GetByAnyIdentifier resolves a document from any identifier a caller might
// hold: exact URL, then id, then CID, then URL with a single trailing slash
// stripped. Earlier stages win over later ones, so an exact URL match always
// beats a normalized one.
func (s *Store[T]) GetByAnyIdentifier(ctx context.Context, ident string) (T, bool) {
	var zero T
	if ident == "" {
		return zero, false
	}
	// Primary-key fast path. It only short-circuits when the fetched
	// document's URL is exactly ident, which is the first stage's condition,
	// so precedence is unchanged for stores not keyed by URL.
	if data, exists, err := s.coll.Get(ctx, ident); err == nil && exists {
		var doc T
		if err := json.Unmarshal(data, &doc); err == nil {
			if _, url, _ := doc.Identifiers(); url == ident {
				return doc, true
			}
		}
	}
	all, err := s.coll.All(ctx)
	if err != nil {
		s.logger.Warn("lookup degraded to not-found", zap.Error(err))
		return zero, false
	}
	docs := make([]T, 0, len(all))
	for key, data := range all {
		var doc T
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("skipping undecodable document", zap.String("key", key), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}

	stages := []func(id, url, cid string) bool{
		func(_, url, _ string) bool { return url != "" && url == ident },
		func(id, _, _ string) bool { return id != "" && id == ident },
		func(_, _, cid string) bool { return cid != "" && cid == ident },
		func(_, url, _ string) bool {
			return url != "" && news.NormalizeURL(url) == news.NormalizeURL(ident)
		},
	}
	for _, match := range stages {
		for _, doc := range docs {
			if match(doc.Identifiers()) {
				return doc, true
			}
		}
	}
	return zero, false
}

// Close closes the backing collection.
func (s *Store[T]) Close() error {
	if err := s.coll.Close(); err != nil {
		return fmt.Errorf("store %s: close: %w", s.name, err)
	}
	return nil
}
