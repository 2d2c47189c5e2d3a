package store

import (
	"context"

	"go.uber.org/zap"

	"newsmesh/internal/audit"
	"newsmesh/internal/news"
)

// FederatedStore is the append-only pointer list announcing content
// availability to peers. Pointers are never mutated or deleted; re-announcing
// a CID appends a new entry.
type FederatedStore struct {
	inner *Store[news.FederatedPointer]
}

// NewFederated wires the pointer store to its backing collection.
func NewFederated(coll news.Collection, auditLog *audit.Logger, logger *zap.Logger) *FederatedStore {
	return &FederatedStore{
		inner: New[news.FederatedPointer](NameFederated, coll, auditLog, logger),
	}
}

// Append records a pointer. Duplicate announcements (same CID, same instant)
// are skipped silently.
func (f *FederatedStore) Append(ctx context.Context, ptr news.FederatedPointer) error {
	_, err := f.inner.Save(ctx, ptr, false)
	return err
}

// Scan returns every pointer matching fn.
func (f *FederatedStore) Scan(ctx context.Context, fn func(news.FederatedPointer) bool) []news.FederatedPointer {
	return f.inner.QueryByPredicate(ctx, fn)
}

// ByCID returns pointers announcing the given CID.
func (f *FederatedStore) ByCID(ctx context.Context, cid string) []news.FederatedPointer {
	return f.Scan(ctx, func(p news.FederatedPointer) bool { return p.CID == cid })
}

// Close closes the backing collection.
func (f *FederatedStore) Close() error {
	return f.inner.Close()
}
