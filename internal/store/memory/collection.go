// Package memory provides an in-memory replicated collection for
// development and testing. Concurrent writes merge last-write-wins by
// timestamp, mirroring the merge rule of the production replication engine.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"newsmesh/internal/news"
)

// ErrClosed is returned for operations on a closed collection.
var ErrClosed = errors.New("collection closed")

const updateBuffer = 64

type entry struct {
	data []byte
	at   time.Time
}

// Collection is an in-memory news.Collection.
type Collection struct {
	name string

	mu      sync.RWMutex
	docs    map[string]entry
	closed  bool
	updates chan news.Update
}

// NewCollection creates an empty collection.
func NewCollection(name string) *Collection {
	return &Collection{
		name:    name,
		docs:    make(map[string]entry),
		updates: make(chan news.Update, updateBuffer),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Put upserts a document under key.
func (c *Collection) Put(_ context.Context, key string, doc []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.docs[key] = entry{data: append([]byte(nil), doc...), at: time.Now().UTC()}
	return nil
}

// Get fetches a document by key.
func (c *Collection) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false, ErrClosed
	}
	e, ok := c.docs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.data...), true, nil
}

// All returns a snapshot of every document.
func (c *Collection) All(_ context.Context) (map[string][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	out := make(map[string][]byte, len(c.docs))
	for k, e := range c.docs {
		out[k] = append([]byte(nil), e.data...)
	}
	return out, nil
}

// Delete removes a document by key. Deleting a missing key is a no-op.
func (c *Collection) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	delete(c.docs, key)
	return nil
}

// ApplyRemote merges a peer-originated write. The incoming document wins
// only when its timestamp is not older than the resident one; either way the
// update stream is notified, without blocking.
func (c *Collection) ApplyRemote(key string, doc []byte, peer string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	resident, ok := c.docs[key]
	if !ok || !at.Before(resident.at) {
		c.docs[key] = entry{data: append([]byte(nil), doc...), at: at}
	}
	// The send stays under the lock: Close closes the channel under the same
	// lock, so a notification can never hit a closed channel.
	select {
	case c.updates <- news.Update{Collection: c.name, Key: key, Peer: peer, At: at}:
	default:
	}
}

// Updates streams peer-originated change notifications.
func (c *Collection) Updates() <-chan news.Update {
	return c.updates
}

// Close makes the collection reject further operations. Idempotent.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.updates)
	return nil
}
