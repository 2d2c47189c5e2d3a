package memory

import (
	"context"
	"sync"
)

// Engine hands out named in-memory collections, one instance per name, and
// stops them together. It stands in for the replicated-store engine in
// single-node and test deployments.
type Engine struct {
	mu    sync.Mutex
	colls map[string]*Collection
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{colls: make(map[string]*Collection)}
}

// Start is a no-op; memory collections need no warm-up.
func (e *Engine) Start(_ context.Context) error { return nil }

// Open returns the collection for name, creating it on first use.
func (e *Engine) Open(name string) *Collection {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.colls[name]; ok {
		return c
	}
	c := NewCollection(name)
	e.colls[name] = c
	return c
}

// Stop closes every collection still open. Idempotent.
func (e *Engine) Stop(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.colls {
		_ = c.Close()
	}
	return nil
}
