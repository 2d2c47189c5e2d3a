// Package audit provides the append-only audit log fed by store writes and
// background ingestion. Emission is asynchronous and best-effort: callers are
// never blocked and sink failures are swallowed.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"newsmesh/internal/news"
)

const defaultBufferSize = 1024

// Entry is one audit record.
type Entry struct {
	At        time.Time `json:"at"`
	Component string    `json:"component"`
	Action    string    `json:"action"`
	Key       string    `json:"key,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Logger buffers entries and appends them to the debug collection in the
// background. A nil *Logger is valid and discards everything.
type Logger struct {
	entries chan Entry
	coll    news.Collection
	logger  *zap.Logger
	clock   news.Clock

	dropped   atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New starts the background append loop. The collection may be nil, in which
// case entries only reach the structured log at debug level.
func New(coll news.Collection, clock news.Clock, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Logger{
		entries: make(chan Entry, defaultBufferSize),
		coll:    coll,
		logger:  logger,
		clock:   clock,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues an entry without blocking. Entries are dropped when the
// buffer is full.
func (l *Logger) Record(component, action, key, detail string) {
	if l == nil || l.closed.Load() {
		return
	}
	entry := Entry{
		At:        l.now(),
		Component: component,
		Action:    action,
		Key:       key,
		Detail:    detail,
	}
	select {
	case l.entries <- entry:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns the number of entries discarded under backpressure.
func (l *Logger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close stops the append loop after draining buffered entries. Safe to call
// more than once. The entries channel is never closed: a Record racing Close
// lands in the buffer or is dropped, it can never panic.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stop)
		<-l.done
	})
}

func (l *Logger) run() {
	defer close(l.done)
	for {
		select {
		case entry := <-l.entries:
			l.append(entry)
		case <-l.stop:
			// Drain whatever made it into the buffer, then exit.
			for {
				select {
				case entry := <-l.entries:
					l.append(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) append(entry Entry) {
	l.logger.Debug("audit",
		zap.String("component", entry.Component),
		zap.String("action", entry.Action),
		zap.String("key", entry.Key),
	)
	if l.coll == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%d-%s-%s", entry.At.UnixNano(), entry.Component, entry.Action)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Best-effort: an unavailable collection must never surface to the
	// write path that triggered the entry.
	if err := l.coll.Put(ctx, key, data); err != nil {
		l.logger.Debug("audit append failed", zap.Error(err))
	}
}

func (l *Logger) now() time.Time {
	if l.clock != nil {
		return l.clock.Now()
	}
	return time.Now().UTC()
}
