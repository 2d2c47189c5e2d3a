// Package postgres provides a Postgres-backed document collection: the
// durable node-local persistence engine underneath the replicated stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsmesh/internal/news"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool backing the collections.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the collection needs; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Engine owns the shared pool; each collection scopes its rows by name.
type Engine struct {
	db    DB
	table string
}

// NewEngine connects a pool using the provided config.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "documents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Engine{db: pool, table: table}, nil
}

// NewEngineWithDB constructs an engine from an existing pool (primarily for testing).
func NewEngineWithDB(db DB, table string) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if table == "" {
		table = "documents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Engine{db: db, table: table}, nil
}

// Migrate creates the documents table when absent.
func (e *Engine) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, key)
	)`, e.table)
	if _, err := e.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("migrate %s: %w", e.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (e *Engine) Close() {
	e.db.Close()
}

// Collection scopes engine rows to one named collection.
type Collection struct {
	engine  *Engine
	name    string
	updates chan news.Update
}

// Open returns a collection handle; rows are created lazily on first Put.
func (e *Engine) Open(name string) *Collection {
	return &Collection{
		engine: e,
		name:   name,
		// Postgres is node-local storage, not a peer transport, so the
		// update stream never fires.
		updates: make(chan news.Update),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Put upserts a document under key.
func (c *Collection) Put(ctx context.Context, key string, doc []byte) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (collection, key, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		c.engine.table)
	if _, err := c.engine.db.Exec(ctx, stmt, c.name, key, doc); err != nil {
		return fmt.Errorf("put %s/%s: %w", c.name, key, err)
	}
	return nil
}

// Get fetches a document by key.
func (c *Collection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	stmt := fmt.Sprintf(`SELECT doc FROM %s WHERE collection = $1 AND key = $2`, c.engine.table)
	var doc []byte
	err := c.engine.db.QueryRow(ctx, stmt, c.name, key).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", c.name, key, err)
	}
	return doc, true, nil
}

// All returns every document in the collection.
func (c *Collection) All(ctx context.Context) (map[string][]byte, error) {
	stmt := fmt.Sprintf(`SELECT key, doc FROM %s WHERE collection = $1`, c.engine.table)
	rows, err := c.engine.db.Query(ctx, stmt, c.name)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.name, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", c.name, err)
		}
		out[key] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s rows: %w", c.name, err)
	}
	return out, nil
}

// Delete removes a document by key. Deleting a missing key is a no-op.
func (c *Collection) Delete(ctx context.Context, key string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND key = $2`, c.engine.table)
	if _, err := c.engine.db.Exec(ctx, stmt, c.name, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c.name, key, err)
	}
	return nil
}

// Updates returns a stream that never fires; see Open.
func (c *Collection) Updates() <-chan news.Update {
	return c.updates
}

// Close is a no-op per collection; the engine owns the pool.
func (c *Collection) Close() error {
	return nil
}
