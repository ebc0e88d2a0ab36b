// Package store defines the backend-agnostic relational store interface used
// by the materializer and the query pipeline, plus the factory registry that
// backend packages register themselves with.
//
// The interface is intentionally minimal: create-if-absent all-text tables,
// transactional batch inserts with a row-level fallback, existence/count
// checks for post-write validation, schema description for query generation,
// and validated statement execution. Each backend implements these semantics
// in its own idiomatic way (Postgres $n placeholders, SQLite ?, MSSQL @pN).
package store

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
type Config struct {
	Kind string
	DSN  string
}

// Store opens dedicated connections against one configured backend.
//
// The process-wide connection pool (internal/session) owns the resulting
// Conns; Store itself holds no open connections.
type Store interface {
	// Connect opens one dedicated connection. The caller owns it and must
	// Close it; connections are not safe for concurrent use.
	Connect(ctx context.Context) (Conn, error)

	// Close releases backend-level resources. Open Conns remain usable.
	Close()
}

// Conn is a single live database connection leased to one session at a time.
type Conn interface {
	Close(ctx context.Context) error

	// Ping verifies the connection is still alive; the pool uses it before
	// re-issuing a connection to a new lease.
	Ping(ctx context.Context) error

	// EnsureTable issues an idempotent create-if-absent statement declaring
	// every column as nullable text. Uniform text typing guarantees the
	// structural write never fails on a type mismatch.
	EnsureTable(ctx context.Context, table string, columns []string) error

	// InsertBatch inserts rows inside one transaction; the whole batch
	// commits or rolls back together.
	InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error

	// InsertRow inserts one row, auto-committed. Used as the per-row
	// fallback after a failed batch.
	InsertRow(ctx context.Context, table string, columns []string, row []any) error

	TableExists(ctx context.Context, table string) (bool, error)
	CountRows(ctx context.Context, table string) (int64, error)

	// TableColumns returns the ordered column names of each requested table.
	// Missing tables are simply absent from the result.
	TableColumns(ctx context.Context, tables []string) (map[string][]string, error)

	// Query executes a read statement and collects ordered columns and rows.
	Query(ctx context.Context, sql string) (*ResultSet, error)

	// Exec executes a validated modifying statement and reports the number
	// of affected rows.
	Exec(ctx context.Context, sql string) (int64, error)
}

// ResultSet is an ordered query result.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

/* ---------- backend factories ---------- */

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
// Backend packages call it from init(); registering the same kind twice
// panics so ambiguous backend selection fails fast.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("store: Register called with empty kind")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("store: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Store using the registered backend factory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("store: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported store kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
