// Package sqlite provides a SQLite-backed implementation of store.Store.
//
// WAL mode is enabled on Open. The connection pool is capped at one
// connection for reads and writes alike, so a health-check read waits for
// an in-flight saga write rather than running beside it, the same way
// the teacher's sagalog/sqlite package does it, which makes every
// transaction on this Store a natural serialization point without needing
// SQLite's (absent) row-level locking: spec.md §5's "Store-level row lock"
// requirement is satisfied by having exactly one connection in flight.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Register the pure-Go SQLite driver — no CGO, easy to build in
	// containers, same choice the teacher made over mattn/go-sqlite3.
	_ "modernc.org/sqlite"

	"github.com/jcmexdev/torc/internal/store"
)

// Store is the sqlite.Store implementation of store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// conn returns the active transaction if ctx carries one, else the pool
// handle — every repository method goes through this so it transparently
// participates in WithinTx.
func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return s.db
}

// querier is the subset of *sql.DB/*sql.Tx every repository method needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
