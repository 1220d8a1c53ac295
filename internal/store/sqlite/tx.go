package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

type ctxKey string

const txCtxKey ctxKey = "sqlite_tx"

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txCtxKey).(*sql.Tx)
	return tx, ok
}

// WithinTx runs fn inside a single transaction. A call nested inside an
// already-active transaction (detected via ctx) reuses it instead of
// opening a second one — transactions never nest in SQLite.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}

	txCtx := context.WithValue(ctx, txCtxKey, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlite: tx failed: %w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}
