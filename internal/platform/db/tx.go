package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxOptions used by every ledger write. Rows are serialized with explicit
// FOR UPDATE locks, which under READ COMMITTED wait for and then observe the
// competing commit instead of aborting.
var TxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx executes a function within a transaction. Any error from fn rolls
// the whole transaction back.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, TxOptions)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
