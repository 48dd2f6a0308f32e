// Package pgtest starts a disposable PostgreSQL container with the ledger
// schema applied.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/invoice-ledger/internal/platform/db"
	"github.com/odyssey-erp/invoice-ledger/internal/platform/migrate"
)

// Start runs postgres:16-alpine, migrates it and returns a pool. Everything
// is torn down with the test.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New(dsn, nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// SeedClient inserts an active client and returns its id.
func SeedClient(t *testing.T, pool *pgxpool.Pool, name, taxID string) int64 {
	t.Helper()
	var id int64
	var tax any
	if taxID != "" {
		tax = taxID
	}
	err := pool.QueryRow(context.Background(),
		`INSERT INTO clients (display_name, tax_registration_id) VALUES ($1, $2) RETURNING id`,
		name, tax).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedFinishedGood inserts a finished good with the given availability.
func SeedFinishedGood(t *testing.T, pool *pgxpool.Pool, product, available string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO finished_goods (batch_id, batch_label, product_name, available_quantity, hsn_code)
		VALUES (1, 'B-001', $1, $2::numeric, '3004') RETURNING id`,
		product, available).Scan(&id)
	require.NoError(t, err)
	return id
}

// Available reads the current availability of a finished good.
func Available(t *testing.T, pool *pgxpool.Pool, id int64) string {
	t.Helper()
	var qty string
	err := pool.QueryRow(context.Background(),
		`SELECT available_quantity::text FROM finished_goods WHERE id = $1`, id).Scan(&qty)
	require.NoError(t, err)
	return qty
}
