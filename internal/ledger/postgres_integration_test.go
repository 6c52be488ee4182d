//go:build integration

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/congo-pay/walletledger/internal/infra"
)

// startPostgres runs a throwaway PostgreSQL container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestIntegration_PostgresStoreContract(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	pool, err := infra.NewPostgresPool(ctx, dsn, infra.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, infra.ApplySchema(ctx, pool))
	// a second run must be a no-op on an existing schema
	require.NoError(t, infra.ApplySchema(ctx, pool))

	runStoreContract(t, func(t *testing.T) Store { return NewPostgresStore(pool) })
}
