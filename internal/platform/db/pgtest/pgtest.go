//go:build integration

// Package pgtest starts a throwaway Postgres with the schema applied, for
// repository integration tests.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/carebridge/tcm/internal/platform/db"
	"github.com/carebridge/tcm/migrations"
)

// Start runs postgres:16-alpine, applies every migration and returns a pool.
// The container is terminated when the test finishes.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tcm"),
		postgres.WithUsername("tcm"),
		postgres.WithPassword("tcm"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{DatabaseURL: connStr, MaxConns: 4})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, migrations.FS, ".").Up(ctx); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return pool
}
