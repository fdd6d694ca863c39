package integration

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/rxhl7/internal/platform/db"
	"github.com/ehr/rxhl7/internal/platform/hl7v2"
	"github.com/ehr/rxhl7/migrations"
)

// testDB is the package-level database, initialized once in TestMain. It is
// nil when TEST_DATABASE_URL is unset.
var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	pool, cleanup, err := setupSchema(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup test database: %v\n", err)
		os.Exit(1)
	}
	testDB = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupSchema migrates a throwaway schema and returns a pool whose
// connections use it as their search path.
func setupSchema(ctx context.Context, url string) (*pgxpool.Pool, func(), error) {
	schema := "rxhl7_test_" + uuid.NewString()[:8]

	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		return nil, nil, fmt.Errorf("create schema: %w", err)
	}
	drop := func() {
		admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		admin.Close()
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		drop()
		return nil, nil, fmt.Errorf("parse url: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		drop()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		pool.Close()
		drop()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	return pool, func() {
		pool.Close()
		drop()
	}, nil
}

func requireDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testDB == nil {
		t.Skip("TEST_DATABASE_URL not set")
	}
	return testDB
}

func defaultHeader() hl7v2.HeaderConfig {
	return hl7v2.DefaultHeaderConfig()
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}
