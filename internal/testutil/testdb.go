// Package testutil provides shared test infrastructure for integration tests.
// It starts a PostgreSQL container with testcontainers-go, applies the
// migrations and hands out a connection pool.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/carmarket/api/internal/database"
)

// TestDB holds a PostgreSQL test container and connection pool. Share one
// per package through TestMain and call Truncate at the start of each test.
type TestDB struct {
	Pool      *pgxpool.Pool
	URL       string
	container testcontainers.Container
}

// SetupTestDB starts a PostgreSQL container, runs all migrations and
// returns a TestDB with an open pool.
//
//	var testDB *testutil.TestDB
//
//	func TestMain(m *testing.M) {
//	    var code int
//	    defer func() { os.Exit(code) }()
//
//	    db, err := testutil.SetupTestDB()
//	    if err != nil { log.Fatal(err) }
//	    defer db.Close()
//	    testDB = db
//
//	    code = m.Run()
//	}
func SetupTestDB() (*TestDB, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("carmarket_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("getting connection string: %w", err)
	}

	if err := database.Migrate(connStr); err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("connecting: %w", err)
	}

	return &TestDB{Pool: pool, URL: connStr, container: container}, nil
}

// Close closes the pool and terminates the container.
func (tdb *TestDB) Close() {
	if tdb.Pool != nil {
		tdb.Pool.Close()
	}
	if tdb.container != nil {
		tdb.container.Terminate(context.Background())
	}
}

// Truncate removes all rows from application tables, children first.
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	for _, table := range []string{"parts", "cars", "admins"} {
		if _, err := tdb.Pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("truncating %s: %v", table, err)
		}
	}
}
