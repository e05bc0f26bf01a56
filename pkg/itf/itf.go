// Package itf provides helpers for integration tests that need a real
// PostgreSQL instance. Tests gate on WORKSHOP_TEST_DSN and skip when it
// is unset, so the default `go test ./...` run stays database-free.
package itf

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repairhq/workshop/pkg/application"
	"github.com/repairhq/workshop/pkg/composables"
	"github.com/repairhq/workshop/pkg/configuration"
	"github.com/repairhq/workshop/pkg/eventbus"
)

// EnvDSN names the environment variable holding the test database DSN.
const EnvDSN = "WORKSHOP_TEST_DSN"

// RequireDSN returns the test DSN or skips the test when none is set.
func RequireDSN(tb testing.TB) string {
	tb.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		tb.Skipf("set %s to run database integration tests", EnvDSN)
	}
	return dsn
}

// NewPool opens a small pool against dsn and closes it on test cleanup.
func NewPool(tb testing.TB, dsn string) *pgxpool.Pool {
	tb.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		tb.Fatalf("parse test dsn: %v", err)
	}
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		tb.Fatalf("create test pool: %v", err)
	}
	tb.Cleanup(pool.Close)
	return pool
}

// SetupApplication builds an application over pool, registers the given
// modules and applies their schemas.
func SetupApplication(tb testing.TB, pool *pgxpool.Pool, mods ...application.Module) application.Application {
	tb.Helper()

	conf := configuration.Use()
	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(conf.Logger()),
	})
	for _, m := range mods {
		if err := m.Register(app); err != nil {
			tb.Fatalf("register module %s: %v", m.Name(), err)
		}
	}
	if err := app.Migrations().Apply(context.Background()); err != nil {
		tb.Fatalf("apply migrations: %v", err)
	}
	return app
}

// TruncateTables empties the given tables so tests start from a clean
// slate without recreating the database.
func TruncateTables(tb testing.TB, pool *pgxpool.Pool, tables ...string) {
	tb.Helper()
	if len(tables) == 0 {
		return
	}
	q := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	if _, err := pool.Exec(context.Background(), q); err != nil {
		tb.Fatalf("truncate tables: %v", err)
	}
}

// TestContext is a fluent builder for integration test environments.
type TestContext struct {
	modules []application.Module
	tables  []string
}

func NewTestContext() *TestContext {
	return &TestContext{}
}

// WithModules adds modules to register before the test runs.
func (tc *TestContext) WithModules(modules ...application.Module) *TestContext {
	tc.modules = append(tc.modules, modules...)
	return tc
}

// WithCleanTables truncates the given tables during Build.
func (tc *TestContext) WithCleanTables(tables ...string) *TestContext {
	tc.tables = append(tc.tables, tables...)
	return tc
}

// Build connects to the test database, registers modules, applies
// migrations and opens a per-test transaction that is rolled back on
// cleanup. It skips the test when WORKSHOP_TEST_DSN is unset.
func (tc *TestContext) Build(tb testing.TB) *TestEnvironment {
	tb.Helper()

	dsn := RequireDSN(tb)
	pool := NewPool(tb, dsn)
	app := SetupApplication(tb, pool, tc.modules...)
	TruncateTables(tb, pool, tc.tables...)

	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	if err != nil {
		tb.Fatalf("begin test transaction: %v", err)
	}
	tb.Cleanup(func() {
		if err := tx.Rollback(context.Background()); err != nil && err != pgx.ErrTxClosed {
			tb.Logf("rollback test transaction: %v", err)
		}
	})

	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithTx(ctx, tx)
	ctx = composables.WithParams(ctx, &composables.Params{})

	return &TestEnvironment{
		Ctx:  ctx,
		Pool: pool,
		Tx:   tx,
		App:  app,
	}
}

// TestEnvironment holds the dependencies a database-backed test needs.
type TestEnvironment struct {
	Ctx  context.Context
	Pool *pgxpool.Pool
	Tx   pgx.Tx
	App  application.Application
}

// Service retrieves a service from the application registry.
func (te *TestEnvironment) Service(service interface{}) interface{} {
	return te.App.Service(service)
}

// GetService retrieves and casts a service by its type.
func GetService[T any](te *TestEnvironment) *T {
	var zero T
	service := te.App.Service(zero)
	if service == nil {
		return nil
	}
	return service.(*T)
}
