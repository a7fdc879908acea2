package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns the lifecycle of the Postgres test database and pgx pool.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness boots (or reuses, when dsn is set) a Postgres 16 database and
// applies the up migrations. A reused database gets a private schema that
// Close drops.
func NewHarness(ctx context.Context, dsn string, maxConns int32) (*Harness, error) {
	shared := dsn != ""
	container, resolved, err := StartPostgres16(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	if container.C == nil {
		shared = true
	}

	pool, teardown, err := ApplyMigrations(ctx, resolved, shared, maxConns)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Harness{
		container: container,
		pool:      pool,
		dsn:       resolved,
		teardown:  teardown,
	}, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var err error
	if h.teardown != nil {
		err = h.teardown(ctx)
	}
	if h.container != nil {
		if terr := h.container.Terminate(ctx); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}

// Reset truncates mutable tables to provide a clean slate for next epoch.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"timeline_events",
		"disputes",
		"negotiation_sessions",
		"exchanges",
		"users",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}

	return nil
}
