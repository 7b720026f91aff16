package infra

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns a migrated Postgres database for integration tests.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness boots (or reuses) Postgres 16 and applies migrations. A shared
// database gets its own schema so parallel packages do not collide.
func NewHarness(ctx context.Context) (*Harness, error) {
	pgC, dsn, err := StartPostgres16(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	pool, teardown, err := ApplyMigrations(ctx, dsn, pgC.Shared())
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}
	return &Harness{container: pgC, pool: pool, dsn: dsn, teardown: teardown}, nil
}

// Open returns a harness for t, skipping the test when Postgres cannot be
// started (no Docker and no CLAIMFLOW_TEST_PG_DSN) or when -short is set.
func Open(t testing.TB) *Harness {
	t.Helper()
	if testing.Short() || os.Getenv("CLAIMFLOW_SKIP_PG") != "" {
		t.Skip("postgres integration tests disabled")
	}
	ctx := context.Background()
	h, err := NewHarness(ctx)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates mutable tables to provide a clean slate between cases.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"disputes",
		"verification_requests",
		"work_requests",
		"trust_score_events",
		"trust_scores",
		"approvers",
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
