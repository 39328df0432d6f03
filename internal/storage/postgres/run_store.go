package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/genealogy-crawler/internal/store"
)

// RunStore implements store.RunRepository on the crawl_runs table.
type RunStore struct {
	pool Pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore builds a RunStore over pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// EnsureSchema creates crawl_runs if it is missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	note TEXT,
	found BIGINT NOT NULL DEFAULT 0,
	not_found BIGINT NOT NULL DEFAULT 0,
	failed BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0,
	last_update TIMESTAMPTZ
)`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure crawl_runs: %w", err)
	}
	return nil
}

// UpsertRunStart records the start of a run.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
INSERT INTO crawl_runs (id, started_at, status, last_update)
VALUES ($1, $2, $3, $2)
ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	note *string,
) error {
	query := `
UPDATE crawl_runs
SET finished_at = $1, status = $2, note = $3, last_update = $1
WHERE id = $4`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, note, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// AddOutcomes increments the run's outcome counters.
func (s *RunStore) AddOutcomes(ctx context.Context, runID uuid.UUID, delta store.OutcomeDelta, at time.Time) error {
	if delta.IsZero() {
		return nil
	}
	query := `
UPDATE crawl_runs
SET found = found + $1,
	not_found = not_found + $2,
	failed = failed + $3,
	bytes_total = bytes_total + $4,
	last_update = $5
WHERE id = $6`
	_, err := s.pool.Exec(ctx, query, delta.Found, delta.NotFound, delta.Failed, delta.Bytes, at, runID)
	if err != nil {
		return fmt.Errorf("add run outcomes: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT id, started_at, finished_at, status, note, found, not_found, failed, bytes_total
FROM crawl_runs
ORDER BY started_at DESC
LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Run, error) {
		var r store.Run
		err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Note,
			&r.Found, &r.NotFound, &r.Failed, &r.Bytes)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}
