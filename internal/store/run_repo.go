package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// OutcomeDelta is an increment to a run's per-outcome counters.
type OutcomeDelta struct {
	Found    int64
	NotFound int64
	Failed   int64
	Bytes    int64
}

// IsZero reports whether applying d would change nothing.
func (d OutcomeDelta) IsZero() bool {
	return d == OutcomeDelta{}
}

// RunRepository persists incremental run progress.
type RunRepository interface {
	// UpsertRunStart inserts the run, or leaves an existing row untouched.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and note.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, note *string) error
	// AddOutcomes applies counter deltas to the run.
	AddOutcomes(ctx context.Context, runID uuid.UUID, delta OutcomeDelta, at time.Time) error
}

// Run is one persisted crawl_runs row.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Note       *string    `json:"note,omitempty"`
	Found      int64      `json:"found"`
	NotFound   int64      `json:"not_found"`
	Failed     int64      `json:"failed"`
	Bytes      int64      `json:"bytes_total"`
}

// RunReader lists persisted runs for read-only views.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
