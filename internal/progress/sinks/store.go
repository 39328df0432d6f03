package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/progress"
	"github.com/JakeFAU/genealogy-crawler/internal/store"
)

// StoreSink persists run progress via a store.RunRepository. Fetch events are
// collapsed into one counter delta per run per batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type runDelta struct {
	delta store.OutcomeDelta
	at    time.Time
}

// Consume forwards run milestones and aggregated fetch counters. Run starts
// are written before counters so the row exists to be updated.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*runDelta)
	var completions []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			completions = append(completions, evt)
		case progress.StageFetchDone:
			d := deltas[runID]
			if d == nil {
				d = &runDelta{}
				deltas[runID] = d
			}
			addOutcome(&d.delta, evt)
			if evt.TS.After(d.at) {
				d.at = evt.TS
			}
		}
	}

	for runID, d := range deltas {
		if d.delta.IsZero() {
			continue
		}
		if err := s.repo.AddOutcomes(ctx, runID, d.delta, d.at); err != nil {
			return fmt.Errorf("add outcomes: %w", err)
		}
	}

	for _, evt := range completions {
		status := store.RunSuccess
		if evt.Stage == progress.StageRunError {
			status = store.RunError
		}
		var note *string
		if evt.Note != "" {
			n := evt.Note
			note = &n
		}
		if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func addOutcome(d *store.OutcomeDelta, evt progress.Event) {
	switch genealogy.Outcome(evt.Outcome) {
	case genealogy.OutcomeFound:
		d.Found++
	case genealogy.OutcomeNotFound:
		d.NotFound++
	case genealogy.OutcomeTransient, genealogy.OutcomeParseFailure:
		d.Failed++
	}
	d.Bytes += evt.Bytes
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
