// Package crawl implements the incremental scan over sequential record IDs.
//
// Fetches run concurrently on a bounded worker pool while a single
// coordinator evaluates outcomes in ID order, merges records into the graph
// and decides when to stop.
package crawl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/clock/system"
	"github.com/JakeFAU/genealogy-crawler/internal/dispatcher"
	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/graph"
	"github.com/JakeFAU/genealogy-crawler/internal/id/uuid"
	"github.com/JakeFAU/genealogy-crawler/internal/metrics"
	"github.com/JakeFAU/genealogy-crawler/internal/progress"
	"github.com/JakeFAU/genealogy-crawler/internal/queue/memory"
	"github.com/JakeFAU/genealogy-crawler/internal/snapshot"
	"github.com/JakeFAU/genealogy-crawler/internal/worker"
)

// Engine runs one crawl over a graph store.
type Engine struct {
	cfg     Config
	fetcher genealogy.Fetcher
	parser  genealogy.Parser
	store   *graph.Store
	prior   *snapshot.Snapshot

	logger    *zap.Logger
	emitter   progress.Emitter
	blobStore genealogy.BlobStore
	hasher    genealogy.Hasher
	clock     genealogy.Clock
	ids       genealogy.IDGenerator
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitter routes run, batch and fetch events to emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// WithArchive copies every fetched page into blobStore.
func WithArchive(blobStore genealogy.BlobStore, hasher genealogy.Hasher) Option {
	return func(e *Engine) {
		e.blobStore = blobStore
		e.hasher = hasher
	}
}

// WithClock overrides the time source.
func WithClock(clock genealogy.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(ids genealogy.IDGenerator) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// NewEngine wires an Engine. prior is the latest snapshot, or nil on a first
// run.
func NewEngine(
	cfg Config,
	fetcher genealogy.Fetcher,
	parser genealogy.Parser,
	store *graph.Store,
	prior *snapshot.Snapshot,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("crawl config: %w", err)
	}
	if fetcher == nil || parser == nil {
		return nil, fmt.Errorf("crawl engine requires a fetcher and a parser")
	}
	if store == nil {
		store = graph.New()
	}
	e := &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  parser,
		store:   store,
		prior:   prior,
		logger:  zap.NewNop(),
		clock:   system.New(),
		ids:     uuid.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// StartID resolves where the scan begins: the explicit start, else one past
// the prior cursor, else 1.
func (e *Engine) StartID() int {
	switch {
	case e.cfg.StartID != nil:
		return *e.cfg.StartID
	case e.prior != nil:
		return e.prior.LastValidID + 1
	default:
		return 1
	}
}

// Run scans until the not-found threshold, the limit or ctx ends the run.
// Cancellation is a normal stop: the report covers everything evaluated.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	start := e.StartID()
	startedAt := e.clock.Now()
	rawRunID := progress.ParseRunID(runID)
	logger := e.logger.With(zap.String("run_id", runID))

	var (
		priorUnresolved map[int]int
		priorAbandoned  []int
		priorBad        = make(map[int]bool)
		priorCursor     int
	)
	if e.prior != nil {
		priorUnresolved = e.prior.Unresolved
		priorAbandoned = e.prior.AbandonedIDs
		priorCursor = e.prior.LastValidID
		for _, id := range e.prior.BadIDs {
			priorBad[id] = true
		}
	}

	seq := newSequencer(start, e.cfg, priorUnresolved, priorAbandoned)
	report := Report{RunID: runID, StartID: start, StartedAt: startedAt}

	logger.Info("crawl starting",
		zap.Int("start_id", start),
		zap.Int("workers", e.cfg.Workers),
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.Int("threshold", e.cfg.NotFoundThreshold),
		zap.Int("limit", e.cfg.limit()),
		zap.Int("known_nodes", e.store.NodeCount()),
	)
	e.emit(progress.Event{RunID: rawRunID, TS: startedAt, Stage: progress.StageRunStart})

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	queue := memory.NewQueue(e.cfg.BatchSize)
	results := make(chan genealogy.Result, e.cfg.Workers)
	workers := make([]*worker.Worker, e.cfg.Workers)
	for i := range workers {
		opts := []worker.Option{worker.WithClock(e.clock)}
		if e.emitter != nil {
			opts = append(opts, worker.WithProgress(e.emitter, rawRunID))
		}
		if e.blobStore != nil {
			opts = append(opts, worker.WithArchive(e.blobStore, e.hasher))
		}
		workers[i] = worker.New(i, queue, e.fetcher, e.parser, results, worker.Config{
			BlobPrefix:   e.cfg.ArchivePrefix,
			ArchivePages: e.blobStore != nil,
		}, logger, opts...)
	}
	pool := dispatcher.New(queue, workers)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(workCtx)
	}()

	var (
		next       = start
		dispatched int
		inFlight   int
		limit      = e.cfg.limit()
	)
	apply := func(evaluated []entry, batches []BatchSummary) {
		for _, en := range evaluated {
			e.applyOutcome(&report, en, logger)
		}
		for _, b := range batches {
			e.completeBatch(&report, b, rawRunID, logger)
		}
	}

loop:
	for !seq.stopped() {
		for !seq.stopped() && next <= seq.window() && (limit == 0 || dispatched < limit) {
			id := next
			next++
			if known, bad := e.isKnown(id, priorBad); known {
				apply(seq.add(entry{res: genealogy.Result{ID: id, Outcome: genealogy.OutcomeKnown}, knownBad: bad}))
				continue
			}
			if err := pool.Enqueue(workCtx, genealogy.Task{ID: id}); err != nil {
				apply(nil, cancelBatch(seq))
				break loop
			}
			dispatched++
			inFlight++
		}
		if seq.stopped() {
			break
		}
		if inFlight == 0 {
			// Every dispatched ID is evaluated and the window is closed.
			break
		}

		select {
		case <-ctx.Done():
			apply(nil, cancelBatch(seq))
		case res := <-results:
			inFlight--
			if ctx.Err() != nil {
				apply(nil, cancelBatch(seq))
				continue
			}
			apply(seq.add(entry{res: res}))
		}
	}

	queue.Close()
	cancelWork()
	<-poolDone

	e.finishReport(&report, seq, priorCursor)
	report.FinishedAt = e.clock.Now()
	metrics.SetGraphState(report.LastValidID, e.store.NodeCount(), e.store.EdgeCount())

	logger.Info("crawl finished",
		zap.String("stop_reason", string(report.StopReason)),
		zap.Int("last_valid_id", report.LastValidID),
		zap.Int("attempted", report.Attempted),
		zap.Int("new_records", len(report.NewRecords)),
		zap.Int("new_edges", len(report.NewEdges)),
		zap.Int("bad_ids", len(report.BadIDs)),
		zap.Int("errors", len(report.Errors)),
		zap.Int("unresolved", len(report.Unresolved)),
		zap.Duration("elapsed", report.FinishedAt.Sub(startedAt)),
	)
	e.emit(progress.Event{
		RunID: rawRunID,
		TS:    report.FinishedAt,
		Stage: progress.StageRunDone,
		Dur:   report.FinishedAt.Sub(startedAt),
		Note:  string(report.StopReason),
	})
	return report, nil
}

// isKnown reports whether prior state already resolves id, and whether it
// resolved it as missing.
func (e *Engine) isKnown(id int, priorBad map[int]bool) (bool, bool) {
	if e.store.HasNode(id) {
		return true, false
	}
	if priorBad[id] {
		return true, true
	}
	return false, false
}

func cancelBatch(seq *sequencer) []BatchSummary {
	if b, ok := seq.cancel(); ok {
		return []BatchSummary{b}
	}
	return nil
}

// applyOutcome is the only place the graph is written during a run.
func (e *Engine) applyOutcome(report *Report, en entry, logger *zap.Logger) {
	res := en.res
	switch res.Outcome {
	case genealogy.OutcomeFound:
		report.Found++
		nodeNew, newEdges := e.store.MergeRecord(res.Record)
		if nodeNew {
			report.NewRecords = append(report.NewRecords, res.Record.Node)
		}
		report.NewEdges = append(report.NewEdges, newEdges...)
		logger.Debug("record merged",
			zap.Int("id", res.ID),
			zap.Bool("new", nodeNew),
			zap.Int("new_edges", len(newEdges)),
		)
	case genealogy.OutcomeNotFound:
		report.NotFound++
	case genealogy.OutcomeKnown:
		report.Known++
	default:
		logger.Warn("id left unresolved",
			zap.Int("id", res.ID),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(res.Err),
		)
	}
}

func (e *Engine) completeBatch(report *Report, b BatchSummary, runID [16]byte, logger *zap.Logger) {
	report.Batches = append(report.Batches, b)
	logger.Info("batch complete",
		zap.Int("batch_start", b.Start),
		zap.Int("batch_end", b.End-1),
		zap.Int("valid", b.Found),
		zap.Int("not_found", b.NotFound),
		zap.Int("errors", b.Errors),
		zap.Int("consecutive", b.Streak),
	)
	e.emit(progress.Event{
		RunID:      runID,
		TS:         e.clock.Now(),
		Stage:      progress.StageBatchDone,
		BatchStart: b.Start,
		BatchEnd:   b.End,
		Found:      b.Found,
		NotFound:   b.NotFound,
		Streak:     b.Streak,
	})
}

func (e *Engine) finishReport(report *Report, seq *sequencer, priorCursor int) {
	report.StopReason = seq.reason
	report.Attempted = seq.attempted
	report.LastValidID = priorCursor
	if h, ok := seq.lastValid(); ok && h > priorCursor {
		report.LastValidID = h
	}
	report.BadIDs = seq.badIDs()
	report.Errors = append([]genealogy.RunError(nil), seq.errors...)
	sort.SliceStable(report.Errors, func(i, j int) bool { return report.Errors[i].ID < report.Errors[j].ID })
	report.Unresolved = seq.unresolved
	report.Abandoned = seq.abandonedIDs()
	graph.SortEdges(report.NewEdges)
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	e.emitter.Emit(evt)
}
