// Package worker implements the per-ID fetch, parse and archive pipeline.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/metrics"
	"github.com/JakeFAU/genealogy-crawler/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// ContentType is recorded on archived pages.
	ContentType string
	// BlobPrefix is prepended to archived page paths.
	BlobPrefix string
	// ArchivePages copies every fetched page to the blob store.
	ArchivePages bool
}

// Worker consumes tasks and reports one Result per task.
type Worker struct {
	id        int
	queue     genealogy.Queue
	fetcher   genealogy.Fetcher
	parser    genealogy.Parser
	results   chan<- genealogy.Result
	blobStore genealogy.BlobStore
	hasher    genealogy.Hasher
	clock     genealogy.Clock
	emitter   progress.Emitter
	runID     [16]byte
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Worker.
type Option func(*Worker)

// WithArchive enables raw page archiving into blobStore, named by content hash.
func WithArchive(blobStore genealogy.BlobStore, hasher genealogy.Hasher) Option {
	return func(w *Worker) {
		w.blobStore = blobStore
		w.hasher = hasher
	}
}

// WithProgress emits a FETCH_DONE event for every processed task.
func WithProgress(emitter progress.Emitter, runID [16]byte) Option {
	return func(w *Worker) {
		w.emitter = emitter
		w.runID = runID
	}
}

// WithClock overrides the time source for event timestamps.
func WithClock(clock genealogy.Clock) Option {
	return func(w *Worker) {
		w.clock = clock
	}
}

// New constructs a Worker.
func New(
	id int,
	queue genealogy.Queue,
	fetcher genealogy.Fetcher,
	parser genealogy.Parser,
	results chan<- genealogy.Result,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	w := &Worker{
		id:      id,
		queue:   queue,
		fetcher: fetcher,
		parser:  parser,
		results: results,
		cfg:     cfg,
		logger:  logger.With(zap.Int("worker", id)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks, consuming tasks until the queue is closed or ctx finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, genealogy.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}

		res := w.Process(ctx, task)
		select {
		case w.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// Process resolves one ID into a Result. It never returns an error; failures
// are expressed through the Result outcome.
func (w *Worker) Process(ctx context.Context, task genealogy.Task) genealogy.Result {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	res := genealogy.Result{ID: task.ID}
	logger := w.logger.With(zap.Int("id", task.ID))

	page, err := w.fetcher.Fetch(ctx, task.ID)
	switch {
	case err == nil:
		res.Attempts = page.Attempts
		res.Bytes = len(page.Body)
		rec, parseErr := w.parser.Parse(task.ID, page.Body)
		if parseErr != nil {
			res.Outcome = genealogy.OutcomeParseFailure
			res.Err = parseErr
			logger.Warn("parse failed", zap.Error(parseErr))
		} else {
			res.Outcome = genealogy.OutcomeFound
			res.Record = rec
			logger.Debug("record parsed", zap.Int("edges", len(rec.Edges)))
		}
		res.BlobURI = w.archive(ctx, task.ID, page.Body)
	case errors.Is(err, genealogy.ErrNotFound):
		res.Outcome = genealogy.OutcomeNotFound
		logger.Debug("id not found")
	default:
		res.Outcome = genealogy.OutcomeTransient
		res.Err = err
		var transient *genealogy.TransientError
		if errors.As(err, &transient) {
			res.Attempts = transient.Attempts
		}
		if ctx.Err() == nil {
			logger.Warn("fetch failed", zap.Error(err))
		}
	}
	res.Duration = time.Since(start)

	w.emit(res)
	return res
}

func (w *Worker) archive(ctx context.Context, id int, body []byte) string {
	if !w.cfg.ArchivePages || w.blobStore == nil || w.hasher == nil {
		return ""
	}
	hash, err := w.hasher.Hash(body)
	if err != nil {
		w.logger.Warn("hash page failed", zap.Int("id", id), zap.Error(err))
		return ""
	}
	path := w.buildBlobPath(id, hash)
	uri, err := w.blobStore.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("archive page failed", zap.Int("id", id), zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) buildBlobPath(id int, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("pages/%d/%s.html", id, hash)
	}
	return fmt.Sprintf("%s/pages/%d/%s.html", prefix, id, hash)
}

func (w *Worker) emit(res genealogy.Result) {
	if w.emitter == nil {
		return
	}
	now := time.Now().UTC()
	if w.clock != nil {
		now = w.clock.Now()
	}
	evt := progress.Event{
		RunID:    w.runID,
		TS:       now,
		Stage:    progress.StageFetchDone,
		RecordID: res.ID,
		Outcome:  string(res.Outcome),
		Bytes:    int64(res.Bytes),
		Dur:      res.Duration,
	}
	if res.Err != nil {
		evt.Note = res.Err.Error()
	}
	w.emitter.Emit(evt)
}
