package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/app"
	"github.com/JakeFAU/genealogy-crawler/internal/clock/system"
	"github.com/JakeFAU/genealogy-crawler/internal/config"
	"github.com/JakeFAU/genealogy-crawler/internal/crawl"
	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/graph"
	"github.com/JakeFAU/genealogy-crawler/internal/hash/sha256"
	"github.com/JakeFAU/genealogy-crawler/internal/metrics"
	"github.com/JakeFAU/genealogy-crawler/internal/publisher"
	"github.com/JakeFAU/genealogy-crawler/internal/snapshot"
)

// DefaultDataFile is the data file name inside the output directory.
const DefaultDataFile = "data.json"

const hubCloseTimeout = 15 * time.Second

// newCrawlCmd creates the 'crawl' subcommand: one incremental run that
// resumes from the latest snapshot and persists the merged graph.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one incremental scan of the record database",
		Long: `Scans record IDs upward from one past the previous run's cursor (or
--start-id), merging new people and advisor/student edges into the data
file. The run stops after --404-threshold consecutive missing IDs or once
--limit IDs have been fetched. Interrupting the run still persists
everything evaluated so far.`,
		Example: `  genealogy-crawler crawl
  genealogy-crawler crawl --limit 10
  genealogy-crawler crawl --data-file output/data.json --metadata-file output/metadata_20241024_143000.000.json
  genealogy-crawler crawl --workers 10 --batch-size 500 --404-threshold 100
  genealogy-crawler crawl --start-id 342338 --limit 5`,
		RunE: runCrawlCommand,
	}
	f := cmd.Flags()
	f.Int("workers", 5, "number of concurrent fetch workers")
	f.Int("batch-size", 200, "IDs per batch summary and dispatch window")
	f.Int("404-threshold", 50, "consecutive not-found IDs that end the run")
	f.Int("start-id", 0, "first ID to scan (default: one past the previous cursor)")
	f.Int("limit", 0, "stop after this many fetched IDs (debugging aid)")
	f.String("data-file", "", "existing data file (default: <output-dir>/data.json)")
	f.String("metadata-file", "", "metadata snapshot to resume from (default: latest in <output-dir>)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	_, err = runCrawl(cmd.Context(), appInstance, appInstance.NewFetcher(), appInstance.NewParser())
	return err
}

// crawlResult is what runCrawl persisted.
type crawlResult struct {
	Report   crawl.Report
	Snapshot snapshot.Snapshot
	Paths    snapshot.Paths
	DataFile string
}

// runCrawl performs one run end to end. Setup failures return an error
// before any fetch; once the scan has started, the local data file and
// snapshot are always written, and side channels only log their failures.
func runCrawl(ctx context.Context, a *app.App, fetcher genealogy.Fetcher, parser genealogy.Parser) (crawlResult, error) {
	cfg := a.Config()
	logger := a.Logger().Named("crawl")
	clock := system.New()

	dataFile := resolveDataFile(cfg)
	store, existed, err := graph.LoadFile(dataFile)
	if err != nil {
		return crawlResult{}, err
	}
	logger.Info("loaded data file",
		zap.String("path", dataFile),
		zap.Bool("existed", existed),
		zap.Int("nodes", store.NodeCount()),
		zap.Int("edges", store.EdgeCount()),
	)

	prior, err := loadPriorSnapshot(cfg)
	if err != nil {
		return crawlResult{}, err
	}
	if prior != nil {
		logger.Info("resuming from snapshot",
			zap.String("timestamp", prior.Timestamp),
			zap.Int("last_valid_id", prior.LastValidID),
			zap.Int("bad_ids", len(prior.BadIDs)),
			zap.Int("unresolved", len(prior.Unresolved)),
		)
	}

	// The progress collectors live on a per-run registry so a process can
	// run more than once; both it and the default registry are pushed.
	reg := prometheus.NewRegistry()
	hub, err := a.NewProgressHub(reg)
	if err != nil {
		return crawlResult{}, err
	}

	opts := []crawl.Option{
		crawl.WithLogger(a.Logger().Named("engine")),
		crawl.WithEmitter(hub),
		crawl.WithClock(clock),
	}
	if a.BlobStore() != nil && cfg.Archive.RawPages {
		opts = append(opts, crawl.WithArchive(a.BlobStore(), sha256.New()))
	}
	engine, err := crawl.NewEngine(engineConfig(cfg), fetcher, parser, store, prior, opts...)
	if err != nil {
		closeHub(hub, logger)
		return crawlResult{}, genealogy.FatalSetup("%v", err)
	}

	report, err := engine.Run(ctx)
	closeHub(hub, logger)
	if err != nil {
		return crawlResult{}, fmt.Errorf("run crawl: %w", err)
	}

	// An interrupted run still persists what it evaluated.
	persistCtx := context.WithoutCancel(ctx)

	if err := store.SaveFile(dataFile); err != nil {
		return crawlResult{}, fmt.Errorf("save data file: %w", err)
	}
	ts := clock.Now()
	snap := report.Snapshot(ts, store, prior)
	paths, err := snapshot.Write(cfg.Output.Dir, snap, report.Errors, ts)
	if err != nil {
		return crawlResult{}, fmt.Errorf("write snapshot: %w", err)
	}
	// Write may have advanced the timestamp to avoid a collision.
	if stamp, ok := snapshot.ParseTimestamp(paths.Metadata); ok {
		snap.Timestamp = stamp.Format(snapshot.TimestampLayout)
	}

	res := crawlResult{Report: report, Snapshot: snap, Paths: paths, DataFile: dataFile}
	artifactPrefix := archiveArtifacts(persistCtx, a, res, logger)
	mirrorToPostgres(persistCtx, a, report, logger)
	publishRunCompleted(persistCtx, a, res, artifactPrefix, logger)

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, reg}
	if err := metrics.Push(persistCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.JobName, gatherers); err != nil {
		logger.Error("metrics push failed", zap.Error(err))
	}

	logger.Info("run saved",
		zap.String("run_id", report.RunID),
		zap.String("stop_reason", string(report.StopReason)),
		zap.String("data_file", dataFile),
		zap.String("metadata_file", paths.Metadata),
		zap.String("errors_file", paths.Errors),
		zap.Int("total_nodes", snap.TotalNodes),
		zap.Int("total_edges", snap.TotalEdges),
		zap.Int("new_records", snap.NewRecordsThisRun),
		zap.Int("last_valid_id", snap.LastValidID),
		zap.Int("bad_ids", len(snap.BadIDs)),
		zap.Int("errors", snap.ErrorsCount),
	)
	return res, nil
}

func resolveDataFile(cfg config.Config) string {
	if cfg.Output.DataFile != "" {
		return cfg.Output.DataFile
	}
	return filepath.Join(cfg.Output.Dir, DefaultDataFile)
}

// loadPriorSnapshot returns the explicit metadata file, else the latest
// snapshot in the output directory, else nil on a first run.
func loadPriorSnapshot(cfg config.Config) (*snapshot.Snapshot, error) {
	metaPath := cfg.Output.MetadataFile
	if metaPath == "" {
		discovered, err := snapshot.Discover(cfg.Output.Dir)
		if err != nil {
			return nil, genealogy.FatalSetup("discover metadata in %s: %v", cfg.Output.Dir, err)
		}
		if discovered == "" {
			return nil, nil
		}
		metaPath = discovered
	}
	return snapshot.Load(metaPath)
}

func engineConfig(cfg config.Config) crawl.Config {
	ec := crawl.Config{
		Workers:           cfg.Crawler.Workers,
		BatchSize:         cfg.Crawler.BatchSize,
		NotFoundThreshold: cfg.Crawler.NotFoundThreshold,
		MaxUnresolvedRuns: cfg.Crawler.MaxUnresolvedRuns,
		ArchivePrefix:     cfg.Archive.Prefix,
	}
	if cfg.Crawler.StartID > 0 {
		start := cfg.Crawler.StartID
		ec.StartID = &start
	}
	if cfg.Crawler.Limit > 0 {
		limit := cfg.Crawler.Limit
		ec.Limit = &limit
	}
	return ec
}

type hubCloser interface {
	Close(ctx context.Context) error
}

func closeHub(hub hubCloser, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), hubCloseTimeout)
	defer cancel()
	if err := hub.Close(ctx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
}

// archiveArtifacts copies the data file, snapshot and error log under
// <prefix>/runs/<run_id>/ and returns that prefix, or "" when nothing was
// archived.
func archiveArtifacts(ctx context.Context, a *app.App, res crawlResult, logger *zap.Logger) string {
	blobs := a.BlobStore()
	if blobs == nil || !a.Config().Archive.Artifacts {
		return ""
	}
	prefix := path.Join(a.Config().Archive.Prefix, "runs", res.Report.RunID)
	files := []struct {
		path        string
		contentType string
	}{
		{res.DataFile, "application/json"},
		{res.Paths.Metadata, "application/json"},
		{res.Paths.Errors, "text/plain"},
	}
	for _, f := range files {
		if err := putFile(ctx, blobs, path.Join(prefix, filepath.Base(f.path)), f.path, f.contentType); err != nil {
			logger.Error("archive artifact failed", zap.String("file", f.path), zap.Error(err))
			return ""
		}
	}
	logger.Info("archived run artifacts", zap.String("prefix", prefix))
	return prefix
}

func putFile(ctx context.Context, blobs genealogy.BlobStore, dst, src, contentType string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	if _, err := blobs.PutObject(ctx, dst, contentType, f); err != nil {
		return fmt.Errorf("put %s: %w", dst, err)
	}
	return nil
}

func mirrorToPostgres(ctx context.Context, a *app.App, report crawl.Report, logger *zap.Logger) {
	db := a.GraphDB()
	if db == nil {
		return
	}
	nodes, err := db.UpsertNodes(ctx, report.NewRecords)
	if err != nil {
		logger.Error("postgres node mirror failed", zap.Error(err))
		return
	}
	edges, err := db.UpsertEdges(ctx, report.NewEdges)
	if err != nil {
		logger.Error("postgres edge mirror failed", zap.Error(err))
		return
	}
	logger.Info("mirrored run to postgres", zap.Int64("nodes", nodes), zap.Int64("edges", edges))
}

func publishRunCompleted(ctx context.Context, a *app.App, res crawlResult, artifactPrefix string, logger *zap.Logger) {
	pub := a.Publisher()
	if pub == nil {
		return
	}
	payload := publisher.NewRunCompleted(res.Snapshot, res.Paths, res.DataFile)
	payload.ArtifactPrefix = artifactPrefix
	msgID, err := pub.Publish(ctx, a.Config().PubSub.TopicName, payload)
	if err != nil {
		logger.Error("publish run completed failed", zap.Error(err))
		return
	}
	logger.Info("published run completed", zap.String("message_id", msgID))
}
