// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/config"
	collyfetcher "github.com/JakeFAU/genealogy-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/parser"
	"github.com/JakeFAU/genealogy-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/genealogy-crawler/internal/progress"
	"github.com/JakeFAU/genealogy-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/genealogy-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/genealogy-crawler/internal/storage/gcs"
	"github.com/JakeFAU/genealogy-crawler/internal/storage/local"
	memstore "github.com/JakeFAU/genealogy-crawler/internal/storage/memory"
	"github.com/JakeFAU/genealogy-crawler/internal/storage/postgres"
	"github.com/JakeFAU/genealogy-crawler/internal/store"
)

// App holds the shared, long-lived services for one command invocation.
// It is built once after configuration loads and closed when the command
// finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	blobStore genealogy.BlobStore
	publisher genealogy.Publisher

	pool    *pgxpool.Pool
	graphDB *postgres.GraphStore
	runs    *postgres.RunStore

	closers []io.Closer
}

// Option overrides a service App would otherwise build from config.
type Option func(*App)

// WithBlobStore replaces the configured archive.
func WithBlobStore(b genealogy.BlobStore) Option {
	return func(a *App) {
		a.blobStore = b
	}
}

// WithPublisher replaces the configured run-completed publisher.
func WithPublisher(p genealogy.Publisher) Option {
	return func(a *App) {
		a.publisher = p
	}
}

// New creates the services cfg asks for. It fails fast: any service that is
// configured but cannot be initialized aborts startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	logger.Info("initializing application services")

	if err := a.initArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initDatabase(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("application services initialized",
		zap.Bool("archive", a.blobStore != nil),
		zap.Bool("database", a.pool != nil),
		zap.Bool("publisher", a.publisher != nil),
	)
	return a, nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.blobStore != nil {
		return nil
	}
	switch a.cfg.Archive.Provider {
	case config.ArchiveLocal:
		b, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.logger.Info("using local archive", zap.String("base_dir", a.cfg.Archive.BaseDir))
		a.blobStore = b
	case config.ArchiveGCS:
		b, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.logger.Info("using gcs archive", zap.String("bucket", a.cfg.Archive.GCSBucket))
		a.blobStore = b
		a.closers = append(a.closers, b)
	case config.ArchiveMemory:
		a.logger.Info("using in-memory archive; artifacts are discarded at exit")
		a.blobStore = memstore.NewBlobStore()
	}
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		return nil
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.pool = pool

	graphDB, err := postgres.NewGraphStore(pool, a.cfg.DB.NodesTable, a.cfg.DB.EdgesTable)
	if err != nil {
		return fmt.Errorf("init graph mirror: %w", err)
	}
	if err := graphDB.EnsureSchema(ctx); err != nil {
		return err
	}
	runs, err := postgres.NewRunStore(pool)
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		return err
	}
	a.graphDB = graphDB
	a.runs = runs
	a.logger.Info("connected to postgres",
		zap.String("nodes_table", a.cfg.DB.NodesTable),
		zap.String("edges_table", a.cfg.DB.EdgesTable),
	)
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.publisher != nil || a.cfg.PubSub.TopicName == "" {
		return nil
	}
	p, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.logger.Info("publishing run notifications", zap.String("topic", a.cfg.PubSub.TopicName))
	a.publisher = p
	a.closers = append(a.closers, p)
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// BlobStore returns the archive, or nil when archiving is off.
func (a *App) BlobStore() genealogy.BlobStore {
	return a.blobStore
}

// Publisher returns the run-completed publisher, or nil when none is configured.
func (a *App) Publisher() genealogy.Publisher {
	return a.publisher
}

// GraphDB returns the Postgres graph mirror, or nil without a DSN.
func (a *App) GraphDB() *postgres.GraphStore {
	return a.graphDB
}

// RunReader returns the persisted run history, or nil without a DSN.
func (a *App) RunReader() store.RunReader {
	if a.runs == nil {
		return nil
	}
	return a.runs
}

// NewFetcher builds the record fetcher from the source and http sections.
func (a *App) NewFetcher() *collyfetcher.Fetcher {
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.HTTP.RatePerSecond,
		Burst: a.cfg.HTTP.Burst,
	})
	return collyfetcher.New(collyfetcher.Config{
		URLTemplate:    a.cfg.Source.URLTemplate,
		NotFoundMarker: a.cfg.Source.NotFoundMarker,
		UserAgent:      a.cfg.Source.UserAgent,
		RespectRobots:  a.cfg.Source.RespectRobots,
		Timeout:        a.cfg.FetchTimeout(),
		Retry: collyfetcher.NewExponentialRetryPolicy(
			a.cfg.HTTP.MaxRetries,
			a.cfg.BackoffInitial(),
			a.cfg.BackoffMax(),
		),
	}, limiter, a.logger.Named("fetcher"))
}

// NewParser builds the record parser.
func (a *App) NewParser() *parser.Parser {
	return parser.New()
}

// NewProgressHub starts a hub feeding the log and Prometheus sinks, plus the
// run store when a database is configured. The caller closes the hub.
func (a *App) NewProgressHub(reg prometheus.Registerer) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
	}
	if a.runs != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(a.runs, a.logger.Named("progress")))
	}
	return progress.NewHub(progress.Config{Logger: a.logger}, hubSinks...), nil
}

// Close releases every service the App opened. It is safe to call more
// than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
