// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/api"
	"github.com/JakeFAU/disclosure-monitor/internal/checkpoint"
	"github.com/JakeFAU/disclosure-monitor/internal/clock/system"
	"github.com/JakeFAU/disclosure-monitor/internal/config"
	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/feed"
	collyfetcher "github.com/JakeFAU/disclosure-monitor/internal/fetcher/colly"
	iduuid "github.com/JakeFAU/disclosure-monitor/internal/id/uuid"
	"github.com/JakeFAU/disclosure-monitor/internal/ingest"
	"github.com/JakeFAU/disclosure-monitor/internal/keyword"
	"github.com/JakeFAU/disclosure-monitor/internal/parser"
	"github.com/JakeFAU/disclosure-monitor/internal/policy/ratelimit"
	pspublisher "github.com/JakeFAU/disclosure-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/disclosure-monitor/internal/storage"
	"github.com/JakeFAU/disclosure-monitor/internal/storage/postgres"
	"github.com/JakeFAU/disclosure-monitor/internal/store"
)

// finishTimeout bounds the write that records a run's outcome.
const finishTimeout = 5 * time.Second

// App holds the shared, long-lived services: the Postgres pool and the
// stores on top of it, the checkpoint store, the archive client, the
// quarantine bucket and the alert publisher. It is built once per process
// and hands out freshly configured engines and runners, so every run sees
// the current keyword list.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock

	pool        *pgxpool.Pool
	disclosures *postgres.DisclosureStore
	runs        store.RunRepository
	checkpoints checkpoint.Store
	keywords    keyword.Source
	fetcher     *collyfetcher.Fetcher
	quarantine  crawler.BlobStore
	publisher   crawler.Publisher

	closers []func() error
}

// New connects to every configured backend. It fails fast: a partially
// built App is closed before the error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    system.NewIn(cfg.Location()),
		keywords: keyword.NewFileSource(cfg.Keywords.Path),
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.String("quarantine_backend", cfg.Quarantine.Backend),
		zap.Bool("alerts_published", a.publisher != nil),
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if a.disclosures, err = postgres.NewDisclosureStore(pool); err != nil {
		return err
	}
	if a.runs, err = postgres.NewRunStore(pool); err != nil {
		return err
	}
	if a.checkpoints, err = newCheckpointStore(a.cfg, pool, a.logger); err != nil {
		return err
	}

	a.fetcher = newFetcher(a.cfg, a.logger)

	blobs, closer, err := storage.Open(ctx, a.cfg.Quarantine)
	if err != nil {
		return fmt.Errorf("open quarantine store: %w", err)
	}
	a.quarantine = blobs
	a.closers = append(a.closers, closer.Close)

	if a.cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		publisher := pspublisher.New(client)
		a.publisher = publisher
		a.closers = append(a.closers, client.Close, func() error { publisher.Close(); return nil })
	}
	return nil
}

// newCheckpointStore picks the cursor backend. pool is only used for postgres.
func newCheckpointStore(cfg config.Config, pool *pgxpool.Pool, logger *zap.Logger) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres checkpoint backend needs a database pool")
		}
		return checkpoint.NewPostgresStore(pool, cfg.StartCursor())
	case "file", "":
		return checkpoint.NewFileStore(cfg.Checkpoint.Path, cfg.StartCursor(), logger)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func newFetcher(cfg config.Config, logger *zap.Logger) *collyfetcher.Fetcher {
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	return collyfetcher.New(collyfetcher.Config{
		ListURL:     cfg.Archive.ListURL,
		DetailURL:   cfg.Archive.DetailURL,
		Referer:     cfg.Archive.Referer,
		UserAgent:   cfg.Archive.UserAgent,
		BlockMarker: cfg.Archive.BlockMarker,
		PageSize:    cfg.Archive.PageSize,
		Timeout:     cfg.RequestTimeout(),
		Retry:       cfg.RetryPolicy(),
	},
		collyfetcher.WithLimiter(limiter),
		collyfetcher.WithLogger(logger.Named("fetcher")),
	)
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// writer loads the keyword list and returns an Ingestor with opts.
func (a *App) writer(ctx context.Context, opts ingest.Options) (*ingest.Writer, error) {
	words, err := a.keywords.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}
	matcher := keyword.NewMatcher(words)
	opts.Topic = a.cfg.PubSub.TopicName
	a.logger.Info("keywords loaded", zap.String("source", opts.Source), zap.Int("count", matcher.Len()))
	return ingest.NewWriter(a.disclosures, matcher, a.publisher, a.clock, opts, a.logger.Named("ingest"))
}

// Engine builds a crawl engine over the archive.
func (a *App) Engine(ctx context.Context) (*crawler.Engine, error) {
	policy, err := crawler.NewAdvancePolicy(a.cfg.Crawl.AdvancePolicy, a.cfg.Crawl.SuccessThreshold)
	if err != nil {
		return nil, err
	}
	w, err := a.writer(ctx, ingest.Options{
		Source:    "crawl",
		Conflict:  crawler.ConflictIgnore,
		AlertMode: crawler.AlertsOnInsert,
	})
	if err != nil {
		return nil, err
	}
	return crawler.NewEngine(a.cfg.EngineConfig(), crawler.Deps{
		Client:      a.fetcher,
		Lists:       parser.NewListParser(parser.NewScriptParamExtractor(), a.logger.Named("parser")),
		Details:     parser.NewDetailParser(parser.DefaultResolver()),
		Ingestor:    w,
		Checkpoints: a.checkpoints,
		Policy:      policy,
		Quarantine:  a.quarantine,
		Clock:       a.clock,
		Logger:      a.logger.Named("crawler"),
	})
}

// FeedRunner builds a runner over the configured daily sources.
func (a *App) FeedRunner(ctx context.Context) (*feed.Runner, error) {
	w, err := a.writer(ctx, ingest.Options{
		Source:    "daily",
		Conflict:  crawler.ConflictPolicy(a.cfg.Feed.Conflict),
		AlertMode: crawler.AlertMode(a.cfg.Feed.AlertMode),
	})
	if err != nil {
		return nil, err
	}
	return feed.NewRunner(a.fetcher, w, a.cfg.Feed.Sources, a.clock, a.logger.Named("feed"))
}

// Rescanner builds the alert backfill.
func (a *App) Rescanner() (*ingest.Rescanner, error) {
	return ingest.NewRescanner(a.disclosures, a.keywords, a.cfg.Rescan.BatchSize, a.logger.Named("rescan"))
}

// RunCrawl resumes the archive crawl and records the run.
func (a *App) RunCrawl(ctx context.Context) (crawler.RunStats, error) {
	var stats crawler.RunStats
	err := a.track(ctx, store.KindCrawl, func(ctx context.Context) (any, error) {
		engine, err := a.Engine(ctx)
		if err != nil {
			return nil, err
		}
		stats, err = engine.Run(ctx)
		return stats, err
	})
	return stats, err
}

// RunDaily ingests the official daily feed and records the run.
func (a *App) RunDaily(ctx context.Context) (feed.Stats, error) {
	var stats feed.Stats
	err := a.track(ctx, store.KindDaily, func(ctx context.Context) (any, error) {
		runner, err := a.FeedRunner(ctx)
		if err != nil {
			return nil, err
		}
		stats, err = runner.Run(ctx)
		return stats, err
	})
	return stats, err
}

// RunRescan backfills alerts for the current keyword list and records the run.
func (a *App) RunRescan(ctx context.Context) (ingest.RescanStats, error) {
	var stats ingest.RescanStats
	err := a.track(ctx, store.KindRescan, func(ctx context.Context) (any, error) {
		r, err := a.Rescanner()
		if err != nil {
			return nil, err
		}
		stats, err = r.Run(ctx)
		return stats, err
	})
	return stats, err
}

// track records fn in crawl_runs. Failing to record never fails the run.
func (a *App) track(ctx context.Context, kind store.RunKind, fn func(context.Context) (any, error)) error {
	id := iduuid.NewRunID()
	logger := a.logger.With(zap.String("run_kind", string(kind)), zap.Stringer("run_record", id))
	recorded := false
	if a.runs != nil {
		if err := a.runs.StartRun(ctx, id, kind, a.clock.Now()); err != nil {
			logger.Warn("failed to record run start", zap.Error(err))
		} else {
			recorded = true
		}
	}

	result, runErr := fn(ctx)
	if !recorded {
		return runErr
	}

	var summary []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			logger.Warn("failed to encode run summary", zap.Error(err))
		} else {
			summary = b
		}
	}
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	status := RunStatus(runErr)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := a.runs.FinishRun(finishCtx, id, a.clock.Now(), status, summary, errMsg); err != nil {
		logger.Warn("failed to record run finish", zap.Error(err))
	}
	logger.Info("run finished", zap.String("status", string(status)))
	return runErr
}

// RunStatus maps a run's error to the status stored for it.
func RunStatus(err error) store.RunStatus {
	switch {
	case err == nil:
		return store.RunSuccess
	case errors.Is(err, crawler.ErrBlocked):
		return store.RunBlocked
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return store.RunCanceled
	default:
		return store.RunError
	}
}

// APIServer builds the ops API. base bounds background rescans started
// through it.
func (a *App) APIServer(base context.Context) (*api.Server, *api.RescanTrigger) {
	trigger := api.NewRescanTrigger(base, func(ctx context.Context) (any, error) {
		return a.RunRescan(ctx)
	}, a.logger.Named("rescan"))
	deps := api.Deps{
		Checkpoints: a.checkpoints,
		Runs:        a.runs,
		Rescan:      trigger,
		Logger:      a.logger.Named("api"),
	}
	if a.pool != nil {
		deps.DB = a.pool
	}
	if a.disclosures != nil {
		deps.Alerts = a.disclosures
	}
	return api.NewServer(deps, a.cfg), trigger
}

// Close releases every backend in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing application service", zap.Error(err))
		}
	}
	a.closers = nil
	// Flushing can fail on stderr; nothing useful to do about it.
	_ = a.logger.Sync()
}
