// Package app builds the long-lived services a command needs and runs the
// gather, send, migrate and serve workflows on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmentions/internal/api"
	"github.com/JakeFAU/webmentions/internal/cache"
	"github.com/JakeFAU/webmentions/internal/clock/system"
	"github.com/JakeFAU/webmentions/internal/config"
	"github.com/JakeFAU/webmentions/internal/delivery"
	"github.com/JakeFAU/webmentions/internal/enrich"
	collyfetcher "github.com/JakeFAU/webmentions/internal/fetcher/colly"
	"github.com/JakeFAU/webmentions/internal/incoming"
	"github.com/JakeFAU/webmentions/internal/outgoing"
	"github.com/JakeFAU/webmentions/internal/policy/ratelimit"
	"github.com/JakeFAU/webmentions/internal/publisher"
	gcppublisher "github.com/JakeFAU/webmentions/internal/publisher/pubsub"
	"github.com/JakeFAU/webmentions/internal/retry"
	"github.com/JakeFAU/webmentions/internal/site"
	cachestorage "github.com/JakeFAU/webmentions/internal/storage"
	gcsstorage "github.com/JakeFAU/webmentions/internal/storage/gcs"
	localstorage "github.com/JakeFAU/webmentions/internal/storage/local"
	memorystorage "github.com/JakeFAU/webmentions/internal/storage/memory"
	pgstore "github.com/JakeFAU/webmentions/internal/storage/postgres"
	"github.com/JakeFAU/webmentions/internal/telemetry"
	"github.com/JakeFAU/webmentions/internal/throttle"
	"github.com/JakeFAU/webmentions/internal/webmention"
	"github.com/JakeFAU/webmentions/internal/webmentionio"
)

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	runID           string
	clock           throttle.Clock
	store           *cache.Store
	policy          *throttle.Policy
	limiter         *ratelimit.Limiter
	fetcher         *collyfetcher.Fetcher
	archive         *pgstore.MentionArchive
	publisher       publisher.Publisher
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	tracer          *sdktrace.TracerProvider
	loadDocuments   func() ([]site.Document, error)
}

// Build creates the application's dependencies. Optional integrations
// (Postgres archive, Pub/Sub events) are only connected when configured.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, runID string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, runID: runID, clock: system.New()}
	var err error
	app.logger.Info("building application dependencies",
		zap.String("site", cfg.SiteURL()),
		zap.String("cache_backend", cfg.Cache.Backend))

	app.tracer, err = telemetry.InitTracerProvider(ctx, "webmentions", runID)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	backend, err := setupStorage(ctx, app)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.store, err = cache.New(backend, cfg.Cache.Prefix, logger.Named("cache"))
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("cache init failed: %w", err)
	}

	app.policy, err = throttle.FromConfig(cfg.Webmentions.ThrottleLookups, app.clock)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("throttle policy init failed: %w", err)
	}

	if cfg.HTTP.RateLimitRPS > 0 {
		app.limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HTTP.RateLimitRPS, DefaultBurst: 1})
		app.logger.Info("rate limiter enabled", zap.Float64("default_rps", cfg.HTTP.RateLimitRPS))
	}
	app.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.RequestTimeout(),
		Limiter:       app.limiter,
	})
	app.logger.Debug("using colly fetcher", zap.String("user_agent", cfg.HTTP.UserAgent))

	if err := setupArchive(ctx, app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := setupPublisher(ctx, app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.loadDocuments = func() ([]site.Document, error) {
		loader, err := site.NewLoader(cfg.Site.Source, logger.Named("site"))
		if err != nil {
			return nil, err
		}
		return loader.Load()
	}
	return app, nil
}

// Store exposes the cache store.
func (a *App) Store() *cache.Store {
	return a.store
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Documents loads the site's documents.
func (a *App) Documents() ([]site.Document, error) {
	docs, err := a.loadDocuments()
	if err != nil {
		return nil, fmt.Errorf("load site documents: %w", err)
	}
	return docs, nil
}

// GatherReport combines both halves of a gather run.
type GatherReport struct {
	Migrated bool
	Incoming incoming.Summary
	Outgoing outgoing.Summary
}

// Gather upgrades a legacy outgoing cache, refreshes incoming mentions and
// queues the URLs the site itself mentions.
func (a *App) Gather(ctx context.Context) (report GatherReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, "webmentions.gather")
	defer func() { telemetry.EndSpan(span, err) }()

	docs, err := a.Documents()
	if err != nil {
		return report, err
	}
	span.SetAttributes(attribute.Int("documents", len(docs)))
	report.Migrated, err = outgoing.Upgrade(ctx, a.store, a.logger.Named("migrate"))
	if err != nil {
		return report, fmt.Errorf("upgrade outgoing cache: %w", err)
	}

	report.Incoming, err = a.aggregator().Run(ctx, a.store, docs)
	if err != nil {
		return report, err
	}

	extractor := outgoing.NewExtractor(outgoing.Config{
		SiteURL:       a.cfg.SiteURL(),
		PauseLookups:  a.cfg.Webmentions.PauseLookups,
		LinkFields:    a.cfg.Webmentions.LinkFields,
		RedactDomains: a.cfg.Webmentions.RedactDomains,
	}, a.logger.Named("outgoing"))
	report.Outgoing, err = extractor.Run(ctx, a.store, docs)
	if err != nil {
		return report, err
	}
	return report, nil
}

func (a *App) aggregator() *incoming.Aggregator {
	discovery := webmentionio.New(webmentionio.Config{
		BaseURL:   a.cfg.Webmentions.APIBase,
		Token:     a.cfg.Webmentions.APIToken,
		PerPage:   a.cfg.Webmentions.PerPage,
		SortDir:   a.cfg.Webmentions.SortDir,
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   a.cfg.RequestTimeout(),
	},
		webmentionio.WithLimiter(a.limiter),
		webmentionio.WithRetry(retry.New(a.cfg.HTTP.MaxRetries+1)),
		webmentionio.WithLogger(a.logger.Named("webmentionio")),
	)
	opts := []incoming.Option{incoming.WithClock(a.clock)}
	if a.cfg.Webmentions.Rescan {
		opts = append(opts, incoming.WithEnricher(enrich.New(a.fetcher)))
	}
	if a.archive != nil {
		opts = append(opts, incoming.WithArchive(a.archive))
	}
	if a.publisher != nil {
		opts = append(opts, incoming.WithPublisher(a.publisher))
	}
	return incoming.New(incoming.Config{
		SiteURL:       a.cfg.SiteURL(),
		PauseLookups:  a.cfg.Webmentions.PauseLookups,
		Rescan:        a.cfg.Webmentions.Rescan,
		LegacyDomains: a.cfg.Webmentions.LegacyDomains,
		Concurrency:   a.cfg.Webmentions.LookupConcurrency,
		RunID:         a.runID,
		SortDir:       a.cfg.Webmentions.SortDir,
	}, discovery, a.policy, a.logger.Named("incoming"), opts...)
}

// Send delivers every due outgoing webmention.
func (a *App) Send(ctx context.Context) (summary delivery.Summary, err error) {
	ctx, span := telemetry.StartSpan(ctx, "webmentions.send")
	defer func() {
		span.SetAttributes(attribute.Int("sent", summary.Sent), attribute.Int("attempted", summary.Attempted))
		telemetry.EndSpan(span, err)
	}()

	client := webmention.New(a.fetcher, a.logger.Named("webmention"))
	opts := []delivery.Option{delivery.WithClock(a.clock)}
	if a.publisher != nil {
		opts = append(opts, delivery.WithPublisher(a.publisher, a.runID))
	}
	summary, err = delivery.New(client, a.policy, a.logger.Named("send"), opts...).Run(ctx, a.store)
	return summary, err
}

// Migrate runs the legacy outgoing cache upgrade on its own.
func (a *App) Migrate(ctx context.Context) (bool, error) {
	return outgoing.Upgrade(ctx, a.store, a.logger.Named("migrate"))
}

// Serve runs the read-only API until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	server := api.NewServer(a.store, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close releases every client the app opened.
func (a *App) Close(ctx context.Context) {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.archive != nil {
		a.archive.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Debug("shutdown complete")
}

func setupStorage(ctx context.Context, app *App) (cachestorage.Backend, error) {
	switch app.cfg.Cache.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS cache backend", zap.String("bucket", app.cfg.Cache.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		backend, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Cache.GCSBucket,
			Prefix: app.cfg.Cache.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs cache backend init failed: %w", err)
		}
		return backend, nil
	case config.BackendMemory:
		app.logger.Warn("using in-memory cache backend; nothing will be persisted")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Debug("using local cache backend", zap.String("path", app.cfg.Cache.Dir))
		backend, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Cache.Dir})
		if err != nil {
			return nil, fmt.Errorf("local cache backend init failed: %w", err)
		}
		return backend, nil
	}
}

func setupArchive(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Debug("no DSN specified for database, skipping mention archive")
		return nil
	}
	archive, err := pgstore.NewMentionArchive(ctx, pgstore.ArchiveConfig{
		DSN:      app.cfg.DB.DSN,
		Table:    app.cfg.DB.Table,
		MaxConns: app.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("mention archive init failed: %w", err)
	}
	if err := archive.EnsureSchema(ctx); err != nil {
		archive.Close()
		return fmt.Errorf("mention archive schema: %w", err)
	}
	app.archive = archive
	app.logger.Info("mention archive initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Debug("no Pub/Sub topic configured, mention events disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client.Publisher(app.cfg.PubSub.TopicName))
	app.publisher = app.pubsubPublisher
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName))
	return nil
}
