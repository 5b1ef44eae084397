// Package server builds the audit service's dependencies from configuration
// and runs the scheduler next to the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/follower-audit/internal/api"
	"github.com/JakeFAU/follower-audit/internal/clock/system"
	"github.com/JakeFAU/follower-audit/internal/config"
	"github.com/JakeFAU/follower-audit/internal/crawler"
	"github.com/JakeFAU/follower-audit/internal/id/uuid"
	"github.com/JakeFAU/follower-audit/internal/metrics"
	"github.com/JakeFAU/follower-audit/internal/notify"
	lognotify "github.com/JakeFAU/follower-audit/internal/notify/log"
	pubsubnotify "github.com/JakeFAU/follower-audit/internal/notify/pubsub"
	redisnotify "github.com/JakeFAU/follower-audit/internal/notify/redis"
	"github.com/JakeFAU/follower-audit/internal/policy/ratelimit"
	"github.com/JakeFAU/follower-audit/internal/provider/twitter"
	"github.com/JakeFAU/follower-audit/internal/scheduler"
	gcsstorage "github.com/JakeFAU/follower-audit/internal/storage/gcs"
	localstorage "github.com/JakeFAU/follower-audit/internal/storage/local"
	memorystorage "github.com/JakeFAU/follower-audit/internal/storage/memory"
	pgstore "github.com/JakeFAU/follower-audit/internal/storage/postgres"
	"github.com/JakeFAU/follower-audit/internal/telemetry"
	"github.com/JakeFAU/follower-audit/internal/worker"
)

// RequestStore is what the service needs from its task store.
type RequestStore interface {
	crawler.TaskSource
	crawler.CredentialSource
	crawler.ResultSink
	crawler.RequestSubmitter
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     RequestStore
	pgStore   *pgstore.Store
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	redisNotifier   *redisnotify.Notifier
	pubsubClient    *pubsub.Client
	pubsubNotifier  *pubsubnotify.Notifier
	gcsReports      *gcsstorage.ReportStore
	tracerShutdown  func(context.Context) error
	shutdownTimeout time.Duration
}

// Build creates the application's dependencies. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if err := cfg.RequireProviderKeys(); err != nil {
		return nil, err
	}
	app = &App{cfg: cfg, logger: logger, shutdownTimeout: cfg.Server.ShutdownTimeout}
	if app.shutdownTimeout <= 0 {
		app.shutdownTimeout = 15 * time.Second
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.Strings("notify", cfg.Notify.Drivers),
		zap.String("archive", cfg.Archive.Driver),
	)
	metrics.Init()

	if err = app.setupTelemetry(ctx); err != nil {
		return nil, err
	}
	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	notifier, err := app.setupNotifier(ctx)
	if err != nil {
		return nil, err
	}
	reports, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	orchestrator, err := NewOrchestrator(cfg, logger)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	w := worker.New(
		orchestrator,
		app.store,
		notifier,
		notify.Formatter{},
		reports,
		clock,
		worker.Config{
			ReportPrefix:    cfg.Archive.Prefix,
			ContentType:     cfg.Archive.ContentType,
			DeliveryTimeout: cfg.Scheduler.DeliveryTimeout,
		},
		logger.Named("worker"),
	)
	app.scheduler = scheduler.New(
		app.store,
		app.store,
		w,
		ids,
		clock,
		scheduler.Config{
			MaxConcurrent:     cfg.Scheduler.MaxConcurrentCrawls,
			PollInterval:      cfg.Scheduler.PollInterval,
			CrawlTimeout:      cfg.Scheduler.CrawlTimeout,
			StaticCredentials: cfg.Provider.Credentials,
		},
		logger.Named("scheduler"),
	)

	var pinger api.Pinger
	if app.pgStore != nil {
		pinger = app.pgStore
	}
	app.apiServer = api.NewServer(app.scheduler, app.store, pinger, ids, clock, cfg, logger.Named("api"))
	return app, nil
}

// NewOrchestrator builds the crawl pipeline over the provider client, paced
// per credential.
func NewOrchestrator(cfg config.Config, logger *zap.Logger) (*crawler.Orchestrator, error) {
	pacer := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
		Burst:             cfg.Provider.Burst,
	})
	client, err := twitter.New(
		twitter.Config{
			BaseURL:        cfg.Provider.BaseURL,
			ConsumerKey:    cfg.Provider.ConsumerKey,
			ConsumerSecret: cfg.Provider.ConsumerSecret,
			Timeout:        cfg.Provider.Timeout,
		},
		twitter.WithPacer(pacer),
		twitter.WithLogger(logger.Named("twitter")),
	)
	if err != nil {
		return nil, fmt.Errorf("provider client init failed: %w", err)
	}
	return crawler.NewOrchestrator(
		client,
		nil,
		system.New(),
		crawler.Config{
			LookupBatchSize: cfg.Scheduler.PageSize,
			Retry: crawler.RetryConfig{
				BaseDelay:            cfg.Retry.BaseDelay,
				RateLimitDelay:       cfg.Retry.RateLimitDelay,
				MaxTransientAttempts: cfg.Retry.MaxTransientAttempts,
			},
		},
		logger.Named("crawler"),
	), nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	exporter, err := telemetry.NewExporter(a.cfg.Telemetry.Exporter, a.cfg.Telemetry.ProjectID)
	if err != nil {
		return fmt.Errorf("trace exporter init failed: %w", err)
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
		Exporter:    exporter,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.Store.DSN,
			MaxConns:        a.cfg.Store.MaxConns,
			MinConns:        a.cfg.Store.MinConns,
			MaxConnLifetime: a.cfg.Store.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.pgStore = store
		if a.cfg.Store.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		a.store = store
		a.logger.Info("using postgres request store")
	default:
		a.logger.Warn("using in-memory request store; requests are lost on restart")
		a.store = memorystorage.NewRequestStore()
	}
	return nil
}

func (a *App) setupNotifier(ctx context.Context) (crawler.Notifier, error) {
	var out notify.Multi
	for _, driver := range a.cfg.Notify.Drivers {
		switch driver {
		case config.NotifyLog:
			out = append(out, lognotify.New(a.logger.Named("notify")))
		case config.NotifyRedis:
			n, err := redisnotify.New(ctx, redisnotify.Config{
				Addr:     a.cfg.Notify.RedisAddr,
				Password: a.cfg.Notify.RedisPassword,
				DB:       a.cfg.Notify.RedisDB,
				Key:      a.cfg.Notify.RedisKey,
			})
			if err != nil {
				return nil, fmt.Errorf("redis notifier init failed: %w", err)
			}
			a.redisNotifier = n
			out = append(out, n)
			a.logger.Info("redis notifier initialized",
				zap.String("addr", a.cfg.Notify.RedisAddr),
				zap.String("key", a.cfg.Notify.RedisKey),
			)
		case config.NotifyPubSub:
			client, err := pubsub.NewClient(ctx, a.cfg.Notify.PubSubProject)
			if err != nil {
				return nil, fmt.Errorf("pubsub client init failed: %w", err)
			}
			a.pubsubClient = client
			a.pubsubNotifier = pubsubnotify.New(client.Publisher(a.cfg.Notify.PubSubTopic))
			out = append(out, a.pubsubNotifier)
			a.logger.Info("Pub/Sub notifier initialized",
				zap.String("project", a.cfg.Notify.PubSubProject),
				zap.String("topic", a.cfg.Notify.PubSubTopic),
			)
		}
	}
	if len(out) == 0 {
		a.logger.Warn("no notifiers configured; outcomes are only recorded in the store")
		return nil, nil
	}
	return out, nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.ReportStore, error) {
	switch a.cfg.Archive.Driver {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		reports, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs report store init failed: %w", err)
		}
		a.gcsReports = reports
		a.logger.Info("archiving reports to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		return reports, nil
	case config.ArchiveLocal:
		reports, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local report store init failed: %w", err)
		}
		a.logger.Info("archiving reports locally", zap.String("path", a.cfg.Archive.BaseDir))
		return reports, nil
	default:
		a.logger.Info("report archive disabled")
		return nil, nil
	}
}

// Run starts the scheduler and HTTP server and blocks until the context is
// canceled, SIGINT/SIGTERM arrives, or either of them fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started")

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.pubsubNotifier != nil {
		a.pubsubNotifier.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.redisNotifier != nil {
		if err := a.redisNotifier.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.gcsReports != nil {
		if err := a.gcsReports.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
