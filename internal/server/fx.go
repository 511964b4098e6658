// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/api"
	"github.com/navguard/navguard/internal/clock/system"
	"github.com/navguard/navguard/internal/config"
	"github.com/navguard/navguard/internal/decision"
	"github.com/navguard/navguard/internal/dispatcher"
	"github.com/navguard/navguard/internal/events"
	"github.com/navguard/navguard/internal/events/sinks"
	"github.com/navguard/navguard/internal/fetcher"
	"github.com/navguard/navguard/internal/hash/sha256"
	iduuid "github.com/navguard/navguard/internal/id/uuid"
	"github.com/navguard/navguard/internal/logging"
	"github.com/navguard/navguard/internal/policy/ratelimit"
	"github.com/navguard/navguard/internal/policy/simple"
	memorypublisher "github.com/navguard/navguard/internal/publisher/memory"
	gcppublisher "github.com/navguard/navguard/internal/publisher/pubsub"
	queuemem "github.com/navguard/navguard/internal/queue/memory"
	"github.com/navguard/navguard/internal/safety"
	"github.com/navguard/navguard/internal/scheduler"
	blobstore "github.com/navguard/navguard/internal/storage"
	gcsstorage "github.com/navguard/navguard/internal/storage/gcs"
	localstorage "github.com/navguard/navguard/internal/storage/local"
	memorystorage "github.com/navguard/navguard/internal/storage/memory"
	pgstore "github.com/navguard/navguard/internal/storage/postgres"
	"github.com/navguard/navguard/internal/store"
	"github.com/navguard/navguard/internal/telemetry"
	"github.com/navguard/navguard/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	sched          *scheduler.Scheduler
	hub            *events.Hub
	queue          *queuemem.Queue
	fetch          safety.PayloadFetcher
	storage        *storage.Client
	pubsubPub      *gcppublisher.Publisher
	decisionStore  *pgstore.DecisionStore
	tracerShutdown func(context.Context) error
	metricShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Define a struct for logging only non-sensitive config fields
	type SanitizedConfig struct {
		ServerPort      int    `json:"server_port"`
		ListSource      string `json:"list_source,omitempty"`
		StorageProvider string `json:"storage_provider,omitempty"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:      cfg.Server.Port,
		ListSource:      cfg.Lists.Source,
		StorageProvider: cfg.Storage.Provider,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	go func() {
		a.sched.Run(ctx)
	}()

	if a.cfg.Lists.RefreshOnStart && a.fetch != nil {
		if _, err := a.dispatch.Submit(ctx, safety.RefreshReasonStartup, a.cfg.Lists.Source); err != nil {
			a.logger.Warn("startup refresh submit failed", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPub != nil {
		if err := a.pubsubPub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.decisionStore != nil {
		a.decisionStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.metricShutdown != nil {
		if err := a.metricShutdown(ctx); err != nil {
			a.logger.Warn("metric shutdown failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	tp, mp, err := telemetry.InitTelemetry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.metricShutdown = mp.Shutdown

	app.logger.Info("building application dependencies")
	manager := safety.NewManager(logger.Named("lists"))
	jobStore := memorystorage.NewJobStore()
	hasher := sha256.New()
	clock := system.New()
	idGen := iduuid.New()

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	setupEvents(ctx, app)

	gate, pacer := setupPolicy(app)
	app.queue = queuemem.NewQueue(cfg.Workers.QueueDepth)
	app.fetch = setupFetcher(app, pacer)

	engine := decision.New(manager, app.hub, clock, idGen, logger.Named("decision"))

	app.dispatch = setupDispatcher(app, dispatcherDeps{
		manager:   manager,
		jobStore:  jobStore,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		idGen:     idGen,
	})
	app.sched = scheduler.New(cfg.RefreshInterval(), app.dispatch, cfg.Lists.Source, logger.Named("scheduler"))

	var decisions store.DecisionRepository
	if app.decisionStore != nil {
		decisions = app.decisionStore
	}
	app.apiServer = api.NewServer(
		manager,
		engine,
		jobStore,
		app.dispatch,
		decisions,
		gate,
		*cfg,
		logger.Named("api"),
	)

	return app, nil
}

func setupStorage(ctx context.Context, app *App) (safety.SnapshotStore, error) {
	switch app.cfg.Storage.Provider {
	case "gcs":
		app.logger.Info("using GCS snapshot backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS snapshot backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case "local":
		app.logger.Info("using local snapshot backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local snapshot backend", zap.String("path", app.cfg.Storage.LocalDir))
		return blobStore, nil
	case "none":
		app.logger.Info("snapshot archiving disabled")
		return blobstore.NoOpStore{}, nil
	default:
		app.logger.Info("using in-memory snapshot backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no database DSN configured, decision audit store disabled")
		return nil
	}
	decisionStore, err := pgstore.NewDecisionStore(ctx, pgstore.DecisionStoreConfig{
		DSN:      app.cfg.DB.DSN,
		Table:    app.cfg.DB.Table,
		MaxConns: int32(app.cfg.DB.MaxOpenConns),
		MinConns: int32(app.cfg.DB.MaxIdleConns),
	})
	if err != nil {
		return fmt.Errorf("decision store init failed: %w", err)
	}
	app.decisionStore = decisionStore
	app.logger.Info("decision store initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (safety.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Connect(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsubPub = pub
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupEvents(ctx context.Context, app *App) {
	sinkList := []events.Sink{
		sinks.NewLogSink(app.logger.Named("event_log")),
	}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		app.logger.Warn("prometheus event sink init failed", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if app.decisionStore != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(app.decisionStore, app.logger.Named("event_store")))
		app.logger.Debug("added decision store event sink")
	}
	hubCfg := events.Config{
		BufferSize:     app.cfg.Events.BufferSize,
		MaxBatchEvents: app.cfg.Events.BatchSize,
		MaxBatchWait:   app.cfg.FlushInterval(),
		BaseContext:    ctx,
		Logger:         app.logger.Named("event_hub"),
	}
	app.hub = events.NewHub(hubCfg, sinkList...)
	app.logger.Info("event hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
}

func setupPolicy(app *App) (safety.Gate, fetcher.Pacer) {
	if app.cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   app.cfg.RateLimit.DefaultRPS,
			DefaultBurst: app.cfg.RateLimit.DefaultBurst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", app.cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", app.cfg.RateLimit.DefaultBurst),
		)
		return limiter, limiter
	}
	app.logger.Info("rate limiter disabled, using simple policy")
	return simple.New(), nil
}

func setupFetcher(app *App, pacer fetcher.Pacer) safety.PayloadFetcher {
	source := app.cfg.Lists.Source
	if source == "" {
		app.logger.Warn("no list source configured, refresh jobs will fail until one is set")
		return nil
	}
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		app.logger.Info("using remote list fetcher", zap.String("url", source))
		return fetcher.NewRemote(fetcher.RemoteConfig{
			URL:          source,
			Timeout:      app.cfg.FetchTimeout(),
			MaxBodyBytes: app.cfg.Lists.MaxBodyBytes,
			UserAgent:    app.cfg.Lists.UserAgent,
		}, pacer, app.logger.Named("fetcher"))
	}
	path := strings.TrimPrefix(source, "file://")
	app.logger.Info("using local list fetcher", zap.String("path", path))
	return fetcher.NewLocal(path, app.cfg.Lists.MaxBodyBytes)
}

type dispatcherDeps struct {
	manager   *safety.Manager
	jobStore  safety.JobStore
	blobStore safety.SnapshotStore
	publisher safety.Publisher
	hasher    safety.Hasher
	clock     safety.Clock
	idGen     safety.IDGenerator
}

func setupDispatcher(app *App, deps dispatcherDeps) *dispatcher.Dispatcher {
	workerCfg := worker.Config{
		Topic:            app.cfg.PubSub.TopicName,
		SnapshotPrefix:   app.cfg.Storage.Prefix,
		ContentType:      app.cfg.Storage.ContentType,
		MaxRetries:       app.cfg.HTTP.MaxRetries,
		RetryBackoffBase: time.Duration(app.cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		RetryBackoffMax:  time.Duration(app.cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}
	app.logger.Info("worker config",
		zap.String("topic", workerCfg.Topic),
		zap.String("snapshot_prefix", workerCfg.SnapshotPrefix),
		zap.String("content_type", workerCfg.ContentType),
		zap.Int("max_retries", workerCfg.MaxRetries),
	)

	var workers []*worker.Worker
	for i := 0; i < app.cfg.Workers.Count; i++ {
		workers = append(workers, worker.New(
			app.queue,
			deps.jobStore,
			deps.blobStore,
			deps.publisher,
			app.fetch,
			deps.manager,
			deps.hasher,
			deps.clock,
			app.hub,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, deps.jobStore, deps.idGen, deps.clock, workers, app.logger.Named("dispatcher"))
}
