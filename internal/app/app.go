package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"ipocli/internal/cache"
	"ipocli/internal/checkpoint"
	"ipocli/internal/collector"
	"ipocli/internal/config"
	"ipocli/internal/discovery"
	"ipocli/internal/exporter"
	"ipocli/internal/infrastructure"
	"ipocli/internal/marketapi"
	"ipocli/internal/middleware"
	"ipocli/internal/operations"
	"ipocli/internal/scheduler"
	handlers "ipocli/internal/transport/http"
	"ipocli/internal/validation"
	ws "ipocli/internal/websocket"
)

// Version is reported by the health endpoint. Release builds set it with -ldflags.
var Version = "1.0.0"

// Options selects the optional parts of the pipeline
type Options struct {
	// EntitiesFile replaces upstream discovery with a CSV of listings
	EntitiesFile string
	// Publisher receives every export in addition to the local files
	Publisher exporter.Publisher
	// Stream enables the websocket hub that pushes operation snapshots
	Stream bool
	// Now overrides the clock used for windows and checkpoints
	Now func() time.Time
}

// Application wires the collector's components together
type Application struct {
	Config      *config.Config
	Paths       *config.Paths
	Logger      *slog.Logger
	OTel        *infrastructure.OTelProviders
	Metrics     *infrastructure.CollectorMetrics
	API         *marketapi.Client
	EntityAPI   *marketapi.Client
	Quota       marketapi.Clients
	Cache       cache.Cache
	Checkpoints *checkpoint.Store
	Tracker     *scheduler.Tracker
	Hub         *ws.Hub
	Broadcaster *operations.StatusBroadcaster
	Manager     *operations.Manager
	Runner      *operations.Runner
	Job         *operations.Job

	closers []io.Closer
}

// New builds the application from cfg. The caller owns ctx for the lifetime
// of background runs and must call Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	inputs := validation.Inputs{EntitiesFile: opts.EntitiesFile, OutputDir: paths.OutputDir}
	if cfg.Sheets.Enabled && opts.Publisher == nil {
		inputs.CredentialsFile = cfg.Sheets.CredentialsFile
	}
	if err := validation.NewFileValidator(logger).Preflight(inputs); err != nil {
		return nil, err
	}

	a := &Application{Config: cfg, Paths: paths, Logger: logger}

	a.OTel, err = infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.Metrics, err = infrastructure.NewCollectorMetrics(a.OTel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create collector metrics: %w", err)
	}

	a.API = marketapi.NewClient(cfg.API, cfg.Retry, logger,
		marketapi.WithClock(now),
		marketapi.WithMetrics(a.Metrics))
	a.Quota = marketapi.Clients{a.API}
	if cfg.Collector.Mode == config.ModeEntity {
		a.EntityAPI = marketapi.NewClient(cfg.EntityAPI, cfg.Retry, logger.With("api", "entity"),
			marketapi.WithClock(now),
			marketapi.WithMetrics(a.Metrics))
		a.Quota = append(a.Quota, a.EntityAPI)
	}
	if err := infrastructure.RegisterQuotaGauge(a.OTel.Meter, a.Quota.QuotaUsage); err != nil {
		return nil, fmt.Errorf("failed to register quota gauge: %w", err)
	}

	location := paths.CacheDir
	if cfg.Cache.Backend == cache.BackendSQLite {
		location = paths.SQLiteFile
	}
	a.Cache, err = cache.Open(cfg.Cache.Backend, location, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open response cache: %w", err)
	}
	a.closers = append(a.closers, a.Cache)

	a.Checkpoints = checkpoint.NewStore(paths.CheckpointFile, logger, checkpoint.WithClock(now))
	a.Tracker = scheduler.NewTracker(paths.LastRunFile, logger, scheduler.WithClock(now))

	var hub operations.WebSocketHub
	if opts.Stream {
		wsMetrics, err := ws.NewMetrics(a.OTel.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create websocket metrics: %w", err)
		}
		a.Hub = ws.NewHub(logger, wsMetrics)
		a.Hub.Start()
		hub = a.Hub
	}
	a.Broadcaster = operations.NewStatusBroadcaster(hub, logger)

	registry, err := a.buildRegistry(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.Manager = operations.NewManager(registry, a.Broadcaster, logger,
		operations.WithTracer(operations.NewOperationTracer(a.OTel.Tracer, a.Metrics)))

	a.Job = operations.NewJob(cfg.Collector.JobName, a.Tracker, a.Manager,
		cfg.DefaultStartDate(now()), a.Quota, logger)
	a.Runner = operations.NewRunner(ctx, logger)
	a.Runner.Register(a.Job)

	return a, nil
}

func (a *Application) buildRegistry(ctx context.Context, opts Options) (*operations.Registry, error) {
	var source discovery.Source
	if opts.EntitiesFile != "" {
		source = discovery.NewCSVSource(opts.EntitiesFile, a.Logger)
	} else {
		source = discovery.NewSnapshotSource(a.API, a.Cache, a.Logger)
	}

	var exportOpts []exporter.Option
	publisher := opts.Publisher
	if publisher == nil && a.Config.Sheets.Enabled {
		sp, err := exporter.NewSheetsPublisher(ctx, a.Config.Sheets, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sheets publisher: %w", err)
		}
		publisher = sp
	}
	if publisher != nil {
		exportOpts = append(exportOpts, exporter.WithPublisher(publisher))
	}

	var fetcher collector.Fetcher = a.API
	collectOpts := []collector.Option{
		collector.WithCheckpointInterval(a.Config.Collector.CheckpointInterval),
		collector.WithMetrics(a.Metrics),
	}
	if a.EntityAPI != nil {
		fetcher = a.EntityAPI
		collectOpts = append(collectOpts, collector.WithEndpoint(marketapi.EndpointDailyOHLCV))
	}

	registry := operations.NewRegistry()
	steps := []operations.Step{
		operations.NewDiscoveryStep(source, a.Logger),
		operations.NewCollectionStep(fetcher, a.Cache, a.Checkpoints, a.Logger, collectOpts...),
		operations.NewExportStep(exporter.New(a.Config.Export, a.Paths.OutputDir, a.Logger, exportOpts...)),
	}
	for _, step := range steps {
		if err := registry.Register(step); err != nil {
			return nil, fmt.Errorf("failed to register step %s: %w", step.ID(), err)
		}
	}
	return registry, nil
}

// Handler returns the HTTP control surface
func (a *Application) Handler() (http.Handler, error) {
	tracing, err := middleware.NewTracing(a.OTel.Tracer, a.OTel.Meter, a.Logger)
	if err != nil {
		return nil, err
	}
	return handlers.NewRouter(handlers.RouterDeps{
		Version:   Version,
		Runner:    a.Runner,
		Quota:     a.Quota,
		Cache:     a.Cache,
		Tracker:   a.Tracker,
		Snapshots: a.Broadcaster,
		Hub:       a.Hub,
		Metrics:   a.OTel.PrometheusHTTP,
		Tracing:   tracing,
		CORS:      middleware.CORSConfig{AllowedOrigins: a.Config.Server.AllowedOrigins},
		RateLimit: a.Config.Server.RateLimit,
		Logger:    a.Logger,
	}), nil
}

// Serve runs the HTTP server, the scheduler loop when enabled, and periodic
// cleanup of finished runs until ctx is cancelled or one of them fails.
func (a *Application) Serve(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.Config.Scheduler.Enabled {
		g.Go(func() error {
			a.scheduleLoop(gctx, a.Config.Scheduler.Interval)
			return nil
		})
	}

	g.Go(func() error {
		a.cleanupLoop(gctx, a.Config.Scheduler.Retention)
		return nil
	})

	return g.Wait()
}

// scheduleLoop submits an incremental run immediately and then every interval.
// A tick that finds the job still running is skipped.
func (a *Application) scheduleLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := a.Runner.Submit(a.Job.Name(), operations.RunOptions{})
		if err != nil {
			a.Logger.WarnContext(ctx, "scheduled run not started",
				slog.String("job", a.Job.Name()),
				slog.String("error", err.Error()))
		} else {
			a.Logger.InfoContext(ctx, "scheduled run started",
				slog.String("job", a.Job.Name()),
				slog.String("operation_id", run.ID))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Application) cleanupLoop(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(retention / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runs := a.Runner.Cleanup(retention)
			snapshots := a.Broadcaster.CleanupOldOperations(ctx, retention)
			if runs > 0 || snapshots > 0 {
				a.Logger.DebugContext(ctx, "finished runs pruned",
					slog.Int("runs", runs),
					slog.Int("snapshots", snapshots))
			}
		}
	}
}

// Close stops background work and releases resources
func (a *Application) Close(ctx context.Context) error {
	var errs []error

	if a.Runner != nil {
		if err := a.Runner.Shutdown(a.Config.Server.ShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Broadcaster != nil {
		a.Broadcaster.Stop()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.OTel != nil {
		if err := a.OTel.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
