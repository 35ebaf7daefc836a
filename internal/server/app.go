// Package server wires configuration into a running crawl service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/api"
	"github.com/JakeFAU/campus-crawler/internal/config"
	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/campus-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/campus-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/campus-crawler/internal/id/uuid"
	"github.com/JakeFAU/campus-crawler/internal/metrics"
	"github.com/JakeFAU/campus-crawler/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/campus-crawler/internal/queue/memory"
	memoryStorage "github.com/JakeFAU/campus-crawler/internal/storage/memory"
	"github.com/JakeFAU/campus-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	runs      *memoryStorage.RunStore
	engine    *crawler.Engine
	sinks     *Sinks
}

// Build creates the application's dependencies. The caller owns logger.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("render_backend", cfg.Render.Backend),
		zap.Int("max_concurrent_runs", cfg.Server.MaxConcurrentRuns),
	)

	engine, err := NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.engine = engine

	app.sinks, err = OpenSinks(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	app.runs = memoryStorage.NewRunStore(nil)
	app.queue = queueMemory.NewQueue(cfg.Server.QueueDepth)
	app.dispatch = app.setupDispatcher()

	app.apiServer = api.NewServer(
		app.runs,
		app.dispatch,
		engine,
		app.sinks.Router,
		uuid.New(),
		crawler.SystemClock{},
		cfg,
		logger.Named("api"),
	)
	return app, nil
}

// NewEngine builds the crawl engine with the configured render backend,
// per-host rate limiting and Prometheus observer.
func NewEngine(cfg config.Config, logger *zap.Logger) (*crawler.Engine, error) {
	settings := cfg.Settings()
	var factory crawler.RendererFactory
	switch cfg.Render.Backend {
	case config.BackendStatic:
		factory = collyfetcher.NewFactory(collyfetcher.Config{
			UserAgent: settings.UserAgent,
			Timeout:   settings.RequestTimeout,
		})
	default:
		factory = headlessfetcher.NewFactory(headlessfetcher.Config{
			UserAgent:         settings.UserAgent,
			ExecPath:          cfg.Render.ChromePath,
			NoSandbox:         cfg.Render.NoSandbox,
			NavigationTimeout: settings.RequestTimeout,
		}, logger.Named("headless"))
	}
	limiter := ratelimit.New(ratelimit.Config{Interval: settings.RequestDelay})
	engine, err := crawler.NewEngine(settings, factory,
		crawler.WithHostLimiter(limiter),
		crawler.WithObserver(metrics.NewRecorder()),
		crawler.WithLogger(logger.Named("engine")),
	)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	return engine, nil
}

func (a *App) setupDispatcher() *dispatcher.Dispatcher {
	runners := make([]dispatcher.Runner, 0, a.cfg.Server.MaxConcurrentRuns)
	for i := 0; i < a.cfg.Server.MaxConcurrentRuns; i++ {
		runners = append(runners, worker.New(
			a.queue,
			a.runs,
			a.engine,
			a.sinks.Router,
			crawler.SystemClock{},
			worker.Config{DeliveryTimeout: a.cfg.Delivery.Timeout},
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(a.queue, runners)
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the dispatcher and HTTP server and blocks until ctx is canceled
// or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(runCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.apiServer.SetReady(false)

	grace := a.cfg.Server.ShutdownTimeout
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	// Stop accepting runs, let in-flight ones drain, then cancel stragglers.
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("shutdown timeout reached, canceling in-flight runs")
		cancelRuns()
		<-dispatchDone
	}
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close stops the queue and releases sink clients.
func (a *App) Close() {
	a.queue.Close()
	a.sinks.Close()
	a.logger.Info("shutdown complete")
}
