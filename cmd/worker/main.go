// Package main is the entrypoint for the sitepulse worker. It claims jobs
// from the queue, runs their pipelines and reaps jobs whose worker died.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kiranshivaraju/sitepulse/internal/ai"
	"github.com/kiranshivaraju/sitepulse/internal/cache"
	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/internal/fetch"
	"github.com/kiranshivaraju/sitepulse/internal/metrics"
	"github.com/kiranshivaraju/sitepulse/internal/notify"
	"github.com/kiranshivaraju/sitepulse/internal/observability"
	"github.com/kiranshivaraju/sitepulse/internal/pipeline"
	"github.com/kiranshivaraju/sitepulse/internal/queue"
	"github.com/kiranshivaraju/sitepulse/internal/store"
	"github.com/kiranshivaraju/sitepulse/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
	serviceName     = "sitepulse-worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"ai_provider", cfg.AI.Provider,
		"image_provider", cfg.AI.ImageProvider,
		"concurrency", cfg.Worker.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, serviceName, cfg.Server.Env)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	st, closeStore, err := store.Open(ctx, cfg.Database, migrationsDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeStore()
	slog.Info("database ready")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	notifier, err := notify.New(cfg.Notify, redisCache.Client())
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	defer notifier.Close()

	completer, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	images, err := ai.NewImageGenerator(cfg.AI)
	if err != nil {
		return fmt.Errorf("create image generator: %w", err)
	}
	slog.Info("AI providers initialized", "provider", completer.Name(), "images", images.Name())

	executor := pipeline.NewDefaultExecutor(pipeline.Collaborators{
		Fetcher:   fetch.NewHTTPFetcher(cfg.Fetch),
		Generator: ai.NewGenerator(completer, images, cfg.AI.InferenceTimeout, cfg.AI.ScenarioCount),
		Records:   st,
	}, cfg.Worker.StageTimeout)

	q := queue.New(st, redisCache, notifier, queue.OptionsFromConfig(cfg.Queue))
	pool := worker.NewPool(q, executor, notifier, worker.OptionsFromConfig(cfg.Worker))

	metricsSrv := newMetricsServer(cfg.Metrics.Addr)
	go func() {
		slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	runErr := pool.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("worker pool: %w", runErr)
	}
	slog.Info("worker stopped gracefully")
	return nil
}

func newMetricsServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
