// Package main is the entrypoint for the sitepulse API server.
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

	"github.com/kiranshivaraju/sitepulse/internal/api"
	"github.com/kiranshivaraju/sitepulse/internal/api/handler"
	mw "github.com/kiranshivaraju/sitepulse/internal/api/middleware"
	"github.com/kiranshivaraju/sitepulse/internal/cache"
	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/internal/metrics"
	"github.com/kiranshivaraju/sitepulse/internal/notify"
	"github.com/kiranshivaraju/sitepulse/internal/queue"
	"github.com/kiranshivaraju/sitepulse/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast when it is invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "database_driver", cfg.Database.Driver, "notify_backend", cfg.Notify.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the job store and apply migrations
	st, closeStore, err := store.Open(ctx, cfg.Database, migrationsDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeStore()
	slog.Info("database ready")

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Job notifications and the queue
	notifier, err := notify.New(cfg.Notify, redisCache.Client())
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	defer notifier.Close()

	q := queue.New(st, redisCache, notifier, queue.OptionsFromConfig(cfg.Queue))

	// 5. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": st,
			"cache":    redisCache,
		}),
		MetricsHandler: metrics.Handler(),

		SubmitJobHandler:    handler.NewSubmitJobHandler(q),
		GetJobHandler:       handler.NewGetJobHandler(q),
		RetryJobHandler:     handler.NewRetryJobHandler(q),
		CancelJobHandler:    handler.NewCancelJobHandler(q),
		AdoptSessionHandler: handler.NewAdoptSessionHandler(q),
	}

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
