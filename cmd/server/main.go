// Package main is the entrypoint for the ocrbatch API server.
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

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/ocrbatch/internal/api"
	"github.com/kiranshivaraju/ocrbatch/internal/api/handler"
	mw "github.com/kiranshivaraju/ocrbatch/internal/api/middleware"
	"github.com/kiranshivaraju/ocrbatch/internal/api/response"
	"github.com/kiranshivaraju/ocrbatch/internal/audit"
	"github.com/kiranshivaraju/ocrbatch/internal/cache"
	"github.com/kiranshivaraju/ocrbatch/internal/cleanup"
	"github.com/kiranshivaraju/ocrbatch/internal/cloud"
	"github.com/kiranshivaraju/ocrbatch/internal/config"
	"github.com/kiranshivaraju/ocrbatch/internal/content"
	"github.com/kiranshivaraju/ocrbatch/internal/intake"
	"github.com/kiranshivaraju/ocrbatch/internal/jobs"
	"github.com/kiranshivaraju/ocrbatch/internal/metrics"
	"github.com/kiranshivaraju/ocrbatch/internal/queue"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

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
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.SlogLevel(),
	})))
	slog.Info("config loaded", "env", cfg.Server.Env, "auth_enabled", cfg.Server.APIKeyHash != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. AWS clients, one of each per process
	awsCfg, err := cloud.LoadConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	contentStore := content.NewS3Store(cloud.NewS3Client(awsCfg, cfg.AWS.EndpointURL), cfg.AWS.Bucket)
	workQueue := queue.NewSQSQueue(cloud.NewSQSClient(awsCfg, cfg.AWS.EndpointURL), cfg.AWS.QueueURL)
	auditLog := audit.NewDynamoLog(cloud.NewDynamoDBClient(awsCfg, cfg.AWS.EndpointURL), cfg.AWS.AuditTable)
	slog.Info("AWS clients initialized", "region", cfg.AWS.Region, "bucket", cfg.AWS.Bucket, "audit_table", cfg.AWS.AuditTable)

	// 6. Services
	pgStore := store.NewPostgresStore(pool)
	submitter := intake.NewService(pgStore, contentStore, workQueue, auditLog, redisCache, intake.Options{
		Bucket:    contentStore.Bucket(),
		Retention: cfg.AWS.Retention,
	})
	reader := jobs.NewService(pgStore, redisCache, auditLog, jobs.Options{CacheTTL: cfg.AWS.Retention})
	deleter := cleanup.NewService(pgStore, contentStore, redisCache, auditLog, cleanup.Options{
		BatchSize: cfg.Cleanup.BatchSize,
	})
	jobsHandler := handler.NewJobs(submitter, reader, deleter, validator.New(), cfg.Server.UploadMaxBytes)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(cfg.Server.APIKeyHash),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: metrics.Handler(),

		CreateJob:     jobsHandler.Create(),
		ListJobs:      jobsHandler.List(),
		GetJob:        jobsHandler.Get(),
		GetJobStatus:  jobsHandler.Status(),
		RenameJob:     jobsHandler.Rename(),
		DeleteJob:     jobsHandler.Delete(),
		ListJobEvents: jobsHandler.Events(),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// pinger is the part of store.Store and cache.Cache the health check needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, kv pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := kv.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
