// Package main is the entrypoint for the ocrbatch worker. It runs one or more
// pollers against the work queue and serves Prometheus metrics.
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
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/ocrbatch/internal/cache"
	"github.com/kiranshivaraju/ocrbatch/internal/cloud"
	"github.com/kiranshivaraju/ocrbatch/internal/completion"
	"github.com/kiranshivaraju/ocrbatch/internal/config"
	"github.com/kiranshivaraju/ocrbatch/internal/content"
	"github.com/kiranshivaraju/ocrbatch/internal/extract"
	"github.com/kiranshivaraju/ocrbatch/internal/metrics"
	"github.com/kiranshivaraju/ocrbatch/internal/queue"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
	"github.com/kiranshivaraju/ocrbatch/internal/worker"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

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
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		// The cache only mirrors job status; the worker can run without it.
		slog.Warn("redis unavailable, continuing without status cache", "error", err)
	}

	extractor, err := extract.NewExtractor(cfg.Extractor)
	if err != nil {
		return fmt.Errorf("create extractor: %w", err)
	}
	slog.Info("extractor initialized", "extractor", extractor.Name())

	awsCfg, err := cloud.LoadConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	contentStore := content.NewS3Store(cloud.NewS3Client(awsCfg, cfg.AWS.EndpointURL), cfg.AWS.Bucket)
	workQueue := queue.NewSQSQueue(cloud.NewSQSClient(awsCfg, cfg.AWS.EndpointURL), cfg.AWS.QueueURL)

	pgStore := store.NewPostgresStore(pool)
	agg := completion.NewAggregator(pgStore, redisCache, cfg.AWS.Retention, logger)
	engine := worker.NewEngine(pgStore, contentStore, extractor, agg, worker.EngineOptions{
		ItemNotFoundMaxReceives: cfg.Worker.ItemNotFoundMaxReceives,
		Logger:                  logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range buildPollers(workQueue, engine, cfg.Worker, logger) {
		g.Go(func() error { return p.Run(gctx) })
	}

	srv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           metricsRouter(pgStore),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

func receiveOptions(cfg config.WorkerConfig) queue.ReceiveOptions {
	return queue.ReceiveOptions{
		MaxMessages:       int32(cfg.MaxMessages),
		WaitTime:          cfg.WaitTime,
		VisibilityTimeout: cfg.VisibilityTimeout,
	}
}

// buildPollers returns cfg.Concurrency independent pollers sharing q and h.
func buildPollers(q queue.Queue, h worker.Handler, cfg config.WorkerConfig, logger *slog.Logger) []*worker.Poller {
	pollers := make([]*worker.Poller, 0, cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		pollers = append(pollers, worker.NewPoller(q, h, worker.PollerOptions{
			Receive:      receiveOptions(cfg),
			IdleBackoff:      cfg.IdleBackoff,
			ErrorBackoff:     cfg.ErrorBackoff,
			BatchParallelism: cfg.BatchParallelism,
			Logger:           logger.With("poller", i),
		}))
	}
	return pollers
}

func metricsRouter(db store.Store) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		// A failed write means the client went away; nothing to report.
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
