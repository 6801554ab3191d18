package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/conversation-archive/internal/bootstrap"
	"github.com/kirillkom/conversation-archive/internal/config"
	"github.com/kirillkom/conversation-archive/internal/observability/logging"
	"github.com/kirillkom/conversation-archive/internal/observability/metrics"
	"github.com/kirillkom/conversation-archive/internal/worker"
)

const service = "archive-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(service)

	pool := worker.NewPool(app.Jobs, app.IndexUC, workerMetrics, logger, worker.PoolConfig{
		Workers:      cfg.WorkerCount,
		BatchSize:    cfg.WorkerBatchSize,
		PollInterval: time.Duration(cfg.WorkerPollIntervalSec) * time.Second,
		JobTimeout:   time.Duration(cfg.JobTimeoutSec) * time.Second,
		MaxAttempts:  cfg.JobMaxAttempts,
		Service:      service,
	})
	reclaimer := worker.NewReclaimer(app.Jobs, workerMetrics, logger,
		time.Duration(cfg.ReclaimIntervalSec)*time.Second)

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return pool.Run(groupCtx)
	})
	group.Go(func() error {
		return reclaimer.Run(groupCtx)
	})
	group.Go(func() error {
		// Wake nudges cut poll latency; the pool keeps polling without them.
		err := app.Queue.SubscribeJobEnqueued(groupCtx, func(context.Context, string) error {
			pool.Wake()
			return nil
		})
		if err != nil && groupCtx.Err() == nil {
			logger.Warn("wake subscription ended", "error", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("worker started", "workers", cfg.WorkerCount, "metrics_port", cfg.WorkerMetricsPort)
	if err := group.Wait(); err != nil {
		log.Fatalf("worker error: %v", err)
	}
}
