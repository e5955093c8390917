package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/filings-rag/internal/bootstrap"
	"github.com/kirillkom/filings-rag/internal/config"
	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/observability/logging"
	"github.com/kirillkom/filings-rag/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger, ConnectQueue: true})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSChunkSubject, "queue_group", cfg.NATSQueueGroup)
	err = app.Queue.SubscribeChunkBatches(ctx, func(handlerCtx context.Context, batch domain.ChunkBatch) error {
		indexCtx, cancel := context.WithTimeout(handlerCtx, 2*time.Minute)
		defer cancel()

		if produced := oldestChunkTime(batch); !produced.IsZero() {
			workerMetrics.ObserveIndexLag(time.Since(produced))
		}
		workerMetrics.StartBatch()
		start := time.Now()
		n, err := app.IndexUC.IndexBatch(indexCtx, batch)
		workerMetrics.FinishBatch(string(batch.FormType), n, time.Since(start), err)
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

func oldestChunkTime(batch domain.ChunkBatch) time.Time {
	var oldest time.Time
	for _, c := range batch.Chunks {
		if c.CreatedAt.IsZero() {
			continue
		}
		if oldest.IsZero() || c.CreatedAt.Before(oldest) {
			oldest = c.CreatedAt
		}
	}
	return oldest
}
