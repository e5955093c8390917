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

	httpadapter "github.com/kirillkom/filings-rag/internal/adapters/http"
	"github.com/kirillkom/filings-rag/internal/bootstrap"
	"github.com/kirillkom/filings-rag/internal/config"
	"github.com/kirillkom/filings-rag/internal/core/ports"
	"github.com/kirillkom/filings-rag/internal/observability/logging"
	"github.com/kirillkom/filings-rag/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:    logger,
		Observers: []ports.RetrievalObserver{httpMetrics},
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(cfg, app.RetrievalUC, app.ChunkLookupUC, httpMetrics, logger)
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	writeTimeout := 60 * time.Second
	if budget := time.Duration(cfg.HTTPRequestTimeoutSeconds)*time.Second + 5*time.Second; budget > writeTimeout {
		writeTimeout = budget
	}
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "chunk_store", cfg.ChunkStoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
