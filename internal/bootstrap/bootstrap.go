package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/filings-rag/internal/config"
	"github.com/kirillkom/filings-rag/internal/core/ports"
	"github.com/kirillkom/filings-rag/internal/core/usecase"
	"github.com/kirillkom/filings-rag/internal/infrastructure/cache"
	"github.com/kirillkom/filings-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/filings-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/filings-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/filings-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/filings-rag/internal/infrastructure/vector/qdrant"
)

type Options struct {
	Logger *slog.Logger
	// ConnectQueue forces a NATS connection even when retrieval events are
	// not published, as the worker and the publish command need one.
	ConnectQueue bool
	Observers    []ports.RetrievalObserver
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Store  ports.ChunkStore
	Writer ports.ChunkWriter
	Queue  *nats.Queue

	RetrievalUC   *usecase.RetrievalUseCase
	ChunkLookupUC *usecase.ChunkLookupUseCase
	IndexUC       *usecase.ChunkIndexUseCase

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: cfg.ResilienceRetryMaxAttempts,
		BreakerEnabled:   cfg.ResilienceBreakerEnabled,
		// Variation generation has a deterministic fallback; retrying only
		// delays every expanded search.
		Operations: map[string]resilience.OperationPolicy{
			"ollama.generate": {RetryMaxAttempts: 1},
		},
	}, logger)

	store, writer, err := app.openChunkStore(ctx, executor)
	if err != nil {
		app.Close()
		return nil, err
	}
	if cfg.ChunkCacheSize > 0 {
		cached, err := cache.NewChunkStore(store, cfg.ChunkCacheSize)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init chunk cache: %w", err)
		}
		store = cached
	}
	app.Store = store
	app.Writer = writer

	observers := append([]ports.RetrievalObserver(nil), opts.Observers...)
	if opts.ConnectQueue || cfg.PublishRetrievalEvents {
		queue, err := nats.New(cfg.NATSURL, nats.Options{
			ChunkSubject:       cfg.NATSChunkSubject,
			EventSubject:       cfg.NATSEventSubject,
			QueueGroup:         cfg.NATSQueueGroup,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closeFns = append(app.closeFns, queue.Close)
		if cfg.PublishRetrievalEvents {
			observers = append(observers, queue)
		}
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewVariationGenerator(ollamaClient, cfg.RetrievalVariationCount)

	retriever := usecase.NewHybridRetriever(embedder, store, usecase.HybridConfig{
		Limit:                cfg.RetrievalTopK,
		MinScore:             cfg.RetrievalMinScore,
		RRFK:                 cfg.RetrievalRRFK,
		VectorOverfetch:      cfg.RetrievalVectorOverfetch,
		VectorFormOverfetch:  cfg.RetrievalVectorFormOverfetch,
		KeywordOverfetch:     cfg.RetrievalKeywordOverfetch,
		KeywordFormOverfetch: cfg.RetrievalKeywordFormOverfetch,
	}, logger)
	expander := usecase.NewVariationExpander(generator, cfg.RetrievalVariationCount, logger)
	orchestrator := usecase.NewMultiQueryOrchestrator(expander, logger)

	app.RetrievalUC = usecase.NewRetrievalUseCase(retriever, orchestrator, usecase.RetrievalConfig{
		DefaultLimit:         cfg.RetrievalTopK,
		MaxLimit:             cfg.RetrievalMaxTopK,
		DefaultMaxVariations: cfg.RetrievalMaxVariations,
		MaxVariationsCeiling: cfg.RetrievalMaxVariationsCeiling,
		FusionRRFK:           cfg.RetrievalFusionRRFK,
		Domain:               cfg.RetrievalDomain,
	}, logger, observers...)
	app.ChunkLookupUC = usecase.NewChunkLookupUseCase(store)
	app.IndexUC = usecase.NewChunkIndexUseCase(writer, cfg.EmbeddingDimension, logger)

	logger.Info("bootstrap_ready",
		"chunk_store", cfg.ChunkStoreBackend,
		"chunk_cache_size", cfg.ChunkCacheSize,
		"queue_connected", app.Queue != nil,
		"publish_retrieval_events", cfg.PublishRetrievalEvents,
	)
	return app, nil
}

func (a *App) openChunkStore(ctx context.Context, executor *resilience.Executor) (ports.ChunkStore, ports.ChunkWriter, error) {
	switch a.Config.ChunkStoreBackend {
	case "pgvector":
		db, err := postgres.OpenDB(a.Config.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closeFns = append(a.closeFns, closeDB(db))
		repo := postgres.NewChunkRepository(db, a.Config.EmbeddingDimension)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, repo, nil
	case "qdrant", "":
		client := qdrant.New(a.Config.QdrantURL, a.Config.QdrantCollection, executor)
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported chunk store backend %q", a.Config.ChunkStoreBackend)
	}
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
