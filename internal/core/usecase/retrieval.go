package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/core/ports"
)

type RetrievalConfig struct {
	DefaultLimit         int
	MaxLimit             int
	DefaultMaxVariations int
	MaxVariationsCeiling int
	FusionRRFK           int
	// Domain is a phrasing hint for the variation generator.
	Domain string
}

func (c RetrievalConfig) normalize() RetrievalConfig {
	out := c
	if out.DefaultLimit <= 0 {
		out.DefaultLimit = 5
	}
	if out.MaxLimit <= 0 {
		out.MaxLimit = 50
	}
	if out.DefaultLimit > out.MaxLimit {
		out.DefaultLimit = out.MaxLimit
	}
	if out.MaxVariationsCeiling <= 0 {
		out.MaxVariationsCeiling = defaultVariationCount
	}
	if out.DefaultMaxVariations <= 0 {
		out.DefaultMaxVariations = defaultMaxVariations
	}
	if out.DefaultMaxVariations > out.MaxVariationsCeiling {
		out.DefaultMaxVariations = out.MaxVariationsCeiling
	}
	if out.FusionRRFK <= 0 {
		out.FusionRRFK = defaultRRFK
	}
	return out
}

type chunkRetriever interface {
	Retrieve(ctx context.Context, query string, filter domain.ScopeFilter, limit int) ([]domain.ScoredChunk, error)
}

// RetrievalUseCase is the single entry point used by every transport.
type RetrievalUseCase struct {
	retriever    chunkRetriever
	orchestrator *MultiQueryOrchestrator
	observers    []ports.RetrievalObserver
	cfg          RetrievalConfig
	logger       *slog.Logger
	now          func() time.Time
}

func NewRetrievalUseCase(
	retriever chunkRetriever,
	orchestrator *MultiQueryOrchestrator,
	cfg RetrievalConfig,
	logger *slog.Logger,
	observers ...ports.RetrievalObserver,
) *RetrievalUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if orchestrator == nil {
		orchestrator = NewMultiQueryOrchestrator(nil, logger)
	}
	return &RetrievalUseCase{
		retriever:    retriever,
		orchestrator: orchestrator,
		observers:    observers,
		cfg:          cfg.normalize(),
		logger:       logger,
		now:          time.Now,
	}
}

func (uc *RetrievalUseCase) Search(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieval search", errors.New("question is required"))
	}

	filter := req.Filter
	filter.Ticker = strings.ToUpper(strings.TrimSpace(filter.Ticker))
	filter.Section = strings.TrimSpace(filter.Section)

	limit := req.Limit
	if limit <= 0 {
		limit = uc.cfg.DefaultLimit
	}
	if limit > uc.cfg.MaxLimit {
		limit = uc.cfg.MaxLimit
	}

	maxVariations := uc.variationBudget(req)
	search := func(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
		return uc.retriever.Retrieve(ctx, query, filter, limit)
	}

	start := uc.now()
	result, err := uc.orchestrator.Run(ctx, question, search, MultiQueryOptions{
		MaxVariations: maxVariations,
		RRFK:          uc.cfg.FusionRRFK,
		Limit:         limit,
		Hints: domain.VariationHints{
			Ticker:   filter.Ticker,
			FormType: filter.FormType,
			Domain:   uc.cfg.Domain,
		},
	})
	uc.notify(ctx, question, filter, maxVariations > 1, result, err, uc.now().Sub(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (uc *RetrievalUseCase) variationBudget(req domain.RetrievalRequest) int {
	if !req.Expand {
		return 1
	}
	n := req.MaxVariations
	if n <= 0 {
		n = uc.cfg.DefaultMaxVariations
	}
	if n > uc.cfg.MaxVariationsCeiling {
		n = uc.cfg.MaxVariationsCeiling
	}
	return n
}

func (uc *RetrievalUseCase) notify(
	ctx context.Context,
	question string,
	filter domain.ScopeFilter,
	expanded bool,
	result *domain.RetrievalResult,
	runErr error,
	duration time.Duration,
) {
	if len(uc.observers) == 0 {
		return
	}
	event := domain.RetrievalEvent{
		Question:    question,
		Filter:      filter,
		Expanded:    expanded,
		Duration:    duration,
		CompletedAt: uc.now().UTC(),
	}
	if runErr != nil {
		event.Err = runErr.Error()
	}
	if result != nil {
		event.QueriesExecuted = result.QueriesExecuted
		event.FailedQueries = result.FailedQueries
		event.Strategies = result.Strategies
		event.ResultCount = len(result.Chunks)
		event.Status = result.Status
		for _, c := range result.Chunks {
			event.TopChunkIDs = append(event.TopChunkIDs, c.Chunk.ID)
		}
	}
	for _, observer := range uc.observers {
		observer.ObserveRetrieval(ctx, event)
	}
}
