package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

const defaultMaxVariations = 3

// SearchFunc runs one query string against a fixed scope.
type SearchFunc func(ctx context.Context, query string) ([]domain.ScoredChunk, error)

type MultiQueryOptions struct {
	// MaxVariations counts the original question; 1 disables expansion.
	MaxVariations int
	RRFK          int
	Limit         int
	Hints         domain.VariationHints
}

type MultiQueryOrchestrator struct {
	expander *VariationExpander
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewMultiQueryOrchestrator(expander *VariationExpander, logger *slog.Logger) *MultiQueryOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if expander == nil {
		expander = NewVariationExpander(nil, defaultVariationCount, logger)
	}
	return &MultiQueryOrchestrator{
		expander: expander,
		logger:   logger,
		tracer:   otel.Tracer("filings-rag/retrieval"),
	}
}

func (o *MultiQueryOrchestrator) Run(
	ctx context.Context,
	question string,
	search SearchFunc,
	opts MultiQueryOptions,
) (*domain.RetrievalResult, error) {
	if opts.MaxVariations <= 0 {
		opts.MaxVariations = defaultMaxVariations
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultHybridConfig().Limit
	}

	ctx, span := o.tracer.Start(ctx, "retrieval.multi_query", trace.WithAttributes(
		attribute.Int("max_variations", opts.MaxVariations),
		attribute.Int("limit", opts.Limit),
	))
	defer span.End()

	var generated []domain.QueryVariation
	if opts.MaxVariations > 1 {
		var fallback bool
		generated, fallback = o.expander.Expand(ctx, question, opts.Hints)
		span.SetAttributes(attribute.Bool("variation_fallback", fallback))
	}
	plan := buildExecutionList(question, generated, opts.MaxVariations)

	start := time.Now()
	lists := make([][]domain.ScoredChunk, len(plan))
	errs := make([]error, len(plan))

	var g errgroup.Group
	for i, variation := range plan {
		g.Go(func() error {
			chunks, err := search(ctx, variation.Query)
			if err != nil {
				errs[i] = err
				o.logger.WarnContext(ctx, "variation_search_failed",
					"query", variation.Query,
					"strategy", string(variation.Strategy),
					"error", err,
				)
				return nil
			}
			lists[i] = chunks
			return nil
		})
	}
	_ = g.Wait()

	if err := errs[0]; err != nil && domain.IsKind(err, domain.ErrEmbedding) {
		span.RecordError(err)
		return nil, err
	}

	failed := 0
	results := make([]variationResult, 0, len(plan))
	for i, variation := range plan {
		if errs[i] != nil {
			failed++
		}
		results = append(results, variationResult{query: variation.Query, chunks: lists[i]})
	}

	fused := trimCandidates(fuseVariationsRRF(results, opts.RRFK), opts.Limit)
	strategies := make([]domain.VariationStrategy, 0, len(plan))
	for _, v := range plan {
		strategies = append(strategies, v.Strategy)
	}

	o.logger.InfoContext(ctx, "multi_query_completed",
		"queries_executed", len(plan),
		"failed_queries", failed,
		"results", len(fused),
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	span.SetAttributes(
		attribute.Int("queries_executed", len(plan)),
		attribute.Int("failed_queries", failed),
		attribute.Int("results", len(fused)),
	)

	status := domain.RetrievalStatusOK
	if len(fused) == 0 {
		status = domain.RetrievalStatusNoMatches
		if failed > 0 {
			status = domain.RetrievalStatusDegraded
		}
	}
	return &domain.RetrievalResult{
		Chunks:          fused,
		QueriesExecuted: len(plan),
		FailedQueries:   failed,
		Strategies:      strategies,
		Variations:      plan,
		Status:          status,
	}, nil
}

// buildExecutionList always starts with the literal question, then appends
// generated variations in order, skipping repeats, up to maxVariations total.
func buildExecutionList(question string, generated []domain.QueryVariation, maxVariations int) []domain.QueryVariation {
	if maxVariations <= 0 {
		maxVariations = 1
	}
	plan := make([]domain.QueryVariation, 0, maxVariations)
	plan = append(plan, domain.QueryVariation{
		Query:     question,
		Strategy:  domain.StrategyOriginal,
		Reasoning: "original question",
	})

	seen := map[string]struct{}{normalizeQueryKey(question): {}}
	for _, v := range generated {
		if len(plan) >= maxVariations {
			break
		}
		key := normalizeQueryKey(v.Query)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		plan = append(plan, v)
	}
	return plan
}

func normalizeQueryKey(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
