package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/core/ports"
)

type HybridConfig struct {
	Limit    int
	MinScore float64
	RRFK     int

	VectorOverfetch      int
	VectorFormOverfetch  int
	KeywordOverfetch     int
	KeywordFormOverfetch int
}

func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		Limit:                5,
		MinScore:             0.3,
		RRFK:                 defaultRRFK,
		VectorOverfetch:      2,
		VectorFormOverfetch:  5,
		KeywordOverfetch:     2,
		KeywordFormOverfetch: 3,
	}
}

func (c HybridConfig) normalize() HybridConfig {
	out := c
	def := DefaultHybridConfig()

	if out.Limit <= 0 {
		out.Limit = def.Limit
	}
	if out.MinScore < 0 {
		out.MinScore = 0
	}
	if out.RRFK <= 0 {
		out.RRFK = def.RRFK
	}
	if out.VectorOverfetch < 2 {
		out.VectorOverfetch = def.VectorOverfetch
	}
	if out.VectorFormOverfetch < out.VectorOverfetch {
		out.VectorFormOverfetch = max(def.VectorFormOverfetch, out.VectorOverfetch)
	}
	if out.KeywordOverfetch < 2 {
		out.KeywordOverfetch = def.KeywordOverfetch
	}
	if out.KeywordFormOverfetch < out.KeywordOverfetch {
		out.KeywordFormOverfetch = max(def.KeywordFormOverfetch, out.KeywordOverfetch)
	}
	return out
}

// candidateLimits returns how many hits to request from each signal. A form
// filter narrows the pool after the store's own ranking, so it fetches deeper.
func (c HybridConfig) candidateLimits(limit int, filter domain.ScopeFilter) (vector, keyword int) {
	if filter.FormType != "" {
		return limit * c.VectorFormOverfetch, limit * c.KeywordFormOverfetch
	}
	return limit * c.VectorOverfetch, limit * c.KeywordOverfetch
}

// HybridRetriever fuses semantic and lexical search for a single query string.
type HybridRetriever struct {
	embedder ports.Embedder
	store    ports.ChunkStore
	cfg      HybridConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewHybridRetriever(
	embedder ports.Embedder,
	store ports.ChunkStore,
	cfg HybridConfig,
	logger *slog.Logger,
) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		embedder: embedder,
		store:    store,
		cfg:      cfg.normalize(),
		logger:   logger,
		tracer:   otel.Tracer("filings-rag/retrieval"),
	}
}

func (r *HybridRetriever) Retrieve(
	ctx context.Context,
	query string,
	filter domain.ScopeFilter,
	limit int,
) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "hybrid retrieve", errors.New("query text is empty"))
	}

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.RetrieveWithVector(ctx, query, vector, filter, limit)
}

// RetrieveWithVector runs retrieval with a precomputed query embedding.
func (r *HybridRetriever) RetrieveWithVector(
	ctx context.Context,
	query string,
	vector []float32,
	filter domain.ScopeFilter,
	limit int,
) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		limit = r.cfg.Limit
	}
	ctx, span := r.tracer.Start(ctx, "retrieval.hybrid", trace.WithAttributes(
		attribute.String("ticker", filter.Ticker),
		attribute.String("form_type", string(filter.FormType)),
		attribute.Int("limit", limit),
	))
	defer span.End()

	vectorLimit, keywordLimit := r.cfg.candidateLimits(limit, filter)
	var vectorHits, keywordHits []domain.SearchHit
	var vectorErr, keywordErr error

	var g errgroup.Group
	g.Go(func() error {
		if len(vector) == 0 {
			return nil
		}
		hits, err := r.store.VectorSearch(ctx, vector, filter, vectorLimit)
		if err != nil {
			vectorErr = err
			r.logger.WarnContext(ctx, "vector_search_failed",
				"query", query,
				"ticker", filter.Ticker,
				"error", err,
			)
			return nil
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.store.KeywordSearch(ctx, query, filter, keywordLimit)
		if err != nil {
			keywordErr = err
			r.logger.WarnContext(ctx, "keyword_search_failed",
				"query", query,
				"ticker", filter.Ticker,
				"error", err,
			)
			return nil
		}
		keywordHits = hits
		return nil
	})
	_ = g.Wait()

	// One failed signal degrades to the other; when every attempted signal
	// failed the store is down and callers must not read this as no matches.
	if keywordErr != nil && (vectorErr != nil || len(vector) == 0) {
		err := errors.Join(vectorErr, keywordErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "all search signals failed")
		return nil, domain.WrapError(domain.ErrStoreDown, "hybrid retrieve", err)
	}

	rawVector := len(vectorHits)
	vectorHits = applyScoreFloor(vectorHits, r.cfg.MinScore)
	keywordHits = synthesizeKeywordScores(keywordHits)

	fused := fuseSignalsRRF(vectorHits, keywordHits, r.cfg.RRFK)
	out := r.hydrate(ctx, fused, limit)

	span.SetAttributes(
		attribute.Int("vector_hits", rawVector),
		attribute.Int("vector_hits_above_floor", len(vectorHits)),
		attribute.Int("keyword_hits", len(keywordHits)),
		attribute.Int("results", len(out)),
	)
	r.logger.DebugContext(ctx, "hybrid_retrieval_completed",
		"query", query,
		"vector_hits", rawVector,
		"vector_hits_above_floor", len(vectorHits),
		"keyword_hits", len(keywordHits),
		"results", len(out),
	)
	return out, nil
}

func (r *HybridRetriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, span := r.tracer.Start(ctx, "retrieval.embed_query")
	defer span.End()

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", err)
	}
	if len(vector) == 0 {
		err := errors.New("embedder returned an empty vector")
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", err)
	}
	return vector, nil
}

// hydrate fills chunk payloads the store did not return inline. Ids the store
// no longer knows are skipped, so fewer than limit results may come back.
func (r *HybridRetriever) hydrate(ctx context.Context, fused []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, min(limit, len(fused)))
	for _, candidate := range fused {
		if len(out) == limit {
			break
		}
		if candidate.Chunk.Text != "" {
			out = append(out, candidate)
			continue
		}
		chunk, err := r.store.FetchChunk(ctx, candidate.Chunk.ID)
		if err != nil {
			if !domain.IsKind(err, domain.ErrChunkNotFound) {
				r.logger.WarnContext(ctx, "fetch_chunk_failed", "chunk_id", candidate.Chunk.ID, "error", err)
			}
			continue
		}
		if chunk == nil {
			continue
		}
		candidate.Chunk = *chunk
		out = append(out, candidate)
	}
	return out
}

func applyScoreFloor(hits []domain.SearchHit, minScore float64) []domain.SearchHit {
	if minScore <= 0 || len(hits) == 0 {
		return hits
	}
	out := make([]domain.SearchHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Score >= minScore {
			out = append(out, hit)
		}
	}
	return out
}

// synthesizeKeywordScores gives rank-only keyword results a strictly
// decreasing score. Real relevance scores are left untouched.
func synthesizeKeywordScores(hits []domain.SearchHit) []domain.SearchHit {
	for _, hit := range hits {
		if hit.Score != 0 {
			return hits
		}
	}
	out := make([]domain.SearchHit, len(hits))
	for rank, hit := range hits {
		hit.Score = syntheticKeywordScore(rank)
		out[rank] = hit
	}
	return out
}

func syntheticKeywordScore(rank int) float64 {
	return 1.0 - 0.05*float64(rank)
}

func (c HybridConfig) String() string {
	return fmt.Sprintf("limit=%d min_score=%.2f rrf_k=%d overfetch=%d/%d keyword_overfetch=%d/%d",
		c.Limit, c.MinScore, c.RRFK, c.VectorOverfetch, c.VectorFormOverfetch, c.KeywordOverfetch, c.KeywordFormOverfetch)
}
