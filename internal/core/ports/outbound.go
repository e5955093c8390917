package ports

import (
	"context"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

// Embedder builds vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore exposes the two ranked retrieval signals over the same records.
type ChunkStore interface {
	VectorSearch(ctx context.Context, vector []float32, filter domain.ScopeFilter, limit int) ([]domain.SearchHit, error)
	KeywordSearch(ctx context.Context, text string, filter domain.ScopeFilter, limit int) ([]domain.SearchHit, error)
	// FetchChunk returns domain.ErrChunkNotFound when the id is absent.
	FetchChunk(ctx context.Context, id string) (*domain.Chunk, error)
}

// ChunkWriter persists chunk records.
type ChunkWriter interface {
	UpsertChunks(ctx context.Context, chunks []domain.Chunk) error
}

// VariationGenerator rewrites a question into alternative phrasings.
type VariationGenerator interface {
	GenerateVariations(ctx context.Context, question string, hints domain.VariationHints) ([]domain.QueryVariation, error)
}

// RetrievalObserver receives completed retrieval events. Implementations must
// not block the caller for long and must not fail the request.
type RetrievalObserver interface {
	ObserveRetrieval(ctx context.Context, event domain.RetrievalEvent)
}

// ChunkQueue delivers chunk batches from the upstream pipeline.
type ChunkQueue interface {
	SubscribeChunkBatches(ctx context.Context, handler func(context.Context, domain.ChunkBatch) error) error
}
