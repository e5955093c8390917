package ports

import (
	"context"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

// RetrievalService is the inbound contract for question answering retrieval.
type RetrievalService interface {
	Search(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

// ChunkReader is the inbound read model for single chunk lookups.
type ChunkReader interface {
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)
}

// ChunkIndexer is the inbound contract for storing chunk batches emitted upstream.
type ChunkIndexer interface {
	IndexBatch(ctx context.Context, batch domain.ChunkBatch) (int, error)
}
