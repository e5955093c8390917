package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/core/ports"
)

const defaultChunkCacheSize = 4096

// ChunkStore caches FetchChunk results in front of another store. Chunk
// records are immutable once indexed, so entries never need invalidation.
// Search calls pass straight through.
type ChunkStore struct {
	next   ports.ChunkStore
	chunks *lru.Cache[string, domain.Chunk]
}

func NewChunkStore(next ports.ChunkStore, size int) (*ChunkStore, error) {
	if size <= 0 {
		size = defaultChunkCacheSize
	}
	chunks, err := lru.New[string, domain.Chunk](size)
	if err != nil {
		return nil, fmt.Errorf("create chunk cache: %w", err)
	}
	return &ChunkStore{next: next, chunks: chunks}, nil
}

func (s *ChunkStore) VectorSearch(ctx context.Context, vector []float32, filter domain.ScopeFilter, limit int) ([]domain.SearchHit, error) {
	hits, err := s.next.VectorSearch(ctx, vector, filter, limit)
	s.remember(hits)
	return hits, err
}

func (s *ChunkStore) KeywordSearch(ctx context.Context, text string, filter domain.ScopeFilter, limit int) ([]domain.SearchHit, error) {
	hits, err := s.next.KeywordSearch(ctx, text, filter, limit)
	s.remember(hits)
	return hits, err
}

func (s *ChunkStore) FetchChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	if chunk, ok := s.chunks.Get(id); ok {
		return &chunk, nil
	}
	chunk, err := s.next.FetchChunk(ctx, id)
	if err != nil {
		return nil, err
	}
	if chunk != nil {
		s.chunks.Add(id, *chunk)
	}
	return chunk, nil
}

func (s *ChunkStore) Len() int {
	return s.chunks.Len()
}

// remember keeps full payloads returned inline by searches.
func (s *ChunkStore) remember(hits []domain.SearchHit) {
	for _, hit := range hits {
		if hit.Chunk == nil || hit.Chunk.Text == "" {
			continue
		}
		s.chunks.Add(hit.ChunkID, *hit.Chunk)
	}
}
