package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/core/ports"
)

type ChunkLookupUseCase struct {
	store ports.ChunkStore
}

func NewChunkLookupUseCase(store ports.ChunkStore) *ChunkLookupUseCase {
	return &ChunkLookupUseCase{store: store}
}

func (uc *ChunkLookupUseCase) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get chunk", errors.New("chunk id is required"))
	}
	chunk, err := uc.store.FetchChunk(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk: %w", err)
	}
	if chunk == nil {
		return nil, domain.WrapError(domain.ErrChunkNotFound, "get chunk", fmt.Errorf("id=%s", id))
	}
	out := *chunk
	out.Embedding = nil
	return &out, nil
}
