package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

type storeFake struct {
	chunks     map[string]domain.Chunk
	fetchCalls int
	hits       []domain.SearchHit
}

func (f *storeFake) VectorSearch(context.Context, []float32, domain.ScopeFilter, int) ([]domain.SearchHit, error) {
	return f.hits, nil
}

func (f *storeFake) KeywordSearch(context.Context, string, domain.ScopeFilter, int) ([]domain.SearchHit, error) {
	return f.hits, nil
}

func (f *storeFake) FetchChunk(_ context.Context, id string) (*domain.Chunk, error) {
	f.fetchCalls++
	chunk, ok := f.chunks[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrChunkNotFound, "fetch", errors.New(id))
	}
	return &chunk, nil
}

func TestChunkStoreCachesFetchedChunks(t *testing.T) {
	next := &storeFake{chunks: map[string]domain.Chunk{"c-1": {ID: "c-1", Text: "revenue"}}}
	store, err := NewChunkStore(next, 8)
	if err != nil {
		t.Fatalf("NewChunkStore() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		chunk, err := store.FetchChunk(context.Background(), "c-1")
		if err != nil {
			t.Fatalf("FetchChunk() error = %v", err)
		}
		if chunk.Text != "revenue" {
			t.Fatalf("unexpected chunk: %+v", chunk)
		}
	}
	if next.fetchCalls != 1 {
		t.Fatalf("expected 1 backend fetch, got %d", next.fetchCalls)
	}
}

func TestChunkStoreDoesNotCacheMisses(t *testing.T) {
	next := &storeFake{chunks: map[string]domain.Chunk{}}
	store, _ := NewChunkStore(next, 8)

	for i := 0; i < 2; i++ {
		if _, err := store.FetchChunk(context.Background(), "missing"); !domain.IsKind(err, domain.ErrChunkNotFound) {
			t.Fatalf("expected ErrChunkNotFound, got %v", err)
		}
	}
	if next.fetchCalls != 2 {
		t.Fatalf("expected misses to reach the backend, got %d calls", next.fetchCalls)
	}
}

func TestChunkStoreRemembersInlineSearchPayloads(t *testing.T) {
	next := &storeFake{hits: []domain.SearchHit{
		{ChunkID: "c-1", Score: 0.9, Chunk: &domain.Chunk{ID: "c-1", Text: "inline"}},
		{ChunkID: "c-2", Score: 0.8},
	}}
	store, _ := NewChunkStore(next, 8)

	if _, err := store.VectorSearch(context.Background(), []float32{1}, domain.ScopeFilter{}, 5); err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected only the inline payload cached, got %d", store.Len())
	}
	chunk, err := store.FetchChunk(context.Background(), "c-1")
	if err != nil || chunk.Text != "inline" || next.fetchCalls != 0 {
		t.Fatalf("expected cached chunk without backend fetch, got %+v err=%v calls=%d", chunk, err, next.fetchCalls)
	}
}

func TestChunkStoreEvictsLeastRecentlyUsed(t *testing.T) {
	next := &storeFake{chunks: map[string]domain.Chunk{
		"a": {ID: "a", Text: "a"}, "b": {ID: "b", Text: "b"}, "c": {ID: "c", Text: "c"},
	}}
	store, _ := NewChunkStore(next, 2)

	for _, id := range []string{"a", "b", "c", "a"} {
		if _, err := store.FetchChunk(context.Background(), id); err != nil {
			t.Fatalf("FetchChunk(%s) error = %v", id, err)
		}
	}
	if next.fetchCalls != 4 {
		t.Fatalf("expected 'a' evicted and refetched, got %d backend calls", next.fetchCalls)
	}
}
