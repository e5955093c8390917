package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

type chunkWriterFake struct {
	chunks []domain.Chunk
	err    error
}

func (f *chunkWriterFake) UpsertChunks(_ context.Context, chunks []domain.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func testBatch() domain.ChunkBatch {
	return domain.ChunkBatch{
		Ticker:    "aapl",
		FilingID:  "0000320193-24-000123",
		FormType:  "10k",
		SourceURL: "https://www.sec.gov/Archives/edgar/data/320193/aapl-20240928.htm",
		Chunks: []domain.Chunk{
			{Section: "Item 7", ChunkIndex: 0, Text: "Net sales increased", Embedding: []float32{0.1, 0.2}},
			{Section: "Item 7", ChunkIndex: 1, Text: "Gross margin", Embedding: []float32{0.3, 0.4}},
		},
	}
}

func TestChunkIndexUseCaseFillsBatchFields(t *testing.T) {
	writer := &chunkWriterFake{}
	uc := NewChunkIndexUseCase(writer, 2, nil)

	n, err := uc.IndexBatch(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("IndexBatch() error = %v", err)
	}
	if n != 2 || len(writer.chunks) != 2 {
		t.Fatalf("expected 2 chunks written, got n=%d written=%d", n, len(writer.chunks))
	}
	first := writer.chunks[0]
	if first.Ticker != "AAPL" || first.FormType != domain.Form10K || first.FilingID == "" || first.SourceURL == "" {
		t.Fatalf("expected batch fields copied onto chunk, got %+v", first)
	}
	if first.ID != domain.ChunkID("AAPL", "0000320193-24-000123", "Item 7", 0) {
		t.Fatalf("expected deterministic chunk id, got %s", first.ID)
	}
	if first.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}
}

func TestChunkIndexUseCaseIsIdempotentOnIDs(t *testing.T) {
	writer := &chunkWriterFake{}
	uc := NewChunkIndexUseCase(writer, 0, nil)

	if _, err := uc.IndexBatch(context.Background(), testBatch()); err != nil {
		t.Fatalf("first IndexBatch() error = %v", err)
	}
	if _, err := uc.IndexBatch(context.Background(), testBatch()); err != nil {
		t.Fatalf("second IndexBatch() error = %v", err)
	}
	if writer.chunks[0].ID != writer.chunks[2].ID || writer.chunks[1].ID != writer.chunks[3].ID {
		t.Fatalf("expected re-indexing to produce the same ids")
	}
}

func TestChunkIndexUseCaseRejectsInvalidChunks(t *testing.T) {
	cases := map[string]func(*domain.ChunkBatch){
		"empty batch":       func(b *domain.ChunkBatch) { b.Chunks = nil },
		"unknown form":      func(b *domain.ChunkBatch) { b.FormType = "13F" },
		"empty text":        func(b *domain.ChunkBatch) { b.Chunks[1].Text = " " },
		"missing embedding": func(b *domain.ChunkBatch) { b.Chunks[0].Embedding = nil },
		"mixed dimensions":  func(b *domain.ChunkBatch) { b.Chunks[1].Embedding = []float32{1} },
		"negative index":    func(b *domain.ChunkBatch) { b.Chunks[0].ChunkIndex = -1 },
		"missing filing id": func(b *domain.ChunkBatch) { b.FilingID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			writer := &chunkWriterFake{}
			batch := testBatch()
			mutate(&batch)
			if _, err := NewChunkIndexUseCase(writer, 0, nil).IndexBatch(context.Background(), batch); err == nil {
				t.Fatalf("expected error")
			}
			if len(writer.chunks) != 0 {
				t.Fatalf("expected nothing written on invalid batch")
			}
		})
	}
}

func TestChunkIndexUseCaseRejectsWrongDimension(t *testing.T) {
	_, err := NewChunkIndexUseCase(&chunkWriterFake{}, 768, nil).IndexBatch(context.Background(), testBatch())
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestChunkIndexUseCaseWriterError(t *testing.T) {
	writer := &chunkWriterFake{err: errors.New("qdrant down")}
	if _, err := NewChunkIndexUseCase(writer, 0, nil).IndexBatch(context.Background(), testBatch()); err == nil {
		t.Fatalf("expected writer error")
	}
}

func TestChunkLookupStripsEmbedding(t *testing.T) {
	store := &hybridStoreFake{chunks: map[string]domain.Chunk{
		"c1": {ID: "c1", Text: "t", Embedding: []float32{1, 2}},
	}}
	uc := NewChunkLookupUseCase(store)

	chunk, err := uc.GetChunk(context.Background(), " c1 ")
	if err != nil {
		t.Fatalf("GetChunk() error = %v", err)
	}
	if chunk.Embedding != nil {
		t.Fatalf("expected embedding stripped")
	}
	if store.chunks["c1"].Embedding == nil {
		t.Fatalf("expected stored chunk left untouched")
	}

	if _, err := uc.GetChunk(context.Background(), "missing"); !domain.IsKind(err, domain.ErrChunkNotFound) {
		t.Fatalf("expected ErrChunkNotFound, got %v", err)
	}
	if _, err := uc.GetChunk(context.Background(), ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
