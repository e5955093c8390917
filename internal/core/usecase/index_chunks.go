package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/core/ports"
)

// ChunkIndexUseCase stores chunk batches emitted by the upstream chunking and
// embedding pipeline. It does no chunking or embedding itself.
type ChunkIndexUseCase struct {
	writer    ports.ChunkWriter
	dimension int
	logger    *slog.Logger
	now       func() time.Time
}

func NewChunkIndexUseCase(writer ports.ChunkWriter, dimension int, logger *slog.Logger) *ChunkIndexUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkIndexUseCase{
		writer:    writer,
		dimension: dimension,
		logger:    logger,
		now:       time.Now,
	}
}

func (uc *ChunkIndexUseCase) IndexBatch(ctx context.Context, batch domain.ChunkBatch) (int, error) {
	chunks, err := uc.prepare(batch)
	if err != nil {
		return 0, err
	}
	if err := uc.writer.UpsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}

	uc.logger.InfoContext(ctx, "chunk_batch_indexed",
		"ticker", chunks[0].Ticker,
		"filing_id", chunks[0].FilingID,
		"form_type", string(chunks[0].FormType),
		"chunks", len(chunks),
	)
	return len(chunks), nil
}

func (uc *ChunkIndexUseCase) prepare(batch domain.ChunkBatch) ([]domain.Chunk, error) {
	if len(batch.Chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index batch", errors.New("batch has no chunks"))
	}

	dimension := uc.dimension
	now := uc.now().UTC()
	out := make([]domain.Chunk, 0, len(batch.Chunks))
	for i, chunk := range batch.Chunks {
		if chunk.Ticker == "" {
			chunk.Ticker = batch.Ticker
		}
		if chunk.FilingID == "" {
			chunk.FilingID = batch.FilingID
		}
		if chunk.FormType == "" {
			chunk.FormType = batch.FormType
		}
		if chunk.SourceURL == "" {
			chunk.SourceURL = batch.SourceURL
		}
		chunk.Ticker = strings.ToUpper(strings.TrimSpace(chunk.Ticker))
		chunk.Section = strings.TrimSpace(chunk.Section)

		formType, err := domain.ParseFormType(string(chunk.FormType))
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		chunk.FormType = formType

		if err := validateChunk(chunk, dimension); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "index batch", fmt.Errorf("chunk %d: %w", i, err))
		}
		if dimension == 0 {
			dimension = len(chunk.Embedding)
		}

		chunk.ID = domain.ChunkID(chunk.Ticker, chunk.FilingID, chunk.Section, chunk.ChunkIndex)
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = now
		}
		out = append(out, chunk)
	}
	return out, nil
}

func validateChunk(chunk domain.Chunk, dimension int) error {
	switch {
	case chunk.Ticker == "":
		return errors.New("ticker is required")
	case chunk.FilingID == "":
		return errors.New("filing id is required")
	case chunk.FormType == "":
		return errors.New("form type is required")
	case chunk.ChunkIndex < 0:
		return fmt.Errorf("negative chunk index %d", chunk.ChunkIndex)
	case strings.TrimSpace(chunk.Text) == "":
		return errors.New("text is empty")
	case len(chunk.Embedding) == 0:
		return errors.New("embedding is missing")
	case dimension > 0 && len(chunk.Embedding) != dimension:
		return fmt.Errorf("embedding dimension %d, expected %d", len(chunk.Embedding), dimension)
	}
	return nil
}
