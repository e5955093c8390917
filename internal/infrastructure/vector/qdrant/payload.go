package qdrant

import (
	"fmt"
	"math"
	"time"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

func chunkPayload(chunk domain.Chunk) map[string]any {
	return map[string]any{
		"chunk_id":    chunk.ID,
		"ticker":      chunk.Ticker,
		"filing_id":   chunk.FilingID,
		"form_type":   string(chunk.FormType),
		"section":     chunk.Section,
		"chunk_index": chunk.ChunkIndex,
		"text":        chunk.Text,
		"source_url":  chunk.SourceURL,
		"created_at":  chunk.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func chunkFromPayload(id string, payload map[string]any) domain.Chunk {
	chunk := domain.Chunk{
		ID:         id,
		Ticker:     getStringPayload(payload, "ticker"),
		FilingID:   getStringPayload(payload, "filing_id"),
		FormType:   domain.FormType(getStringPayload(payload, "form_type")),
		Section:    getStringPayload(payload, "section"),
		ChunkIndex: getIntPayload(payload, "chunk_index"),
		Text:       getStringPayload(payload, "text"),
		SourceURL:  getStringPayload(payload, "source_url"),
	}
	if chunkID := getStringPayload(payload, "chunk_id"); chunkID != "" {
		chunk.ID = chunkID
	}
	if ts, err := time.Parse(time.RFC3339, getStringPayload(payload, "created_at")); err == nil {
		chunk.CreatedAt = ts
	}
	return chunk
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// getIntPayload reads JSON numbers, which decode as float64.
func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
