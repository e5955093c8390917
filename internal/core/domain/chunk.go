package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type FormType string

const (
	Form10K    FormType = "10-K"
	Form10Q    FormType = "10-Q"
	Form8K     FormType = "8-K"
	Form20F    FormType = "20-F"
	FormS1     FormType = "S-1"
	FormDEF14A FormType = "DEF 14A"
)

var knownFormTypes = map[FormType]struct{}{
	Form10K:    {},
	Form10Q:    {},
	Form8K:     {},
	Form20F:    {},
	FormS1:     {},
	FormDEF14A: {},
}

// ParseFormType normalizes user input ("10k", " 10-q ") into a known form type.
func ParseFormType(raw string) (FormType, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", nil
	}
	if ft := FormType(s); isKnownFormType(ft) {
		return ft, nil
	}
	switch strings.ReplaceAll(s, " ", "") {
	case "10K":
		return Form10K, nil
	case "10Q":
		return Form10Q, nil
	case "8K":
		return Form8K, nil
	case "20F":
		return Form20F, nil
	case "S1":
		return FormS1, nil
	case "DEF14A":
		return FormDEF14A, nil
	}
	return "", WrapError(ErrInvalidInput, "parse form type", fmt.Errorf("unknown form type %q", raw))
}

func isKnownFormType(ft FormType) bool {
	_, ok := knownFormTypes[ft]
	return ok
}

// Chunk is an immutable slice of filing text produced by the upstream pipeline.
type Chunk struct {
	ID         string    `json:"id"`
	Ticker     string    `json:"ticker"`
	FilingID   string    `json:"filing_id"`
	FormType   FormType  `json:"form_type"`
	Section    string    `json:"section"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

var chunkNamespace = uuid.MustParse("7b0c8a52-35d4-4c57-9f0e-5d8d1c2f6a11")

// ChunkID derives a stable id from the chunk's natural key, so a re-delivered
// record overwrites itself instead of creating a duplicate.
func ChunkID(ticker, filingID, section string, index int) string {
	key := fmt.Sprintf("%s|%s|%s|%d", strings.ToUpper(ticker), filingID, section, index)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

type ScopeFilter struct {
	Ticker   string   `json:"ticker,omitempty"`
	FormType FormType `json:"form_type,omitempty"`
	Section  string   `json:"section,omitempty"`
}

// SearchHit is one entry of a store-ranked list. Chunk is set when the store
// returns payloads together with scores.
type SearchHit struct {
	ChunkID string
	Score   float64
	Chunk   *Chunk
}

// ChunkBatch is the message the upstream pipeline emits per ingested filing.
type ChunkBatch struct {
	Ticker    string   `json:"ticker"`
	FilingID  string   `json:"filing_id"`
	FormType  FormType `json:"form_type"`
	SourceURL string   `json:"source_url"`
	Chunks    []Chunk  `json:"chunks"`
}
