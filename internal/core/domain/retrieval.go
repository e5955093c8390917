package domain

import "time"

type RetrievalStatus string

const (
	RetrievalStatusOK        RetrievalStatus = "ok"
	RetrievalStatusNoMatches RetrievalStatus = "no_matches"
	// RetrievalStatusDegraded is an empty result caused by failed searches
	// rather than an empty corpus.
	RetrievalStatusDegraded RetrievalStatus = "degraded"
)

// ScoredChunk is built fresh per request; ranks are zero-based and -1 when
// the chunk was not returned by that signal.
type ScoredChunk struct {
	Chunk          Chunk    `json:"chunk"`
	VectorScore    float64  `json:"vector_score"`
	KeywordScore   float64  `json:"keyword_score"`
	VectorRank     int      `json:"vector_rank"`
	KeywordRank    int      `json:"keyword_rank"`
	FusedScore     float64  `json:"fused_score"`
	MatchedQueries []string `json:"matched_queries,omitempty"`
}

type RetrievalRequest struct {
	Question      string
	Filter        ScopeFilter
	Limit         int
	Expand        bool
	MaxVariations int
}

type RetrievalResult struct {
	Chunks          []ScoredChunk       `json:"chunks"`
	QueriesExecuted int                 `json:"queries_executed"`
	FailedQueries   int                 `json:"failed_queries"`
	Strategies      []VariationStrategy `json:"strategies"`
	Variations      []QueryVariation    `json:"variations"`
	Status          RetrievalStatus     `json:"status"`
}

// RetrievalEvent is handed to observers after a request completes.
type RetrievalEvent struct {
	Question        string              `json:"question"`
	Filter          ScopeFilter         `json:"filter"`
	Expanded        bool                `json:"expanded"`
	QueriesExecuted int                 `json:"queries_executed"`
	FailedQueries   int                 `json:"failed_queries"`
	Strategies      []VariationStrategy `json:"strategies"`
	ResultCount     int                 `json:"result_count"`
	TopChunkIDs     []string            `json:"top_chunk_ids"`
	Status          RetrievalStatus     `json:"status"`
	Duration        time.Duration       `json:"duration"`
	Err             string              `json:"error,omitempty"`
	CompletedAt     time.Time           `json:"completed_at"`
}
