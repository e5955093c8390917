package httpadapter

import "github.com/kirillkom/filings-rag/internal/core/domain"

type errorResponse struct {
	Error string `json:"error"`
}

type searchRequest struct {
	Question      string `json:"question"`
	Ticker        string `json:"ticker,omitempty"`
	FormType      string `json:"form_type,omitempty"`
	Section       string `json:"section,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Expand        *bool  `json:"expand,omitempty"`
	MaxVariations int    `json:"max_variations,omitempty"`
}

// toDomain treats a missing expand flag as true.
func (r searchRequest) toDomain() (domain.RetrievalRequest, error) {
	formType, err := domain.ParseFormType(r.FormType)
	if err != nil {
		return domain.RetrievalRequest{}, err
	}
	expand := true
	if r.Expand != nil {
		expand = *r.Expand
	}
	return domain.RetrievalRequest{
		Question: r.Question,
		Filter: domain.ScopeFilter{
			Ticker:   r.Ticker,
			FormType: formType,
			Section:  r.Section,
		},
		Limit:         r.Limit,
		Expand:        expand,
		MaxVariations: r.MaxVariations,
	}, nil
}

type chunkView struct {
	ID         string `json:"id"`
	Ticker     string `json:"ticker"`
	FilingID   string `json:"filing_id,omitempty"`
	FormType   string `json:"form_type"`
	Section    string `json:"section"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	SourceURL  string `json:"source_url,omitempty"`
}

func newChunkView(c domain.Chunk) chunkView {
	return chunkView{
		ID:         c.ID,
		Ticker:     c.Ticker,
		FilingID:   c.FilingID,
		FormType:   string(c.FormType),
		Section:    c.Section,
		ChunkIndex: c.ChunkIndex,
		Text:       c.Text,
		SourceURL:  c.SourceURL,
	}
}

type scoredChunkView struct {
	chunkView
	FusedScore     float64  `json:"fused_score"`
	VectorScore    float64  `json:"vector_score"`
	KeywordScore   float64  `json:"keyword_score"`
	MatchedQueries []string `json:"matched_queries,omitempty"`
}

type variationView struct {
	Query     string `json:"query"`
	Strategy  string `json:"strategy"`
	Reasoning string `json:"reasoning,omitempty"`
}

type searchResponse struct {
	Chunks          []scoredChunkView `json:"chunks"`
	QueriesExecuted int               `json:"queries_executed"`
	FailedQueries   int               `json:"failed_queries"`
	Strategies      []string          `json:"strategies"`
	Variations      []variationView   `json:"variations"`
	Status          string            `json:"status"`
}

func newSearchResponse(result *domain.RetrievalResult) searchResponse {
	resp := searchResponse{
		Chunks:          make([]scoredChunkView, 0, len(result.Chunks)),
		QueriesExecuted: result.QueriesExecuted,
		FailedQueries:   result.FailedQueries,
		Strategies:      make([]string, 0, len(result.Strategies)),
		Variations:      make([]variationView, 0, len(result.Variations)),
		Status:          string(result.Status),
	}
	for _, c := range result.Chunks {
		resp.Chunks = append(resp.Chunks, scoredChunkView{
			chunkView:      newChunkView(c.Chunk),
			FusedScore:     c.FusedScore,
			VectorScore:    c.VectorScore,
			KeywordScore:   c.KeywordScore,
			MatchedQueries: c.MatchedQueries,
		})
	}
	for _, s := range result.Strategies {
		resp.Strategies = append(resp.Strategies, string(s))
	}
	for _, v := range result.Variations {
		resp.Variations = append(resp.Variations, variationView{
			Query:     v.Query,
			Strategy:  string(v.Strategy),
			Reasoning: v.Reasoning,
		})
	}
	return resp
}
