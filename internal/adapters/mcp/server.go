package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/core/ports"
)

const SearchToolName = "search_filings"

// NewServer exposes the retrieval service as a single MCP tool.
func NewServer(version string, retrieval ports.RetrievalService, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := server.NewMCPServer(
		"filings-rag",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	h := &searchHandler{retrieval: retrieval, logger: logger}
	s.AddTool(searchTool(), h.handle)
	return s
}

// ServeStdio blocks until stdin closes.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func searchTool() mcp.Tool {
	return mcp.NewTool(SearchToolName,
		mcp.WithDescription("Search SEC filing chunks with hybrid vector and keyword retrieval. "+
			"Returns the best matching passages with fused scores."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language question about company filings"),
		),
		mcp.WithString("ticker", mcp.Description("Restrict to one company ticker, e.g. AAPL")),
		mcp.WithString("form_type", mcp.Description("Restrict to one form type, e.g. 10-K, 10-Q, 8-K")),
		mcp.WithString("section", mcp.Description("Restrict to one filing section, e.g. Item 1A")),
		mcp.WithNumber("limit", mcp.Description("Number of chunks to return"), mcp.Min(1), mcp.Max(50)),
		mcp.WithBoolean("expand", mcp.Description("Generate query variations before searching (default true)")),
		mcp.WithNumber("max_variations", mcp.Description("Upper bound on executed query variations"), mcp.Min(1), mcp.Max(10)),
	)
}

type searchHandler struct {
	retrieval ports.RetrievalService
	logger    *slog.Logger
}

type toolChunk struct {
	ID             string   `json:"id"`
	Ticker         string   `json:"ticker"`
	FormType       string   `json:"form_type"`
	Section        string   `json:"section"`
	ChunkIndex     int      `json:"chunk_index"`
	Text           string   `json:"text"`
	SourceURL      string   `json:"source_url,omitempty"`
	FusedScore     float64  `json:"fused_score"`
	MatchedQueries []string `json:"matched_queries,omitempty"`
}

type toolResult struct {
	Status          string                     `json:"status"`
	QueriesExecuted int                        `json:"queries_executed"`
	FailedQueries   int                        `json:"failed_queries"`
	Strategies      []domain.VariationStrategy `json:"strategies"`
	Chunks          []toolChunk                `json:"chunks"`
}

func (h *searchHandler) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	formType, err := domain.ParseFormType(req.GetString("form_type", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := h.retrieval.Search(ctx, domain.RetrievalRequest{
		Question: question,
		Filter: domain.ScopeFilter{
			Ticker:   req.GetString("ticker", ""),
			FormType: formType,
			Section:  req.GetString("section", ""),
		},
		Limit:         req.GetInt("limit", 0),
		Expand:        req.GetBool("expand", true),
		MaxVariations: req.GetInt("max_variations", 0),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		h.logger.Error("mcp_search_failed", "tool", SearchToolName, "error", err)
		return mcp.NewToolResultError("retrieval failed: " + err.Error()), nil
	}

	out := toolResult{
		Status:          string(result.Status),
		QueriesExecuted: result.QueriesExecuted,
		FailedQueries:   result.FailedQueries,
		Strategies:      result.Strategies,
		Chunks:          make([]toolChunk, 0, len(result.Chunks)),
	}
	for _, c := range result.Chunks {
		out.Chunks = append(out.Chunks, toolChunk{
			ID:             c.Chunk.ID,
			Ticker:         c.Chunk.Ticker,
			FormType:       string(c.Chunk.FormType),
			Section:        c.Chunk.Section,
			ChunkIndex:     c.Chunk.ChunkIndex,
			Text:           c.Chunk.Text,
			SourceURL:      c.Chunk.SourceURL,
			FusedScore:     c.FusedScore,
			MatchedQueries: c.MatchedQueries,
		})
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(payload)), nil
}
