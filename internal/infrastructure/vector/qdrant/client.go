package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/infrastructure/resilience"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "text"
)

// Client stores filing chunks in one Qdrant collection with a named dense
// vector for semantic search and a named sparse vector for keyword search.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

type point struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}

	type upsertPoint struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]upsertPoint, 0, len(chunks))
	for _, chunk := range chunks {
		points = append(points, upsertPoint{
			ID: chunk.ID,
			Vector: map[string]any{
				denseVectorName:  chunk.Embedding,
				sparseVectorName: encodeSparseDocument(chunk.Text, chunk.Section),
			},
			Payload: chunkPayload(chunk),
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	err := c.executor.Execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		resp, err := c.doJSON(ctx, http.MethodPut, url, map[string]any{"points": points}, "upsert")
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}, resilience.ClassifyHTTPError)
	return resilience.WrapTemporary("qdrant upsert", err, nil)
}

func (c *Client) VectorSearch(
	ctx context.Context,
	vector []float32,
	filter domain.ScopeFilter,
	limit int,
) ([]domain.SearchHit, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	return c.query(ctx, "qdrant.vector_search", map[string]any{
		"query":        vector,
		"using":        denseVectorName,
		"limit":        limit,
		"with_payload": true,
	}, filter)
}

func (c *Client) KeywordSearch(
	ctx context.Context,
	text string,
	filter domain.ScopeFilter,
	limit int,
) ([]domain.SearchHit, error) {
	sparse := encodeSparseQuery(text)
	if len(sparse.Indices) == 0 || limit <= 0 {
		return nil, nil
	}
	return c.query(ctx, "qdrant.keyword_search", map[string]any{
		"query":        sparse,
		"using":        sparseVectorName,
		"limit":        limit,
		"with_payload": true,
	}, filter)
}

func (c *Client) FetchChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	url := fmt.Sprintf("%s/collections/%s/points/%s", c.baseURL, c.collection, id)
	p, err := resilience.Call(ctx, c.executor, "qdrant.fetch", func(ctx context.Context) (*point, error) {
		resp, err := c.doJSON(ctx, http.MethodGet, url, nil, "fetch")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var body struct {
			Result *point `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode fetch response: %w", err)
		}
		return body.Result, nil
	}, classifyFetchError)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.WrapError(domain.ErrChunkNotFound, "qdrant fetch", fmt.Errorf("id=%s", id))
		}
		return nil, resilience.WrapTemporary("qdrant fetch", err, nil)
	}
	if p == nil {
		return nil, domain.WrapError(domain.ErrChunkNotFound, "qdrant fetch", fmt.Errorf("id=%s", id))
	}
	chunk := chunkFromPayload(p.ID, p.Payload)
	return &chunk, nil
}

func (c *Client) query(ctx context.Context, operation string, reqBody map[string]any, filter domain.ScopeFilter) ([]domain.SearchHit, error) {
	if f := buildScopeFilter(filter); f != nil {
		reqBody["filter"] = f
	}
	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)
	points, err := resilience.Call(ctx, c.executor, operation, func(ctx context.Context) ([]point, error) {
		resp, err := c.doJSON(ctx, http.MethodPost, url, reqBody, "query")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return decodeQueryPoints(resp.Body)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary(operation, err, nil)
	}

	out := make([]domain.SearchHit, 0, len(points))
	for _, p := range points {
		chunk := chunkFromPayload(p.ID, p.Payload)
		out = append(out, domain.SearchHit{ChunkID: chunk.ID, Score: p.Score, Chunk: &chunk})
	}
	return out, nil
}

// doJSON returns the open response for 2xx answers and a StatusError otherwise.
func (c *Client) doJSON(ctx context.Context, method, url string, reqBody any, operation string) (*http.Response, error) {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &resilience.StatusError{
			Service:    "qdrant",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(msg),
		}
	}
	return resp, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{"modifier": "idf"},
		},
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	resp, err := c.doJSON(ctx, http.MethodPut, url, reqBody, "ensure collection")
	if err != nil {
		// 409 when the collection already exists.
		if statusCode(err) != http.StatusConflict {
			return err
		}
	} else {
		resp.Body.Close()
	}

	if err := c.ensurePayloadIndexes(ctx); err != nil {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) ensurePayloadIndexes(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s/index?wait=true", c.baseURL, c.collection)
	for _, field := range []string{"ticker", "form_type", "section"} {
		resp, err := c.doJSON(ctx, http.MethodPut, url, map[string]any{
			"field_name":   field,
			"field_schema": "keyword",
		}, "create payload index")
		if err != nil {
			return err
		}
		resp.Body.Close()
	}
	return nil
}

func buildScopeFilter(filter domain.ScopeFilter) map[string]any {
	must := make([]map[string]any, 0, 3)
	add := func(key, value string) {
		if value == "" {
			return
		}
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	add("ticker", filter.Ticker)
	add("form_type", string(filter.FormType))
	add("section", filter.Section)
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func decodeQueryPoints(r io.Reader) ([]point, error) {
	var resp struct {
		Result struct {
			Points []point `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return resp.Result.Points, nil
}

func classifyFetchError(err error) resilience.ErrorClassification {
	if isNotFound(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyHTTPError(err)
}

func isNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

func statusCode(err error) int {
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
