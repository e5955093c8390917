package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per input and rejects ragged batches, which Ollama
// produces when a model is swapped mid-request.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var response embedResponse
	request := embedRequest{Model: e.client.embedModel, Input: texts}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	dim := len(response.Embeddings[0])
	for i, vec := range response.Embeddings {
		if len(vec) == 0 || len(vec) != dim {
			return nil, fmt.Errorf("ollama embed vector %d has dimension %d, want %d", i, len(vec), dim)
		}
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// VariationGenerator asks the generation model for alternative phrasings of a
// filings question, one per rewrite strategy.
type VariationGenerator struct {
	client *Client
	count  int
}

func NewVariationGenerator(client *Client, count int) *VariationGenerator {
	if count <= 0 {
		count = 5
	}
	return &VariationGenerator{client: client, count: count}
}

func (g *VariationGenerator) GenerateVariations(
	ctx context.Context,
	question string,
	hints domain.VariationHints,
) ([]domain.QueryVariation, error) {
	respText, err := g.client.generateJSON(ctx, buildVariationPrompt(question, hints, g.count))
	if err != nil {
		return nil, err
	}
	variations, err := parseVariations(respText)
	if err != nil {
		return nil, err
	}
	if len(variations) > g.count {
		variations = variations[:g.count]
	}
	return variations, nil
}

func parseVariations(raw string) ([]domain.QueryVariation, error) {
	var result struct {
		Variations []domain.QueryVariation `json:"variations"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return nil, fmt.Errorf("parse variations json: %w", err)
	}
	out := result.Variations[:0]
	for _, v := range result.Variations {
		v.Query = strings.TrimSpace(v.Query)
		if v.Query == "" {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("model returned no variations")
	}
	return out, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	request := generateRequest{
		Model:   c.genModel,
		Prompt:  prompt,
		Format:  "json",
		Options: generateOptions{Temperature: 0.3},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", request, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
