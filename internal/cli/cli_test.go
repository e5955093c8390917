package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

type retrievalFake struct {
	result *domain.RetrievalResult
	err    error
	last   domain.RetrievalRequest
}

func (f *retrievalFake) Search(_ context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestSearchRequestFromFlags(t *testing.T) {
	cmd := searchCmd(nil)
	if err := cmd.ParseFlags([]string{"--ticker", "AAPL", "--form", "10k", "--section", "Item 7", "--limit", "8", "--max-variations", "2"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	req, err := searchRequestFromFlags(cmd, []string{"What", "drove", "gross", "margin?"})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if req.Question != "What drove gross margin?" {
		t.Fatalf("unexpected question %q", req.Question)
	}
	if req.Filter.Ticker != "AAPL" || req.Filter.FormType != domain.Form10K || req.Filter.Section != "Item 7" {
		t.Fatalf("unexpected filter: %+v", req.Filter)
	}
	if req.Limit != 8 || req.MaxVariations != 2 || !req.Expand {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestSearchRequestNoExpand(t *testing.T) {
	cmd := searchCmd(nil)
	if err := cmd.ParseFlags([]string{"--no-expand"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	req, err := searchRequestFromFlags(cmd, []string{"buybacks"})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if req.Expand {
		t.Fatalf("expected expand=false with --no-expand")
	}
}

func TestSearchRequestRejectsUnknownForm(t *testing.T) {
	cmd := searchCmd(nil)
	if err := cmd.ParseFlags([]string{"--form", "13F"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	_, err := searchRequestFromFlags(cmd, []string{"holdings"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRunSearchWritesJSONWithoutEmbeddings(t *testing.T) {
	fake := &retrievalFake{result: &domain.RetrievalResult{
		Chunks: []domain.ScoredChunk{{
			Chunk:      domain.Chunk{ID: "c1", Ticker: "AAPL", Text: "risk", Embedding: []float32{0.5}},
			FusedScore: 0.016,
		}},
		QueriesExecuted: 1,
		Status:          domain.RetrievalStatusOK,
	}}
	var out bytes.Buffer
	if err := runSearch(context.Background(), fake, domain.RetrievalRequest{Question: "risk"}, &out, false); err != nil {
		t.Fatalf("run search: %v", err)
	}
	if strings.Contains(out.String(), "embedding") {
		t.Fatalf("embedding leaked into output: %s", out.String())
	}
	var decoded domain.RetrievalResult
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if decoded.Status != domain.RetrievalStatusOK || len(decoded.Chunks) != 1 {
		t.Fatalf("unexpected output: %+v", decoded)
	}
}

func TestRunSearchPropagatesError(t *testing.T) {
	fake := &retrievalFake{err: domain.WrapError(domain.ErrEmbedding, "embed", errors.New("down"))}
	err := runSearch(context.Background(), fake, domain.RetrievalRequest{Question: "risk"}, &bytes.Buffer{}, false)
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected embedding error, got %v", err)
	}
}

func TestReadChunkBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	payload := `{"ticker":"AAPL","filing_id":"0000320193-24-000123","form_type":"10-K","chunks":[{"section":"Item 1A","chunk_index":0,"text":"risk","embedding":[0.1,0.2]}]}`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	batch, err := readChunkBatch(path, nil)
	if err != nil {
		t.Fatalf("read batch: %v", err)
	}
	if batch.Ticker != "AAPL" || len(batch.Chunks) != 1 || len(batch.Chunks[0].Embedding) != 2 {
		t.Fatalf("unexpected batch: %+v", batch)
	}

	fromStdin, err := readChunkBatch("-", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("read stdin batch: %v", err)
	}
	if fromStdin.FilingID != "0000320193-24-000123" {
		t.Fatalf("unexpected stdin batch: %+v", fromStdin)
	}
}

func TestReadChunkBatchRejectsEmptyAndUnknownFields(t *testing.T) {
	if _, err := readChunkBatch("-", strings.NewReader(`{"ticker":"AAPL","chunks":[]}`)); err == nil {
		t.Fatalf("expected error for empty batch")
	}
	if _, err := readChunkBatch("-", strings.NewReader(`{"ticker":"AAPL","pages":3}`)); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestRootCmdRegistersCommands(t *testing.T) {
	root := RootCmd()
	for _, name := range []string{"search", "mcp", "publish"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected %s command, got %v (%v)", name, cmd, err)
		}
	}
}
