package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

type variationGeneratorFake struct {
	out   []domain.QueryVariation
	err   error
	calls int
	hints domain.VariationHints
}

func (f *variationGeneratorFake) GenerateVariations(_ context.Context, _ string, hints domain.VariationHints) ([]domain.QueryVariation, error) {
	f.calls++
	f.hints = hints
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestVariationExpanderFallbackOnGeneratorError(t *testing.T) {
	gen := &variationGeneratorFake{err: errors.New("llm timeout")}
	expander := NewVariationExpander(gen, 5, nil)

	got, fallback := expander.Expand(context.Background(), "What happened to AAPL in Q3?", domain.VariationHints{Ticker: "AAPL"})
	if !fallback {
		t.Fatalf("expected fallback to be reported")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 fallback variations, got %d", len(got))
	}
	if got[0].Strategy != domain.StrategyBroader || got[0].Query != "What information is available about what happened to aapl in q3?" {
		t.Fatalf("unexpected broader variation: %+v", got[0])
	}
	if got[1].Strategy != domain.StrategyKeyword || got[1].Query != "happened AAPL" {
		t.Fatalf("unexpected keyword variation: %+v", got[1])
	}
	if gen.hints.Ticker != "AAPL" {
		t.Fatalf("expected hints to reach generator, got %+v", gen.hints)
	}
}

func TestVariationExpanderFallbackWithoutGenerator(t *testing.T) {
	got, fallback := NewVariationExpander(nil, 0, nil).Expand(context.Background(), "revenue", domain.VariationHints{})
	if !fallback || len(got) != 2 {
		t.Fatalf("expected 2 fallback variations, got %d fallback=%v", len(got), fallback)
	}
	if got[1].Query != "revenue" {
		t.Fatalf("expected keyword variation 'revenue', got %q", got[1].Query)
	}
}

func TestVariationExpanderFallbackOnEmptyOutput(t *testing.T) {
	gen := &variationGeneratorFake{out: []domain.QueryVariation{{Query: "   ", Strategy: domain.StrategySpecific}}}
	_, fallback := NewVariationExpander(gen, 5, nil).Expand(context.Background(), "q", domain.VariationHints{})
	if !fallback {
		t.Fatalf("expected blank-only output to trigger fallback")
	}
}

func TestVariationExpanderSanitizesGeneratorOutput(t *testing.T) {
	gen := &variationGeneratorFake{out: []domain.QueryVariation{
		{Query: "  iPhone net sales fiscal Q3  ", Strategy: "more_specific"},
		{Query: "", Strategy: domain.StrategyBroader},
		{Query: "Apple quarterly performance", Strategy: "mystery"},
		{Query: "original wording", Strategy: domain.StrategyOriginal},
		{Query: "services segment revenue", Strategy: domain.StrategyDecomposed},
	}}
	got, fallback := NewVariationExpander(gen, 3, nil).Expand(context.Background(), "q", domain.VariationHints{})
	if fallback {
		t.Fatalf("did not expect fallback")
	}
	if len(got) != 3 {
		t.Fatalf("expected output capped at 3, got %d", len(got))
	}
	if got[0].Query != "iPhone net sales fiscal Q3" || got[0].Strategy != domain.StrategySpecific {
		t.Fatalf("unexpected first variation: %+v", got[0])
	}
	if got[1].Strategy != domain.StrategyAlternative {
		t.Fatalf("expected unknown strategy to map to alternative, got %s", got[1].Strategy)
	}
	if got[2].Strategy != domain.StrategyAlternative {
		t.Fatalf("expected generated 'original' strategy to be relabelled, got %s", got[2].Strategy)
	}
}

func TestExtractKeywordsFallsBackToShortTokens(t *testing.T) {
	if got := extractKeywords("What is EPS in Q2?"); got != "EPS Q2" {
		t.Fatalf("expected short tokens, got %q", got)
	}
	if got := extractKeywords("What is the?"); got != "what is the?" {
		t.Fatalf("expected lowercased question, got %q", got)
	}
}

func TestExtractKeywordsCapsTokenCount(t *testing.T) {
	got := extractKeywords("operating margin gross margin revenue guidance buyback dividends")
	if got != "operating margin gross margin revenue" {
		t.Fatalf("expected first five keywords, got %q", got)
	}
}
