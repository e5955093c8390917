package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

type retrieverFake struct {
	mu      sync.Mutex
	filters []domain.ScopeFilter
	limits  []int
	queries []string
	err     error
}

func (f *retrieverFake) Retrieve(_ context.Context, query string, filter domain.ScopeFilter, limit int) ([]domain.ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.filters = append(f.filters, filter)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return scoredOf("chunk-" + query), nil
}

type observerFake struct {
	events []domain.RetrievalEvent
}

func (f *observerFake) ObserveRetrieval(_ context.Context, event domain.RetrievalEvent) {
	f.events = append(f.events, event)
}

func newTestRetrievalUseCase(retriever *retrieverFake, gen *variationGeneratorFake, observers ...*observerFake) *RetrievalUseCase {
	orchestrator := NewMultiQueryOrchestrator(NewVariationExpander(gen, 5, nil), nil)
	uc := NewRetrievalUseCase(retriever, orchestrator, RetrievalConfig{MaxLimit: 20, MaxVariationsCeiling: 4}, nil)
	for _, o := range observers {
		uc.observers = append(uc.observers, o)
	}
	return uc
}

func TestRetrievalUseCaseWithoutExpansionRunsOneQuery(t *testing.T) {
	retriever := &retrieverFake{}
	gen := &variationGeneratorFake{out: generatedVariations("v1", "v2")}
	uc := newTestRetrievalUseCase(retriever, gen)

	result, err := uc.Search(context.Background(), domain.RetrievalRequest{
		Question: "  iPhone revenue  ",
		Filter:   domain.ScopeFilter{Ticker: " aapl ", FormType: domain.Form10Q},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if gen.calls != 0 || result.QueriesExecuted != 1 {
		t.Fatalf("expected single query without generation, got executed=%d calls=%d", result.QueriesExecuted, gen.calls)
	}
	if retriever.queries[0] != "iPhone revenue" {
		t.Fatalf("expected trimmed question, got %q", retriever.queries[0])
	}
	if retriever.filters[0].Ticker != "AAPL" || retriever.filters[0].FormType != domain.Form10Q {
		t.Fatalf("expected normalized filter, got %+v", retriever.filters[0])
	}
	if retriever.limits[0] != 5 {
		t.Fatalf("expected default limit=5, got %d", retriever.limits[0])
	}
}

func TestRetrievalUseCaseExpansionUsesDefaultBudget(t *testing.T) {
	retriever := &retrieverFake{}
	gen := &variationGeneratorFake{out: generatedVariations("v1", "v2", "v3", "v4")}
	uc := newTestRetrievalUseCase(retriever, gen)

	result, err := uc.Search(context.Background(), domain.RetrievalRequest{
		Question: "q",
		Filter:   domain.ScopeFilter{Ticker: "AAPL"},
		Expand:   true,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.QueriesExecuted != 3 {
		t.Fatalf("expected default 3 queries, got %d", result.QueriesExecuted)
	}
	for _, f := range retriever.filters {
		if f.Ticker != "AAPL" {
			t.Fatalf("expected every variation scoped to AAPL, got %+v", f)
		}
	}
}

func TestRetrievalUseCaseClampsBudgets(t *testing.T) {
	retriever := &retrieverFake{}
	gen := &variationGeneratorFake{out: generatedVariations("v1", "v2", "v3", "v4", "v5")}
	uc := newTestRetrievalUseCase(retriever, gen)

	result, err := uc.Search(context.Background(), domain.RetrievalRequest{
		Question:      "q",
		Filter:        domain.ScopeFilter{Ticker: "AAPL"},
		Expand:        true,
		MaxVariations: 10,
		Limit:         500,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.QueriesExecuted != 4 {
		t.Fatalf("expected variation ceiling 4, got %d", result.QueriesExecuted)
	}
	for _, limit := range retriever.limits {
		if limit != 20 {
			t.Fatalf("expected limit clamped to 20, got %d", limit)
		}
	}
}

func TestRetrievalUseCaseRejectsEmptyQuestion(t *testing.T) {
	uc := newTestRetrievalUseCase(&retrieverFake{}, &variationGeneratorFake{})
	_, err := uc.Search(context.Background(), domain.RetrievalRequest{Question: "  "})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRetrievalUseCaseNotifiesObservers(t *testing.T) {
	observer := &observerFake{}
	uc := newTestRetrievalUseCase(&retrieverFake{}, &variationGeneratorFake{out: generatedVariations("v1")}, observer)

	if _, err := uc.Search(context.Background(), domain.RetrievalRequest{Question: "q", Expand: true, MaxVariations: 2}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(observer.events) != 1 {
		t.Fatalf("expected one event, got %d", len(observer.events))
	}
	event := observer.events[0]
	if !event.Expanded || event.QueriesExecuted != 2 || event.ResultCount != 2 || event.Status != domain.RetrievalStatusOK {
		t.Fatalf("unexpected event: %+v", event)
	}
	if len(event.TopChunkIDs) != 2 || event.Err != "" {
		t.Fatalf("unexpected event payload: %+v", event)
	}
}

func TestRetrievalUseCaseReportsFatalErrorToObservers(t *testing.T) {
	observer := &observerFake{}
	retriever := &retrieverFake{err: domain.WrapError(domain.ErrEmbedding, "embed query", errors.New("down"))}
	uc := newTestRetrievalUseCase(retriever, &variationGeneratorFake{}, observer)

	_, err := uc.Search(context.Background(), domain.RetrievalRequest{Question: "q"})
	if !domain.IsKind(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if len(observer.events) != 1 || observer.events[0].Err == "" {
		t.Fatalf("expected failure event, got %+v", observer.events)
	}
}

func TestRetrievalUseCaseSeparatesStoreOutageFromEmptyCorpus(t *testing.T) {
	search := func(store *hybridStoreFake) *domain.RetrievalResult {
		t.Helper()
		retriever := newTestHybridRetriever(store, &hybridEmbedderFake{})
		orchestrator := NewMultiQueryOrchestrator(NewVariationExpander(&variationGeneratorFake{err: errors.New("llm down")}, 5, nil), nil)
		uc := NewRetrievalUseCase(retriever, orchestrator, RetrievalConfig{MaxLimit: 20, MaxVariationsCeiling: 4}, nil)
		result, err := uc.Search(context.Background(), domain.RetrievalRequest{
			Question:      "What happened to AAPL in Q3?",
			Filter:        domain.ScopeFilter{Ticker: "AAPL"},
			Expand:        true,
			MaxVariations: 3,
		})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		return result
	}

	refused := errors.New("connection refused")
	outage := search(&hybridStoreFake{vectorErr: refused, keywordErr: refused})
	empty := search(&hybridStoreFake{})

	if empty.Status != domain.RetrievalStatusNoMatches || empty.FailedQueries != 0 {
		t.Fatalf("expected clean no_matches for empty corpus, got status=%s failed=%d", empty.Status, empty.FailedQueries)
	}
	if outage.Status != domain.RetrievalStatusDegraded {
		t.Fatalf("expected degraded status for store outage, got %s", outage.Status)
	}
	if outage.FailedQueries != outage.QueriesExecuted || outage.QueriesExecuted != 3 {
		t.Fatalf("expected every query counted as failed, got failed=%d executed=%d", outage.FailedQueries, outage.QueriesExecuted)
	}
}
