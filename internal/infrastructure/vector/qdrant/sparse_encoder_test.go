package qdrant

import (
	"reflect"
	"testing"
)

func TestEncodeSparseQueryDeterministic(t *testing.T) {
	v1 := encodeSparseQuery("Net sales by reportable segment FY2024")
	v2 := encodeSparseQuery("Net sales by reportable segment FY2024")
	if !reflect.DeepEqual(v1, v2) {
		t.Fatalf("expected identical vectors, got %+v and %+v", v1, v2)
	}
}

func TestEncodeSparseQuerySortsIndices(t *testing.T) {
	v := encodeSparseQuery("liquidity capital resources buyback dividend")
	if len(v.Indices) == 0 {
		t.Fatalf("expected non-empty sparse vector")
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i-1] >= v.Indices[i] {
			t.Fatalf("indices not strictly sorted at %d: %d >= %d", i, v.Indices[i-1], v.Indices[i])
		}
	}
}

func TestEncodeSparseQueryEmptyText(t *testing.T) {
	if v := encodeSparseQuery("  ?!  "); len(v.Indices) != 0 {
		t.Fatalf("expected empty vector for punctuation-only query, got %+v", v)
	}
}

func TestEncodeSparseDocumentBoostsSectionTerms(t *testing.T) {
	plain := encodeSparseDocument("risk disclosure", "")
	boosted := encodeSparseDocument("risk disclosure", "Risk Factors")

	riskIdx := hashToken("risk")
	weight := func(v sparseVector) float32 {
		for i, idx := range v.Indices {
			if idx == riskIdx {
				return v.Values[i]
			}
		}
		return 0
	}
	if weight(boosted) <= weight(plain) {
		t.Fatalf("expected section term boost, got plain=%f boosted=%f", weight(plain), weight(boosted))
	}
}

func TestTokenizeFilingTextFoldsFormIdentifiers(t *testing.T) {
	tokens := tokenizeFilingText("Form 10-K, Item 7A (0000320193-24-000123) and DEF 14A")
	want := []string{"form", "10k", "item", "7a", "0000320193", "24", "000123", "and", "def14a"}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("tokenizeFilingText() = %v, want %v", tokens, want)
	}
}

func TestEncodeSparseQueryDropsQuestionWords(t *testing.T) {
	withQuestion := encodeSparseQuery("What are the risk factors?")
	bare := encodeSparseQuery("risk factors")
	if !reflect.DeepEqual(withQuestion, bare) {
		t.Fatalf("expected stopwords to be ignored, got %+v vs %+v", withQuestion, bare)
	}
}

func TestEncodeSparseQueryKeepsStopwordsWhenNothingElseRemains(t *testing.T) {
	if v := encodeSparseQuery("what is the"); len(v.Indices) != 3 {
		t.Fatalf("expected stopword-only query to keep its terms, got %+v", v)
	}
}

func TestTermFreqToSparseKeepsHeaviestTerms(t *testing.T) {
	tf := make(map[uint32]float64, maxSparseTerms+1)
	for i := 1; i <= maxSparseTerms; i++ {
		tf[uint32(i)] = 1
	}
	heavy := uint32(maxSparseTerms + 1000)
	tf[heavy] = 5

	v := termFreqToSparse(tf, docBM25K1)
	if len(v.Indices) != maxSparseTerms {
		t.Fatalf("expected %d terms, got %d", maxSparseTerms, len(v.Indices))
	}
	if v.Indices[len(v.Indices)-1] != heavy {
		t.Fatalf("expected heaviest term to survive truncation, last index %d", v.Indices[len(v.Indices)-1])
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i-1] >= v.Indices[i] {
			t.Fatalf("indices not sorted after truncation at %d", i)
		}
	}
}
