package qdrant

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	docBM25K1      = 1.2
	queryBM25K     = 1.2
	sectionBoost   = 1.5
	maxSparseTerms = 256
)

// Form identifiers are folded into one token so "10-K" does not match every
// chunk that mentions the number 10.
var formIdentifiers = strings.NewReplacer(
	"10-k", "10k",
	"10-q", "10q",
	"8-k", "8k",
	"20-f", "20f",
	"s-1", "s1",
	"def 14a", "def14a",
)

var queryStopwords = map[string]struct{}{
	"what": {}, "when": {}, "where": {}, "who": {}, "why": {}, "how": {},
	"is": {}, "are": {}, "the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"does": {}, "did": {}, "do": {}, "was": {}, "were": {}, "its": {}, "their": {},
}

// encodeSparseDocument weights section headings ("Item 7", "Risk Factors")
// above body text so section-name queries surface the right chunks.
func encodeSparseDocument(text string, section string) sparseVector {
	termFreq := make(map[uint32]float64, 64)
	appendTermFreq(termFreq, tokenizeFilingText(text), 1.0)
	appendTermFreq(termFreq, tokenizeFilingText(section), sectionBoost)
	return termFreqToSparse(termFreq, docBM25K1)
}

// encodeSparseQuery drops question words unless nothing else is left.
func encodeSparseQuery(query string) sparseVector {
	tokens := tokenizeFilingText(query)
	content := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := queryStopwords[token]; !stop {
			content = append(content, token)
		}
	}
	if len(content) > 0 {
		tokens = content
	}

	termFreq := make(map[uint32]float64, 32)
	appendTermFreq(termFreq, tokens, 1.0)
	return termFreqToSparse(termFreq, queryBM25K)
}

func appendTermFreq(dst map[uint32]float64, tokens []string, tokenWeight float64) {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		dst[hashToken(token)] += tokenWeight
	}
}

// termFreqToSparse keeps the maxSparseTerms heaviest terms; Qdrant requires
// ascending indices.
func termFreqToSparse(tf map[uint32]float64, k float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	if len(indices) > maxSparseTerms {
		sort.Slice(indices, func(i, j int) bool {
			if tf[indices[i]] != tf[indices[j]] {
				return tf[indices[i]] > tf[indices[j]]
			}
			return indices[i] < indices[j]
		})
		indices = indices[:maxSparseTerms]
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		tfValue := tf[idx]
		weight := (tfValue * (k + 1.0)) / (tfValue + k)
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		values = append(values, float32(weight))
	}

	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}

func tokenizeFilingText(s string) []string {
	if s == "" {
		return nil
	}
	s = formIdentifiers.Replace(strings.ToLower(s))

	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
