package usecase

import (
	"sort"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

const defaultRRFK = 60

func reciprocalRank(rrfK, rank int) float64 {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}
	return 1.0 / float64(rrfK+rank+1)
}

// fuseSignalsRRF merges the vector and keyword ranked lists of one query.
// A chunk present in both lists receives both contributions.
func fuseSignalsRRF(vector, keyword []domain.SearchHit, rrfK int) []domain.ScoredChunk {
	acc := make(map[string]*domain.ScoredChunk, len(vector)+len(keyword))
	candidate := func(hit domain.SearchHit) *domain.ScoredChunk {
		c, ok := acc[hit.ChunkID]
		if !ok {
			c = &domain.ScoredChunk{
				Chunk:       domain.Chunk{ID: hit.ChunkID},
				VectorRank:  -1,
				KeywordRank: -1,
			}
			acc[hit.ChunkID] = c
		}
		if hit.Chunk != nil && c.Chunk.Text == "" {
			c.Chunk = *hit.Chunk
			c.Chunk.ID = hit.ChunkID
		}
		return c
	}

	for rank, hit := range vector {
		c := candidate(hit)
		if c.VectorRank >= 0 {
			continue
		}
		c.VectorRank = rank
		c.VectorScore = hit.Score
		c.FusedScore += reciprocalRank(rrfK, rank)
	}
	for rank, hit := range keyword {
		c := candidate(hit)
		if c.KeywordRank >= 0 {
			continue
		}
		c.KeywordRank = rank
		c.KeywordScore = hit.Score
		c.FusedScore += reciprocalRank(rrfK, rank)
	}

	out := make([]domain.ScoredChunk, 0, len(acc))
	for _, c := range acc {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].VectorRank != out[j].VectorRank {
			return rankBefore(out[i].VectorRank, out[j].VectorRank)
		}
		if out[i].KeywordRank != out[j].KeywordRank {
			return rankBefore(out[i].KeywordRank, out[j].KeywordRank)
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out
}

type variationResult struct {
	query  string
	chunks []domain.ScoredChunk
}

type variationCandidate struct {
	chunk     domain.ScoredChunk
	bestRank  int
	firstList int
}

// fuseVariationsRRF is the second fusion stage: one ranked list per executed
// query variation, deduplicated by chunk id.
func fuseVariationsRRF(results []variationResult, rrfK int) []domain.ScoredChunk {
	acc := make(map[string]*variationCandidate)
	for listIdx, result := range results {
		for rank, sc := range result.chunks {
			key := sc.Chunk.ID
			c, ok := acc[key]
			if !ok {
				first := sc
				first.FusedScore = 0
				first.MatchedQueries = nil
				c = &variationCandidate{chunk: first, bestRank: rank, firstList: listIdx}
				acc[key] = c
			}
			if rank < c.bestRank {
				c.bestRank = rank
			}
			c.chunk.FusedScore += reciprocalRank(rrfK, rank)
			if !containsString(c.chunk.MatchedQueries, result.query) {
				c.chunk.MatchedQueries = append(c.chunk.MatchedQueries, result.query)
			}
		}
	}

	candidates := make([]*variationCandidate, 0, len(acc))
	for _, c := range acc {
		candidates = append(candidates, c)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.chunk.FusedScore != b.chunk.FusedScore {
			return a.chunk.FusedScore > b.chunk.FusedScore
		}
		if a.bestRank != b.bestRank {
			return a.bestRank < b.bestRank
		}
		if a.firstList != b.firstList {
			return a.firstList < b.firstList
		}
		return a.chunk.Chunk.ID < b.chunk.Chunk.ID
	})

	out := make([]domain.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.chunk)
	}
	return out
}

// rankBefore orders present ranks ascending and absent (-1) ranks last.
func rankBefore(a, b int) bool {
	switch {
	case a < 0:
		return false
	case b < 0:
		return true
	default:
		return a < b
	}
}

func trimCandidates(chunks []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
