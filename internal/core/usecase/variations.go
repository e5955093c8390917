package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/core/ports"
)

const (
	defaultVariationCount = 5
	maxFallbackKeywords   = 5
	minKeywordRunes       = 4
)

var fallbackStopwords = map[string]struct{}{
	"what": {}, "when": {}, "where": {}, "who": {}, "why": {}, "how": {},
	"is": {}, "are": {}, "the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
}

// VariationExpander turns one question into alternative phrasings. It never
// returns an error: any generator failure degrades to a deterministic heuristic.
type VariationExpander struct {
	generator ports.VariationGenerator
	count     int
	logger    *slog.Logger
}

func NewVariationExpander(generator ports.VariationGenerator, count int, logger *slog.Logger) *VariationExpander {
	if count <= 0 {
		count = defaultVariationCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VariationExpander{
		generator: generator,
		count:     count,
		logger:    logger,
	}
}

// Expand reports whether the heuristic fallback produced the variations.
func (e *VariationExpander) Expand(
	ctx context.Context,
	question string,
	hints domain.VariationHints,
) ([]domain.QueryVariation, bool) {
	if e.generator == nil {
		return fallbackVariations(question), true
	}

	generated, err := e.generator.GenerateVariations(ctx, question, hints)
	if err == nil {
		generated = sanitizeVariations(generated, e.count)
		if len(generated) == 0 {
			err = errors.New("generator returned no usable variations")
		}
	}
	if err != nil {
		e.logger.WarnContext(ctx, "variation_generation_fallback",
			"question", question,
			"error", err,
		)
		return fallbackVariations(question), true
	}
	return generated, false
}

func sanitizeVariations(raw []domain.QueryVariation, limit int) []domain.QueryVariation {
	out := make([]domain.QueryVariation, 0, len(raw))
	for _, v := range raw {
		v.Query = strings.TrimSpace(v.Query)
		if v.Query == "" {
			continue
		}
		strategy, ok := domain.ParseVariationStrategy(strings.ToLower(strings.TrimSpace(string(v.Strategy))))
		if !ok || strategy == domain.StrategyOriginal {
			strategy = domain.StrategyAlternative
		}
		v.Strategy = strategy
		v.Reasoning = strings.TrimSpace(v.Reasoning)
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func fallbackVariations(question string) []domain.QueryVariation {
	q := strings.TrimSpace(question)
	subject := strings.TrimRightFunc(strings.ToLower(q), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})

	return []domain.QueryVariation{
		{
			Query:     fmt.Sprintf("What information is available about %s?", subject),
			Strategy:  domain.StrategyBroader,
			Reasoning: "heuristic broadening of the original question",
		},
		{
			Query:     extractKeywords(q),
			Strategy:  domain.StrategyKeyword,
			Reasoning: "heuristic keyword extraction without function words",
		},
	}
}

// extractKeywords keeps the first content words of the question. Short tokens
// are only used when nothing longer survives the stopword filter.
func extractKeywords(question string) string {
	var long, short []string
	for _, field := range strings.Fields(question) {
		token := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if token == "" {
			continue
		}
		if _, stop := fallbackStopwords[strings.ToLower(token)]; stop {
			continue
		}
		if utf8.RuneCountInString(token) >= minKeywordRunes {
			if len(long) < maxFallbackKeywords {
				long = append(long, token)
			}
			continue
		}
		if len(short) < maxFallbackKeywords {
			short = append(short, token)
		}
	}

	switch {
	case len(long) > 0:
		return strings.Join(long, " ")
	case len(short) > 0:
		return strings.Join(short, " ")
	default:
		return strings.ToLower(question)
	}
}
