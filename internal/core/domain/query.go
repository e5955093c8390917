package domain

type VariationStrategy string

const (
	StrategyOriginal    VariationStrategy = "original"
	StrategySpecific    VariationStrategy = "specific"
	StrategyBroader     VariationStrategy = "broader"
	StrategyAlternative VariationStrategy = "alternative"
	StrategyDecomposed  VariationStrategy = "decomposed"
	StrategyKeyword     VariationStrategy = "keyword"
)

// ParseVariationStrategy maps free-form model labels onto the closed strategy set.
func ParseVariationStrategy(raw string) (VariationStrategy, bool) {
	switch VariationStrategy(raw) {
	case StrategyOriginal, StrategySpecific, StrategyBroader, StrategyAlternative, StrategyDecomposed, StrategyKeyword:
		return VariationStrategy(raw), true
	}
	switch raw {
	case "more_specific", "more-specific", "jargon", "technical":
		return StrategySpecific, true
	case "broad", "conceptual":
		return StrategyBroader, true
	case "alternative_phrasing", "alternative-phrasing", "synonyms", "synonym":
		return StrategyAlternative, true
	case "decomposed_sub_question", "decomposition", "sub_question", "sub-question":
		return StrategyDecomposed, true
	case "keywords", "keyword_extraction", "keyword-extraction":
		return StrategyKeyword, true
	}
	return "", false
}

type QueryVariation struct {
	Query     string            `json:"query"`
	Strategy  VariationStrategy `json:"strategy"`
	Reasoning string            `json:"reasoning,omitempty"`
}

// VariationHints steer phrasing only; they never filter results.
type VariationHints struct {
	Ticker   string
	FormType FormType
	Domain   string
}
