package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

func buildVariationPrompt(question string, hints domain.VariationHints, count int) string {
	var scope strings.Builder
	if hints.Domain != "" {
		fmt.Fprintf(&scope, "Domain: %s\n", hints.Domain)
	}
	if hints.Ticker != "" {
		fmt.Fprintf(&scope, "Company ticker: %s\n", hints.Ticker)
	}
	if hints.FormType != "" {
		fmt.Fprintf(&scope, "Filing type: %s\n", hints.FormType)
	}

	return fmt.Sprintf(`You rewrite questions about SEC filings into search queries.
Produce %d variations of the question, using each strategy at most once:
- specific: narrower wording with the accounting or regulatory terms a filing would use
- broader: the general topic the question belongs to
- alternative: the same meaning with different words
- decomposed: one focused sub-question
- keyword: only the key terms, no function words

%s
Return strict JSON: {"variations":[{"query":"...","strategy":"...","reasoning":"..."}]}
No markdown, no extra keys.

Question:
%s
`, count, scope.String(), question)
}
