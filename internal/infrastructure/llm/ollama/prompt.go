package ollama

import (
	"fmt"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

func buildAnswerPrompt(question string, assembled domain.AssembledContext, maxWords int) string {
	return fmt.Sprintf(`Answer the user question only from the context below.
Cite sources by their bracketed numbers, like [1].
If the context does not contain the answer, say so directly.
Keep the answer under %d words.

Question:
%s

Context:
%s
`, maxWords, question, assembled.Text)
}

func buildRewritePrompt(query string) string {
	return fmt.Sprintf(`The search query below retrieved poorly matching documents.
Rewrite it as a single, more specific search query.
Return only the rewritten query, nothing else.

Query:
%s
`, query)
}
