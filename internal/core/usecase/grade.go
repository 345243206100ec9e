package usecase

import (
	"context"
	"strings"
	"unicode"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

// OverlapGrader scores assembled context by the fraction of query tokens
// it covers. It is the default grader: cheap, deterministic and good
// enough to catch retrievals that are about something else entirely.
type OverlapGrader struct{}

func (OverlapGrader) Grade(_ context.Context, query string, assembled domain.AssembledContext) (float64, error) {
	if assembled.Empty() {
		return 0, nil
	}
	return tokenOverlap(toTokenSet(query), toTokenSet(assembled.Text)), nil
}

func tokenOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := text[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
