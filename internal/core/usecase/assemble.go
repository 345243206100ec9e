package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
	"github.com/kirillkom/paper-rag-service/internal/core/ports"
)

// assembleContext walks the fused ranking in order and builds the
// generation context. Chunks from the same source within one ordinal of
// an already-included chunk are treated as near-duplicates: their body
// is skipped and the source keeps a single citation. The returned text
// never exceeds maxTokens as measured by the counter; Truncated is set
// only when a chunk was dropped for budget, not for deduplication.
func assembleContext(fused domain.FusedResult, maxTokens int, counter ports.TokenCounter) domain.AssembledContext {
	var (
		b          strings.Builder
		cited      = make([]string, 0, len(fused))
		citedIndex = make(map[string]int, len(fused))
		ordinals   = make(map[string][]int, len(fused))
		seen       = make(map[string]struct{}, len(fused))
		used       int
		out        domain.AssembledContext
	)

	for _, sc := range fused {
		chunk := sc.Chunk
		if _, dup := seen[chunk.ID]; dup {
			continue
		}
		seen[chunk.ID] = struct{}{}

		if hasAdjacentOrdinal(ordinals[chunk.SourceDocID], chunk.Ordinal) {
			continue
		}

		citation, known := citedIndex[chunk.SourceDocID]
		if !known {
			citation = len(cited) + 1
		}
		block := formatContextBlock(chunk, citation, known)

		cost := counter.Count(block)
		if maxTokens > 0 && used+cost > maxTokens {
			out.Truncated = true
			break
		}

		if !known {
			citedIndex[chunk.SourceDocID] = citation
			cited = append(cited, chunk.SourceDocID)
		}
		ordinals[chunk.SourceDocID] = append(ordinals[chunk.SourceDocID], chunk.Ordinal)
		b.WriteString(block)
		used += cost
		out.ChunksUsed++
	}

	out.Text = b.String()
	out.CitedSourceIDs = cited
	return out
}

// formatContextBlock emits the citation header only the first time a
// source appears; later chunks from the same source contribute body only.
func formatContextBlock(chunk domain.Chunk, citation int, sourceAlreadyCited bool) string {
	if sourceAlreadyCited {
		return chunk.Text + "\n\n"
	}
	if chunk.Title != "" {
		return fmt.Sprintf("[%d] source=%s title=%s\n%s\n\n", citation, chunk.SourceDocID, chunk.Title, chunk.Text)
	}
	return fmt.Sprintf("[%d] source=%s\n%s\n\n", citation, chunk.SourceDocID, chunk.Text)
}

func hasAdjacentOrdinal(included []int, ordinal int) bool {
	for _, o := range included {
		d := ordinal - o
		if d >= -1 && d <= 1 {
			return true
		}
	}
	return false
}
