package usecase

import (
	"sort"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

// DefaultRRFK is the reciprocal rank fusion smoothing constant.
const DefaultRRFK = 60

// absentRank orders chunks missing from the lexical ranking after every
// chunk that has one when breaking score ties.
const absentRank = 1 << 30

// fuseReciprocalRank merges the lexical and vector rankings with
// reciprocal rank fusion: each chunk scores the sum of 1/(k+rank) over
// the lists it appears in, rank being its 1-based position. Chunks found
// by both methods accumulate both terms. Ties are broken by lowest
// lexical rank, then chunk id, so the result is fully deterministic for
// fixed inputs.
func fuseReciprocalRank(lexical, vector []domain.Chunk, topK, k int) domain.FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}

	acc := make(map[string]*domain.ScoredChunk, len(lexical)+len(vector))
	order := make([]string, 0, len(lexical)+len(vector))

	add := func(chunks []domain.Chunk, lexicalList bool) {
		for i, chunk := range chunks {
			rank := i + 1
			sc, ok := acc[chunk.ID]
			if !ok {
				sc = &domain.ScoredChunk{Chunk: chunk}
				acc[chunk.ID] = sc
				order = append(order, chunk.ID)
			}
			if lexicalList {
				sc.LexicalRank = rank
			} else {
				sc.VectorRank = rank
			}
			sc.FusedScore += 1.0 / float64(k+rank)
		}
	}
	add(lexical, true)
	add(vector, false)

	out := make(domain.FusedResult, 0, len(order))
	for _, id := range order {
		out = append(out, *acc[id])
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		li, lj := lexicalSortRank(out[i]), lexicalSortRank(out[j])
		if li != lj {
			return li < lj
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// fuseSingle re-scores one ranking as 1/(k+rank) so downstream stages
// see the same shape whether or not fusion ran.
func fuseSingle(ranked []domain.Chunk, topK, k int, lexicalList bool) domain.FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make(domain.FusedResult, 0, len(ranked))
	for i, chunk := range ranked {
		sc := domain.ScoredChunk{
			Chunk:      chunk,
			FusedScore: 1.0 / float64(k+i+1),
			Rank:       i + 1,
		}
		if lexicalList {
			sc.LexicalRank = i + 1
		} else {
			sc.VectorRank = i + 1
		}
		out = append(out, sc)
	}
	return out
}

func lexicalSortRank(sc domain.ScoredChunk) int {
	if sc.LexicalRank == 0 {
		return absentRank
	}
	return sc.LexicalRank
}
