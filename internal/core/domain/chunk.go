package domain

// Chunk is a bounded span of source-document text, immutable once indexed.
// Chunks are written by the out-of-band ingestion path; the query path
// only ever reads them.
type Chunk struct {
	ID          string `json:"id"`
	SourceDocID string `json:"source_doc_id"`
	Title       string `json:"title,omitempty"`
	Category    string `json:"category,omitempty"`
	Ordinal     int    `json:"ordinal"`
	Text        string `json:"text"`
	TokenCount  int    `json:"token_count,omitempty"`
}

// SearchFilter is pushed down into both index queries as a pre-filter.
type SearchFilter struct {
	Categories []string
}

func (f SearchFilter) Empty() bool {
	return len(f.Categories) == 0
}

// ScoredChunk is the per-query fusion result for one chunk. Ranks are
// 1-based positions in the source rankings; 0 means the chunk was absent
// from that ranking.
type ScoredChunk struct {
	Chunk       Chunk
	LexicalRank int
	VectorRank  int
	FusedScore  float64
	Rank        int
}

// FusedResult is ordered by strictly decreasing fused score, with
// deterministic tie-breaks. Its length never exceeds the requested topK.
type FusedResult []ScoredChunk

// AssembledContext is the generation-ready context for one request. It is
// owned by that request and never shared.
type AssembledContext struct {
	Text           string
	CitedSourceIDs []string
	ChunksUsed     int
	Truncated      bool
}

func (c AssembledContext) Empty() bool {
	return c.ChunksUsed == 0
}
