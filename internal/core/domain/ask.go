package domain

import (
	"fmt"
	"strings"
)

const (
	MinTopK = 1
	MaxTopK = 10
)

// NoContextAnswer is the fixed answer returned when retrieval yields no
// grounding at all. Generation is skipped in that case.
const NoContextAnswer = "I couldn't find any relevant information in the indexed documents to answer your question."

// SearchMode reports which retrieval path actually served the request.
type SearchMode string

const (
	SearchModeHybrid          SearchMode = "hybrid"
	SearchModeLexical         SearchMode = "lexical"
	SearchModeVector          SearchMode = "vector"
	SearchModeDegradedLexical SearchMode = "degraded-lexical"
	SearchModeDegradedVector  SearchMode = "degraded-vector"
)

// AskRequest is the inbound request shape shared by the atomic and
// streaming entry points.
type AskRequest struct {
	Query      string   `json:"query"`
	TopK       int      `json:"top_k"`
	UseHybrid  bool     `json:"use_hybrid"`
	Categories []string `json:"categories,omitempty"`
	ModelID    string   `json:"model_id,omitempty"`
}

func (r AskRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return WrapError(ErrInvalidInput, "validate request", fmt.Errorf("query must not be empty"))
	}
	if r.TopK < MinTopK || r.TopK > MaxTopK {
		return WrapError(ErrInvalidInput, "validate request", fmt.Errorf("top_k must be in [%d,%d], got %d", MinTopK, MaxTopK, r.TopK))
	}
	return nil
}

func (r AskRequest) Filter() SearchFilter {
	return SearchFilter{Categories: r.Categories}
}

// Answer is the terminal payload of a successful request.
type Answer struct {
	Text          string     `json:"text"`
	SourceIDs     []string   `json:"cited_source_ids"`
	SearchMode    SearchMode `json:"search_mode"`
	Cached        bool       `json:"cached"`
	LowConfidence bool       `json:"low_confidence,omitempty"`
	Rewrites      int        `json:"rewrites,omitempty"`
	LatencyMS     int64      `json:"latency_ms"`
}

// StreamEventType tags the variants of a streaming response event.
type StreamEventType string

const (
	StreamSources StreamEventType = "sources"
	StreamDelta   StreamEventType = "delta"
	StreamDone    StreamEventType = "done"
	StreamFailed  StreamEventType = "failed"
)

// StreamEvent is one element of the ordered event sequence produced by
// the streaming entry point. Sources is set for StreamSources, Delta for
// StreamDelta, Answer for StreamDone and Err for StreamFailed.
type StreamEvent struct {
	Type    StreamEventType
	Sources []string
	Delta   string
	Answer  *Answer
	Err     error
}

// TokenDelta is one increment of model output. The producing channel is
// closed after the final delta; Err is set on the terminal delta when
// generation failed.
type TokenDelta struct {
	Text string
	Err  error
}
