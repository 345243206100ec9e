package ports

import (
	"context"
	"time"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

// LexicalIndex performs keyword (BM25-style) search over indexed chunks.
// Implementations must be safe for concurrent use and honor the caller's
// context deadline.
type LexicalIndex interface {
	Search(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.Chunk, error)
}

// VectorIndex performs nearest-neighbor search over chunk embeddings.
type VectorIndex interface {
	Search(ctx context.Context, queryVector []float32, topK int, filter domain.SearchFilter) ([]domain.Chunk, error)
}

// Embedder builds the query vector used by the vector index.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// AnswerCache maps request fingerprints to previously computed answers.
// Get returns domain.ErrCacheMiss when no live entry exists. Backend
// faults must never fail a request: callers treat Get errors as a miss
// and swallow Put errors.
type AnswerCache interface {
	Get(ctx context.Context, fingerprint string) (domain.CacheEntry, error)
	Put(ctx context.Context, entry domain.CacheEntry, ttl time.Duration) error
	Invalidate(ctx context.Context, fingerprint string) error
	Flush(ctx context.Context) error
}

// AnswerGenerator invokes the model backend. Generate blocks until the
// full answer is available. GenerateStream returns a finite,
// non-restartable delta sequence; the channel is closed after the
// terminal delta, and cancellation of ctx must stop the underlying model
// call promptly.
type AnswerGenerator interface {
	Generate(ctx context.Context, assembled domain.AssembledContext, req domain.AskRequest) (string, error)
	GenerateStream(ctx context.Context, assembled domain.AssembledContext, req domain.AskRequest) (<-chan domain.TokenDelta, error)
}

// TokenCounter estimates token usage for context budgeting.
type TokenCounter interface {
	Count(text string) int
}

// InvalidationBus fans cache invalidations out to peer replicas. An
// empty fingerprint means "flush everything".
type InvalidationBus interface {
	PublishInvalidation(ctx context.Context, fingerprint string) error
	SubscribeInvalidation(ctx context.Context, handler func(ctx context.Context, fingerprint string)) error
}

// ContextGrader scores assembled context relevance in [0,1] against the
// query. Used by the adaptive controller to decide whether to rewrite.
type ContextGrader interface {
	Grade(ctx context.Context, query string, assembled domain.AssembledContext) (float64, error)
}

// QueryRewriter reformulates a query that produced low-quality context.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string) (string, error)
}
