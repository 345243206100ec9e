package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
	"github.com/kirillkom/paper-rag-service/internal/core/ports"
)

// PipelineOptions is the immutable tuning surface of the ask pipeline,
// built once at startup from configuration.
type PipelineOptions struct {
	RRFK             int
	MaxContextTokens int
	CacheTTL         time.Duration
	IndexTimeout     time.Duration
}

func (o PipelineOptions) normalize() PipelineOptions {
	out := o
	if out.RRFK <= 0 {
		out.RRFK = DefaultRRFK
	}
	if out.MaxContextTokens <= 0 {
		out.MaxContextTokens = 3000
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = time.Hour
	}
	if out.IndexTimeout <= 0 {
		out.IndexTimeout = 5 * time.Second
	}
	return out
}

// AskPipeline orchestrates one request lifecycle:
// cache check → parallel lexical+vector retrieval → fusion → context
// assembly → generation → cache put. The atomic and streaming entry
// points share every stage up to generation.
type AskPipeline struct {
	lexical   ports.LexicalIndex
	vector    ports.VectorIndex
	embedder  ports.Embedder
	cache     ports.AnswerCache
	generator ports.AnswerGenerator
	counter   ports.TokenCounter
	logger    *slog.Logger
	opts      PipelineOptions
}

func NewAskPipeline(
	lexical ports.LexicalIndex,
	vector ports.VectorIndex,
	embedder ports.Embedder,
	cache ports.AnswerCache,
	generator ports.AnswerGenerator,
	counter ports.TokenCounter,
	logger *slog.Logger,
	opts PipelineOptions,
) *AskPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &AskPipeline{
		lexical:   lexical,
		vector:    vector,
		embedder:  embedder,
		cache:     cache,
		generator: generator,
		counter:   counter,
		logger:    logger,
		opts:      opts.normalize(),
	}
}

// retrieval carries the shared state between the cache-miss stages.
type retrieval struct {
	fused     domain.FusedResult
	assembled domain.AssembledContext
	mode      domain.SearchMode
}

func (r retrieval) empty() bool {
	return len(r.fused) == 0 || r.assembled.Empty()
}

// Ask answers a request atomically.
func (p *AskPipeline) Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fingerprint := requestFingerprint(req)
	if entry, ok := p.lookupCache(ctx, fingerprint); ok {
		return answerFromCache(entry, start), nil
	}

	ret, err := p.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	if ret.empty() {
		return noContextAnswer(ret.mode, start), nil
	}

	text, err := p.generator.Generate(ctx, ret.assembled, req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrGeneration, "generate answer", err)
	}

	answer := &domain.Answer{
		Text:       text,
		SourceIDs:  ret.assembled.CitedSourceIDs,
		SearchMode: ret.mode,
		LatencyMS:  msSince(start),
	}
	p.storeCache(ctx, fingerprint, answer)
	return answer, nil
}

// AskStream answers a request as an ordered event stream: one Sources
// event, zero or more Delta events, then exactly one Done or Failed.
// Abandoning the stream cancels the model call; partial output is never
// cached.
func (p *AskPipeline) AskStream(ctx context.Context, req domain.AskRequest) <-chan domain.StreamEvent {
	events := make(chan domain.StreamEvent)

	go func() {
		defer close(events)
		start := time.Now()

		if err := req.Validate(); err != nil {
			emit(ctx, events, domain.StreamEvent{Type: domain.StreamFailed, Err: err})
			return
		}

		fingerprint := requestFingerprint(req)
		if entry, ok := p.lookupCache(ctx, fingerprint); ok {
			answer := answerFromCache(entry, start)
			p.replayAnswer(ctx, events, answer)
			return
		}

		ret, err := p.retrieve(ctx, req)
		if err != nil {
			emit(ctx, events, domain.StreamEvent{Type: domain.StreamFailed, Err: err})
			return
		}

		if ret.empty() {
			p.replayAnswer(ctx, events, noContextAnswer(ret.mode, start))
			return
		}

		if !emit(ctx, events, domain.StreamEvent{Type: domain.StreamSources, Sources: ret.assembled.CitedSourceIDs}) {
			return
		}

		deltas, err := p.generator.GenerateStream(ctx, ret.assembled, req)
		if err != nil {
			emit(ctx, events, domain.StreamEvent{Type: domain.StreamFailed, Err: domain.WrapError(domain.ErrGeneration, "start answer stream", err)})
			return
		}

		var full strings.Builder
		for delta := range deltas {
			if delta.Err != nil {
				emit(ctx, events, domain.StreamEvent{Type: domain.StreamFailed, Err: domain.WrapError(domain.ErrGeneration, "stream answer", delta.Err)})
				return
			}
			if delta.Text == "" {
				continue
			}
			full.WriteString(delta.Text)
			if !emit(ctx, events, domain.StreamEvent{Type: domain.StreamDelta, Delta: delta.Text}) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}

		answer := &domain.Answer{
			Text:       full.String(),
			SourceIDs:  ret.assembled.CitedSourceIDs,
			SearchMode: ret.mode,
			LatencyMS:  msSince(start),
		}
		p.storeCache(ctx, fingerprint, answer)
		emit(ctx, events, domain.StreamEvent{Type: domain.StreamDone, Answer: answer})
	}()

	return events
}

// retrieve runs the shared cache-miss stages: embed (hybrid only),
// parallel index fan-out with per-index timeouts, fusion and assembly.
// One failed index degrades the request to the surviving index; both
// failing is fatal.
func (p *AskPipeline) retrieve(ctx context.Context, req domain.AskRequest) (retrieval, error) {
	var out retrieval

	useVector := req.UseHybrid && p.vector != nil && p.embedder != nil
	var queryVector []float32
	if useVector {
		vec, err := p.embedder.EmbedQuery(ctx, req.Query)
		if err != nil || len(vec) == 0 {
			// A hybrid request without an embedding falls back to
			// lexical-only instead of failing.
			p.logger.Warn("embed_query_failed", "error", err)
			useVector = false
		}
		queryVector = vec
	}

	var (
		lexicalChunks []domain.Chunk
		vectorChunks  []domain.Chunk
		lexicalErr    error
		vectorErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexicalChunks, lexicalErr = p.searchLexical(gctx, req)
		return nil
	})
	if useVector {
		g.Go(func() error {
			vectorChunks, vectorErr = p.searchVector(gctx, queryVector, req)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case useVector && lexicalErr != nil && vectorErr != nil:
		return out, domain.WrapError(domain.ErrAllIndexesUnavailable, "retrieve", errors.Join(lexicalErr, vectorErr))
	case !useVector && lexicalErr != nil:
		return out, domain.WrapError(domain.ErrAllIndexesUnavailable, "retrieve", lexicalErr)
	case useVector && vectorErr != nil:
		out.mode = domain.SearchModeDegradedLexical
		p.logger.Warn("index_degraded", "index", "vector", "error", vectorErr)
	case useVector && lexicalErr != nil:
		out.mode = domain.SearchModeDegradedVector
		p.logger.Warn("index_degraded", "index", "lexical", "error", lexicalErr)
	case useVector:
		out.mode = domain.SearchModeHybrid
	default:
		out.mode = domain.SearchModeLexical
	}

	if useVector {
		out.fused = fuseReciprocalRank(lexicalChunks, vectorChunks, req.TopK, p.opts.RRFK)
	} else {
		out.fused = fuseSingle(lexicalChunks, req.TopK, p.opts.RRFK, true)
	}
	out.assembled = assembleContext(out.fused, p.opts.MaxContextTokens, p.counter)
	return out, nil
}

// searchLexical queries the lexical index under its own timeout budget.
// A timeout degrades to an empty result for that index rather than
// stalling the whole request.
func (p *AskPipeline) searchLexical(ctx context.Context, req domain.AskRequest) ([]domain.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.IndexTimeout)
	defer cancel()

	chunks, err := p.lexical.Search(ctx, req.Query, req.TopK, req.Filter())
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexUnavailable, "lexical search", err)
	}
	return chunks, nil
}

func (p *AskPipeline) searchVector(ctx context.Context, queryVector []float32, req domain.AskRequest) ([]domain.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.IndexTimeout)
	defer cancel()

	chunks, err := p.vector.Search(ctx, queryVector, req.TopK, req.Filter())
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexUnavailable, "vector search", err)
	}
	return chunks, nil
}

func (p *AskPipeline) lookupCache(ctx context.Context, fingerprint string) (domain.CacheEntry, bool) {
	if p.cache == nil {
		return domain.CacheEntry{}, false
	}
	entry, err := p.cache.Get(ctx, fingerprint)
	if err != nil {
		if !domain.IsKind(err, domain.ErrCacheMiss) {
			p.logger.Warn("cache_get_failed", "error", err)
		}
		return domain.CacheEntry{}, false
	}
	return entry, true
}

func (p *AskPipeline) storeCache(ctx context.Context, fingerprint string, answer *domain.Answer) {
	if p.cache == nil {
		return
	}
	now := time.Now().UTC()
	entry := domain.CacheEntry{
		Fingerprint: fingerprint,
		AnswerText:  answer.Text,
		SourceIDs:   append([]string(nil), answer.SourceIDs...),
		SearchMode:  answer.SearchMode,
		CreatedAt:   now,
		ExpiresAt:   now.Add(p.opts.CacheTTL),
	}
	if err := p.cache.Put(ctx, entry, p.opts.CacheTTL); err != nil {
		p.logger.Warn("cache_put_failed", "error", err)
	}
}

// replayAnswer emits an already-known answer through the streaming event
// shape so both entry points keep one contract.
func (p *AskPipeline) replayAnswer(ctx context.Context, events chan<- domain.StreamEvent, answer *domain.Answer) {
	if !emit(ctx, events, domain.StreamEvent{Type: domain.StreamSources, Sources: answer.SourceIDs}) {
		return
	}
	if !emit(ctx, events, domain.StreamEvent{Type: domain.StreamDelta, Delta: answer.Text}) {
		return
	}
	emit(ctx, events, domain.StreamEvent{Type: domain.StreamDone, Answer: answer})
}

func emit(ctx context.Context, events chan<- domain.StreamEvent, event domain.StreamEvent) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func answerFromCache(entry domain.CacheEntry, start time.Time) *domain.Answer {
	clone := entry.Clone()
	return &domain.Answer{
		Text:       clone.AnswerText,
		SourceIDs:  clone.SourceIDs,
		SearchMode: clone.SearchMode,
		Cached:     true,
		LatencyMS:  msSince(start),
	}
}

func noContextAnswer(mode domain.SearchMode, start time.Time) *domain.Answer {
	return &domain.Answer{
		Text:       domain.NoContextAnswer,
		SourceIDs:  []string{},
		SearchMode: mode,
		LatencyMS:  msSince(start),
	}
}

func msSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
