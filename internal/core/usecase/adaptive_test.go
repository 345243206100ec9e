package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

type fakeGrader struct {
	scores []float64
	calls  int
	err    error
}

func (f *fakeGrader) Grade(_ context.Context, _ string, _ domain.AssembledContext) (float64, error) {
	idx := f.calls
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if idx >= len(f.scores) {
		idx = len(f.scores) - 1
	}
	return f.scores[idx], nil
}

type fakeRewriter struct {
	mu        sync.Mutex
	rewrites  []string
	calls     int
	err       error
	lastInput string
}

func (f *fakeRewriter) Rewrite(_ context.Context, query string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	f.lastInput = query
	if f.err != nil {
		return "", f.err
	}
	if idx >= len(f.rewrites) {
		return query + " (again)", nil
	}
	return f.rewrites[idx], nil
}

func newController(t *testing.T, grader *fakeGrader, rewriter *fakeRewriter, opts AdaptiveOptions) (*AdaptiveController, *pipelineFakes) {
	t.Helper()
	pipeline, fakes := newPipeline(t)
	logger := slog.New(slog.DiscardHandler)
	return NewAdaptiveController(pipeline, grader, rewriter, logger, opts), fakes
}

func TestAdaptiveGuardRejectsOverlongQuery(t *testing.T) {
	ctrl, fakes := newController(t, &fakeGrader{scores: []float64{1}}, &fakeRewriter{}, AdaptiveOptions{MaxQueryChars: 20})

	req := askRequest()
	req.Query = strings.Repeat("attention ", 10)
	_, err := ctrl.Ask(context.Background(), req)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid-input from guard, got %v", err)
	}
	if fakes.lexical.calls != 0 {
		t.Fatalf("guard rejection must precede retrieval")
	}
}

func TestAdaptiveGuardRejectsBlockedTerm(t *testing.T) {
	ctrl, fakes := newController(t, &fakeGrader{scores: []float64{1}}, &fakeRewriter{},
		AdaptiveOptions{BlockedTerms: []string{"forbidden"}})

	req := askRequest()
	req.Query = "tell me the FORBIDDEN thing"
	_, err := ctrl.Ask(context.Background(), req)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid-input from guard, got %v", err)
	}
	if fakes.lexical.calls != 0 {
		t.Fatalf("guard rejection must precede retrieval")
	}
}

func TestAdaptiveGoodGradeGeneratesDirectly(t *testing.T) {
	grader := &fakeGrader{scores: []float64{0.9}}
	rewriter := &fakeRewriter{}
	ctrl, fakes := newController(t, grader, rewriter, AdaptiveOptions{})

	answer, err := ctrl.Ask(context.Background(), askRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.LowConfidence {
		t.Fatalf("well-graded answer must not be low-confidence")
	}
	if rewriter.calls != 0 {
		t.Fatalf("no rewrite expected for a good grade, got %d", rewriter.calls)
	}
	if fakes.generator.calls != 1 {
		t.Fatalf("expected one generation, got %d", fakes.generator.calls)
	}
}

func TestAdaptiveRewriteImprovesThenGenerates(t *testing.T) {
	grader := &fakeGrader{scores: []float64{0.1, 0.8}}
	rewriter := &fakeRewriter{rewrites: []string{"what is the attention mechanism"}}
	ctrl, fakes := newController(t, grader, rewriter, AdaptiveOptions{MaxRewrites: 2})

	answer, err := ctrl.Ask(context.Background(), askRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.LowConfidence {
		t.Fatalf("improved retrieval must clear the low-confidence flag")
	}
	if rewriter.calls != 1 {
		t.Fatalf("expected one rewrite, got %d", rewriter.calls)
	}
	if fakes.lexical.calls != 2 {
		t.Fatalf("expected retrieval per attempt, got %d", fakes.lexical.calls)
	}
	if fakes.generator.calls != 1 {
		t.Fatalf("expected exactly one generation, got %d", fakes.generator.calls)
	}
}

func TestAdaptiveRewritesAreBounded(t *testing.T) {
	grader := &fakeGrader{scores: []float64{0.0}}
	rewriter := &fakeRewriter{}
	ctrl, fakes := newController(t, grader, rewriter, AdaptiveOptions{MaxRewrites: 2})

	answer, err := ctrl.Ask(context.Background(), askRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !answer.LowConfidence {
		t.Fatalf("exhausted rewrites must flag low confidence")
	}
	if rewriter.calls != 2 {
		t.Fatalf("expected exactly MaxRewrites rewrites, got %d", rewriter.calls)
	}
	if fakes.lexical.calls != 3 {
		t.Fatalf("expected initial + 2 rewritten retrievals, got %d", fakes.lexical.calls)
	}
	if fakes.generator.calls != 1 {
		t.Fatalf("best-effort generation must still run once, got %d", fakes.generator.calls)
	}
}

func TestAdaptiveLowConfidenceAnswerNotCached(t *testing.T) {
	grader := &fakeGrader{scores: []float64{0.0}}
	ctrl, fakes := newController(t, grader, &fakeRewriter{}, AdaptiveOptions{MaxRewrites: 1})

	answer, err := ctrl.Ask(context.Background(), askRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !answer.LowConfidence {
		t.Fatalf("expected low-confidence answer")
	}
	if fakes.cache.puts != 0 {
		t.Fatalf("low-confidence answers must not be cached, puts=%d", fakes.cache.puts)
	}
}

func TestAdaptiveRewriteFailureFallsBack(t *testing.T) {
	grader := &fakeGrader{scores: []float64{0.0}}
	rewriter := &fakeRewriter{err: errors.New("rewrite model down")}
	ctrl, fakes := newController(t, grader, rewriter, AdaptiveOptions{MaxRewrites: 2})

	answer, err := ctrl.Ask(context.Background(), askRequest())
	if err != nil {
		t.Fatalf("rewrite failure must fall back, not fail: %v", err)
	}
	if !answer.LowConfidence {
		t.Fatalf("failed rewrite must flag low confidence")
	}
	if fakes.generator.calls != 1 {
		t.Fatalf("expected one best-effort generation, got %d", fakes.generator.calls)
	}
}

func TestAdaptiveGraderFailureProceedsToGeneration(t *testing.T) {
	grader := &fakeGrader{err: errors.New("grader unavailable")}
	rewriter := &fakeRewriter{}
	ctrl, fakes := newController(t, grader, rewriter, AdaptiveOptions{})

	answer, err := ctrl.Ask(context.Background(), askRequest())
	if err != nil {
		t.Fatalf("grader failure must not fail the request: %v", err)
	}
	if answer.LowConfidence {
		t.Fatalf("grader failure alone must not flag low confidence")
	}
	if rewriter.calls != 0 {
		t.Fatalf("no rewrite without a grade")
	}
	if fakes.generator.calls != 1 {
		t.Fatalf("expected one generation, got %d", fakes.generator.calls)
	}
}

func TestAdaptiveCacheHitBypassesController(t *testing.T) {
	grader := &fakeGrader{scores: []float64{0.9}}
	ctrl, fakes := newController(t, grader, &fakeRewriter{}, AdaptiveOptions{})

	req := askRequest()
	if _, err := ctrl.Ask(context.Background(), req); err != nil {
		t.Fatalf("priming ask: %v", err)
	}

	answer, err := ctrl.Ask(context.Background(), req)
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if !answer.Cached {
		t.Fatalf("second answer must come from cache")
	}
	if grader.calls != 1 || fakes.generator.calls != 1 {
		t.Fatalf("cache hit must skip grading and generation")
	}
}

func TestOverlapGraderScoresCoverage(t *testing.T) {
	g := OverlapGrader{}
	assembled := domain.AssembledContext{Text: "the attention mechanism weighs token pairs"}

	full, err := g.Grade(context.Background(), "attention mechanism", assembled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != 1.0 {
		t.Fatalf("full coverage = %v, want 1.0", full)
	}

	none, err := g.Grade(context.Background(), "quantum chromodynamics", assembled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none != 0.0 {
		t.Fatalf("zero coverage = %v, want 0.0", none)
	}

	empty, err := g.Grade(context.Background(), "anything", domain.AssembledContext{})
	if err != nil || empty != 0 {
		t.Fatalf("empty context must grade 0, got %v %v", empty, err)
	}
}
