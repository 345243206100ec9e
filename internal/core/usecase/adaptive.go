package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
	"github.com/kirillkom/paper-rag-service/internal/core/ports"
)

// adaptiveState enumerates the nodes of the controller's decision graph.
type adaptiveState int

const (
	stateGuard adaptiveState = iota
	stateRetrieve
	stateGrade
	stateRewrite
	stateGenerate
)

type AdaptiveOptions struct {
	MaxRewrites    int
	GradeThreshold float64
	MaxQueryChars  int
	BlockedTerms   []string
}

func (o AdaptiveOptions) normalize() AdaptiveOptions {
	out := o
	if out.MaxRewrites <= 0 {
		out.MaxRewrites = 2
	}
	if out.GradeThreshold <= 0 {
		out.GradeThreshold = 0.25
	}
	if out.MaxQueryChars <= 0 {
		out.MaxQueryChars = 2000
	}
	return out
}

// AdaptiveController wraps the ask pipeline with a bounded
// guard → retrieve → grade → rewrite loop. Low-quality retrievals are
// retried with a rewritten query up to MaxRewrites times, after which the
// best-effort answer is returned flagged low-confidence. The loop is an
// explicit state machine over immutable request values; it can never run
// unbounded.
type AdaptiveController struct {
	pipeline *AskPipeline
	grader   ports.ContextGrader
	rewriter ports.QueryRewriter
	logger   *slog.Logger
	opts     AdaptiveOptions
}

func NewAdaptiveController(
	pipeline *AskPipeline,
	grader ports.ContextGrader,
	rewriter ports.QueryRewriter,
	logger *slog.Logger,
	opts AdaptiveOptions,
) *AdaptiveController {
	if grader == nil {
		grader = OverlapGrader{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdaptiveController{
		pipeline: pipeline,
		grader:   grader,
		rewriter: rewriter,
		logger:   logger,
		opts:     opts.normalize(),
	}
}

func (c *AdaptiveController) Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fingerprint := requestFingerprint(req)
	if entry, ok := c.pipeline.lookupCache(ctx, fingerprint); ok {
		return answerFromCache(entry, start), nil
	}

	var (
		current       = req
		ret           retrieval
		rewrites      int
		lowConfidence bool
		state         = stateGuard
	)

	for state != stateGenerate {
		switch state {
		case stateGuard:
			if err := c.guard(current.Query); err != nil {
				return nil, err
			}
			state = stateRetrieve

		case stateRetrieve:
			r, err := c.pipeline.retrieve(ctx, current)
			if err != nil {
				return nil, err
			}
			ret = r
			state = stateGrade

		case stateGrade:
			score, err := c.grader.Grade(ctx, current.Query, ret.assembled)
			if err != nil {
				c.logger.Warn("grade_failed", "error", err)
				state = stateGenerate
				continue
			}
			if score >= c.opts.GradeThreshold {
				state = stateGenerate
				continue
			}
			if rewrites >= c.opts.MaxRewrites || c.rewriter == nil {
				lowConfidence = true
				state = stateGenerate
				continue
			}
			state = stateRewrite

		case stateRewrite:
			rewritten, err := c.rewriter.Rewrite(ctx, current.Query)
			rewrites++
			if err != nil || strings.TrimSpace(rewritten) == "" {
				c.logger.Warn("rewrite_failed", "attempt", rewrites, "error", err)
				lowConfidence = true
				state = stateGenerate
				continue
			}
			c.logger.Info("query_rewritten", "attempt", rewrites)
			next := current
			next.Query = rewritten
			current = next
			state = stateRetrieve
		}
	}

	if ret.empty() {
		answer := noContextAnswer(ret.mode, start)
		answer.LowConfidence = lowConfidence
		answer.Rewrites = rewrites
		return answer, nil
	}

	text, err := c.pipeline.generator.Generate(ctx, ret.assembled, current)
	if err != nil {
		return nil, domain.WrapError(domain.ErrGeneration, "generate answer", err)
	}

	answer := &domain.Answer{
		Text:          text,
		SourceIDs:     ret.assembled.CitedSourceIDs,
		SearchMode:    ret.mode,
		LowConfidence: lowConfidence,
		Rewrites:      rewrites,
		LatencyMS:     msSince(start),
	}
	if !lowConfidence {
		c.pipeline.storeCache(ctx, fingerprint, answer)
	}
	return answer, nil
}

// guard rejects out-of-policy queries before any retrieval cost is paid.
func (c *AdaptiveController) guard(query string) error {
	if len(query) > c.opts.MaxQueryChars {
		return domain.WrapError(domain.ErrInvalidInput, "guard query",
			fmt.Errorf("query exceeds %d characters", c.opts.MaxQueryChars))
	}
	lowered := strings.ToLower(query)
	for _, term := range c.opts.BlockedTerms {
		if term == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(term)) {
			return domain.WrapError(domain.ErrInvalidInput, "guard query",
				fmt.Errorf("query matches blocked term"))
		}
	}
	return nil
}
