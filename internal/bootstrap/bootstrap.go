package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/paper-rag-service/internal/config"
	"github.com/kirillkom/paper-rag-service/internal/core/domain"
	"github.com/kirillkom/paper-rag-service/internal/core/ports"
	"github.com/kirillkom/paper-rag-service/internal/core/usecase"
	"github.com/kirillkom/paper-rag-service/internal/infrastructure/cache/memory"
	rediscache "github.com/kirillkom/paper-rag-service/internal/infrastructure/cache/redis"
	neo4jindex "github.com/kirillkom/paper-rag-service/internal/infrastructure/lexical/neo4j"
	postgresindex "github.com/kirillkom/paper-rag-service/internal/infrastructure/lexical/postgres"
	"github.com/kirillkom/paper-rag-service/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/paper-rag-service/internal/infrastructure/queue/nats"
	"github.com/kirillkom/paper-rag-service/internal/infrastructure/resilience"
	"github.com/kirillkom/paper-rag-service/internal/infrastructure/tokenizer"
	"github.com/kirillkom/paper-rag-service/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config

	Ask   ports.AskService
	Cache ports.AnswerCache
	Bus   ports.InvalidationBus

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// One retry per backend call keeps tail latency bounded while the
	// breaker still sheds load from a persistently failing dependency.
	resilienceCfg := resilience.DefaultConfig()
	resilienceCfg.RetryMaxAttempts = 2
	executor := resilience.NewExecutorWithLogger(resilienceCfg, logger)

	lexical, closeLexical, err := buildLexicalIndex(cfg)
	if err != nil {
		return nil, err
	}

	vector := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient, cfg.MaxAnswerWords)

	cache, closeCache, err := buildCache(cfg)
	if err != nil {
		closeLexical()
		return nil, err
	}

	var bus ports.InvalidationBus
	closeBus := func() {}
	if cfg.NATSEnabled {
		natsBus, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			closeCache()
			closeLexical()
			return nil, fmt.Errorf("init invalidation bus: %w", err)
		}
		bus = natsBus
		closeBus = natsBus.Close

		// Peer invalidations apply to the local cache until shutdown.
		go func() {
			if err := natsBus.SubscribeInvalidation(ctx, func(ctx context.Context, fingerprint string) {
				var err error
				if fingerprint == "" {
					err = cache.Flush(ctx)
				} else {
					err = cache.Invalidate(ctx, fingerprint)
				}
				if err != nil {
					logger.Warn("peer_invalidation_failed", "error", err)
				}
			}); err != nil && ctx.Err() == nil {
				logger.Error("invalidation_subscription_failed", "error", err)
			}
		}()
	}

	counter := tokenizer.New(cfg.TokenizerEncoding)

	pipeline := usecase.NewAskPipeline(
		lexical, vector, embedder, cache, generator, counter, logger,
		usecase.PipelineOptions{
			RRFK:             cfg.FusionRRFK,
			MaxContextTokens: cfg.MaxContextTokens,
			CacheTTL:         time.Duration(cfg.CacheTTLSeconds) * time.Second,
			IndexTimeout:     time.Duration(cfg.IndexTimeoutSeconds) * time.Second,
		},
	)

	var ask ports.AskService = pipeline
	if cfg.AdaptiveEnabled {
		ask = adaptiveService{
			controller: usecase.NewAdaptiveController(
				pipeline,
				usecase.OverlapGrader{},
				ollama.NewRewriter(ollamaClient),
				logger,
				usecase.AdaptiveOptions{
					MaxRewrites:    cfg.AdaptiveMaxRewrites,
					GradeThreshold: cfg.AdaptiveGradeThreshold,
					MaxQueryChars:  cfg.AdaptiveMaxQueryChars,
					BlockedTerms:   cfg.BlockedTerms(),
				},
			),
			pipeline: pipeline,
		}
	}

	return &App{
		Config: cfg,
		Ask:    ask,
		Cache:  cache,
		Bus:    bus,
		closeFn: func() {
			closeBus()
			closeCache()
			closeLexical()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// adaptiveService routes atomic asks through the controller while
// streaming stays on the plain pipeline: the grade/rewrite loop needs
// the full retrieval before generation, which streaming already has.
type adaptiveService struct {
	controller *usecase.AdaptiveController
	pipeline   *usecase.AskPipeline
}

func (s adaptiveService) Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error) {
	return s.controller.Ask(ctx, req)
}

func (s adaptiveService) AskStream(ctx context.Context, req domain.AskRequest) <-chan domain.StreamEvent {
	return s.pipeline.AskStream(ctx, req)
}

func buildLexicalIndex(cfg config.Config) (ports.LexicalIndex, func(), error) {
	switch cfg.LexicalBackend {
	case "neo4j":
		driver, err := neo4jindex.Open(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, nil, fmt.Errorf("open neo4j: %w", err)
		}
		index := neo4jindex.NewIndex(driver, cfg.Neo4jDatabase, cfg.Neo4jIndexName)
		return index, func() { _ = driver.Close(context.Background()) }, nil
	case "postgres", "":
		db, err := postgresindex.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgresindex.NewIndex(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown lexical backend: %q", cfg.LexicalBackend)
	}
}

func buildCache(cfg config.Config) (ports.AnswerCache, func(), error) {
	switch cfg.CacheBackend {
	case "memory":
		return memory.New(cfg.CacheCapacity), func() {}, nil
	case "redis", "":
		client, err := rediscache.Open(cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis: %w", err)
		}
		return rediscache.New(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend: %q", cfg.CacheBackend)
	}
}
