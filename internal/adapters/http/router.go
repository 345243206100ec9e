package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
	"github.com/kirillkom/paper-rag-service/internal/core/ports"
	"github.com/kirillkom/paper-rag-service/internal/observability/metrics"
)

const (
	serviceName  = "paper-rag-api"
	defaultTopK  = 5
	maxBodyBytes = 64 * 1024
)

type RouterOptions struct {
	RateLimitRPS        float64
	RateLimitBurst      int
	MaxConcurrent       int
	BackpressureTimeout time.Duration
}

type Router struct {
	ask     ports.AskService
	cache   ports.AnswerCache
	bus     ports.InvalidationBus
	metrics *metrics.HTTPServerMetrics
	logger  *slog.Logger
	opts    RouterOptions
}

func NewRouter(
	ask ports.AskService,
	cache ports.AnswerCache,
	bus ports.InvalidationBus,
	m *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	opts RouterOptions,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		ask:     ask,
		cache:   cache,
		bus:     bus,
		metrics: m,
		logger:  logger,
		opts:    opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/ask", rt.askAtomic)
	mux.HandleFunc("/v1/ask/stream", rt.askStream)
	mux.HandleFunc("/v1/cache", rt.invalidateCache)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.opts.MaxConcurrent > 0 {
		handler = backpressureMiddleware(handler, rt.opts.MaxConcurrent, rt.opts.BackpressureTimeout)
	}
	if rt.opts.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequestBody struct {
	Query      string   `json:"query"`
	TopK       int      `json:"top_k"`
	UseHybrid  *bool    `json:"use_hybrid"`
	Categories []string `json:"categories"`
	ModelID    string   `json:"model_id"`
}

func (b askRequestBody) toDomain() domain.AskRequest {
	req := domain.AskRequest{
		Query:      b.Query,
		TopK:       b.TopK,
		UseHybrid:  true,
		Categories: b.Categories,
		ModelID:    strings.TrimSpace(b.ModelID),
	}
	if b.UseHybrid != nil {
		req.UseHybrid = *b.UseHybrid
	}
	if req.TopK == 0 {
		req.TopK = defaultTopK
	}
	return req
}

func (rt *Router) decodeAskRequest(w http.ResponseWriter, r *http.Request) (domain.AskRequest, bool) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return domain.AskRequest{}, false
	}

	var body askRequestBody
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return domain.AskRequest{}, false
	}
	return body.toDomain(), true
}

func (rt *Router) askAtomic(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeAskRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	answer, err := rt.ask.Ask(r.Context(), req)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status >= 500 {
			rt.logger.Error("ask_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		}
		if rt.metrics != nil {
			rt.metrics.RecordAskOutcome(serviceName, "ask", "error")
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordAskOutcome(serviceName, "ask", "ok")
		rt.metrics.RecordCacheLookup(serviceName, "ask", answer.Cached)
		rt.metrics.RecordAskObservation(serviceName, "ask", string(answer.SearchMode), len(answer.SourceIDs), time.Since(start))
		if !answer.Cached {
			rt.metrics.RecordAdaptiveRewrites(serviceName, answer.Rewrites)
		}
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) invalidateCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.cache == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cache is not configured"})
		return
	}

	fingerprint := strings.TrimSpace(r.URL.Query().Get("fingerprint"))
	var err error
	if fingerprint == "" {
		err = rt.cache.Flush(r.Context())
	} else {
		err = rt.cache.Invalidate(r.Context(), fingerprint)
	}
	if err != nil {
		rt.logger.Error("cache_invalidate_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	// Best-effort fan-out to peer replicas.
	if rt.bus != nil {
		if err := rt.bus.PublishInvalidation(r.Context(), fingerprint); err != nil {
			rt.logger.Warn("invalidation_publish_failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
