package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	askRequestsTotal     *prometheus.CounterVec
	askModeRequestsTotal *prometheus.CounterVec
	askCacheTotal        *prometheus.CounterVec
	askNoContextTotal    *prometheus.CounterVec
	askCitedSources      *prometheus.HistogramVec
	askDuration          *prometheus.HistogramVec
	streamEventsTotal    *prometheus.CounterVec
	adaptiveRewrites     *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	askRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total completed ask requests by outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	askModeRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "ask",
			Name:      "mode_requests_total",
			Help:      "Total successful ask requests by retrieval mode.",
		},
		[]string{"service", "endpoint", "mode"},
	)
	askCacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "ask",
			Name:      "cache_total",
			Help:      "Cache lookups by result.",
		},
		[]string{"service", "endpoint", "result"},
	)
	askNoContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "ask",
			Name:      "no_context_total",
			Help:      "Total ask requests answered without retrieved sources.",
		},
		[]string{"service", "endpoint"},
	)
	askCitedSources := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "ask",
			Name:      "cited_sources",
			Help:      "Distribution of cited sources per successful ask request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service", "endpoint"},
	)
	askDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Ask pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	streamEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Total emitted stream events by type.",
		},
		[]string{"service", "type"},
	)
	adaptiveRewrites := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "adaptive",
			Name:      "rewrites",
			Help:      "Distribution of query rewrites per adaptive request.",
			Buckets:   []float64{0, 1, 2, 3},
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		askRequestsTotal,
		askModeRequestsTotal,
		askCacheTotal,
		askNoContextTotal,
		askCitedSources,
		askDuration,
		streamEventsTotal,
		adaptiveRewrites,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		askRequestsTotal:     askRequestsTotal,
		askModeRequestsTotal: askModeRequestsTotal,
		askCacheTotal:        askCacheTotal,
		askNoContextTotal:    askNoContextTotal,
		askCitedSources:      askCitedSources,
		askDuration:          askDuration,
		streamEventsTotal:    streamEventsTotal,
		adaptiveRewrites:     adaptiveRewrites,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordAskOutcome(service, endpoint, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.askRequestsTotal.WithLabelValues(service, endpoint, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordAskObservation(service, endpoint, mode string, sourceCount int, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	m.askModeRequestsTotal.WithLabelValues(service, endpoint, mode).Inc()
	m.askCitedSources.WithLabelValues(service, endpoint).Observe(float64(sourceCount))
	m.askDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
	if sourceCount == 0 {
		m.askNoContextTotal.WithLabelValues(service, endpoint).Inc()
	}
}

func (m *HTTPServerMetrics) RecordCacheLookup(service, endpoint string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.askCacheTotal.WithLabelValues(service, endpoint, result).Inc()
}

func (m *HTTPServerMetrics) RecordStreamEvent(service, eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	m.streamEventsTotal.WithLabelValues(service, eventType).Inc()
}

func (m *HTTPServerMetrics) RecordAdaptiveRewrites(service string, rewrites int) {
	m.adaptiveRewrites.WithLabelValues(service).Observe(float64(rewrites))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
