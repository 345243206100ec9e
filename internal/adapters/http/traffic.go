package httpadapter

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitMiddleware applies a global token-bucket limit across all
// clients. Rejected requests carry Retry-After so well-behaved callers
// back off instead of hammering.
func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			retryAfter := 1
			if rps > 0 && rps < 1 {
				retryAfter = int(1.0/rps) + 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware bounds in-flight requests with a semaphore.
// A request that cannot acquire a slot within waitTimeout is shed with
// 503 rather than queued indefinitely.
func backpressureMiddleware(next http.Handler, maxConcurrent int, waitTimeout time.Duration) http.Handler {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	if waitTimeout <= 0 {
		waitTimeout = 100 * time.Millisecond
	}
	slots := make(chan struct{}, maxConcurrent)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := time.NewTimer(waitTimeout)
		defer timer.Stop()

		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		case <-timer.C:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server is overloaded, try again later"})
		case <-r.Context().Done():
		}
	})
}
