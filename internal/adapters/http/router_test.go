package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

type fakeAskService struct {
	answer *domain.Answer
	err    error
	events []domain.StreamEvent

	lastRequest domain.AskRequest
}

func (f *fakeAskService) Ask(_ context.Context, req domain.AskRequest) (*domain.Answer, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *fakeAskService) AskStream(ctx context.Context, req domain.AskRequest) <-chan domain.StreamEvent {
	f.lastRequest = req
	out := make(chan domain.StreamEvent, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out
}

type fakeCache struct {
	invalidated []string
	flushes     int
}

func (f *fakeCache) Get(context.Context, string) (domain.CacheEntry, error) {
	return domain.CacheEntry{}, domain.WrapError(domain.ErrCacheMiss, "cache get", errors.New("no entry"))
}
func (f *fakeCache) Put(context.Context, domain.CacheEntry, time.Duration) error { return nil }
func (f *fakeCache) Invalidate(_ context.Context, fingerprint string) error {
	f.invalidated = append(f.invalidated, fingerprint)
	return nil
}
func (f *fakeCache) Flush(context.Context) error {
	f.flushes++
	return nil
}

func newTestRouter(svc *fakeAskService, cache *fakeCache) http.Handler {
	var router *Router
	if cache != nil {
		router = NewRouter(svc, cache, nil, nil, nil, RouterOptions{})
	} else {
		router = NewRouter(svc, nil, nil, nil, nil, RouterOptions{})
	}
	return router.Handler()
}

func postJSON(t *testing.T, handler http.Handler, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAskReturnsAnswerJSON(t *testing.T) {
	svc := &fakeAskService{answer: &domain.Answer{
		Text:       "grounded answer",
		SourceIDs:  []string{"paper-1"},
		SearchMode: domain.SearchModeHybrid,
	}}
	handler := newTestRouter(svc, nil)

	res := postJSON(t, handler, "/v1/ask", `{"query":"what is attention","top_k":3}`)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", res.Code, res.Body.String())
	}

	var answer domain.Answer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if answer.Text != "grounded answer" || answer.SearchMode != domain.SearchModeHybrid {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	if svc.lastRequest.TopK != 3 {
		t.Fatalf("top_k = %d, want 3", svc.lastRequest.TopK)
	}
	if !svc.lastRequest.UseHybrid {
		t.Fatalf("use_hybrid must default to true")
	}
}

func TestAskDefaultsTopK(t *testing.T) {
	svc := &fakeAskService{answer: &domain.Answer{Text: "x"}}
	handler := newTestRouter(svc, nil)

	res := postJSON(t, handler, "/v1/ask", `{"query":"q"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	if svc.lastRequest.TopK != defaultTopK {
		t.Fatalf("top_k = %d, want default %d", svc.lastRequest.TopK, defaultTopK)
	}
}

func TestAskHonorsHybridOverride(t *testing.T) {
	svc := &fakeAskService{answer: &domain.Answer{Text: "x"}}
	handler := newTestRouter(svc, nil)

	res := postJSON(t, handler, "/v1/ask", `{"query":"q","use_hybrid":false}`)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	if svc.lastRequest.UseHybrid {
		t.Fatalf("use_hybrid=false must be honored")
	}
}

func TestAskRejectsInvalidJSON(t *testing.T) {
	handler := newTestRouter(&fakeAskService{}, nil)
	res := postJSON(t, handler, "/v1/ask", `{"query":`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestAskMapsErrorKindsToStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "validate", errors.New("empty query")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrAllIndexesUnavailable, "retrieve", errors.New("both down")), http.StatusServiceUnavailable},
		{domain.WrapError(domain.ErrGeneration, "generate", errors.New("model down")), http.StatusBadGateway},
	}
	for _, tc := range cases {
		handler := newTestRouter(&fakeAskService{err: tc.err}, nil)
		res := postJSON(t, handler, "/v1/ask", `{"query":"q"}`)
		if res.Code != tc.status {
			t.Fatalf("error %v: status = %d, want %d", tc.err, res.Code, tc.status)
		}
	}
}

func TestAskStreamWritesSSEFrames(t *testing.T) {
	answer := &domain.Answer{Text: "ab", SourceIDs: []string{"paper-1"}, SearchMode: domain.SearchModeHybrid}
	svc := &fakeAskService{events: []domain.StreamEvent{
		{Type: domain.StreamSources, Sources: []string{"paper-1"}},
		{Type: domain.StreamDelta, Delta: "a"},
		{Type: domain.StreamDelta, Delta: "b"},
		{Type: domain.StreamDone, Answer: answer},
	}}
	handler := newTestRouter(svc, nil)

	res := postJSON(t, handler, "/v1/ask/stream", `{"query":"q"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", res.Code, res.Body.String())
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	body := res.Body.String()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames (sources, 2 deltas, done, [DONE]), got %d:\n%s", len(frames), body)
	}
	if !strings.HasPrefix(frames[0], `data: {"type":"sources"`) {
		t.Fatalf("first frame = %q", frames[0])
	}
	if frames[len(frames)-1] != "data: [DONE]" {
		t.Fatalf("terminal frame = %q", frames[len(frames)-1])
	}
	if !strings.Contains(frames[3], `"type":"done"`) || !strings.Contains(frames[3], "ab") {
		t.Fatalf("done frame = %q", frames[3])
	}
}

func TestAskStreamImmediateFailureIsPlainJSON(t *testing.T) {
	svc := &fakeAskService{events: []domain.StreamEvent{
		{Type: domain.StreamFailed, Err: domain.WrapError(domain.ErrInvalidInput, "validate request", errors.New("empty query"))},
	}}
	handler := newTestRouter(svc, nil)

	res := postJSON(t, handler, "/v1/ask/stream", `{"query":""}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want plain JSON error", ct)
	}
}

func TestAskStreamMidStreamFailureEmitsErrorFrame(t *testing.T) {
	svc := &fakeAskService{events: []domain.StreamEvent{
		{Type: domain.StreamSources, Sources: []string{"paper-1"}},
		{Type: domain.StreamDelta, Delta: "partial"},
		{Type: domain.StreamFailed, Err: domain.WrapError(domain.ErrGeneration, "stream answer", errors.New("connection reset"))},
	}}
	handler := newTestRouter(svc, nil)

	res := postJSON(t, handler, "/v1/ask/stream", `{"query":"q"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, stream already committed must stay 200", res.Code)
	}
	body := res.Body.String()
	if !strings.Contains(body, `"type":"failed"`) {
		t.Fatalf("expected failed frame in body:\n%s", body)
	}
}

func TestInvalidateCacheSingleFingerprint(t *testing.T) {
	cache := &fakeCache{}
	handler := newTestRouter(&fakeAskService{}, cache)

	req := httptest.NewRequest(http.MethodDelete, "/v1/cache?fingerprint=fp-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "fp-1" {
		t.Fatalf("invalidated = %v", cache.invalidated)
	}
	if cache.flushes != 0 {
		t.Fatalf("flush must not run for a single fingerprint")
	}
}

func TestInvalidateCacheFlushesAll(t *testing.T) {
	cache := &fakeCache{}
	handler := newTestRouter(&fakeAskService{}, cache)

	req := httptest.NewRequest(http.MethodDelete, "/v1/cache", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	if cache.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", cache.flushes)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&fakeAskService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestRouter(&fakeAskService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/ask", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", res.Code)
	}
}
