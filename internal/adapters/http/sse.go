package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

type streamFrame struct {
	Type    string         `json:"type"`
	Sources []string       `json:"sources,omitempty"`
	Delta   string         `json:"delta,omitempty"`
	Answer  *domain.Answer `json:"answer,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// askStream serves the streaming entry point over SSE. The first
// pipeline event decides the shape of the response: an immediate
// failure becomes a plain JSON error with a real status code, anything
// else commits to a 200 SSE stream.
func (rt *Router) askStream(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeAskRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	events := rt.ask.AskStream(r.Context(), req)

	first, open := <-events
	if !open {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stream produced no events"})
		return
	}
	if first.Type == domain.StreamFailed {
		status := mapErrorToHTTPStatus(first.Err)
		if status >= 500 {
			rt.logger.Error("ask_stream_failed", "request_id", requestIDFromContext(r.Context()), "error", first.Err)
		}
		if rt.metrics != nil {
			rt.metrics.RecordAskOutcome(serviceName, "ask_stream", "error")
		}
		writeJSON(w, status, map[string]string{"error": first.Err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rt.writeFrame(w, flusher, first)
	for event := range events {
		rt.writeFrame(w, flusher, event)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (rt *Router) writeFrame(w http.ResponseWriter, flusher http.Flusher, event domain.StreamEvent) {
	frame := streamFrame{Type: string(event.Type)}
	switch event.Type {
	case domain.StreamSources:
		frame.Sources = event.Sources
		if frame.Sources == nil {
			frame.Sources = []string{}
		}
	case domain.StreamDelta:
		frame.Delta = event.Delta
	case domain.StreamDone:
		frame.Answer = event.Answer
		if rt.metrics != nil {
			rt.metrics.RecordAskOutcome(serviceName, "ask_stream", "ok")
			if event.Answer != nil {
				rt.metrics.RecordCacheLookup(serviceName, "ask_stream", event.Answer.Cached)
			}
		}
	case domain.StreamFailed:
		if event.Err != nil {
			frame.Error = event.Err.Error()
		}
		if rt.metrics != nil {
			rt.metrics.RecordAskOutcome(serviceName, "ask_stream", "error")
		}
	}
	if rt.metrics != nil {
		rt.metrics.RecordStreamEvent(serviceName, frame.Type)
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
