package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
	"github.com/kirillkom/paper-rag-service/internal/infrastructure/resilience"
)

// Client talks to an Ollama server. One Client is shared by the
// generator, the embedder and the query rewriter.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

func (c *Client) modelFor(req domain.AskRequest) string {
	if strings.TrimSpace(req.ModelID) != "" {
		return req.ModelID
	}
	return c.genModel
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.executor.Execute(ctx, "ollama_embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	}, classifyOllamaError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed query", err)
	}
	if len(response.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

// Generator produces grounded answers from assembled context. Atomic
// calls run under the resilience executor; streaming calls do not,
// because a restarted stream would replay already-delivered tokens.
type Generator struct {
	client         *Client
	maxAnswerWords int
}

func NewGenerator(client *Client, maxAnswerWords int) *Generator {
	if maxAnswerWords <= 0 {
		maxAnswerWords = 500
	}
	return &Generator{client: client, maxAnswerWords: maxAnswerWords}
}

func (g *Generator) Generate(ctx context.Context, assembled domain.AssembledContext, req domain.AskRequest) (string, error) {
	body := map[string]any{
		"model":  g.client.modelFor(req),
		"prompt": buildAnswerPrompt(req.Query, assembled, g.maxAnswerWords),
		"stream": false,
	}

	var response struct {
		Response string `json:"response"`
	}
	err := g.client.executor.Execute(ctx, "ollama_generate", func(ctx context.Context) error {
		return g.client.postJSON(ctx, "/api/generate", body, &response, "generate")
	}, classifyOllamaError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("generate answer", err)
	}
	return truncateWords(strings.TrimSpace(response.Response), g.maxAnswerWords), nil
}

func (g *Generator) GenerateStream(ctx context.Context, assembled domain.AssembledContext, req domain.AskRequest) (<-chan domain.TokenDelta, error) {
	body := map[string]any{
		"model":  g.client.modelFor(req),
		"prompt": buildAnswerPrompt(req.Query, assembled, g.maxAnswerWords),
		"stream": true,
	}

	resp, err := g.client.postStream(ctx, "/api/generate", body, "generate_stream")
	if err != nil {
		return nil, wrapTemporaryIfNeeded("start answer stream", err)
	}

	deltas := make(chan domain.TokenDelta)
	go func() {
		defer close(deltas)
		defer resp.Body.Close()

		words := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var frame struct {
				Response string `json:"response"`
				Done     bool   `json:"done"`
				Error    string `json:"error"`
			}
			if err := json.Unmarshal([]byte(line), &frame); err != nil {
				sendDelta(ctx, deltas, domain.TokenDelta{Err: fmt.Errorf("decode stream frame: %w", err)})
				return
			}
			if frame.Error != "" {
				sendDelta(ctx, deltas, domain.TokenDelta{Err: fmt.Errorf("ollama stream: %s", frame.Error)})
				return
			}
			if frame.Response != "" {
				words += len(strings.Fields(frame.Response))
				if !sendDelta(ctx, deltas, domain.TokenDelta{Text: frame.Response}) {
					return
				}
				// Closing the body aborts the model call server-side.
				if words >= g.maxAnswerWords {
					return
				}
			}
			if frame.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			sendDelta(ctx, deltas, domain.TokenDelta{Err: fmt.Errorf("read stream: %w", err)})
		}
	}()

	return deltas, nil
}

func sendDelta(ctx context.Context, deltas chan<- domain.TokenDelta, delta domain.TokenDelta) bool {
	select {
	case deltas <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}

func truncateWords(text string, maxWords int) string {
	fields := strings.Fields(text)
	if len(fields) <= maxWords {
		return text
	}
	return strings.Join(fields[:maxWords], " ")
}

// Rewriter reformulates queries that retrieved poor context.
type Rewriter struct {
	client *Client
}

func NewRewriter(client *Client) *Rewriter {
	return &Rewriter{client: client}
}

func (r *Rewriter) Rewrite(ctx context.Context, query string) (string, error) {
	body := map[string]any{
		"model":  r.client.genModel,
		"prompt": buildRewritePrompt(query),
		"stream": false,
	}

	var response struct {
		Response string `json:"response"`
	}
	err := r.client.executor.Execute(ctx, "ollama_rewrite", func(ctx context.Context) error {
		return r.client.postJSON(ctx, "/api/generate", body, &response, "rewrite")
	}, classifyOllamaError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("rewrite query", err)
	}
	return firstLine(strings.TrimSpace(response.Response)), nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
