package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/paper-rag-service/internal/core/domain"
)

// Client queries a Qdrant collection of chunk embeddings over its REST
// API. The collection is expected to exist; indexing is owned by the
// ingestion pipeline, not this service.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Chunk, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        topK,
		"with_payload": true,
	}
	if len(filter.Categories) > 0 {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key": "category",
					"match": map[string]any{
						"any": filter.Categories,
					},
				},
			},
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, formatQdrantHTTPError("search", resp)
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.Chunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.Chunk{
			ID:          getStringPayload(r.Payload, "chunk_id"),
			SourceDocID: getStringPayload(r.Payload, "source_doc_id"),
			Title:       getStringPayload(r.Payload, "title"),
			Category:    getStringPayload(r.Payload, "category"),
			Ordinal:     getIntPayload(r.Payload, "ordinal"),
			Text:        getStringPayload(r.Payload, "text"),
			TokenCount:  getIntPayload(r.Payload, "token_count"),
		})
	}
	return out, nil
}

// Healthy reports whether the collection is reachable.
func (c *Client) Healthy(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create collection info request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant collection info request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return formatQdrantHTTPError("collection info", resp)
	}
	return nil
}

func formatQdrantHTTPError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
	}
	return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
