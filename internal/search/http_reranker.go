package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// HTTPReranker reranks fused results through an HTTP cross-encoder endpoint
// (Ollama's /api/rerank, or any service honoring the same request/response
// shape), per spec §4.7 step 6.
//
// Grounded on embed.OllamaEmbedder's client idiom: a pooled *http.Client, no
// client-level Timeout (context-scoped per call instead), and a Host+Model
// pair carried on the struct.
type HTTPReranker struct {
	client *http.Client
	host   string
	model  string
}

// NewHTTPReranker builds a Reranker backed by an HTTP cross-encoder endpoint.
func NewHTTPReranker(host, model string) *HTTPReranker {
	if host == "" {
		host = "http://localhost:11434"
	}
	return &HTTPReranker{
		client: &http.Client{Timeout: 30 * time.Second},
		host:   host,
		model:  model,
	}
}

// Verify interface implementation at compile time.
var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponseEntry struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResponseEntry `json:"results"`
}

// Rerank scores query/document pairs through the configured HTTP endpoint
// and returns them sorted by relevance score descending.
func (h *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Model: h.model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.host+"/api/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach reranker endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d from reranker: %s", resp.StatusCode, string(respBody))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	results := make([]RerankResult, 0, len(parsed.Results))
	for _, entry := range parsed.Results {
		if entry.Index < 0 || entry.Index >= len(documents) {
			continue
		}
		results = append(results, RerankResult{
			Index:    entry.Index,
			Score:    entry.RelevanceScore,
			Document: documents[entry.Index],
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available pings the reranker host to check it's reachable.
func (h *HTTPReranker) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close is a no-op; the underlying *http.Client owns no persistent connections
// beyond its idle pool, which net/http reclaims on its own.
func (h *HTTPReranker) Close() error {
	return nil
}
