package search

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MaxExpansionPhrasings caps the number of alternate phrasings an Expander
// may return, per spec §4.7 step 2.
const MaxExpansionPhrasings = 3

// Expander produces alternate phrasings of a query to broaden retrieval.
// Implementations may call out to an LLM; results should be cached since
// the same (model, query) pair is asked repeatedly across a session.
type Expander interface {
	// Expand returns up to MaxExpansionPhrasings alternate phrasings of
	// query, not including the original. An empty slice means no useful
	// expansion was found; callers still search with the original query.
	Expand(ctx context.Context, query string) ([]string, error)

	// Enabled reports whether expansion should run at all.
	Enabled() bool
}

// expansionPrompt asks the model for alternate phrasings as a JSON array,
// keeping the contract simple enough for small local models.
const expansionPrompt = `Rewrite the following search query as up to 3 alternate phrasings that preserve its meaning. Respond with a JSON array of strings only, no commentary.

Query: %s`

// LLMExpander calls an Ollama generate endpoint to produce alternate
// phrasings, disk-caching responses per (model, query) so repeat queries
// don't re-pay the LLM round trip.
//
// Grounded on the embed package's OllamaEmbedder HTTP client idiom: a
// pooled *http.Client, context-scoped per-request timeouts (no client-level
// Timeout), and a Host+Model pair carried on the struct.
type LLMExpander struct {
	client   *http.Client
	host     string
	model    string
	enabled  bool
	cacheDir string
	timeout  time.Duration

	mu    sync.Mutex
	cache map[string][]string // in-memory mirror of the disk cache
}

// LLMExpanderConfig configures an LLMExpander.
type LLMExpanderConfig struct {
	// Host is the Ollama API endpoint, e.g. "http://localhost:11434".
	Host string
	// Model is the Ollama model used for expansion (e.g. "qwen3:0.6b").
	Model string
	// Enabled gates whether Expand does any work at all.
	Enabled bool
	// CacheDir is the directory backing the on-disk expansion cache
	// (spec §4.7 step 2: DATA_DIR/expansion_cache/).
	CacheDir string
	// Timeout bounds a single expansion call.
	Timeout time.Duration
}

// NewLLMExpander builds an Expander backed by Ollama, with a JSON disk
// cache under cfg.CacheDir keyed by sha256(model, query).
func NewLLMExpander(cfg LLMExpanderConfig) *LLMExpander {
	host := cfg.Host
	if host == "" {
		host = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LLMExpander{
		client:   &http.Client{},
		host:     host,
		model:    cfg.Model,
		enabled:  cfg.Enabled,
		cacheDir: cfg.CacheDir,
		timeout:  timeout,
		cache:    make(map[string][]string),
	}
}

// Enabled reports whether expansion should run.
func (x *LLMExpander) Enabled() bool {
	return x != nil && x.enabled
}

// Expand returns up to MaxExpansionPhrasings alternate phrasings of query,
// consulting the disk cache before calling Ollama.
func (x *LLMExpander) Expand(ctx context.Context, query string) ([]string, error) {
	if !x.Enabled() {
		return nil, nil
	}

	key := x.cacheKey(query)

	if cached, ok := x.readCache(key); ok {
		return cached, nil
	}

	phrasings, err := x.callOllama(ctx, query)
	if err != nil {
		return nil, err
	}

	x.writeCache(key, phrasings)
	return phrasings, nil
}

func (x *LLMExpander) cacheKey(query string) string {
	h := sha256.Sum256([]byte(x.model + "\x00" + strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(h[:])
}

func (x *LLMExpander) readCache(key string) ([]string, bool) {
	x.mu.Lock()
	if phrasings, ok := x.cache[key]; ok {
		x.mu.Unlock()
		return phrasings, true
	}
	x.mu.Unlock()

	if x.cacheDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(x.cacheDir, key+".json"))
	if err != nil {
		return nil, false
	}
	var phrasings []string
	if err := json.Unmarshal(data, &phrasings); err != nil {
		return nil, false
	}

	x.mu.Lock()
	x.cache[key] = phrasings
	x.mu.Unlock()
	return phrasings, true
}

func (x *LLMExpander) writeCache(key string, phrasings []string) {
	x.mu.Lock()
	x.cache[key] = phrasings
	x.mu.Unlock()

	if x.cacheDir == "" {
		return
	}
	if err := os.MkdirAll(x.cacheDir, 0755); err != nil {
		slog.Warn("failed to create expansion cache directory", slog.String("error", err.Error()))
		return
	}
	data, err := json.Marshal(phrasings)
	if err != nil {
		return
	}
	path := filepath.Join(x.cacheDir, key+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Warn("failed to write expansion cache entry", slog.String("error", err.Error()))
	}
}

// ollamaGenerateRequest mirrors Ollama's /api/generate request body.
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// ollamaGenerateResponse mirrors Ollama's non-streaming /api/generate response.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (x *LLMExpander) callOllama(ctx context.Context, query string) ([]string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  x.model,
		Prompt: fmt.Sprintf(expansionPrompt, query),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode expansion request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, x.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create expansion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach Ollama for query expansion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d from Ollama expansion call: %s", resp.StatusCode, string(respBody))
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode expansion response: %w", err)
	}

	return parseExpansionPhrasings(genResp.Response), nil
}

// parseExpansionPhrasings extracts a JSON array of strings from the model's
// raw text response, tolerating surrounding prose the model may add despite
// being asked not to.
func parseExpansionPhrasings(raw string) []string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < start {
		return nil
	}

	var phrasings []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &phrasings); err != nil {
		return nil
	}

	out := make([]string, 0, MaxExpansionPhrasings)
	for _, p := range phrasings {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == MaxExpansionPhrasings {
			break
		}
	}
	return out
}
