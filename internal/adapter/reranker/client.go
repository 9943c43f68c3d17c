package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"dgchat/internal/retrieval"
)

const (
	ProviderJina   = "jina"
	ProviderCohere = "cohere"
	ProviderNone   = "none"
)

var (
	endpoints = map[string]string{
		ProviderJina:   "https://api.jina.ai/v1/rerank",
		ProviderCohere: "https://api.cohere.ai/v1/rerank",
	}
	defaultModels = map[string]string{
		ProviderJina:   "jina-reranker-v2-base-multilingual",
		ProviderCohere: "rerank-english-v3.0",
	}
)

type Client struct {
	apiKey   string
	provider string
	model    string
	client   *http.Client
	baseURL  string
}

func NewClient(provider, model, apiKey string) *Client {
	if model == "" {
		model = defaultModels[provider]
	}
	return &Client{
		provider: provider,
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Rerank scores every document against query and returns them most relevant
// first. Without a provider the input order is kept with descending scores.
func (c *Client) Rerank(ctx context.Context, query string, docs []string) ([]retrieval.Ranking, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	url, ok := endpoints[c.provider]
	if !ok {
		rankings := make([]retrieval.Ranking, len(docs))
		for i := range rankings {
			rankings[i] = retrieval.Ranking{Index: i, Score: 1 / float64(i+1)}
		}
		return rankings, nil
	}
	if c.baseURL != "" {
		url = c.baseURL
	}

	reqBody := map[string]interface{}{
		"model":     c.model,
		"query":     query,
		"documents": docs,
		"top_n":     len(docs),
	}
	if c.provider == ProviderCohere {
		reqBody["return_documents"] = false
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s api error: %d: %s", c.provider, resp.StatusCode, bytes.TrimSpace(body))
	}

	var result struct {
		Results []struct {
			Index int     `json:"index"`
			Score float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	rankings := make([]retrieval.Ranking, 0, len(result.Results))
	seen := make(map[int]bool, len(result.Results))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(docs) || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		rankings = append(rankings, retrieval.Ranking{Index: r.Index, Score: r.Score})
	}

	slog.DebugContext(ctx, "rerank complete", "provider", c.provider, "docs", len(docs), "duration_ms", time.Since(start).Milliseconds())
	return rankings, nil
}
