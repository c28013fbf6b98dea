// Package searchclient is the concrete HTTP-backed implementation of
// internal/search's Client interface, talking to a Tavily-compatible
// search API, following the "BaseURL + APIKey + HTTPClient struct" shape
// hyperifyio-goresearch's internal/search.SearxNG provider uses.
package searchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/ratelimit"
	"github.com/codeready-toolchain/deepcite/internal/search"
)

// Client is a Tavily-compatible JSON search provider.
type Client struct {
	baseURL    string
	apiKey     string
	minScore   float64
	httpClient *http.Client
	limiters   *ratelimit.Limiters
	maxRetries int
}

// New builds a Client from config, defaulting BaseURL to Tavily's public
// endpoint when unset.
func New(cfg config.SearchConfig, limiters *ratelimit.Limiters) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		minScore: cfg.MinTavilyScore,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiters:   limiters,
		maxRetries: retries,
	}
}

type searchRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type searchResponse struct {
	Results []struct {
		URL        string  `json:"url"`
		Title      string  `json:"title"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// Search issues a query against the provider, waiting on the shared search
// rate limiter first and retrying transient failures (connection errors,
// 429, 5xx) with exponential backoff up to maxRetries, the same shape
// llmclient.Client.Complete uses against the model provider. Results below
// the configured minimum Tavily relevance score are dropped.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	if c.limiters != nil {
		if err := c.limiters.WaitSearch(ctx); err != nil {
			return nil, fmt.Errorf("waiting for search rate limit: %w", err)
		}
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		results, err := c.doSearch(ctx, query, maxResults)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !errors.Is(lastErr, search.ErrTransientNetwork) {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("searchclient: exhausted %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) doSearch(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:            c.apiKey,
		Query:             query,
		MaxResults:        maxResults,
		IncludeRawContent: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search request for %q: %v", search.ErrTransientNetwork, query, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: search provider returned %d: %s", search.ErrTransientNetwork, resp.StatusCode, string(data))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search provider returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	out := make([]search.Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Score < c.minScore {
			continue
		}
		out = append(out, search.Result{
			URL:        r.URL,
			Title:      r.Title,
			Snippet:    r.Content,
			RawContent: r.RawContent,
			Score:      r.Score,
		})
	}
	return out, nil
}
