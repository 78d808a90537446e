package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Searcher is the external web-search backend behind the live-search tool.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Source, error)
}

// SearchClientConfig holds configuration for the web-search HTTP client.
type SearchClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // default: 8s
}

// SearchClient implements Searcher against a JSON search API.
type SearchClient struct {
	cfg    SearchClientConfig
	client *http.Client
}

// NewSearchClient creates a new web-search client.
func NewSearchClient(cfg SearchClientConfig) *SearchClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &SearchClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// Search queries the backend and returns at most limit results.
func (c *SearchClient) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&limit=%d", c.cfg.BaseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("search: failed to create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search: backend returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("search: failed to decode response: %w", err)
	}

	sources := make([]Source, 0, len(respData.Results))
	for i, result := range respData.Results {
		if i >= limit {
			break
		}
		sources = append(sources, Source{
			ID:      fmt.Sprintf("web:%s", result.URL),
			Title:   result.Title,
			URL:     result.URL,
			Snippet: result.Snippet,
		})
	}
	return sources, nil
}

// LiveSearchTool wraps a Searcher as a turn capability. Results are capped
// at five entries regardless of what the backend returns.
type LiveSearchTool struct {
	searcher Searcher
}

const liveSearchMaxResults = 5

// NewLiveSearchTool creates the live-search capability.
func NewLiveSearchTool(searcher Searcher) *LiveSearchTool {
	return &LiveSearchTool{searcher: searcher}
}

func (t *LiveSearchTool) Name() string { return CapabilityLiveSearch }

func (t *LiveSearchTool) Invoke(ctx context.Context, args Args) *Result {
	if t.searcher == nil {
		return failure(CapabilityLiveSearch, "unavailable", errors.New("no search backend configured"))
	}

	sources, err := t.searcher.Search(ctx, args.Query, liveSearchMaxResults)
	if err != nil {
		kind := "fetch_failed"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		return failure(CapabilityLiveSearch, kind, err)
	}
	if len(sources) > liveSearchMaxResults {
		sources = sources[:liveSearchMaxResults]
	}
	return &Result{Capability: CapabilityLiveSearch, Sources: sources}
}

var _ Searcher = (*SearchClient)(nil)
var _ Tool = (*LiveSearchTool)(nil)
