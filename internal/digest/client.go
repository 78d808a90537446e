// Package digest provides the HTTP client for the external personalization
// service: digest snapshots and per-user preference context. The agent only
// reads; curation and preference management live upstream.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/brieflens/brieflens/pkg/types"
)

// Provider fetches digest snapshots by context reference.
type Provider interface {
	GetSnapshot(ctx context.Context, contextRef string) (*types.DigestSnapshot, error)
}

// PreferenceProvider fetches the preference context the personalization
// service keeps per user.
type PreferenceProvider interface {
	GetPreferences(ctx context.Context, userID string) (*types.Preferences, error)
}

// ClientConfig holds configuration for the digest provider client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration // default: 10s
}

// Client implements Provider against the digest provider's snapshot API.
type Client struct {
	cfg    ClientConfig
	client *http.Client
}

// NewClient creates a new digest provider client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// snapshotResponse mirrors the provider's wire format.
type snapshotResponse struct {
	Items []struct {
		ID      string   `json:"id"`
		Title   string   `json:"title"`
		Summary string   `json:"summary"`
		Source  string   `json:"source"`
		URL     string   `json:"url"`
		Tags    []string `json:"tags"`
		Score   float64  `json:"score"`
	} `json:"items"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GetSnapshot fetches the snapshot for the given context reference.
func (c *Client) GetSnapshot(ctx context.Context, contextRef string) (*types.DigestSnapshot, error) {
	endpoint := c.cfg.BaseURL + "/snapshots/" + url.PathEscape(contextRef)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("digest: failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("digest: failed to fetch snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("digest: provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("digest: failed to decode snapshot: %w", err)
	}

	snapshot := &types.DigestSnapshot{
		ContextRef:  contextRef,
		GeneratedAt: respData.GeneratedAt,
		Items:       make([]types.DigestItem, 0, len(respData.Items)),
	}
	for _, item := range respData.Items {
		snapshot.Items = append(snapshot.Items, types.DigestItem{
			ID:      item.ID,
			Title:   item.Title,
			Summary: item.Summary,
			Source:  item.Source,
			URL:     item.URL,
			Tags:    item.Tags,
			Score:   item.Score,
		})
	}
	return snapshot, nil
}

// preferencesResponse mirrors the provider's preference wire format.
type preferencesResponse struct {
	Topics    []string  `json:"topics"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetPreferences fetches the preference context for the given user. Users
// without stored preferences get an empty context, not an error.
func (c *Client) GetPreferences(ctx context.Context, userID string) (*types.Preferences, error) {
	endpoint := c.cfg.BaseURL + "/users/" + url.PathEscape(userID) + "/preferences"
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("digest: failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("digest: failed to fetch preferences: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return &types.Preferences{UserID: userID}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("digest: provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData preferencesResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("digest: failed to decode preferences: %w", err)
	}
	return &types.Preferences{
		UserID:    userID,
		Topics:    respData.Topics,
		UpdatedAt: respData.UpdatedAt,
	}, nil
}

var (
	_ Provider           = (*Client)(nil)
	_ PreferenceProvider = (*Client)(nil)
)
