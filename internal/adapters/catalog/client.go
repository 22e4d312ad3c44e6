// Package catalog implements the catalog-service adapter that resolves a
// track id into canonical metadata (title, performers, ISRC).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
	"github.com/ewilliams-labs/cadenza/internal/core/ports"
)

// Client is an HTTP client for the catalog API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	maxRetries  int
	baseBackoff time.Duration
}

// compile-time interface assertion
var _ ports.CatalogProvider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRetries overrides the retry budget and base backoff.
func WithRetries(max int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max
		c.baseBackoff = backoff
	}
}

// NewClient constructs a catalog client. The http.Client is expected to carry
// authentication (an oauth2 client-credentials transport in production).
func NewClient(httpClient *http.Client, baseURL string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTrack fetches the track metadata for a catalog id and maps it to
// domain.TrackIdentity. Returns domain.ErrNotFound for unknown ids.
func (c *Client) GetTrack(ctx context.Context, trackID string) (domain.TrackIdentity, error) {
	url := fmt.Sprintf("%s/v1/tracks/%s", c.baseURL, trackID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.TrackIdentity{}, fmt.Errorf("catalog adapter: %w", err)
	}

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return domain.TrackIdentity{}, fmt.Errorf("catalog adapter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.TrackIdentity{}, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return domain.TrackIdentity{}, fmt.Errorf("catalog adapter: status %d", resp.StatusCode)
	}

	var tr catalogTrack
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return domain.TrackIdentity{}, fmt.Errorf("catalog adapter: %w", err)
	}

	return tr.toDomain(), nil
}

// catalogTrack represents the catalog API response for a track.
type catalogTrack struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Artists     []struct {
		Name string `json:"name"`
	} `json:"artists"`
	ExternalIDs struct {
		ISRC string `json:"isrc"`
	} `json:"external_ids"`
	PreviewURL string `json:"preview_url"`
}

func (tr catalogTrack) toDomain() domain.TrackIdentity {
	artists := make([]string, 0, len(tr.Artists))
	for _, a := range tr.Artists {
		artists = append(artists, a.Name)
	}
	return domain.TrackIdentity{
		TrackID:    tr.ID,
		ISRC:       tr.ExternalIDs.ISRC,
		Title:      tr.Name,
		Artists:    artists,
		PreviewURL: tr.PreviewURL,
	}
}
