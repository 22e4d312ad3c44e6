package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// ITunesClient talks to the iTunes Search API, the secondary search catalog
// of the cascade. ISRC coverage in its responses is spotty, so when a
// recording id is expected, many of its candidates fail verification.
type ITunesClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewITunesClient constructs an iTunes client. The Search API allows roughly
// 20 requests per minute per IP, so the default limiter is conservative.
func NewITunesClient(httpClient *http.Client, baseURL string, rps float64) *ITunesClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if rps <= 0 {
		rps = 0.3
	}
	return &ITunesClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Search runs a free-text song search in the given storefront country.
func (c *ITunesClient) Search(ctx context.Context, query, market string) ([]Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("term", query)
	q.Set("media", "music")
	q.Set("entity", "song")
	q.Set("limit", "10")
	if market != "" {
		q.Set("country", market)
	}
	reqURL := fmt.Sprintf("%s/search?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("itunes: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("itunes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("itunes: status %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			TrackName  string `json:"trackName"`
			ArtistName string `json:"artistName"`
			ISRC       string `json:"isrc"`
			PreviewURL string `json:"previewUrl"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("itunes: %w", err)
	}

	candidates := make([]Candidate, 0, len(body.Results))
	for _, r := range body.Results {
		if r.PreviewURL == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:      r.TrackName,
			Artist:     r.ArtistName,
			ISRC:       r.ISRC,
			PreviewURL: r.PreviewURL,
		})
	}
	return candidates, nil
}
