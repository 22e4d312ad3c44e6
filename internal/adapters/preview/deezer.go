// Package preview implements the provider cascade that resolves a playable,
// identity-verified preview clip for a track.
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

// Candidate is one provider search hit.
type Candidate struct {
	Title      string
	Artist     string
	ISRC       string // empty when the provider did not report one
	PreviewURL string
}

// DeezerClient talks to the Deezer public API, which supports both direct
// ISRC lookup and free-text search.
type DeezerClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewDeezerClient constructs a Deezer client. rps bounds outbound requests
// per second; Deezer throttles aggressively above 10.
func NewDeezerClient(httpClient *http.Client, baseURL string, rps float64) *DeezerClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if rps <= 0 {
		rps = 5
	}
	return &DeezerClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type deezerTrack struct {
	Title   string `json:"title"`
	ISRC    string `json:"isrc"`
	Preview string `json:"preview"`
	Artist  struct {
		Name string `json:"name"`
	} `json:"artist"`
	Readable bool `json:"readable"`
}

func (t deezerTrack) candidate() Candidate {
	return Candidate{
		Title:      t.Title,
		Artist:     t.Artist.Name,
		ISRC:       t.ISRC,
		PreviewURL: t.Preview,
	}
}

// TrackByISRC looks up the single track Deezer has for a recording id. A
// result found this way needs no further identity check: the query is the
// identifier. Returns (nil, nil) when Deezer has no match.
func (c *DeezerClient) TrackByISRC(ctx context.Context, isrc string) (*Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/track/isrc:%s", c.baseURL, url.PathEscape(isrc))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("deezer: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deezer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deezer: status %d", resp.StatusCode)
	}

	var tr struct {
		deezerTrack
		Error *struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("deezer: %w", err)
	}
	// Deezer reports missing ISRCs as a 200 with an error object.
	if tr.Error != nil {
		return nil, nil
	}

	cand := tr.candidate()
	if cand.ISRC == "" {
		cand.ISRC = isrc
	}
	return &cand, nil
}

// Search runs a free-text search filtered to readable (playable) tracks.
func (c *DeezerClient) Search(ctx context.Context, query, market string) ([]Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", query)
	if market != "" {
		q.Set("country", market)
	}
	reqURL := fmt.Sprintf("%s/search/track?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("deezer: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deezer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deezer: status %d", resp.StatusCode)
	}

	var body struct {
		Data []deezerTrack `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("deezer: %w", err)
	}

	candidates := make([]Candidate, 0, len(body.Data))
	for _, tr := range body.Data {
		if !tr.Readable || tr.Preview == "" {
			continue
		}
		candidates = append(candidates, tr.candidate())
	}
	return candidates, nil
}
