// Package analysis implements the client for the external tempo/key compute
// service. Clips are submitted as batch jobs; results are either polled until
// completion or consumed incrementally from a line-oriented event stream.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
	"github.com/ewilliams-labs/cadenza/internal/core/ports"
)

const (
	defaultPollInterval = time.Second
	defaultPollTimeout  = 120 * time.Second
)

// Client is an HTTP client for the analysis service. Every request carries an
// identity token scoped to the service address, minted by the injected token
// source.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokens       oauth2.TokenSource
	pollInterval time.Duration
	pollTimeout  time.Duration
	log          *log.Logger
}

var _ ports.AnalysisService = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithPolling overrides the poll interval and hard deadline.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout > 0 {
			c.pollTimeout = timeout
		}
	}
}

// NewClient constructs an analysis client. tokens may be nil in tests.
func NewClient(httpClient *http.Client, baseURL string, tokens oauth2.TokenSource, logger *log.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokens:       tokens,
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
		log:          logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitRequest struct {
	URLs    []string      `json:"urls"`
	Options submitOptions `json:"options"`
}

type submitOptions struct {
	MaxConfidence float64 `json:"maxConfidence"`
	DebugLevel    int     `json:"debugLevel"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

type statusResponse struct {
	Status    string                `json:"status"` // "pending" or "completed"
	Processed int                   `json:"processed"`
	Results   map[string]resultPair `json:"results"`
}

// Analyze submits a single URL as a batch of one and polls at a fixed
// interval until the job completes or the hard deadline passes. There is no
// retry at this layer: a timeout or bad response is fatal for the call.
func (c *Client) Analyze(ctx context.Context, url string) (domain.AnalysisResult, error) {
	jobID, err := c.submit(ctx, []string{url}, false)
	if err != nil {
		return domain.AnalysisResult{}, domain.AnalysisError{Stage: "submit", Err: err}
	}

	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.AnalysisResult{}, domain.AnalysisError{Stage: "poll", Err: ctx.Err()}
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return domain.AnalysisResult{}, domain.AnalysisError{
				Stage: "poll",
				Err:   fmt.Errorf("job %s did not complete within %s", jobID, c.pollTimeout),
			}
		}

		status, err := c.jobStatus(ctx, jobID)
		if err != nil {
			return domain.AnalysisResult{}, domain.AnalysisError{Stage: "poll", Err: err}
		}
		if status.Status != "completed" {
			continue
		}

		pair, ok := status.Results["0"]
		if !ok {
			return domain.AnalysisResult{}, domain.AnalysisError{
				Stage: "poll",
				Err:   fmt.Errorf("job %s completed without a result", jobID),
			}
		}
		return pair.toDomain(), nil
	}
}

// submit posts a batch of URLs. stream selects the incremental endpoint.
func (c *Client) submit(ctx context.Context, urls []string, stream bool) (string, error) {
	body, err := json.Marshal(submitRequest{
		URLs:    urls,
		Options: submitOptions{MaxConfidence: 1.0},
	})
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/v1/batch"
	if stream {
		endpoint += "/stream"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if err := c.authorize(req); err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("submit status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return sr.JobID, nil
}

func (c *Client) jobStatus(ctx context.Context, jobID string) (statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/batch/"+jobID, nil)
	if err != nil {
		return statusResponse{}, err
	}
	if err := c.authorize(req); err != nil {
		return statusResponse{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return statusResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusResponse{}, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return statusResponse{}, fmt.Errorf("decode status response: %w", err)
	}
	return status, nil
}

func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("identity token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}
