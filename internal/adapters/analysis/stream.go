package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/ewilliams-labs/cadenza/internal/core/ports"
)

// streamChannelBuffer bounds the in-memory result queue. The network read
// blocks when the consumer falls behind, which is the backpressure mechanism
// for very large playlists.
const streamChannelBuffer = 8

// maxBatchURLs is the service's per-submission limit.
const maxBatchURLs = 20

// streamEvent is one NDJSON line from the progressive endpoint.
type streamEvent struct {
	Type    string `json:"type"` // "result", "done" or "error"
	Index   int    `json:"index"`
	Count   int    `json:"count"`
	Message string `json:"message"`
	resultPair
}

// AnalyzeBatch submits up to maxBatchURLs clips and returns a bounded channel
// of progressive results, keyed by submission index. The channel closes after
// the service's terminal event, a stream error, or context cancellation.
func (c *Client) AnalyzeBatch(ctx context.Context, urls []string) (<-chan ports.StreamedResult, error) {
	if len(urls) == 0 {
		return nil, errors.New("analysis: empty batch")
	}
	if len(urls) > maxBatchURLs {
		return nil, fmt.Errorf("analysis: batch of %d exceeds limit %d", len(urls), maxBatchURLs)
	}

	body, err := json.Marshal(submitRequest{
		URLs:    urls,
		Options: submitOptions{MaxConfidence: 1.0},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/batch/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("analysis: stream status %d", resp.StatusCode)
	}

	out := make(chan ports.StreamedResult, streamChannelBuffer)
	go c.consumeStream(ctx, resp, out)
	return out, nil
}

func (c *Client) consumeStream(ctx context.Context, resp *http.Response, out chan<- ports.StreamedResult) {
	defer close(out)
	defer resp.Body.Close()

	// Closing the body on cancellation unblocks the scanner read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.log.Warn("skipping malformed stream line", "err", err)
			continue
		}

		switch ev.Type {
		case "result":
			// A negative index on the channel is reserved for this
			// adapter's own terminal failure signal.
			if ev.Index < 0 {
				c.log.Warn("skipping result with negative index", "index", ev.Index)
				continue
			}
			select {
			case out <- ports.StreamedResult{Index: ev.Index, Result: ev.resultPair.toDomain()}:
			case <-ctx.Done():
				return
			}
		case "done":
			c.log.Debug("analysis stream complete", "count", ev.Count)
			return
		case "error":
			select {
			case out <- ports.StreamedResult{Index: -1, Err: fmt.Errorf("analysis: %s", ev.Message)}:
			case <-ctx.Done():
			}
			return
		default:
			c.log.Warn("unknown stream event type", "type", ev.Type)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case out <- ports.StreamedResult{Index: -1, Err: fmt.Errorf("analysis: read stream: %w", err)}:
		case <-ctx.Done():
		}
	}
}
