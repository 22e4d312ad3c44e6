package ports

import (
	"context"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

// StreamedResult is one progressive result from a batch analysis submission.
// Index refers back to the position of the URL in the submitted slice.
type StreamedResult struct {
	Index  int
	Result domain.AnalysisResult
	Err    error
}

// AnalysisService talks to the external tempo/key analysis compute service.
type AnalysisService interface {
	// Analyze submits a single URL as a batch of one and blocks until the
	// job completes or the poll deadline passes. Failures are not retried
	// at this layer.
	Analyze(ctx context.Context, url string) (domain.AnalysisResult, error)

	// AnalyzeBatch submits up to the service's chunk limit of URLs and
	// returns a channel of progressive results, closed after the terminal
	// event. The channel is bounded; the reader paces the network consumer.
	AnalyzeBatch(ctx context.Context, urls []string) (<-chan StreamedResult, error)
}
