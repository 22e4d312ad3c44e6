package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the catalog has no track for the given id.
var ErrNotFound = errors.New("domain: not found")

// ErrInvalidTrackID indicates a malformed catalog track id. This is checked
// before any network call is made.
var ErrInvalidTrackID = errors.New("domain: invalid track id")

// ErrNoPreview indicates the preview cascade was exhausted without a result.
var ErrNoPreview = errors.New("domain: no preview available")

// ErrIdentityMismatch indicates a preview candidate was found but its reported
// recording id disagrees with the expected one.
var ErrIdentityMismatch = errors.New("domain: preview identity mismatch")

// ErrAnalysisFailed indicates the external analysis service failed or timed out.
var ErrAnalysisFailed = errors.New("domain: analysis failed")

// ValidationError reports a syntactically invalid catalog track id.
type ValidationError struct {
	TrackID string
	Reason  string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid track id %q: %s", e.TrackID, e.Reason)
}

func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidTrackID
}

// IdentityMismatchError provides context for a rejected preview candidate.
type IdentityMismatchError struct {
	Provider     string
	ExpectedISRC string
	Candidates   int
}

func (e IdentityMismatchError) Error() string {
	return fmt.Sprintf("provider %s returned %d candidate(s), none matching ISRC %s",
		e.Provider, e.Candidates, e.ExpectedISRC)
}

func (e IdentityMismatchError) Is(target error) bool {
	return target == ErrIdentityMismatch
}

// NoPreviewError reports an exhausted cascade with the providers consulted.
type NoPreviewError struct {
	Providers []string
}

func (e NoPreviewError) Error() string {
	if len(e.Providers) == 0 {
		return ErrNoPreview.Error()
	}
	return fmt.Sprintf("no preview available after consulting %d provider(s)", len(e.Providers))
}

func (e NoPreviewError) Is(target error) bool {
	return target == ErrNoPreview
}

// AnalysisError wraps a failure from the external analysis service.
type AnalysisError struct {
	Stage string // "submit", "poll", "stream"
	Err   error
}

func (e AnalysisError) Error() string {
	return fmt.Sprintf("analysis %s failed: %v", e.Stage, e.Err)
}

func (e AnalysisError) Is(target error) bool {
	return target == ErrAnalysisFailed
}

func (e AnalysisError) Unwrap() error {
	return e.Err
}
