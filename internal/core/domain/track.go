package domain

import "strings"

// TrackIdentity carries the canonical catalog metadata for one track. It is
// fetched once per resolution attempt and threaded through the pipeline; it is
// never persisted directly.
type TrackIdentity struct {
	TrackID string
	ISRC    string // cross-catalog recording id, may be empty
	Title   string
	Artists []string

	// PreviewURL is the catalog's own inline preview clip, if it exposed one.
	// Used only as the last resort of the cascade.
	PreviewURL string
}

// Artist joins the performer names into a single display/search string.
func (t TrackIdentity) Artist() string {
	return strings.Join(t.Artists, " ")
}

// Query builds the free-text search query used by the fallback providers.
func (t TrackIdentity) Query() string {
	return strings.TrimSpace(t.Artist() + " " + t.Title)
}

const trackIDLength = 22

// ValidateTrackID checks the fixed-format catalog token (22 chars, base62)
// so malformed input short-circuits before any network call.
func ValidateTrackID(id string) error {
	if len(id) != trackIDLength {
		return ValidationError{TrackID: id, Reason: "must be 22 characters"}
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return ValidationError{TrackID: id, Reason: "must be base62"}
		}
	}
	return nil
}
