package domain

import "strings"

// PreviewResolution is the outcome of the preview cascade for one track.
type PreviewResolution struct {
	Provider  string   // provider that supplied the winning URL, empty on failure
	URL       string   // the URL that ultimately succeeded, empty on failure
	Attempted []string // every URL attempted, in cascade order

	// IdentityMismatch is set when candidates existed but none matched the
	// expected recording id. A resolution with this flag is a failure even
	// though Attempted may contain playable URLs.
	IdentityMismatch bool
}

// Found reports whether the cascade produced a usable, identity-verified URL.
func (r PreviewResolution) Found() bool {
	return r.URL != "" && !r.IdentityMismatch
}

// PreferredPreviewURL picks the most likely still-valid preview URL for a
// record being returned to a caller. Deezer CDN links outlive the recorded
// successful URL far more often than the others, so one from the attempted
// list is preferred when present.
func PreferredPreviewURL(successful string, attempted []string) string {
	for _, u := range attempted {
		if strings.Contains(u, "dzcdn.net") || strings.Contains(u, "deezer.com") {
			return u
		}
	}
	return successful
}
