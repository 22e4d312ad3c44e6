package preview

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

// similarityThreshold is the minimum Jaro-Winkler score for accepting a
// search candidate when no recording id is available to verify against.
const similarityThreshold = 0.85

// pickCandidate applies the identity rule to a provider's search results.
//
// When an expected ISRC exists, only an exact ISRC match is acceptable:
// candidates that report a different id are wrong recordings, candidates that
// report none cannot be verified. If candidates exist but none match, the
// second return is true: an identity mismatch, which is a failure, never a
// low-confidence success.
//
// Without an expected ISRC, the best similarity-scored candidate above the
// threshold wins.
func pickCandidate(identity domain.TrackIdentity, candidates []Candidate) (*Candidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	if identity.ISRC != "" {
		for i := range candidates {
			if candidates[i].ISRC == identity.ISRC {
				return &candidates[i], false
			}
		}
		return nil, true
	}

	query := strings.ToLower(identity.Query())
	jw := metrics.NewJaroWinkler()

	var best *Candidate
	var bestScore float64
	for i := range candidates {
		cand := strings.ToLower(candidates[i].Artist + " " + candidates[i].Title)
		score := strutil.Similarity(query, cand, jw)
		if score >= similarityThreshold && score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	return best, false
}
