package domain

import "time"

// FeatureTTL is how long a computed record may serve before recomputation.
const FeatureTTL = 90 * 24 * time.Hour

// ManualOverride holds operator-pinned values. A pinned value always serves
// ahead of the algorithmic ones, and survives automated recomputes until it
// is explicitly cleared.
type ManualOverride struct {
	BPM   *float64
	Key   *string
	Scale *Scale
}

// Empty reports whether no field is pinned.
func (m ManualOverride) Empty() bool {
	return m.BPM == nil && m.Key == nil && m.Scale == nil
}

// FeatureRecord is the persisted cache entity for one track. It is created on
// the first resolution attempt, successful or not, and merged on every
// subsequent one; it is never deleted by normal operation.
type FeatureRecord struct {
	TrackID string
	ISRC    string // empty when the catalog reported none

	Essentia AnalysisOutcome
	Aubio    AnalysisOutcome

	TempoSource Source // which algorithm (or manual pin) serves the tempo
	KeySource   Source

	Manual ManualOverride

	// Resolution provenance. Always overwritten by the latest attempt.
	Provider         string
	AttemptedURLs    []string
	PreviewURL       string
	IdentityMismatch bool

	Error     string // last attempt's failure, empty on success
	Trace     string // free-form debug trace of the last attempt
	UpdatedAt time.Time
}

// Fresh reports whether the record is younger than the cache TTL.
func (r *FeatureRecord) Fresh(now time.Time) bool {
	return now.Sub(r.UpdatedAt) < FeatureTTL
}

// Servable reports whether the record is a valid cache hit: it has a served
// tempo, is fresh, and was not flagged as an identity mismatch. A mismatch
// record never serves regardless of age. Records that fail this check are
// still returned by lookups so callers can reuse diagnostics.
func (r *FeatureRecord) Servable(now time.Time) bool {
	if r.IdentityMismatch {
		return false
	}
	if _, ok := r.ServedTempo(); !ok {
		return false
	}
	return r.Fresh(now)
}

// ServedTempo returns the tempo value to display: the manual pin when one is
// set, otherwise the selected algorithm's estimate.
func (r *FeatureRecord) ServedTempo() (float64, bool) {
	if r.Manual.BPM != nil {
		return *r.Manual.BPM, true
	}
	switch r.TempoSource {
	case SourceEssentia:
		if r.Essentia.Tempo != nil {
			return r.Essentia.Tempo.BPM, true
		}
	case SourceAubio:
		if r.Aubio.Tempo != nil {
			return r.Aubio.Tempo.BPM, true
		}
	}
	return 0, false
}

// ServedKey returns the key and scale to display, manual pin first.
func (r *FeatureRecord) ServedKey() (string, Scale, bool) {
	if r.Manual.Key != nil {
		scale := ScaleMajor
		if r.Manual.Scale != nil {
			scale = *r.Manual.Scale
		}
		return *r.Manual.Key, scale, true
	}
	switch r.KeySource {
	case SourceEssentia:
		if r.Essentia.Key != nil {
			return r.Essentia.Key.Key, r.Essentia.Key.Scale, true
		}
	case SourceAubio:
		if r.Aubio.Key != nil {
			return r.Aubio.Key.Key, r.Aubio.Key.Scale, true
		}
	}
	return "", "", false
}

// ApplyAnalysis stores a fresh analysis result on the record and re-runs the
// selection rule. Manual pins are left alone: the algorithmic sources are
// still recorded so clearing a pin falls back to them.
func (r *FeatureRecord) ApplyAnalysis(res AnalysisResult) {
	if !res.Essentia.Empty() {
		r.Essentia = res.Essentia
	}
	if !res.Aubio.Empty() {
		r.Aubio = res.Aubio
	}
	if r.Manual.BPM == nil {
		if src, ok := SelectTempo(r.Essentia.Tempo, r.Aubio.Tempo); ok {
			r.TempoSource = src
		}
	} else {
		r.TempoSource = SourceManual
	}
	if r.Manual.Key == nil {
		if src, ok := SelectKey(r.Essentia.Key, r.Aubio.Key); ok {
			r.KeySource = src
		}
	} else {
		r.KeySource = SourceManual
	}
}
