package analysis

import "github.com/ewilliams-labs/cadenza/internal/core/domain"

// algorithmResult is one algorithm's output on the wire. Tempo and key fields
// are pointers because either group may be absent independently.
type algorithmResult struct {
	BPM           *float64 `json:"bpm"`
	BPMRaw        *float64 `json:"bpmRaw"`
	BPMConfidence *float64 `json:"bpmConfidence"`
	Key           *string  `json:"key"`
	Scale         *string  `json:"scale"`
	KeyConfidence *float64 `json:"keyConfidence"`
}

// resultPair is the two-algorithm result for one submitted clip.
type resultPair struct {
	Essentia *algorithmResult `json:"essentia"`
	Aubio    *algorithmResult `json:"aubio"`
}

func (p resultPair) toDomain() domain.AnalysisResult {
	return domain.AnalysisResult{
		Essentia: toOutcome(p.Essentia),
		Aubio:    toOutcome(p.Aubio),
	}
}

func toOutcome(r *algorithmResult) domain.AnalysisOutcome {
	var out domain.AnalysisOutcome
	if r == nil {
		return out
	}

	if r.BPM != nil {
		t := domain.TempoEstimate{BPM: *r.BPM}
		if r.BPMRaw != nil {
			t.RawBPM = *r.BPMRaw
		} else {
			t.RawBPM = *r.BPM
		}
		if r.BPMConfidence != nil {
			t.Confidence = *r.BPMConfidence
		}
		out.Tempo = &t
	}

	if r.Key != nil {
		k := domain.KeyEstimate{Key: *r.Key, Scale: domain.ScaleMajor}
		if r.Scale != nil && *r.Scale == string(domain.ScaleMinor) {
			k.Scale = domain.ScaleMinor
		}
		if r.KeyConfidence != nil {
			k.Confidence = *r.KeyConfidence
		}
		out.Key = &k
	}

	return out
}
