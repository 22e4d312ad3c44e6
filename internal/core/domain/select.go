package domain

// SelectTempo picks which algorithm's tempo estimate should serve. If only
// one algorithm produced an estimate that one wins; otherwise the strictly
// higher confidence wins. Exact ties go to essentia. This tie-break is
// load-bearing for cache idempotence and must not change.
func SelectTempo(essentia, aubio *TempoEstimate) (Source, bool) {
	switch {
	case essentia == nil && aubio == nil:
		return "", false
	case aubio == nil:
		return SourceEssentia, true
	case essentia == nil:
		return SourceAubio, true
	case aubio.Confidence > essentia.Confidence:
		return SourceAubio, true
	default:
		return SourceEssentia, true
	}
}

// SelectKey applies the same rule as SelectTempo, independently, to the key
// estimates.
func SelectKey(essentia, aubio *KeyEstimate) (Source, bool) {
	switch {
	case essentia == nil && aubio == nil:
		return "", false
	case aubio == nil:
		return SourceEssentia, true
	case essentia == nil:
		return SourceAubio, true
	case aubio.Confidence > essentia.Confidence:
		return SourceAubio, true
	default:
		return SourceEssentia, true
	}
}
