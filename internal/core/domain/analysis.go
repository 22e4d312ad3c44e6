package domain

// Source names where a served tempo/key value came from.
type Source string

const (
	SourceEssentia Source = "essentia" // algorithm A
	SourceAubio    Source = "aubio"    // algorithm B
	SourceManual   Source = "manual"
)

// Scale is the mode of a detected musical key.
type Scale string

const (
	ScaleMajor Scale = "major"
	ScaleMinor Scale = "minor"
)

// TempoEstimate is one algorithm's tempo reading for a clip.
type TempoEstimate struct {
	BPM        float64
	RawBPM     float64 // unrounded value as reported by the algorithm
	Confidence float64 // in [0,1]
}

// KeyEstimate is one algorithm's key reading for a clip.
type KeyEstimate struct {
	Key        string
	Scale      Scale
	Confidence float64 // in [0,1]
}

// AnalysisOutcome holds what a single algorithm produced for a clip. Either
// field may be nil when the algorithm did not produce a usable result.
type AnalysisOutcome struct {
	Tempo *TempoEstimate
	Key   *KeyEstimate
}

// Empty reports whether the algorithm produced nothing usable.
func (o AnalysisOutcome) Empty() bool {
	return o.Tempo == nil && o.Key == nil
}

// AnalysisResult pairs the two independent algorithm outcomes for one clip.
type AnalysisResult struct {
	Essentia AnalysisOutcome
	Aubio    AnalysisOutcome
}
