package domain

import (
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }

func TestFeatureRecord_Servable(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		rec  FeatureRecord
		want bool
	}{
		{
			name: "fresh record with selected tempo",
			rec: FeatureRecord{
				Essentia:    AnalysisOutcome{Tempo: &TempoEstimate{BPM: 120, Confidence: 0.9}},
				TempoSource: SourceEssentia,
				UpdatedAt:   now.Add(-time.Hour),
			},
			want: true,
		},
		{
			name: "identity mismatch never serves regardless of age",
			rec: FeatureRecord{
				Essentia:         AnalysisOutcome{Tempo: &TempoEstimate{BPM: 120, Confidence: 0.9}},
				TempoSource:      SourceEssentia,
				IdentityMismatch: true,
				UpdatedAt:        now.Add(-time.Minute),
			},
			want: false,
		},
		{
			name: "no selected tempo",
			rec: FeatureRecord{
				Error:     "no preview audio available from any provider",
				UpdatedAt: now.Add(-time.Hour),
			},
			want: false,
		},
		{
			name: "95 days old is past the 90 day TTL",
			rec: FeatureRecord{
				Essentia:    AnalysisOutcome{Tempo: &TempoEstimate{BPM: 120, Confidence: 0.9}},
				TempoSource: SourceEssentia,
				UpdatedAt:   now.Add(-95 * 24 * time.Hour),
			},
			want: false,
		},
		{
			name: "manual pin serves even without algorithm data",
			rec: FeatureRecord{
				Manual:      ManualOverride{BPM: floatPtr(100)},
				TempoSource: SourceManual,
				UpdatedAt:   now.Add(-time.Hour),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Servable(now); got != tt.want {
				t.Fatalf("Servable: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeatureRecord_ServedTempo(t *testing.T) {
	rec := FeatureRecord{
		Essentia:    AnalysisOutcome{Tempo: &TempoEstimate{BPM: 120, Confidence: 0.5}},
		Aubio:       AnalysisOutcome{Tempo: &TempoEstimate{BPM: 128, Confidence: 0.9}},
		TempoSource: SourceAubio,
	}

	if bpm, ok := rec.ServedTempo(); !ok || bpm != 128 {
		t.Fatalf("expected aubio tempo 128, got %v ok=%v", bpm, ok)
	}

	rec.Manual.BPM = floatPtr(99)
	if bpm, ok := rec.ServedTempo(); !ok || bpm != 99 {
		t.Fatalf("manual pin should win, got %v ok=%v", bpm, ok)
	}
}

func TestFeatureRecord_ApplyAnalysis(t *testing.T) {
	t.Run("selection recorded from estimates", func(t *testing.T) {
		var rec FeatureRecord
		rec.ApplyAnalysis(AnalysisResult{
			Essentia: AnalysisOutcome{
				Tempo: &TempoEstimate{BPM: 120, Confidence: 0.6},
				Key:   &KeyEstimate{Key: "A", Scale: ScaleMinor, Confidence: 0.7},
			},
			Aubio: AnalysisOutcome{
				Tempo: &TempoEstimate{BPM: 121, Confidence: 0.8},
			},
		})

		if rec.TempoSource != SourceAubio {
			t.Fatalf("tempo source: got %q, want aubio", rec.TempoSource)
		}
		if rec.KeySource != SourceEssentia {
			t.Fatalf("key source: got %q, want essentia", rec.KeySource)
		}
	})

	t.Run("second run with same data does not oscillate", func(t *testing.T) {
		result := AnalysisResult{
			Essentia: AnalysisOutcome{Tempo: &TempoEstimate{BPM: 120, Confidence: 0.5}},
			Aubio:    AnalysisOutcome{Tempo: &TempoEstimate{BPM: 140, Confidence: 0.5}},
		}
		var rec FeatureRecord
		rec.ApplyAnalysis(result)
		first := rec.TempoSource
		rec.ApplyAnalysis(result)
		if rec.TempoSource != first {
			t.Fatalf("selection oscillated: %q then %q", first, rec.TempoSource)
		}
	})

	t.Run("manual pin survives recompute", func(t *testing.T) {
		rec := FeatureRecord{
			Manual:      ManualOverride{BPM: floatPtr(90)},
			TempoSource: SourceManual,
		}
		rec.ApplyAnalysis(AnalysisResult{
			Essentia: AnalysisOutcome{Tempo: &TempoEstimate{BPM: 120, Confidence: 0.9}},
		})

		if rec.TempoSource != SourceManual {
			t.Fatalf("tempo source: got %q, want manual", rec.TempoSource)
		}
		if bpm, _ := rec.ServedTempo(); bpm != 90 {
			t.Fatalf("served tempo: got %v, want pinned 90", bpm)
		}
		// The algorithmic value is still recorded underneath the pin.
		if rec.Essentia.Tempo == nil || rec.Essentia.Tempo.BPM != 120 {
			t.Fatal("algorithmic tempo should be stored alongside the pin")
		}
	})
}

func TestPreferredPreviewURL(t *testing.T) {
	tests := []struct {
		name       string
		successful string
		attempted  []string
		want       string
	}{
		{
			name:       "deezer cdn url preferred over recorded one",
			successful: "https://audio-ssl.itunes.apple.com/clip.m4a",
			attempted:  []string{"https://cdnt-preview.dzcdn.net/api/1/1/a/b.mp3", "https://audio-ssl.itunes.apple.com/clip.m4a"},
			want:       "https://cdnt-preview.dzcdn.net/api/1/1/a/b.mp3",
		},
		{
			name:       "no deezer url falls back to successful",
			successful: "https://audio-ssl.itunes.apple.com/clip.m4a",
			attempted:  []string{"https://audio-ssl.itunes.apple.com/clip.m4a"},
			want:       "https://audio-ssl.itunes.apple.com/clip.m4a",
		},
		{
			name: "all empty",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PreferredPreviewURL(tt.successful, tt.attempted); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
