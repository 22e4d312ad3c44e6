package ports

import (
	"context"
	"time"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

// FeatureRepository is the persistent cache of analysis results.
type FeatureRepository interface {
	// Find looks a record up by ISRC first (when non-empty), falling back
	// to the track id. It returns domain.ErrNotFound when neither matches.
	// Records that are stale or mismatch-flagged are still returned;
	// validity is the caller's call via FeatureRecord.Servable.
	Find(ctx context.Context, trackID, isrc string) (domain.FeatureRecord, error)

	// Upsert merges the record into the store: value fields keep the
	// existing data when the incoming field is absent, error and
	// provenance fields always take the latest attempt, and manual
	// override fields are never touched.
	Upsert(ctx context.Context, rec domain.FeatureRecord) error

	// SetManualOverride pins tempo/key values for a track, independent of
	// TTL. Only non-nil fields of the override are applied.
	SetManualOverride(ctx context.Context, trackID string, o domain.ManualOverride) error

	// ClearManualOverride removes all pins and re-selects the serving
	// sources from the stored algorithm outcomes.
	ClearManualOverride(ctx context.Context, trackID string) error

	// Stale returns up to limit records last updated before the cutoff,
	// oldest first, for background refresh.
	Stale(ctx context.Context, cutoff time.Time, limit int) ([]domain.FeatureRecord, error)
}
