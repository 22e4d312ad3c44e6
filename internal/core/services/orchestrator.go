package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
	"github.com/ewilliams-labs/cadenza/internal/core/ports"
)

// ProbeFunc checks that a resolved preview URL is actually playable before
// the engine pays for analysis. nil disables probing.
type ProbeFunc func(ctx context.Context, url string) error

// Orchestrator coordinates catalog lookup, preview resolution, analysis and
// the feature cache. One instance owns the in-flight coalescing table, so a
// track id being resolved anywhere (single or batch path) is never resolved
// twice concurrently.
type Orchestrator struct {
	catalog  ports.CatalogProvider
	locator  ports.PreviewLocator
	analysis ports.AnalysisService
	repo     ports.FeatureRepository
	probe    ProbeFunc

	flight *coalescer
	market string
	log    *log.Logger
	now    func() time.Time
}

// NewOrchestrator constructs an Orchestrator. market is the country hint
// passed to the preview providers.
func NewOrchestrator(
	catalog ports.CatalogProvider,
	locator ports.PreviewLocator,
	analysis ports.AnalysisService,
	repo ports.FeatureRepository,
	probe ProbeFunc,
	market string,
	logger *log.Logger,
) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		catalog:  catalog,
		locator:  locator,
		analysis: analysis,
		repo:     repo,
		probe:    probe,
		flight:   newCoalescer(),
		market:   market,
		log:      logger,
		now:      time.Now,
	}
}

// TrackFeatures runs the full pipeline for one track: cache lookup, preview
// resolution, analysis, selection, persistence. Concurrent calls for the same
// uncached id share a single underlying attempt.
//
// Terminal resolution and analysis failures are persisted and returned as a
// record carrying the error text alongside the typed error, so callers can
// show diagnostics without recomputing.
func (o *Orchestrator) TrackFeatures(ctx context.Context, trackID string) (domain.FeatureRecord, error) {
	if err := domain.ValidateTrackID(trackID); err != nil {
		return domain.FeatureRecord{}, err
	}

	if rec, ok, err := o.cached(ctx, trackID, ""); err != nil {
		return domain.FeatureRecord{}, err
	} else if ok {
		return o.serve(rec), nil
	}

	return o.coalesced(ctx, trackID, false)
}

// Recompute forces a fresh pipeline run, ignoring cache validity. Manual
// overrides on the existing record survive.
func (o *Orchestrator) Recompute(ctx context.Context, trackID string) (domain.FeatureRecord, error) {
	if err := domain.ValidateTrackID(trackID); err != nil {
		return domain.FeatureRecord{}, err
	}
	return o.coalesced(ctx, trackID, true)
}

// ApplyOverride pins manual tempo/key values and returns the updated record.
func (o *Orchestrator) ApplyOverride(ctx context.Context, trackID string, ov domain.ManualOverride) (domain.FeatureRecord, error) {
	if err := domain.ValidateTrackID(trackID); err != nil {
		return domain.FeatureRecord{}, err
	}
	if ov.Empty() {
		return domain.FeatureRecord{}, fmt.Errorf("service: empty override")
	}
	if err := o.repo.SetManualOverride(ctx, trackID, ov); err != nil {
		return domain.FeatureRecord{}, fmt.Errorf("service: set override: %w", err)
	}
	rec, err := o.repo.Find(ctx, trackID, "")
	if err != nil {
		return domain.FeatureRecord{}, fmt.Errorf("service: reload record: %w", err)
	}
	return o.serve(rec), nil
}

// ClearOverride removes all manual pins and returns the updated record.
func (o *Orchestrator) ClearOverride(ctx context.Context, trackID string) (domain.FeatureRecord, error) {
	if err := domain.ValidateTrackID(trackID); err != nil {
		return domain.FeatureRecord{}, err
	}
	if err := o.repo.ClearManualOverride(ctx, trackID); err != nil {
		return domain.FeatureRecord{}, fmt.Errorf("service: clear override: %w", err)
	}
	rec, err := o.repo.Find(ctx, trackID, "")
	if err != nil {
		return domain.FeatureRecord{}, fmt.Errorf("service: reload record: %w", err)
	}
	return o.serve(rec), nil
}

// cached looks the track up and decides whether the stored record can answer
// without recomputation: either a servable hit, or a fresh negative result
// (failed attempt within the TTL window, kept so repeated queries return the
// same diagnostic answer instead of hammering providers).
func (o *Orchestrator) cached(ctx context.Context, trackID, isrc string) (domain.FeatureRecord, bool, error) {
	rec, err := o.repo.Find(ctx, trackID, isrc)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.FeatureRecord{}, false, nil
	}
	if err != nil {
		return domain.FeatureRecord{}, false, fmt.Errorf("service: cache lookup: %w", err)
	}

	now := o.now()
	if rec.Servable(now) {
		return rec, true, nil
	}
	if rec.Error != "" && rec.Fresh(now) {
		return rec, true, nil
	}
	return rec, false, nil
}

// coalesced funnels the computation for trackID through the in-flight table.
func (o *Orchestrator) coalesced(ctx context.Context, trackID string, force bool) (domain.FeatureRecord, error) {
	owner, ch := o.flight.join(trackID)
	if !owner {
		select {
		case out := <-ch:
			return out.rec, out.err
		case <-ctx.Done():
			return domain.FeatureRecord{}, ctx.Err()
		}
	}

	rec, err := o.compute(ctx, trackID, force)
	o.flight.complete(trackID, outcome{rec: rec, err: err})
	return rec, err
}

// compute is the single-track pipeline body. force skips the post-identity
// cache check used to reuse a record keyed by ISRC from another catalog id.
func (o *Orchestrator) compute(ctx context.Context, trackID string, force bool) (domain.FeatureRecord, error) {
	identity, err := o.catalog.GetTrack(ctx, trackID)
	if err != nil {
		return domain.FeatureRecord{}, fmt.Errorf("service: catalog lookup: %w", err)
	}

	if !force && identity.ISRC != "" {
		if rec, ok, err := o.cached(ctx, trackID, identity.ISRC); err != nil {
			return domain.FeatureRecord{}, err
		} else if ok {
			return o.serve(rec), nil
		}
	}

	rec, err := o.resolveStage(ctx, identity)
	if err != nil {
		return o.serve(rec), err
	}

	result, err := o.analysis.Analyze(ctx, rec.PreviewURL)
	if err != nil {
		rec.Error = fmt.Sprintf("analysis failed: %v", err)
		rec.UpdatedAt = o.now()
		o.persist(ctx, rec)
		return o.serve(rec), domain.AnalysisError{Stage: "poll", Err: err}
	}

	rec.ApplyAnalysis(result)
	rec.Error = ""
	rec.UpdatedAt = o.now()
	if err := o.repo.Upsert(ctx, rec); err != nil {
		return domain.FeatureRecord{}, fmt.Errorf("service: persist record: %w", err)
	}
	o.log.Debug("analyzed track", "track", trackID, "provider", rec.Provider)
	return o.serve(rec), nil
}

// resolveStage fetches the preview for an identity and persists terminal
// failures. On success the returned record carries provenance and the
// playable URL but no analysis data yet.
func (o *Orchestrator) resolveStage(ctx context.Context, identity domain.TrackIdentity) (domain.FeatureRecord, error) {
	prior, _ := o.repo.Find(ctx, identity.TrackID, identity.ISRC)

	rec := domain.FeatureRecord{
		TrackID: identity.TrackID,
		ISRC:    identity.ISRC,
		Manual:  prior.Manual,
	}

	res, err := o.locator.Locate(ctx, identity, o.market)
	rec.Provider = res.Provider
	rec.AttemptedURLs = res.Attempted
	rec.PreviewURL = res.URL
	rec.IdentityMismatch = res.IdentityMismatch
	rec.Trace = fmt.Sprintf("cascade attempted %d url(s)", len(res.Attempted))

	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdentityMismatch):
			rec.Error = "preview identity mismatch: found audio belongs to a different recording"
		case errors.Is(err, domain.ErrNoPreview):
			rec.Error = "no preview audio available from any provider"
		default:
			rec.Error = fmt.Sprintf("preview resolution failed: %v", err)
		}
		rec.UpdatedAt = o.now()
		o.persist(ctx, rec)
		return rec, err
	}

	if o.probe != nil {
		if perr := o.probe(ctx, rec.PreviewURL); perr != nil {
			rec.Error = fmt.Sprintf("preview unusable: %v", perr)
			rec.Trace += "; probe rejected preview"
			rec.UpdatedAt = o.now()
			o.persist(ctx, rec)
			return rec, domain.NoPreviewError{Providers: []string{rec.Provider}}
		}
	}

	return rec, nil
}

// persist is a best-effort upsert used on failure paths, where the pipeline
// error matters more to the caller than a cache write hiccup.
func (o *Orchestrator) persist(ctx context.Context, rec domain.FeatureRecord) {
	if err := o.repo.Upsert(ctx, rec); err != nil {
		o.log.Warn("failed to persist record", "track", rec.TrackID, "err", err)
	}
}

// serve applies the outbound view rules to a record: every code path that
// hands a record to a caller prefers the attempted-list Deezer URL over the
// recorded successful one, since those links stay playable longer.
func (o *Orchestrator) serve(rec domain.FeatureRecord) domain.FeatureRecord {
	rec.PreviewURL = domain.PreferredPreviewURL(rec.PreviewURL, rec.AttemptedURLs)
	return rec
}
