package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
	"github.com/ewilliams-labs/cadenza/internal/worker"
)

// featureResponse is the outbound view of a cache record.
type featureResponse struct {
	TrackID          string   `json:"trackId"`
	ISRC             string   `json:"isrc,omitempty"`
	BPM              *float64 `json:"bpm,omitempty"`
	Key              *string  `json:"key,omitempty"`
	Scale            *string  `json:"scale,omitempty"`
	TempoSource      string   `json:"tempoSource,omitempty"`
	KeySource        string   `json:"keySource,omitempty"`
	Provider         string   `json:"provider,omitempty"`
	PreviewURL       string   `json:"previewUrl,omitempty"`
	IdentityMismatch bool     `json:"identityMismatch,omitempty"`
	Error            string   `json:"error,omitempty"`
	Stale            bool     `json:"stale,omitempty"`
	UpdatedAt        string   `json:"updatedAt,omitempty"`
}

func toFeatureResponse(rec domain.FeatureRecord) featureResponse {
	resp := featureResponse{
		TrackID:          rec.TrackID,
		ISRC:             rec.ISRC,
		TempoSource:      string(rec.TempoSource),
		KeySource:        string(rec.KeySource),
		Provider:         rec.Provider,
		PreviewURL:       rec.PreviewURL,
		IdentityMismatch: rec.IdentityMismatch,
		Error:            rec.Error,
		Stale:            !rec.Servable(time.Now()),
	}
	if bpm, ok := rec.ServedTempo(); ok {
		resp.BPM = &bpm
	}
	if key, scale, ok := rec.ServedKey(); ok {
		s := string(scale)
		resp.Key = &key
		resp.Scale = &s
	}
	if !rec.UpdatedAt.IsZero() {
		resp.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// TrackFeatures handles GET /v1/tracks/{id}/features. Terminal resolution
// failures still answer 200 with the diagnostic record; only malformed ids
// and unknown tracks are plain errors.
func (h *Handler) TrackFeatures(w http.ResponseWriter, r *http.Request) {
	trackID := r.PathValue("id")

	rec, err := h.svc.TrackFeatures(r.Context(), trackID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTrackID):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "track not found")
			return
		case rec.TrackID != "":
			// Persisted terminal failure: serve the diagnostic record.
		default:
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, toFeatureResponse(rec))
}

type overrideRequest struct {
	BPM   *float64 `json:"bpm"`
	Key   *string  `json:"key"`
	Scale *string  `json:"scale"`
}

// SetOverride handles PUT /v1/tracks/{id}/override.
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BPM == nil && req.Key == nil {
		writeError(w, http.StatusBadRequest, "at least one of bpm or key is required")
		return
	}

	ov := domain.ManualOverride{BPM: req.BPM, Key: req.Key}
	if req.Scale != nil {
		scale := domain.Scale(*req.Scale)
		if scale != domain.ScaleMajor && scale != domain.ScaleMinor {
			writeError(w, http.StatusBadRequest, "scale must be major or minor")
			return
		}
		ov.Scale = &scale
	}

	rec, err := h.svc.ApplyOverride(r.Context(), r.PathValue("id"), ov)
	if err != nil {
		writeOverrideError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeatureResponse(rec))
}

// ClearOverride handles DELETE /v1/tracks/{id}/override.
func (h *Handler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.ClearOverride(r.Context(), r.PathValue("id"))
	if err != nil {
		writeOverrideError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeatureResponse(rec))
}

// Recompute handles POST /v1/tracks/{id}/recompute: the explicit caller
// action for retrying after an analysis failure. Runs in the background.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	trackID := r.PathValue("id")
	if err := domain.ValidateTrackID(trackID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.pool.Submit(worker.Job{TrackID: trackID})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "trackId": trackID})
}

func writeOverrideError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTrackID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no record for track")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
