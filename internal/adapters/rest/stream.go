package rest

import (
	"encoding/json"
	"net/http"
)

type batchRequest struct {
	TrackIDs  []string `json:"trackIds"`
	SessionID string   `json:"sessionId"`
}

// batchEvent is one NDJSON line on the batch response stream.
type batchEvent struct {
	Type    string           `json:"type"` // "result" or "done"
	TrackID string           `json:"trackId,omitempty"`
	Cached  bool             `json:"cached,omitempty"`
	Error   string           `json:"error,omitempty"`
	Record  *featureResponse `json:"record,omitempty"`
	Count   int              `json:"count,omitempty"`
}

// StreamBatch handles POST /v1/features/batch. Results are written as NDJSON
// lines as they arrive, so large playlists render incrementally. A request
// carrying the same sessionId as a stream still in flight supersedes it.
func (h *Handler) StreamBatch(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.TrackIDs) == 0 {
		writeError(w, http.StatusBadRequest, "trackIds is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, done := h.beginSession(r.Context(), req.SessionID)
	defer done()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	count := 0
	for item := range h.svc.StreamFeatures(ctx, req.TrackIDs) {
		ev := batchEvent{Type: "result", TrackID: item.TrackID, Cached: item.Cached}
		if item.Err != nil {
			ev.Error = item.Err.Error()
		}
		if item.Record.TrackID != "" {
			rec := toFeatureResponse(item.Record)
			ev.Record = &rec
		}
		if err := enc.Encode(ev); err != nil {
			h.log.Debug("batch stream consumer went away", "err", err)
			return
		}
		flusher.Flush()
		count++
	}

	if ctx.Err() == nil {
		_ = enc.Encode(batchEvent{Type: "done", Count: count})
		flusher.Flush()
	}
}
