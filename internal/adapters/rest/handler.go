// Package rest exposes the feature engine over HTTP.
package rest

import (
	"context"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ewilliams-labs/cadenza/internal/core/services"
	"github.com/ewilliams-labs/cadenza/internal/worker"
)

// Handler manages the HTTP interface for the feature engine.
type Handler struct {
	svc    *services.Orchestrator
	pool   *worker.Pool
	router *http.ServeMux
	log    *log.Logger

	// One in-flight batch stream per caller session: a new request for the
	// same session supersedes and cancels the previous one.
	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	cancel context.CancelFunc
}

// NewHandler initializes the HTTP adapter and sets up routes.
func NewHandler(svc *services.Orchestrator, pool *worker.Pool, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		svc:      svc,
		pool:     pool,
		router:   http.NewServeMux(),
		log:      logger,
		sessions: make(map[string]*session),
	}
	h.routes()
	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.HandleFunc("GET /healthz", h.HealthCheck)
	h.router.HandleFunc("GET /v1/tracks/{id}/features", h.TrackFeatures)
	h.router.HandleFunc("POST /v1/features/batch", h.StreamBatch)
	h.router.HandleFunc("PUT /v1/tracks/{id}/override", h.SetOverride)
	h.router.HandleFunc("DELETE /v1/tracks/{id}/override", h.ClearOverride)
	h.router.HandleFunc("POST /v1/tracks/{id}/recompute", h.Recompute)
}

// HealthCheck is a simple endpoint to verify the API is running.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// beginSession registers a batch stream for a session id, cancelling any
// previous stream still running for the same session.
func (h *Handler) beginSession(parent context.Context, sessionID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if sessionID == "" {
		return ctx, cancel
	}

	s := &session{cancel: cancel}
	h.mu.Lock()
	if prev, ok := h.sessions[sessionID]; ok {
		prev.cancel()
	}
	h.sessions[sessionID] = s
	h.mu.Unlock()

	return ctx, func() {
		h.mu.Lock()
		// A superseding request may have replaced the entry already.
		if current, ok := h.sessions[sessionID]; ok && current == s {
			delete(h.sessions, sessionID)
		}
		h.mu.Unlock()
		cancel()
	}
}
