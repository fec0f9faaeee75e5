package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"surfacescan/internal/api"
	"surfacescan/internal/database"
	"surfacescan/internal/objectstore"
	"surfacescan/internal/observability"
	"surfacescan/internal/queue"
)

// HealthHandler serves the liveness/readiness/health probes, grounded
// on the teacher's health-check handler shape but widened to cover
// this system's three backing dependencies (database, queue, object
// store) rather than one.
type HealthHandler struct {
	db          database.Database
	queue       queue.Queue
	store       objectstore.Store
	storeEnabled bool
	logger      *zap.Logger
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(db database.Database, q queue.Queue, store objectstore.Store, storeEnabled bool, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, queue: q, store: store, storeEnabled: storeEnabled, logger: logger}
}

// Live handles GET /health/live: the process is up and serving
// requests, regardless of backing dependency health.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready: every backing dependency this
// process needs to do useful work is reachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if err := h.db.Health(r.Context()); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.queue.Health(r.Context()); err != nil {
		checks["queue"] = err.Error()
		healthy = false
	} else {
		checks["queue"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, status, map[string]interface{}{
		"status": map[bool]string{true: "ready", false: "not_ready"}[healthy],
		"checks": checks,
	})
}

// Health handles GET /health: a fuller diagnostic snapshot including
// host resource usage, per spec §6.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	snapshot := observability.CaptureResourceSnapshot(r.Context())

	checks := map[string]string{}
	if err := h.db.Health(r.Context()); err != nil {
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}
	if err := h.queue.Health(r.Context()); err != nil {
		checks["queue"] = err.Error()
	} else {
		checks["queue"] = "ok"
	}
	if h.storeEnabled {
		checks["objectStore"] = "enabled"
	} else {
		checks["objectStore"] = "disabled"
	}

	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"checks":    checks,
		"resources": snapshot,
	})
}
