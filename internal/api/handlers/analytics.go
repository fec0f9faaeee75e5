package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"surfacescan/internal/api"
	"surfacescan/internal/apierror"
	"surfacescan/internal/database"
)

// AnalyticsHandler serves GET /api/analytics/summary.
type AnalyticsHandler struct {
	db     database.Database
	errors *apierror.Handler
	logger *zap.Logger
}

// NewAnalyticsHandler builds an AnalyticsHandler.
func NewAnalyticsHandler(db database.Database, errors *apierror.Handler, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{db: db, errors: errors, logger: logger}
}

// Summary handles GET /api/analytics/summary: aggregate counts across
// all scans, per spec §4.1.
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.db.GetAnalyticsSummary(r.Context())
	if err != nil {
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to compute analytics summary"})
		return
	}
	api.WriteJSON(w, http.StatusOK, summary)
}
