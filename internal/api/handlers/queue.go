package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"surfacescan/internal/api"
	"surfacescan/internal/apierror"
	"surfacescan/internal/queue"
)

// QueueHandler serves the dead-letter inspection endpoint gated by
// FeatureFlags.DLQInspectionAPI, per spec §9's supplemented feature:
// an operator-facing window into scans that exhausted their retries
// without exposing a general queue-admin surface.
type QueueHandler struct {
	queue  queue.Queue
	errors *apierror.Handler
	logger *zap.Logger
}

// NewQueueHandler builds a QueueHandler.
func NewQueueHandler(q queue.Queue, errors *apierror.Handler, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{queue: q, errors: errors, logger: logger}
}

// deadLetterView bundles both the scan and analysis queues' dead
// letters, since a caller inspecting stuck jobs cares about either.
type deadLetterView struct {
	ScanQueue     []queue.Job `json:"scanQueue"`
	AnalysisQueue []queue.Job `json:"analysisQueue"`
}

// DeadLetters handles GET /api/queue/dlq.
func (h *QueueHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	scanDLQ, err := h.queue.ListDeadLetters(r.Context(), queue.ScanQueueName, limit)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.ExternalServiceError{Code: apierror.CodeQueueError, Service: "queue", Message: "failed to list scan-queue dead letters"})
		return
	}
	analysisDLQ, err := h.queue.ListDeadLetters(r.Context(), queue.AnalysisQueueName, limit)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.ExternalServiceError{Code: apierror.CodeQueueError, Service: "queue", Message: "failed to list analysis-queue dead letters"})
		return
	}

	api.WriteJSON(w, http.StatusOK, deadLetterView{ScanQueue: scanDLQ, AnalysisQueue: analysisDLQ})
}

// Metrics handles GET /api/queue/metrics: a point-in-time view of
// both queues, useful alongside /metrics' Prometheus series for
// ad-hoc inspection.
func (h *QueueHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	scanMetrics, err := h.queue.Metrics(r.Context(), queue.ScanQueueName)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.ExternalServiceError{Code: apierror.CodeQueueError, Service: "queue", Message: "failed to read scan-queue metrics"})
		return
	}
	analysisMetrics, err := h.queue.Metrics(r.Context(), queue.AnalysisQueueName)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.ExternalServiceError{Code: apierror.CodeQueueError, Service: "queue", Message: "failed to read analysis-queue metrics"})
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]*queue.Metrics{
		"scanQueue":     scanMetrics,
		"analysisQueue": analysisMetrics,
	})
}
