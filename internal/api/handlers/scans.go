// Package handlers implements the API gateway's HTTP handlers: scan
// submission/lookup, status, results, surface, analytics, and queue
// inspection, grounded on the teacher's internal/api/handlers package
// layout (one file per resource, a constructor taking the resource's
// dependencies, methods named after the REST operation).
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"surfacescan/internal/api"
	"surfacescan/internal/apierror"
	"surfacescan/internal/config"
	"surfacescan/internal/database"
	"surfacescan/internal/queue"
	"surfacescan/internal/ratelimit"
	"surfacescan/internal/ssrf"
	"surfacescan/internal/worker"
)

// defaultScanParameters fills in a ScanParameters zero value with the
// gateway's defaults, per spec §4.1.
var defaultScanParameters = database.ScanParameters{
	RenderJavaScript: true,
	TimeoutSeconds:   30,
	Depth:            1,
}

// ScansHandler serves the /api/scans resource: submission, lookup,
// listing, deletion, and the derived status/results/surface views.
type ScansHandler struct {
	db       database.Database
	queue    queue.Queue
	cooldown *ratelimit.Cooldown
	ssrfCfg  *config.SSRFConfig
	errors   *apierror.Handler
	logger   *zap.Logger

	scanMaxAttempts int
	scanBackoffBase time.Duration
	scanTimeout     time.Duration
}

// NewScansHandler builds a ScansHandler.
func NewScansHandler(db database.Database, q queue.Queue, cooldown *ratelimit.Cooldown, ssrfCfg *config.SSRFConfig, errors *apierror.Handler, logger *zap.Logger, qcfg config.QueueConfig) *ScansHandler {
	return &ScansHandler{
		db:              db,
		queue:           q,
		cooldown:        cooldown,
		ssrfCfg:         ssrfCfg,
		errors:          errors,
		logger:          logger,
		scanMaxAttempts: qcfg.MaxRetries,
		scanBackoffBase: qcfg.BaseBackoff,
		scanTimeout:     qcfg.VisibilityTimeout,
	}
}

// createScanRequest is the body POST /api/scans accepts.
type createScanRequest struct {
	URL        string                   `json:"url"`
	Parameters *partialScanParameters   `json:"parameters,omitempty"`
}

type partialScanParameters struct {
	RenderJavaScript *bool             `json:"renderJavaScript,omitempty"`
	TimeoutSeconds   *int              `json:"timeout,omitempty"`
	Depth            *int              `json:"depth,omitempty"`
	UserAgent        string            `json:"userAgent,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
}

func (p *partialScanParameters) merge() database.ScanParameters {
	out := defaultScanParameters
	if p == nil {
		return out
	}
	if p.RenderJavaScript != nil {
		out.RenderJavaScript = *p.RenderJavaScript
	}
	if p.TimeoutSeconds != nil {
		out.TimeoutSeconds = *p.TimeoutSeconds
	}
	if p.Depth != nil {
		out.Depth = *p.Depth
	}
	out.UserAgent = p.UserAgent
	out.Headers = p.Headers
	return out
}

// Create handles POST /api/scans: validates the target URL against
// the SSRF policy, enforces the per-URL submission cooldown, persists
// a pending Scan, and enqueues the render stage, per spec §4.1/§4.2.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createScanRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	req.URL = api.StripControlChars(req.URL)
	if req.URL == "" {
		h.errors.WriteError(w, r, &apierror.ValidationError{
			Code: apierror.CodeMissingRequiredField, Message: "url is required", Field: "url",
		})
		return
	}

	target, err := ssrf.ValidateTargetURL(ctx, req.URL, h.ssrfCfg)
	if err != nil {
		code := apierror.CodeInvalidTarget
		if errors.Is(err, ssrf.ErrResolutionFailed) {
			code = apierror.CodeDNSResolutionFailed
		}
		h.errors.WriteError(w, r, &apierror.ValidationError{Code: code, Message: err.Error(), Field: "url"})
		return
	}
	normalized := target.String()

	if inCooldown, retryAfter := h.cooldown.Check(normalized); inCooldown {
		h.errors.WriteError(w, r, &apierror.ConflictError{
			Code:       apierror.CodeCooldownActive,
			Message:    "a scan for this URL was submitted too recently",
			RetryAfter: retryAfter,
		})
		return
	}

	params := req.Parameters.merge()
	if params.TimeoutSeconds <= 0 || params.TimeoutSeconds > 120 {
		h.errors.WriteError(w, r, &apierror.ValidationError{
			Code: apierror.CodeInvalidFieldFormat, Message: "timeout must be between 1 and 120 seconds", Field: "parameters.timeout",
		})
		return
	}
	if params.Depth < 0 || params.Depth > 3 {
		h.errors.WriteError(w, r, &apierror.ValidationError{
			Code: apierror.CodeInvalidFieldFormat, Message: "depth must be between 0 and 3", Field: "parameters.depth",
		})
		return
	}

	scan := &database.Scan{
		ID:         uuid.NewString(),
		URL:        normalized,
		Parameters: params,
		Status:     database.ScanPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.db.CreateScan(ctx, scan); err != nil {
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to persist scan"})
		return
	}

	task := worker.ScanTask{ScanID: scan.ID, URL: scan.URL, Parameters: scan.Parameters}
	if _, err := h.queue.Enqueue(ctx, queue.ScanQueueName, task, queue.EnqueueOptions{
		JobID:       scan.ID,
		MaxAttempts: h.scanMaxAttempts,
		BackoffBase: h.scanBackoffBase,
		Timeout:     h.scanTimeout,
	}); err != nil {
		// The scan row exists but nothing will ever process it; surface
		// this as a failed scan rather than leaving it stuck pending.
		reason := "failed to enqueue scan"
		h.db.UpdateScanStatus(ctx, scan.ID, database.ScanPending, database.ScanFailed, &reason)
		h.errors.WriteError(w, r, &apierror.ExternalServiceError{Code: apierror.CodeQueueError, Service: "queue", Message: "failed to enqueue scan"})
		return
	}

	api.WriteJSON(w, http.StatusCreated, scan)
}

// Get handles GET /api/scans/:id.
func (h *ScansHandler) Get(w http.ResponseWriter, r *http.Request) {
	scan, err := h.lookupScan(w, r)
	if err != nil {
		return
	}
	api.WriteJSON(w, http.StatusOK, scan)
}

// List handles GET /api/scans, paginated and optionally filtered by
// status, ordered created_at DESC, id DESC per spec §9's Open
// Question resolution.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	filter := database.ScanListFilter{Limit: limit, Offset: offset}
	if v := q.Get("status"); v != "" {
		filter.Status = database.ScanStatus(v)
	}

	list, err := h.db.ListScans(r.Context(), filter)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to list scans"})
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

// Delete handles DELETE /api/scans/:id: it deletes the scan's DB row.
// Artifacts stored under scans/{id}/ in the object store are not
// removed; the handler holds no object store.
func (h *ScansHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scan, err := h.lookupScan(w, r)
	if err != nil {
		return
	}

	if err := h.db.DeleteScan(r.Context(), scan.ID); err != nil {
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to delete scan"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/scans/:id/status.
func (h *ScansHandler) Status(w http.ResponseWriter, r *http.Request) {
	scan, err := h.lookupScan(w, r)
	if err != nil {
		return
	}
	status, err := api.ReconcileStatus(r.Context(), h.db, h.queue, scan)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to reconcile scan status"})
		return
	}
	api.WriteJSON(w, http.StatusOK, status)
}

// LastGoodForURL handles GET /api/scans/by-url/last-good: it returns
// the URL's most recent scan if that scan is "completed", and 404
// otherwise. Older completed scans behind a newer pending, running or
// failed one are not searched, partial scans are not filtered out, and
// the body is the Scan alone, without diagnostics.
func (h *ScansHandler) LastGoodForURL(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		h.errors.WriteError(w, r, &apierror.ValidationError{Code: apierror.CodeMissingRequiredField, Message: "url is required", Field: "url"})
		return
	}
	scan, err := h.db.GetLatestScanForURL(r.Context(), target)
	if err != nil {
		if errors.Is(err, database.ErrScanNotFound) {
			h.errors.WriteError(w, r, &apierror.NotFoundError{Code: apierror.CodeScanNotFound, Message: "no completed scan found for this URL"})
			return
		}
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to look up scan"})
		return
	}
	if scan.Status != database.ScanCompleted {
		h.errors.WriteError(w, r, &apierror.NotFoundError{Code: apierror.CodeScanNotFound, Message: "no completed scan found for this URL"})
		return
	}
	api.WriteJSON(w, http.StatusOK, scan)
}

// lookupScan resolves the :id path var to a Scan, writing a 404 error
// response itself when absent.
func (h *ScansHandler) lookupScan(w http.ResponseWriter, r *http.Request) (*database.Scan, error) {
	id := mux.Vars(r)["id"]
	scan, err := h.db.GetScan(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrScanNotFound) {
			apiErr := &apierror.NotFoundError{Code: apierror.CodeScanNotFound, Message: "scan not found"}
			h.errors.WriteError(w, r, apiErr)
			return nil, apiErr
		}
		dbErr := &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to look up scan"}
		h.errors.WriteError(w, r, dbErr)
		return nil, dbErr
	}
	return scan, nil
}
