package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"surfacescan/internal/api"
	"surfacescan/internal/apierror"
	"surfacescan/internal/database"
)

// ResultsHandler serves GET /api/scans/:id/results and the derived
// surface view over the same joined data.
type ResultsHandler struct {
	db     database.Database
	errors *apierror.Handler
	logger *zap.Logger
}

// NewResultsHandler builds a ResultsHandler.
func NewResultsHandler(db database.Database, errors *apierror.Handler, logger *zap.Logger) *ResultsHandler {
	return &ResultsHandler{db: db, errors: errors, logger: logger}
}

// Get handles GET /api/scans/:id/results: the scan plus its
// libraries/findings and the derived summary/diagnostics, per spec
// §4.1.
func (h *ResultsHandler) Get(w http.ResponseWriter, r *http.Request) {
	scan, err := h.loadScan(w, r)
	if err != nil {
		return
	}

	libraries, err := h.db.GetLibraries(r.Context(), scan.ID)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to load libraries"})
		return
	}
	findings, err := h.db.GetFindings(r.Context(), scan.ID)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to load findings"})
		return
	}
	scripts, err := h.db.GetScripts(r.Context(), scan.ID)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to load scripts"})
		return
	}

	results := database.ScanResults{
		Scan:        *scan,
		Libraries:   libraries,
		Findings:    findings,
		Summary:     summarize(libraries, findings),
		Diagnostics: diagnose(len(scripts), len(libraries)),
	}
	api.WriteJSON(w, http.StatusOK, results)
}

// Surface handles GET /api/scans/:id/surface: findings bucketed by
// the part of the page's attack surface they describe, per spec
// §4.1's supplemented endpoint.
func (h *ResultsHandler) Surface(w http.ResponseWriter, r *http.Request) {
	scan, err := h.loadScan(w, r)
	if err != nil {
		return
	}
	findings, err := h.db.GetFindings(r.Context(), scan.ID)
	if err != nil {
		h.errors.WriteError(w, r, &apierror.DatabaseError{Code: apierror.CodeDatabaseError, Message: "failed to load findings"})
		return
	}
	api.WriteJSON(w, http.StatusOK, bucketSurface(findings))
}

func (h *ResultsHandler) loadScan(w http.ResponseWriter, r *http.Request) (*database.Scan, error) {
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

// summarize aggregates counts over a scan's libraries/findings, per
// spec §3's ResultsSummary shape.
func summarize(libraries []database.Library, findings []database.Finding) database.ResultsSummary {
	breakdown := map[string]int{}
	vulnCount := 0
	for _, lib := range libraries {
		vulnCount += len(lib.Vulnerabilities)
		for _, v := range lib.Vulnerabilities {
			breakdown[string(v.Severity)]++
		}
	}
	for _, f := range findings {
		breakdown[string(f.Severity)]++
	}
	return database.ResultsSummary{
		LibraryCount:       len(libraries),
		FindingCount:       len(findings),
		VulnerabilityCount: vulnCount,
		SeverityBreakdown:  breakdown,
	}
}

// diagnose derives scan-quality signals from the number of scripts
// seen versus libraries identified, per spec §4.1:
//
//	partial   := (scripts > 0 && libraries == 0) || (scripts > 100 && libraries <= 2)
//	quality   := 100, -40 if partial, -20 if scripts < 10, -40 if libraries == 0, clamped to [0,100]
func diagnose(scriptCount, libraryCount int) database.ResultsDiagnostics {
	partial := (scriptCount > 0 && libraryCount == 0) || (scriptCount > 100 && libraryCount <= 2)

	quality := 100
	if partial {
		quality -= 40
	}
	if scriptCount < 10 {
		quality -= 20
	}
	if libraryCount == 0 {
		quality -= 40
	}
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}

	return database.ResultsDiagnostics{PartialScan: partial, QualityScore: quality, ScriptCount: scriptCount}
}

// SurfaceView buckets findings by the part of a page's attack surface
// they describe, per spec §4.1's supplemented endpoint.
type SurfaceView struct {
	Forms               []database.Finding `json:"forms"`
	InlineEventHandlers []database.Finding `json:"inlineEventHandlers"`
	Iframes             []database.Finding `json:"iframes"`
	SecurityHeaders     []database.Finding `json:"securityHeaders"`
	SecurityCookies     []database.Finding `json:"securityCookies"`
	Other               []database.Finding `json:"other"`
}

func bucketSurface(findings []database.Finding) SurfaceView {
	var view SurfaceView
	for _, f := range findings {
		switch f.Type {
		case database.FindingFormSecurity:
			view.Forms = append(view.Forms, f)
		case database.FindingInlineEventHandler:
			view.InlineEventHandlers = append(view.InlineEventHandlers, f)
		case database.FindingIframeSecurity:
			view.Iframes = append(view.Iframes, f)
		case database.FindingSecurityHeader:
			view.SecurityHeaders = append(view.SecurityHeaders, f)
		case database.FindingSecurityCookie:
			view.SecurityCookies = append(view.SecurityCookies, f)
		default:
			view.Other = append(view.Other, f)
		}
	}
	return view
}
