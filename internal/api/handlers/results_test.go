package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"surfacescan/internal/apierror"
	"surfacescan/internal/database"
)

func newTestResultsHandler(t *testing.T) (*ResultsHandler, *fakeDatabase) {
	t.Helper()
	db := newFakeDatabase()
	return NewResultsHandler(db, apierror.NewHandler(zap.NewNop()), zap.NewNop()), db
}

func TestResultsHandler_Get_NotFound(t *testing.T) {
	h, _ := newTestResultsHandler(t)
	router := mux.NewRouter()
	router.HandleFunc("/api/scans/{id}/results", h.Get).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/api/scans/missing/results", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsHandler_Get_BuildsSummaryAndDiagnostics(t *testing.T) {
	h, db := newTestResultsHandler(t)
	scan := &database.Scan{ID: "scan-1", Status: database.ScanCompleted}
	require.NoError(t, db.CreateScan(context.Background(), scan))
	db.libraries["scan-1"] = []database.Library{
		{ID: "lib-1", Name: "jquery", Vulnerabilities: []database.Vulnerability{{Severity: database.SeverityHigh}}},
	}
	db.findings["scan-1"] = []database.Finding{
		{ID: "f-1", Type: database.FindingSecurityHeader, Severity: database.SeverityModerate},
	}
	db.scripts["scan-1"] = []database.Script{{ID: "s-1"}}

	router := mux.NewRouter()
	router.HandleFunc("/api/scans/{id}/results", h.Get).Methods(http.MethodGet)
	req := httptest.NewRequest(http.MethodGet, "/api/scans/scan-1/results", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var results database.ScanResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Equal(t, 1, results.Summary.LibraryCount)
	assert.Equal(t, 1, results.Summary.FindingCount)
	assert.Equal(t, 1, results.Summary.VulnerabilityCount)
	// one script, one library: not partial (a library was found) -> quality docked for scripts<10 only.
	assert.True(t, results.Diagnostics.PartialScan == false)
	assert.Equal(t, 80, results.Diagnostics.QualityScore)
}

func TestResultsHandler_Surface_BucketsFindingsByType(t *testing.T) {
	h, db := newTestResultsHandler(t)
	scan := &database.Scan{ID: "scan-2", Status: database.ScanCompleted}
	require.NoError(t, db.CreateScan(context.Background(), scan))
	db.findings["scan-2"] = []database.Finding{
		{ID: "f-form", Type: database.FindingFormSecurity},
		{ID: "f-iframe", Type: database.FindingIframeSecurity},
		{ID: "f-other", Type: database.FindingEvalUsage},
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/scans/{id}/surface", h.Surface).Methods(http.MethodGet)
	req := httptest.NewRequest(http.MethodGet, "/api/scans/scan-2/surface", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view SurfaceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Len(t, view.Forms, 1)
	assert.Len(t, view.Iframes, 1)
	assert.Len(t, view.Other, 1)
	assert.Empty(t, view.InlineEventHandlers)
}

func TestDiagnose_PartialScanWhenManyScriptsFewLibraries(t *testing.T) {
	d := diagnose(150, 1)
	assert.True(t, d.PartialScan)
	assert.Equal(t, 60, d.QualityScore)
}

func TestDiagnose_ZeroLibrariesFloorsQuality(t *testing.T) {
	d := diagnose(5, 0)
	assert.True(t, d.PartialScan)
	assert.Equal(t, 0, d.QualityScore)
}
