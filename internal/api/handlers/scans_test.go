package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"surfacescan/internal/apierror"
	"surfacescan/internal/config"
	"surfacescan/internal/database"
	"surfacescan/internal/queue"
	"surfacescan/internal/ratelimit"
)

func testSSRFConfig() *config.SSRFConfig {
	return &config.SSRFConfig{
		AllowedSchemes: []string{"http", "https"},
		ResolveTimeout: time.Second,
		AllowLoopback:  true,
	}
}

func newTestScansHandler(t *testing.T) (*ScansHandler, *fakeDatabase, *queue.FakeQueue) {
	t.Helper()
	db := newFakeDatabase()
	q := queue.NewFakeQueue()
	errHandler := apierror.NewHandler(zap.NewNop())
	cooldown := ratelimit.NewCooldown(time.Minute)
	qcfg := config.QueueConfig{MaxRetries: 3, BaseBackoff: time.Second, VisibilityTimeout: 30 * time.Second}
	h := NewScansHandler(db, q, cooldown, testSSRFConfig(), errHandler, zap.NewNop(), qcfg)
	return h, db, q
}

func TestScansHandler_Create_Success(t *testing.T) {
	h, db, q := newTestScansHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(`{"url":"http://127.0.0.1/target"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var scan database.Scan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scan))
	assert.Equal(t, database.ScanPending, scan.Status)
	assert.NotEmpty(t, scan.ID)

	persisted, err := db.GetScan(context.Background(), scan.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.ID, persisted.ID)

	job, err := q.GetJob(context.Background(), queue.ScanQueueName, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.ID, job.ID)
}

func TestScansHandler_Create_MissingURL(t *testing.T) {
	h, _, _ := newTestScansHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr apierror.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, apierror.CodeMissingRequiredField, apiErr.Error)
}

func TestScansHandler_Create_RejectsPrivateTarget(t *testing.T) {
	h, _, _ := newTestScansHandler(t)
	h.ssrfCfg = &config.SSRFConfig{AllowedSchemes: []string{"http", "https"}, ResolveTimeout: time.Second, AllowLoopback: false}

	req := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(`{"url":"http://127.0.0.1/target"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr apierror.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, apierror.CodeInvalidTarget, apiErr.Error)
}

func TestScansHandler_Create_CooldownActive(t *testing.T) {
	h, _, _ := newTestScansHandler(t)

	body := `{"url":"http://127.0.0.1/target"}`
	first := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(body))
	h.Create(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, second)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var apiErr apierror.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, apierror.CodeCooldownActive, apiErr.Error)
	require.NotNil(t, apiErr.RetryAfter)
}

func TestScansHandler_Create_InvalidTimeout(t *testing.T) {
	h, _, _ := newTestScansHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(`{"url":"http://127.0.0.1/target","parameters":{"timeout":500}}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr apierror.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, apierror.CodeInvalidFieldFormat, apiErr.Error)
}

func TestScansHandler_Get_NotFound(t *testing.T) {
	h, _, _ := newTestScansHandler(t)

	router := mux.NewRouter()
	router.HandleFunc("/api/scans/{id}", h.Get).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/api/scans/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var apiErr apierror.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, apierror.CodeScanNotFound, apiErr.Error)
}

func TestScansHandler_Get_Found(t *testing.T) {
	h, db, _ := newTestScansHandler(t)
	scan := &database.Scan{ID: "scan-abc", URL: "http://127.0.0.1/", Status: database.ScanCompleted}
	require.NoError(t, db.CreateScan(context.Background(), scan))

	router := mux.NewRouter()
	router.HandleFunc("/api/scans/{id}", h.Get).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/api/scans/scan-abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got database.Scan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "scan-abc", got.ID)
}

func TestScansHandler_Delete_NoContent(t *testing.T) {
	h, db, _ := newTestScansHandler(t)
	scan := &database.Scan{ID: "scan-del", Status: database.ScanCompleted}
	require.NoError(t, db.CreateScan(context.Background(), scan))

	router := mux.NewRouter()
	router.HandleFunc("/api/scans/{id}", h.Delete).Methods(http.MethodDelete)

	req := httptest.NewRequest(http.MethodDelete, "/api/scans/scan-del", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := db.GetScan(context.Background(), "scan-del")
	assert.ErrorIs(t, err, database.ErrScanNotFound)
}

func TestScansHandler_List_ClampsLimit(t *testing.T) {
	h, _, _ := newTestScansHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/scans?limit=500", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var list database.ScanList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 100, list.Limit)
}

func TestScansHandler_Status_ReconcilesRunningJob(t *testing.T) {
	h, db, q := newTestScansHandler(t)
	scan := &database.Scan{ID: "scan-status", Status: database.ScanPending}
	require.NoError(t, db.CreateScan(context.Background(), scan))
	_, err := q.Enqueue(context.Background(), queue.ScanQueueName, map[string]string{}, queue.EnqueueOptions{JobID: "scan-status"})
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background(), queue.ScanQueueName)
	require.NoError(t, err)

	router := mux.NewRouter()
	router.HandleFunc("/api/scans/{id}/status", h.Status).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/api/scans/scan-status/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Status database.ScanStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, database.ScanRunning, status.Status)
}

func TestScansHandler_LastGoodForURL_RequiresQueryParam(t *testing.T) {
	h, _, _ := newTestScansHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/scans/by-url/last-good", nil)
	rec := httptest.NewRecorder()
	h.LastGoodForURL(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScansHandler_LastGoodForURL_NotFound(t *testing.T) {
	h, _, _ := newTestScansHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/scans/by-url/last-good?url=http://127.0.0.1/", nil)
	rec := httptest.NewRecorder()
	h.LastGoodForURL(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
