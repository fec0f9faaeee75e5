package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"surfacescan/internal/apierror"
	"surfacescan/internal/database"
)

func TestAnalyticsHandler_Summary(t *testing.T) {
	db := newFakeDatabase()
	db.analyticsStub = &database.AnalyticsSummary{TotalScans: 42, AverageRiskScore: 3.5}
	h := NewAnalyticsHandler(db, apierror.NewHandler(zap.NewNop()), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/summary", nil)
	rec := httptest.NewRecorder()
	h.Summary(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary database.AnalyticsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 42, summary.TotalScans)
	assert.Equal(t, 3.5, summary.AverageRiskScore)
}
