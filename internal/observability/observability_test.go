package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacescan/internal/config"
)

func TestNewLoggerRespectsFormatAndLevel(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogFormat: "console", LogLevel: "debug"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(-1)) // zapcore.DebugLevel
}

func TestNewLoggerFallsBackOnInvalidLevel(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogFormat: "json", LogLevel: "not-a-level"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestMetricsHandlerServesExposition(t *testing.T) {
	m := NewMetrics()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/api/scans", "200").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "surfacescan_http_requests_total")
}

func TestTracerReturnsNonNil(t *testing.T) {
	assert.NotNil(t, Tracer())
}

func TestCaptureResourceSnapshot(t *testing.T) {
	snap := CaptureResourceSnapshot(context.Background())
	assert.Greater(t, snap.Goroutines, 0)
	assert.False(t, snap.CapturedAt.IsZero())
}
