package apierror

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWriteErrorValidation(t *testing.T) {
	h := NewHandler(zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/scans", nil)
	rec := httptest.NewRecorder()

	h.WriteError(rec, req, &ValidationError{
		Code: CodeInvalidURL, Message: "url is required", Field: "url",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"INVALID_URL"`)
	assert.Contains(t, rec.Body.String(), `"field":"url"`)
}

func TestWriteErrorConflictSetsRetryAfterHeader(t *testing.T) {
	h := NewHandler(zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/scans", nil)
	rec := httptest.NewRecorder()

	h.WriteError(rec, req, &ConflictError{
		Code: CodeCooldownActive, Message: "cooldown active", RetryAfter: 12,
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "12", rec.Header().Get("Retry-After"))
}

func TestWriteErrorUnrecognizedDefaultsToInternal(t *testing.T) {
	h := NewHandler(zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/scans/123", nil)
	rec := httptest.NewRecorder()

	h.WriteError(rec, req, assertError("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"INTERNAL_ERROR"`)
	assert.NotContains(t, rec.Body.String(), "boom", "internal error details must not leak to the client")
}

func TestWithRequestIDRoundTrips(t *testing.T) {
	h := NewHandler(zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/scans/123", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-42"))
	rec := httptest.NewRecorder()

	h.WriteError(rec, req, &NotFoundError{Code: CodeScanNotFound, Message: "scan not found"})

	assert.Contains(t, rec.Body.String(), `"requestId":"req-42"`)
}

type assertError string

func (e assertError) Error() string { return string(e) }
