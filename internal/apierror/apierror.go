// Package apierror defines the scanner's structured API error model:
// a closed set of error codes/categories/severities, typed error
// values for each category, and a Handler that converts any of
// them (or an unrecognized error) into a stable JSON envelope.
package apierror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrorCategory buckets errors for logging/dashboards.
type ErrorCategory string

const (
	CategoryValidation         ErrorCategory = "validation_error"
	CategoryNotFound           ErrorCategory = "not_found_error"
	CategoryConflict           ErrorCategory = "conflict_error"
	CategoryRateLimit          ErrorCategory = "rate_limit_error"
	CategoryRequestTimeout     ErrorCategory = "request_timeout_error"
	CategoryInternalServer     ErrorCategory = "internal_server_error"
	CategoryServiceUnavailable ErrorCategory = "service_unavailable_error"
	CategoryGatewayTimeout     ErrorCategory = "gateway_timeout_error"
	CategoryDatabaseError      ErrorCategory = "database_error"
	CategoryExternalService    ErrorCategory = "external_service_error"
)

// ErrorSeverity drives the log level Handler emits at.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorCode is the stable, machine-readable identifier the API
// contract promises callers, per spec §7.
type ErrorCode string

const (
	CodeInvalidJSON          ErrorCode = "INVALID_JSON"
	CodeMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"
	CodeInvalidFieldFormat   ErrorCode = "INVALID_FIELD_FORMAT"
	CodeInvalidURL           ErrorCode = "INVALID_URL"
	CodeInvalidTarget        ErrorCode = "INVALID_TARGET"
	CodeDNSResolutionFailed  ErrorCode = "DNS_RESOLUTION_FAILED"
	CodeScanNotFound         ErrorCode = "SCAN_NOT_FOUND"
	CodeCooldownActive       ErrorCode = "COOLDOWN_ACTIVE"
	CodeRateLimitExceeded    ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeAnalysisTimeout      ErrorCode = "ANALYSIS_TIMEOUT"
	CodeVulnFeedUnavailable  ErrorCode = "VULN_FEED_UNAVAILABLE"
	CodeObjectStoreError     ErrorCode = "OBJECT_STORE_ERROR"
	CodeDatabaseError        ErrorCode = "DATABASE_ERROR"
	CodeQueueError           ErrorCode = "QUEUE_ERROR"
	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
)

// ErrorDetails carries the machine-readable context around an error.
type ErrorDetails struct {
	Field      string                 `json:"field,omitempty"`
	Value      interface{}            `json:"value,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	RetryAfter *int                   `json:"retryAfter,omitempty"`
	RequestID  string                 `json:"requestId,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// APIError is the JSON envelope every non-2xx response body uses.
type APIError struct {
	Error       ErrorCode     `json:"error"`
	Category    ErrorCategory `json:"category"`
	Severity    ErrorSeverity `json:"severity"`
	Message     string        `json:"message"`
	Description string        `json:"description"`
	Details     ErrorDetails  `json:"details"`
	StatusCode  int           `json:"statusCode"`
	RetryAfter  *int          `json:"retryAfter,omitempty"`
}

// requestIDKey is the context key the middleware stores the
// per-request trace ID under.
type requestIDKey struct{}

// WithRequestID returns a context carrying requestID for later
// retrieval by Handler and logging middleware.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFrom extracts the request ID stashed by WithRequestID, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ValidationError is returned for malformed or missing request fields.
type ValidationError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError is returned when a referenced scan does not exist.
type NotFoundError struct {
	Code    ErrorCode
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError is returned for the per-URL submission cooldown.
type ConflictError struct {
	Code       ErrorCode
	Message    string
	RetryAfter int
}

func (e *ConflictError) Error() string { return e.Message }

// RateLimitError is returned by the per-client token bucket.
type RateLimitError struct {
	Code       ErrorCode
	Message    string
	RetryAfter int
}

func (e *RateLimitError) Error() string { return e.Message }

// ExternalServiceError wraps a failure from the vulnerability feed or
// object store.
type ExternalServiceError struct {
	Code    ErrorCode
	Service string
	Message string
}

func (e *ExternalServiceError) Error() string { return fmt.Sprintf("%s: %s", e.Service, e.Message) }

// TimeoutError is returned when the analyze job does not finish
// within the bound the render worker waits, per spec §4.3 step 7.
type TimeoutError struct {
	Code      ErrorCode
	Operation string
	Timeout   time.Duration
	Message   string
}

func (e *TimeoutError) Error() string { return e.Message }

// DatabaseError wraps a persistence-layer failure.
type DatabaseError struct {
	Code    ErrorCode
	Message string
}

func (e *DatabaseError) Error() string { return e.Message }

// Handler converts errors to the stable APIError envelope and writes
// them to an http.ResponseWriter, logging at a severity-appropriate
// level along the way.
type Handler struct {
	logger *zap.Logger
}

// NewHandler builds an error Handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// WriteError converts err and writes the JSON error envelope.
func (h *Handler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := h.Convert(err, r)
	h.log(r.Context(), apiErr, err)

	w.Header().Set("Content-Type", "application/json")
	if apiErr.RetryAfter != nil {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", *apiErr.RetryAfter))
	}
	w.WriteHeader(apiErr.StatusCode)

	if encErr := json.NewEncoder(w).Encode(apiErr); encErr != nil {
		h.logger.Error("failed to encode error response", zap.Error(encErr))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// Convert maps any error to the stable APIError envelope, defaulting
// to an opaque 500 for unrecognized error types so internal details
// never leak to callers.
func (h *Handler) Convert(err error, r *http.Request) *APIError {
	details := ErrorDetails{
		RequestID: RequestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
		Context: map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		},
	}

	switch e := err.(type) {
	case *ValidationError:
		if e.Field != "" {
			details.Field = e.Field
			details.Value = e.Value
		}
		return &APIError{
			Error: e.Code, Category: CategoryValidation, Severity: SeverityMedium,
			Message: e.Message, Description: "the request failed validation",
			Details: details, StatusCode: http.StatusBadRequest,
		}
	case *NotFoundError:
		return &APIError{
			Error: e.Code, Category: CategoryNotFound, Severity: SeverityLow,
			Message: e.Message, Description: "the requested resource does not exist",
			Details: details, StatusCode: http.StatusNotFound,
		}
	case *ConflictError:
		details.RetryAfter = &e.RetryAfter
		return &APIError{
			Error: e.Code, Category: CategoryConflict, Severity: SeverityLow,
			Message: e.Message, Description: "a scan for this URL was submitted too recently",
			Details: details, StatusCode: http.StatusTooManyRequests, RetryAfter: &e.RetryAfter,
		}
	case *RateLimitError:
		details.RetryAfter = &e.RetryAfter
		return &APIError{
			Error: e.Code, Category: CategoryRateLimit, Severity: SeverityMedium,
			Message: e.Message, Description: "rate limit exceeded",
			Details: details, StatusCode: http.StatusTooManyRequests, RetryAfter: &e.RetryAfter,
		}
	case *ExternalServiceError:
		return &APIError{
			Error: e.Code, Category: CategoryExternalService, Severity: SeverityHigh,
			Message: e.Message, Description: fmt.Sprintf("%s is unavailable", e.Service),
			Details: details, StatusCode: http.StatusBadGateway,
		}
	case *TimeoutError:
		return &APIError{
			Error: e.Code, Category: CategoryGatewayTimeout, Severity: SeverityMedium,
			Message: e.Message, Description: fmt.Sprintf("%s timed out after %v", e.Operation, e.Timeout),
			Details: details, StatusCode: http.StatusGatewayTimeout,
		}
	case *DatabaseError:
		return &APIError{
			Error: e.Code, Category: CategoryDatabaseError, Severity: SeverityCritical,
			Message: e.Message, Description: "a database operation failed",
			Details: details, StatusCode: http.StatusInternalServerError,
		}
	default:
		return &APIError{
			Error: CodeInternalError, Category: CategoryInternalServer, Severity: SeverityCritical,
			Message: "an unexpected error occurred", Description: "please try again later",
			Details: details, StatusCode: http.StatusInternalServerError,
		}
	}
}

func (h *Handler) log(ctx context.Context, apiErr *APIError, original error) {
	logger := h.logger.With(
		zap.String("errorCode", string(apiErr.Error)),
		zap.String("category", string(apiErr.Category)),
		zap.Int("statusCode", apiErr.StatusCode),
		zap.String("requestId", apiErr.Details.RequestID),
	)

	switch apiErr.Severity {
	case SeverityCritical, SeverityHigh:
		logger.Error("request failed", zap.Error(original))
	case SeverityMedium:
		logger.Warn("request failed", zap.Error(original))
	default:
		logger.Info("request failed", zap.Error(original))
	}
}
