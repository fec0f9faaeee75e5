// Package middleware holds the API gateway's HTTP middleware chain,
// one concern per file, grounded on the teacher's
// internal/api/middleware package (one file per cross-cutting
// concern: security headers, validation, rate limiting, and so on).
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"surfacescan/internal/apierror"
)

// RequestIDHeader is the header every response echoes, per spec §4.1.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns every request a fresh ID, stashes it on the
// context for apierror.Handler and access logging, and echoes it back
// to the caller.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := apierror.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
