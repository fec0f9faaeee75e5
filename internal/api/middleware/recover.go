package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"surfacescan/internal/apierror"
)

// Recover converts a panic in a downstream handler into a 500 error
// envelope instead of crashing the process, logging the panic value.
func Recover(logger *zap.Logger, errors *apierror.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("requestId", apierror.RequestIDFrom(r.Context())),
					)
					errors.WriteError(w, r, fmt.Errorf("panic: %v", rec))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
