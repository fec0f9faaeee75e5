package middleware

import "net/http"

// SecurityHeaders applies the gateway's own baseline response headers.
// This is distinct from the analyzer's SECURITY_HEADER findings, which
// evaluate headers reported by the *scanned* target — this middleware
// only concerns the scanner API's own HTTP surface, grounded on the
// teacher's SecurityHeadersMiddleware (internal/api/middleware/
// security_headers.go), trimmed to the fixed set relevant to a JSON
// API with no browsable UI.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
