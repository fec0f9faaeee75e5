package middleware

import (
	"net"
	"net/http"

	"surfacescan/internal/apierror"
	"surfacescan/internal/ratelimit"
)

// RateLimit rejects a request with 429 once the calling client (keyed
// by remote IP) exceeds limiter's token bucket.
func RateLimit(limiter *ratelimit.ClientLimiter, errors *apierror.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if !limiter.Allow(key) {
				errors.WriteError(w, r, &apierror.RateLimitError{
					Code:       apierror.CodeRateLimitExceeded,
					Message:    "rate limit exceeded",
					RetryAfter: 1,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
