package middleware

import (
	"context"
	"net/http"
	"time"
)

// Deadline caps every request context. Handlers and downstream calls honor
// the context, so expiry surfaces as a TIMEOUT error from whichever stage
// was in flight.
func Deadline(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
