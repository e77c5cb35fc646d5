package middleware

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/pkg/api"
)

// Admission bounds in-flight requests on the retrieval path. Requests past
// the limit wait briefly in an admission queue, then get OVERLOADED. The
// queue is pull-ordered by the semaphore, so waiters admit FIFO-ish under
// contention.
func Admission(maxInFlight int64, wait time.Duration) func(http.Handler) http.Handler {
	sem := semaphore.NewWeighted(maxInFlight)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			err := sem.Acquire(ctx, 1)
			cancel()
			if err != nil {
				api.WriteError(w, GetRequestID(r.Context()),
					apperr.Overloaded("OVERLOADED", "server is at capacity, retry shortly"))
				return
			}
			defer sem.Release(1)
			next.ServeHTTP(w, r)
		})
	}
}
