package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/pkg/api"
)

// Recovery converts handler panics into 500 responses and logs the stack.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						zap.String("request_id", GetRequestID(r.Context())),
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()))
					if w.Header().Get("Content-Type") == "" {
						api.WriteError(w, GetRequestID(r.Context()),
							apperr.Internal("internal error", nil))
					}
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
