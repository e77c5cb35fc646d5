// Package handlers implements the REST endpoint sets. Handlers decode and
// validate the wire shapes, call the core services, and render envelopes;
// no retrieval or ingestion logic lives here.
package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/middleware"
	"github.com/llcontext/llcd/pkg/api"
)

// respond writes a success body; fail writes the standard error body. Both
// stamp the request id from the middleware chain.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	api.WriteJSON(w, status, v)
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	api.WriteError(w, middleware.GetRequestID(r.Context()), err)
}

func envelope(r *http.Request) api.Envelope {
	return api.NewEnvelope(middleware.GetRequestID(r.Context()))
}

func logFields(r *http.Request) []zap.Field {
	return []zap.Field{
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
	}
}
