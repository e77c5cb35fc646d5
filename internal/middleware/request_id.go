// Package middleware holds the HTTP middleware chain: request ids, bearer
// auth against a verification hook, agent-header tracking, panic recovery,
// per-route metrics, and the retrieval admission limiter.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	principalKey contextKey = "principal"
	agentIDKey   contextKey = "agent_id"
	agentNameKey contextKey = "agent_name"
)

// RequestID extracts the inbound X-Request-ID or generates one, stashes it
// in the context, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID, or empty.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Principal returns the authenticated caller identity, or empty when auth is
// disabled.
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalKey).(string)
	return p
}

// AgentID returns the self-declared agent identity from the request headers.
func AgentID(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey).(string)
	return id
}
