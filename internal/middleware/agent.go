package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/repository"
)

// AgentTracker records a session row per observed X-Agent-ID. The touch is
// best-effort and never blocks or fails the request.
func AgentTracker(collab repository.CollaborationRepository, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agentID := r.Header.Get("X-Agent-ID")
			if agentID == "" {
				next.ServeHTTP(w, r)
				return
			}
			agentName := r.Header.Get("X-Agent-Name")
			if collab != nil {
				if err := collab.TouchAgent(r.Context(), agentID, agentName); err != nil {
					logger.Debug("agent touch failed", zap.String("agent_id", agentID), zap.Error(err))
				}
			}
			ctx := context.WithValue(r.Context(), agentIDKey, agentID)
			ctx = context.WithValue(ctx, agentNameKey, agentName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
