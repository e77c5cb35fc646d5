package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/pkg/api"
)

// TokenVerifier resolves a bearer token to a principal. Authentication is
// not owned here; the hook is the authority.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (principal string, err error)
}

// HookVerifier posts the token to an external verification endpoint.
type HookVerifier struct {
	url    string
	client *http.Client
}

func NewHookVerifier(url string, timeout time.Duration) *HookVerifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HookVerifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (v *HookVerifier) Verify(ctx context.Context, token string) (string, error) {
	body := strings.NewReader(`{"token":` + jsonString(token) + `}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, body)
	if err != nil {
		return "", apperr.Internal("build token verification request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", apperr.Unavailable("AUTH_HOOK_DOWN", "token verification hook unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Forbidden("TOKEN_REJECTED", "token was rejected")
	}
	var out struct {
		Principal string `json:"principal"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Internal("decode token verification response", err)
	}
	return out.Principal, nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// StaticVerifier accepts exactly one preshared token, for single-host
// deployments without an auth service.
type StaticVerifier struct {
	token string
}

func NewStaticVerifier(token string) *StaticVerifier {
	return &StaticVerifier{token: token}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if token != v.token {
		return "", apperr.Forbidden("TOKEN_REJECTED", "token was rejected")
	}
	return "local", nil
}

// Auth enforces bearer-token authentication when a verifier is configured.
// A nil verifier disables auth entirely.
func Auth(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				api.WriteError(w, GetRequestID(r.Context()),
					apperr.Forbidden("TOKEN_MISSING", "bearer token required"))
				return
			}
			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Warn("token verification failed",
					zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
				api.WriteError(w, GetRequestID(r.Context()), err)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
