package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/repository/mocks"
	"github.com/llcontext/llcd/pkg/api"
)

func TestRequestID(t *testing.T) {
	t.Run("generates one when absent", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	})

	t.Run("passes through the inbound header", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-42")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "req-42", seen)
	})
}

func TestAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Principal", Principal(r.Context()))
	})

	t.Run("nil verifier disables auth", func(t *testing.T) {
		w := httptest.NewRecorder()
		Auth(nil, zap.NewNop())(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		Auth(NewStaticVerifier("hunter2"), zap.NewNop())(next).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("static token match sets the principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer hunter2")
		w := httptest.NewRecorder()
		Auth(NewStaticVerifier("hunter2"), zap.NewNop())(next).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "local", w.Header().Get("X-Principal"))
	})

	t.Run("hook verifier resolves the principal", func(t *testing.T) {
		hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Token string `json:"token"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body.Token != "good" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"principal": "agent-9"})
		}))
		defer hook.Close()

		verifier := NewHookVerifier(hook.URL, time.Second)

		principal, err := verifier.Verify(context.Background(), "good")
		require.NoError(t, err)
		assert.Equal(t, "agent-9", principal)

		_, err = verifier.Verify(context.Background(), "bad")
		require.Error(t, err)
	})
}

func TestAgentTracker(t *testing.T) {
	collab := mocks.NewCollabRepo()
	handler := AgentTracker(collab, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Agent", AgentID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Agent-ID", "agent-3")
	req.Header.Set("X-Agent-Name", "curator")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "agent-3", w.Header().Get("X-Seen-Agent"))
	sessions := collab.Agents()
	require.Len(t, sessions, 1)
	sess := sessions["agent-3"]
	assert.Equal(t, "curator", sess.AgentName)
	assert.EqualValues(t, 2, sess.RequestCnt)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL", body.Error.Code)
}

func TestAdmission(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	limited := Admission(1, 10*time.Millisecond)(slow)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		limited.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}()
	time.Sleep(20 * time.Millisecond)

	w := httptest.NewRecorder()
	limited.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	once.Do(func() { close(release) })
	wg.Wait()
}
