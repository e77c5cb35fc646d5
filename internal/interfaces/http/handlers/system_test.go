package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/lifecycle"
)

func okCheck(context.Context) error   { return nil }
func downCheck(context.Context) error { return errors.New("unreachable") }

func statusBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSystem_ReadyGatesOnStores(t *testing.T) {
	h := NewSystemHandler(&lifecycle.StatusReporter{
		Registry:   okCheck,
		Vectors:    downCheck,
		Migrations: func(context.Context) (int64, error) { return 4, nil },
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := statusBody(t, rec)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, float64(4), body["migration_version"])
}

func TestSystem_ReadyGatesOnMigrations(t *testing.T) {
	h := NewSystemHandler(&lifecycle.StatusReporter{
		Registry:   okCheck,
		Vectors:    okCheck,
		Migrations: func(context.Context) (int64, error) { return 0, nil },
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSystem_ReadyOK(t *testing.T) {
	h := NewSystemHandler(&lifecycle.StatusReporter{
		Registry:   okCheck,
		Vectors:    okCheck,
		Migrations: func(context.Context) (int64, error) { return 4, nil },
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := statusBody(t, rec)
	assert.Equal(t, true, body["ready"])
}

func TestSystem_StatusAlwaysAnswers(t *testing.T) {
	h := NewSystemHandler(&lifecycle.StatusReporter{
		Registry: downCheck,
		Vectors:  downCheck,
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/v1/system/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := statusBody(t, rec)
	assert.Equal(t, false, body["ready"])
}
