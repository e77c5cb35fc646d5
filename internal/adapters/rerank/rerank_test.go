package rerank

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

	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
)

type memCache struct {
	mu   sync.Mutex
	data map[string]repository.RerankCacheEntry
}

func (m *memCache) Get(_ context.Context, key string) (*repository.RerankCacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (m *memCache) Put(_ context.Context, key string, entry repository.RerankCacheEntry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]repository.RerankCacheEntry{}
	}
	m.data[key] = entry
	return nil
}

func (m *memCache) SweepExpired(context.Context) (int64, error) { return 0, nil }

func TestFingerprint_OrderSensitive(t *testing.T) {
	a := Fingerprint("q", "p", "m", []string{"1", "2", "3"})
	b := Fingerprint("q", "p", "m", []string{"3", "2", "1"})
	c := Fingerprint("q", "p", "m", []string{"1", "2", "3"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)

	// Provider and model are part of the key.
	assert.NotEqual(t, a, Fingerprint("q", "p2", "m", []string{"1", "2", "3"}))
	assert.NotEqual(t, a, Fingerprint("q", "p", "m2", []string{"1", "2", "3"}))
}

func TestRerank_OrdersByScoreAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		resp := map[string]any{
			"results": []map[string]any{
				{"index": 0, "relevance_score": 0.2},
				{"index": 1, "relevance_score": 0.9},
				{"index": 2, "relevance_score": 0.5},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	cache := &memCache{}
	client := New(Options{BaseURL: srv.URL, Provider: "test", Model: "ce-1"}, cache, zap.NewNop())

	cands := []Candidate{{ID: "a", Text: "ta"}, {ID: "b", Text: "tb"}, {ID: "c", Text: "tc"}}
	res, err := client.Rerank(context.Background(), "query", cands, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, res.Order)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, calls)

	res2, err := client.Rerank(context.Background(), "query", cands, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, res2.Order)
	assert.True(t, res2.Cached)
	assert.Equal(t, 1, calls)

	// A different candidate order is a different fingerprint.
	reordered := []Candidate{cands[2], cands[1], cands[0]}
	_, err = client.Rerank(context.Background(), "query", reordered, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRerank_TimeoutYieldsTimeoutKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Model: "ce-1"}, nil, zap.NewNop())
	_, err := client.Rerank(context.Background(), "q", []Candidate{{ID: "a", Text: "t"}}, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTimeout))
	assert.Equal(t, "RERANK_TIMEOUT", apperr.CodeOf(err))
}

func TestRerank_EmptyCandidates(t *testing.T) {
	client := New(Options{BaseURL: "http://unused", Model: "ce-1"}, nil, zap.NewNop())
	res, err := client.Rerank(context.Background(), "q", nil, time.Second)
	require.NoError(t, err)
	assert.Empty(t, res.Order)
}
