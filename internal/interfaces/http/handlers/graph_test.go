package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	"github.com/llcontext/llcd/internal/lifecycle"
	"github.com/llcontext/llcd/internal/repository/mocks"
	"github.com/llcontext/llcd/internal/search"
)

type staticResolver struct {
	pol *domain.Policy
}

func (s *staticResolver) Resolve(context.Context, string) (*domain.Policy, error) {
	return s.pol, nil
}

type fakeQuerier struct {
	stage      *search.GraphStage
	translated string
	cypher     string
	seeds      int
}

func (f *fakeQuerier) Retrieve(_ context.Context, _ *domain.Policy, _ uuid.UUID, question string, seeds []uuid.UUID) (*search.GraphStage, error) {
	f.translated = question
	f.seeds = len(seeds)
	return f.stage, nil
}

func (f *fakeQuerier) RunCypherLike(_ context.Context, _ *domain.Policy, _ uuid.UUID, query string) (*search.GraphStage, error) {
	f.cypher = query
	return f.stage, nil
}

func graphTestHandler(t *testing.T, querier *fakeQuerier) (*GraphHandler, string) {
	t.Helper()
	containers := mocks.NewContainerRepo()
	cid := uuid.New()
	require.NoError(t, containers.Create(context.Background(), &domain.Container{
		ID:        cid,
		Slug:      "notes",
		Theme:     "notes",
		State:     domain.ContainerActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))
	life := lifecycle.NewService(containers, nil, nil, nil, nil, nil, nil, nil, nil, nil, zap.NewNop())
	pol := &domain.Policy{
		ContainerID: cid.String(),
		Slug:        "notes",
		State:       domain.ContainerActive,
		Graph:       domain.GraphPolicy{Enabled: true, MaxHops: 2},
	}
	return NewGraphHandler(life, &staticResolver{pol: pol}, nil, querier, zap.NewNop()), "notes"
}

func postGraphSearch(t *testing.T, h *GraphHandler, ref string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/graph/"+ref+"/search", bytes.NewReader(raw))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("ref", ref)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	h.Search(rec, req)
	return rec
}

func TestGraphSearch_NLMode(t *testing.T) {
	q := &fakeQuerier{stage: &search.GraphStage{Fallback: search.FallbackTemplate}}
	h, ref := graphTestHandler(t, q)

	rec := postGraphSearch(t, h, ref, map[string]any{"mode": "nl", "query": "what uses impasto"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "what uses impasto", q.translated)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "nl", body["mode"])
	assert.Equal(t, "template", body["fallback"])
}

func TestGraphSearch_ExpandMode(t *testing.T) {
	q := &fakeQuerier{stage: &search.GraphStage{}}
	h, ref := graphTestHandler(t, q)

	rec := postGraphSearch(t, h, ref, map[string]any{
		"mode":  "expand",
		"seeds": []string{uuid.NewString(), uuid.NewString()},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, q.seeds)
	assert.Empty(t, q.translated)
}

func TestGraphSearch_ExpandModeNeedsSeeds(t *testing.T) {
	h, ref := graphTestHandler(t, &fakeQuerier{stage: &search.GraphStage{}})
	rec := postGraphSearch(t, h, ref, map[string]any{"mode": "expand"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphSearch_CypherLikeMode(t *testing.T) {
	q := &fakeQuerier{stage: &search.GraphStage{}}
	h, ref := graphTestHandler(t, q)

	query := "MATCH (n:Concept {container_id: $container_id}) RETURN n LIMIT 5"
	rec := postGraphSearch(t, h, ref, map[string]any{"mode": "cypher_like", "query": query})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, query, q.cypher)
}

func TestGraphSearch_UnknownModeRejected(t *testing.T) {
	h, ref := graphTestHandler(t, &fakeQuerier{stage: &search.GraphStage{}})
	rec := postGraphSearch(t, h, ref, map[string]any{"mode": "sparql", "query": "q"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphSearch_InfersModeFromInputs(t *testing.T) {
	q := &fakeQuerier{stage: &search.GraphStage{}}
	h, ref := graphTestHandler(t, q)

	rec := postGraphSearch(t, h, ref, map[string]any{"query": "impasto"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "nl", body["mode"])
}
