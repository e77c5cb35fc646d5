package search

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/adapters/rerank"
	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/repository/mocks"
	"github.com/llcontext/llcd/internal/store/vector"
)

type staticPolicies map[string]*domain.Policy

func (p staticPolicies) Resolve(_ context.Context, ref string) (*domain.Policy, error) {
	pol, ok := p[ref]
	if !ok {
		return nil, apperr.NotFound(string(domain.IssueContainerNotFound), "container does not exist")
	}
	cp := *pol
	return &cp, nil
}

type fakeVectors struct {
	hits []vector.Hit
	err  error
}

func (f *fakeVectors) Search(context.Context, string, []float32, int) ([]vector.Hit, error) {
	return f.hits, f.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) EmbedImage(context.Context, []byte) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) Identity() (string, string, int) { return "fake", "v1", 2 }

type fakeReranker struct {
	order []string
	err   error
	calls int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, cands []rerank.Candidate, _ time.Duration) (*rerank.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	order := f.order
	if order == nil {
		for _, c := range cands {
			order = append(order, c.ID)
		}
	}
	scores := make([]float64, len(order))
	for i := range scores {
		scores[i] = 1 - float64(i)*0.1
	}
	return &rerank.Result{Order: order, Scores: scores}, nil
}

func (f *fakeReranker) Identity() (string, string) { return "fake", "rerank-1" }

type fakeGraph struct {
	stage *GraphStage
	err   error
}

func (f *fakeGraph) Retrieve(context.Context, *domain.Policy, uuid.UUID, string, []uuid.UUID) (*GraphStage, error) {
	return f.stage, f.err
}

func activePolicy(cid uuid.UUID, slug string) *domain.Policy {
	return &domain.Policy{
		ContainerID:     cid.String(),
		Slug:            slug,
		State:           domain.ContainerActive,
		Modalities:      []domain.Modality{domain.ModalityText},
		SnippetMaxChars: 320,
		Embedder:        "fake",
		EmbedderVersion: "v1",
		Dims:            2,
	}
}

type serviceFixture struct {
	chunks   *mocks.ChunkRepo
	vectors  *fakeVectors
	embed    *fakeEmbedder
	reranker *fakeReranker
	graph    *fakeGraph
	policies staticPolicies
	cfg      Config
}

func (f *serviceFixture) build() *Service {
	var graph GraphRetriever
	if f.graph != nil {
		graph = f.graph
	}
	var reranker *fakeReranker
	if f.reranker != nil {
		reranker = f.reranker
	}
	svc := NewService(f.policies, f.chunks, f.vectors, graph, f.embed, nil, nil, f.cfg, nil, zap.NewNop())
	if reranker != nil {
		svc.reranker = reranker
	}
	return svc
}

func newFixture(pol *domain.Policy) *serviceFixture {
	return &serviceFixture{
		chunks:   mocks.NewChunkRepo(),
		vectors:  &fakeVectors{},
		embed:    &fakeEmbedder{vec: []float32{1, 0}},
		policies: staticPolicies{pol.Slug: pol},
	}
}

func hit(cid uuid.UUID, title, text string, score float64) repository.ScoredChunk {
	return repository.ScoredChunk{
		Chunk: domain.Chunk{
			ID:          uuid.New(),
			DocID:       uuid.New(),
			ContainerID: cid,
			Modality:    domain.ModalityText,
			Text:        text,
			TextHash:    text,
		},
		Document: domain.Document{ID: uuid.New(), Title: title, CreatedAt: time.Now()},
		Score:    score,
	}
}

func TestSearch_HybridFusesStages(t *testing.T) {
	cid := uuid.New()
	fx := newFixture(activePolicy(cid, "notes"))

	a := hit(cid, "a", "alpha passage", 8.0)
	b := hit(cid, "b", "beta passage", 6.0)
	c := hit(cid, "c", "gamma passage", 5.0)
	fx.chunks.BM25Hits = []repository.ScoredChunk{a, b}
	fx.chunks.Add(b)
	fx.chunks.Add(c)
	fx.vectors.hits = []vector.Hit{
		{ID: b.Chunk.ID, Score: 0.95},
		{ID: c.Chunk.ID, Score: 0.8},
	}

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "beta",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeHybrid,
		K:             10,
		Diagnostics:   true,
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, b.Chunk.ID, resp.Results[0].ChunkID, "hit in both stages ranks first")
	assert.False(t, resp.Partial)
	assert.Empty(t, resp.Issues)

	require.NotNil(t, resp.Diag)
	assert.Equal(t, 2, resp.Diag.HitCounts[stageBM25])
	assert.Equal(t, 2, resp.Diag.HitCounts[stageVector])
}

func TestSearch_EmbedderDownDegradesToLexical(t *testing.T) {
	cid := uuid.New()
	fx := newFixture(activePolicy(cid, "notes"))
	fx.embed.err = apperr.Unavailable("EMBEDDING_DOWN", "provider unreachable", nil)
	fx.chunks.BM25Hits = []repository.ScoredChunk{hit(cid, "a", "alpha", 3.0)}

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "alpha",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeSemantic,
		K:             5,
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Partial)
	assert.Contains(t, resp.Issues, domain.IssueEmbeddingDown)
}

func TestSearch_BM25TimeoutYieldsPartial(t *testing.T) {
	cid := uuid.New()
	fx := newFixture(activePolicy(cid, "notes"))
	fx.cfg = Config{GlobalBudget: 250 * time.Millisecond, BudgetSafety: 20 * time.Millisecond}
	fx.chunks.BM25Delay = 2 * time.Second

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "alpha",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeBM25,
		K:             5,
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Results)
	assert.True(t, resp.Partial)
	assert.Contains(t, resp.Issues, domain.IssueBM25Timeout)
	assert.Contains(t, resp.Issues, domain.IssueNoHits)
}

func TestSearch_RerankReorders(t *testing.T) {
	cid := uuid.New()
	pol := activePolicy(cid, "notes")
	pol.Rerank = domain.RerankPolicy{
		Enabled: true,
		TopKIn:  10,
		Timeout: 200 * time.Millisecond,
	}
	fx := newFixture(pol)

	a := hit(cid, "a", "alpha", 8.0)
	b := hit(cid, "b", "beta", 6.0)
	fx.chunks.BM25Hits = []repository.ScoredChunk{a, b}
	fx.reranker = &fakeReranker{order: []string{b.Chunk.ID.String(), a.Chunk.ID.String()}}

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "beta alpha",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeBM25,
		K:             5,
		Diagnostics:   true,
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, b.Chunk.ID, resp.Results[0].ChunkID)
	assert.True(t, resp.Diag.RerankApplied)
	assert.Equal(t, 1, fx.reranker.calls)
}

func TestSearch_RerankSkippedWhenBudgetTooTight(t *testing.T) {
	cid := uuid.New()
	pol := activePolicy(cid, "notes")
	pol.Rerank = domain.RerankPolicy{Enabled: true, TopKIn: 10, Timeout: 200 * time.Millisecond}
	fx := newFixture(pol)
	fx.cfg = Config{BudgetSafety: 10 * time.Millisecond}
	fx.chunks.BM25Hits = []repository.ScoredChunk{hit(cid, "a", "alpha", 3.0)}
	fx.reranker = &fakeReranker{}

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "alpha",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeBM25,
		K:             5,
		BudgetMS:      90,
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Issues, domain.IssueRerankSkippedBudget)
	assert.Zero(t, fx.reranker.calls, "fused order served without a provider call")
}

func TestSearch_RerankFailureKeepsFusedOrder(t *testing.T) {
	cid := uuid.New()
	pol := activePolicy(cid, "notes")
	pol.Rerank = domain.RerankPolicy{Enabled: true, TopKIn: 10, Timeout: 200 * time.Millisecond}
	fx := newFixture(pol)

	a := hit(cid, "a", "alpha", 8.0)
	b := hit(cid, "b", "beta", 6.0)
	fx.chunks.BM25Hits = []repository.ScoredChunk{a, b}
	fx.reranker = &fakeReranker{err: apperr.Timeout("RERANK_TIMEOUT", "provider too slow", nil)}

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "alpha",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeBM25,
		K:             5,
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, a.Chunk.ID, resp.Results[0].ChunkID)
	assert.Contains(t, resp.Issues, domain.IssueRerankTimeout)
}

func TestSearch_GraphStageAttachesContext(t *testing.T) {
	cid := uuid.New()
	pol := activePolicy(cid, "notes")
	pol.Graph = domain.GraphPolicy{Enabled: true, MaxHops: 2}
	fx := newFixture(pol)

	seed := hit(cid, "seed", "alpha", 8.0)
	related := hit(cid, "related", "beta", 0.5)
	fx.chunks.BM25Hits = []repository.ScoredChunk{seed}
	att := &GraphAttachment{
		Nodes:         []domain.GraphNode{{NodeID: "concept:beta", Label: "beta", Type: "Concept"}},
		SourceChunkID: seed.Chunk.ID.String(),
	}
	fx.graph = &fakeGraph{stage: &GraphStage{
		Hits:    []repository.ScoredChunk{related},
		ByChunk: map[uuid.UUID]*GraphAttachment{related.Chunk.ID: att},
	}}

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "alpha",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeHybridGraph,
		K:             5,
		Diagnostics:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Diag.HitCounts[stageGraph])
	var found bool
	for _, item := range resp.Results {
		if item.ChunkID == related.Chunk.ID {
			found = true
			require.NotNil(t, item.Graph)
			assert.Equal(t, "concept:beta", item.Graph.Nodes[0].NodeID)
		}
	}
	assert.True(t, found, "graph-contributed chunk present in results")
}

func TestSearch_GraphContextAndFallbackSurfaced(t *testing.T) {
	cid := uuid.New()
	pol := activePolicy(cid, "notes")
	pol.Graph = domain.GraphPolicy{Enabled: true, MaxHops: 2}
	fx := newFixture(pol)

	seed := hit(cid, "seed", "alpha", 8.0)
	related := hit(cid, "related", "beta", 0.5)
	fx.chunks.BM25Hits = []repository.ScoredChunk{seed}
	fx.graph = &fakeGraph{stage: &GraphStage{
		Hits: []repository.ScoredChunk{related},
		Nodes: []domain.GraphNode{
			{NodeID: "concept:beta", Label: "beta", Type: "Concept", Summary: "beta relates to alpha"},
		},
		Edges: []domain.GraphEdge{
			{SourceID: "concept:alpha", TargetID: "concept:beta", Type: "RELATED_TO"},
		},
		ByChunk:  map[uuid.UUID]*GraphAttachment{},
		Issues:   []domain.Issue{domain.IssueNL2QueryFailed},
		Fallback: FallbackTemplate,
	}}

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "alpha",
		GraphQuery:    "what relates to alpha",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeHybridGraph,
		K:             5,
		Diagnostics:   true,
	})
	require.NoError(t, err)

	require.NotNil(t, resp.GraphContext)
	require.Len(t, resp.GraphContext.Nodes, 1)
	require.Len(t, resp.GraphContext.Edges, 1)
	assert.Equal(t, []string{"beta relates to alpha"}, resp.GraphContext.Snippets)
	assert.Equal(t, FallbackTemplate, resp.Diag.Fallback)
	assert.Contains(t, resp.Issues, domain.IssueNL2QueryFailed)

	require.NotEmpty(t, resp.Results)
	for _, item := range resp.Results {
		assert.Equal(t, "notes", item.ContainerName)
		assert.NotNil(t, item.Provenance)
		assert.NotNil(t, item.Meta)
	}
}

func TestSearch_GraphRetrieverMissingDegrades(t *testing.T) {
	cid := uuid.New()
	pol := activePolicy(cid, "notes")
	pol.Graph = domain.GraphPolicy{Enabled: true, MaxHops: 2}
	fx := newFixture(pol)
	fx.chunks.BM25Hits = []repository.ScoredChunk{hit(cid, "a", "alpha", 3.0)}

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "alpha",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeHybridGraph,
		K:             5,
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Partial)
	assert.Contains(t, resp.Issues, domain.IssueGraphDown)
}

func TestSearch_Validation(t *testing.T) {
	cid := uuid.New()
	fx := newFixture(activePolicy(cid, "notes"))
	svc := fx.build()

	cases := []struct {
		name string
		req  *Request
		code string
	}{
		{"unknown mode", &Request{Query: "q", ContainerRefs: []string{"notes"}, Mode: "fuzzy"}, "INVALID_MODE"},
		{"empty query", &Request{ContainerRefs: []string{"notes"}, Mode: domain.ModeBM25}, "EMPTY_QUERY"},
		{"no containers", &Request{Query: "q", Mode: domain.ModeBM25}, "NO_CONTAINERS"},
		{"k too large", &Request{Query: "q", ContainerRefs: []string{"notes"}, Mode: domain.ModeBM25, K: 51}, "K_TOO_LARGE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Search(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
			assert.True(t, apperr.IsKind(err, apperr.KindValidation))
		})
	}
}

func TestSearch_ContainerGates(t *testing.T) {
	t.Run("paused container", func(t *testing.T) {
		cid := uuid.New()
		pol := activePolicy(cid, "notes")
		pol.State = domain.ContainerPaused
		fx := newFixture(pol)

		_, err := fx.build().Search(context.Background(), &Request{
			Query: "q", ContainerRefs: []string{"notes"}, Mode: domain.ModeBM25,
		})
		require.Error(t, err)
		assert.Equal(t, string(domain.IssueContainerUnavailable), apperr.CodeOf(err))
	})

	t.Run("unknown container", func(t *testing.T) {
		fx := newFixture(activePolicy(uuid.New(), "notes"))
		_, err := fx.build().Search(context.Background(), &Request{
			Query: "q", ContainerRefs: []string{"missing"}, Mode: domain.ModeBM25,
		})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("acl denies unlisted principal", func(t *testing.T) {
		cid := uuid.New()
		pol := activePolicy(cid, "notes")
		pol.Readers = []string{"alice"}
		fx := newFixture(pol)

		_, err := fx.build().Search(context.Background(), &Request{
			Query: "q", ContainerRefs: []string{"notes"}, Mode: domain.ModeBM25,
			Principal: "mallory",
		})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	})

	t.Run("acl admits reader", func(t *testing.T) {
		cid := uuid.New()
		pol := activePolicy(cid, "notes")
		pol.Readers = []string{"alice"}
		fx := newFixture(pol)

		resp, err := fx.build().Search(context.Background(), &Request{
			Query: "q", ContainerRefs: []string{"notes"}, Mode: domain.ModeBM25,
			Principal: "alice",
		})
		require.NoError(t, err)
		assert.Contains(t, resp.Issues, domain.IssueNoHits)
	})
}

func TestSearch_NoHits(t *testing.T) {
	cid := uuid.New()
	fx := newFixture(activePolicy(cid, "notes"))

	resp, err := fx.build().Search(context.Background(), &Request{
		Query:         "nothing matches",
		ContainerRefs: []string{"notes"},
		Mode:          domain.ModeHybrid,
		K:             5,
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Results)
	assert.Equal(t, []domain.Issue{domain.IssueNoHits}, resp.Issues)
	assert.False(t, resp.Partial)
}

func TestPseudoRerank_BreaksTiesByOverlap(t *testing.T) {
	cid := uuid.New()
	relevant := &candidate{
		chunk:       domain.Chunk{ID: uuid.New(), ContainerID: cid, Text: "thick impasto passages of paint"},
		stageScores: map[string]float64{stageBM25: 0.5},
		fused:       0.1,
	}
	other := &candidate{
		chunk:       domain.Chunk{ID: uuid.New(), ContainerID: cid, Text: "an unrelated study"},
		stageScores: map[string]float64{stageBM25: 0.5},
		fused:       0.1,
	}
	cands := []*candidate{other, relevant}

	pseudoRerank("impasto paint", cands)

	assert.Equal(t, relevant.chunk.ID, cands[0].chunk.ID)
}
