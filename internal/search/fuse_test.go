package search

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llcontext/llcd/internal/domain"
	"github.com/llcontext/llcd/internal/repository"
)

func scored(id uuid.UUID, cid uuid.UUID, score float64) repository.ScoredChunk {
	return repository.ScoredChunk{
		Chunk:    domain.Chunk{ID: id, ContainerID: cid, Text: "text"},
		Document: domain.Document{ID: uuid.New(), Title: "doc"},
		Score:    score,
	}
}

func TestFuse_SharedHitOutranksSingleStage(t *testing.T) {
	cid := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	stages := map[string][]repository.ScoredChunk{
		stageBM25:   {scored(a, cid, 9.1), scored(b, cid, 4.2)},
		stageVector: {scored(b, cid, 0.93), scored(c, cid, 0.81)},
	}

	cands := fuse(stages, 60)
	require.Len(t, cands, 3)

	// b is rank 2 lexically and rank 1 densely; both singles hold one rank-1
	// slot each, so b's summed reciprocal ranks win.
	assert.Equal(t, b, cands[0].chunk.ID)
	assert.InDelta(t, 1.0/62+1.0/61, cands[0].fused, 1e-9)
	assert.Equal(t, 0.93, cands[0].stageScores[stageVector])
	assert.Equal(t, 4.2, cands[0].stageScores[stageBM25])
}

func TestFuse_TieBreaksByStageScoreThenID(t *testing.T) {
	cid := uuid.New()
	a, b := uuid.New(), uuid.New()

	// Same rank in different stages: identical fused score, a has the higher
	// raw stage score.
	stages := map[string][]repository.ScoredChunk{
		stageBM25:   {scored(a, cid, 12.0)},
		stageVector: {scored(b, cid, 0.7)},
	}
	cands := fuse(stages, 60)
	require.Len(t, cands, 2)
	assert.Equal(t, a, cands[0].chunk.ID)

	// Equal raw scores fall back to id ordering for determinism.
	stages = map[string][]repository.ScoredChunk{
		stageBM25:   {scored(a, cid, 1.0)},
		stageVector: {scored(b, cid, 1.0)},
	}
	cands = fuse(stages, 60)
	lo, hi := a.String(), b.String()
	if hi < lo {
		lo, hi = hi, lo
	}
	assert.Equal(t, lo, cands[0].chunk.ID.String())
	assert.Equal(t, hi, cands[1].chunk.ID.String())
}

func TestApplyFreshness_DecaysOldDocuments(t *testing.T) {
	cid := uuid.New()
	now := time.Now()

	fresh := &candidate{
		chunk:       domain.Chunk{ID: uuid.New(), ContainerID: cid},
		document:    domain.Document{CreatedAt: now.Add(-1 * time.Hour)},
		stageScores: map[string]float64{stageBM25: 1},
		fused:       0.5,
	}
	stale := &candidate{
		chunk:       domain.Chunk{ID: uuid.New(), ContainerID: cid},
		document:    domain.Document{CreatedAt: now.AddDate(0, 0, -365)},
		stageScores: map[string]float64{stageBM25: 2},
		fused:       0.6,
	}
	cands := []*candidate{stale, fresh}

	applyFreshness(cands, func(uuid.UUID) float64 { return 0.01 }, now)

	// A year at lambda 0.01 costs e^-3.65, far more than the initial gap.
	assert.Equal(t, fresh.chunk.ID, cands[0].chunk.ID)
	assert.Less(t, stale.fused, 0.02)
	assert.Greater(t, fresh.fused, 0.49)
}

func TestApplyFreshness_ZeroLambdaIsNeutral(t *testing.T) {
	cid := uuid.New()
	cand := &candidate{
		chunk:       domain.Chunk{ID: uuid.New(), ContainerID: cid},
		document:    domain.Document{CreatedAt: time.Now().AddDate(-1, 0, 0)},
		stageScores: map[string]float64{},
		fused:       0.25,
	}
	applyFreshness([]*candidate{cand}, func(uuid.UUID) float64 { return 0 }, time.Now())
	assert.Equal(t, 0.25, cand.fused)
}
