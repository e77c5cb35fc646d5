package search

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llcontext/llcd/internal/domain"
)

func cand(fused float64, mutate func(*domain.Chunk)) *candidate {
	c := &candidate{
		chunk:       domain.Chunk{ID: uuid.New(), ContainerID: uuid.New()},
		stageScores: map[string]float64{},
		fused:       fused,
	}
	if mutate != nil {
		mutate(&c.chunk)
	}
	return c
}

func TestDedupe_CollapsesDedupLinkage(t *testing.T) {
	canonical := cand(0.9, nil)
	duplicate := cand(0.5, func(ch *domain.Chunk) { ch.DedupOf = &canonical.chunk.ID })

	out, elided := dedupe([]*candidate{canonical, duplicate}, 0, nil)

	require.Len(t, out, 1)
	assert.Equal(t, canonical.chunk.ID, out[0].chunk.ID)
	assert.Equal(t, []string{duplicate.chunk.ID.String()}, elided)
}

func TestDedupe_DuplicateAheadOfCanonicalStillCollapses(t *testing.T) {
	canonical := cand(0.4, nil)
	duplicate := cand(0.9, func(ch *domain.Chunk) { ch.DedupOf = &canonical.chunk.ID })

	// Ranked order puts the duplicate first; it wins the canonical slot and
	// the lower-scored original is elided.
	out, elided := dedupe([]*candidate{duplicate, canonical}, 0, nil)

	require.Len(t, out, 1)
	assert.Equal(t, duplicate.chunk.ID, out[0].chunk.ID)
	assert.Equal(t, []string{canonical.chunk.ID.String()}, elided)
}

func TestDedupe_TextHash(t *testing.T) {
	first := cand(0.9, func(ch *domain.Chunk) { ch.TextHash = "abc" })
	second := cand(0.6, func(ch *domain.Chunk) { ch.TextHash = "abc" })
	distinct := cand(0.5, func(ch *domain.Chunk) { ch.TextHash = "def" })

	out, elided := dedupe([]*candidate{first, second, distinct}, 0, nil)

	require.Len(t, out, 2)
	assert.Equal(t, first.chunk.ID, out[0].chunk.ID)
	assert.Equal(t, distinct.chunk.ID, out[1].chunk.ID)
	assert.Equal(t, []string{second.chunk.ID.String()}, elided)
}

func TestDedupe_CosineAgainstEmittedVectors(t *testing.T) {
	a := cand(0.9, func(ch *domain.Chunk) { ch.TextHash = "h1" })
	near := cand(0.7, func(ch *domain.Chunk) { ch.TextHash = "h2" })
	far := cand(0.6, func(ch *domain.Chunk) { ch.TextHash = "h3" })
	uncached := cand(0.5, func(ch *domain.Chunk) { ch.TextHash = "h4" })

	vectors := map[string][]float32{
		"h1": {1, 0},
		"h2": {0.999, 0.045},
		"h3": {0, 1},
	}
	lookup := func(ch *domain.Chunk) []float32 { return vectors[ch.TextHash] }

	out, elided := dedupe([]*candidate{a, near, far, uncached}, 0.92, lookup)

	require.Len(t, out, 3)
	assert.Equal(t, a.chunk.ID, out[0].chunk.ID)
	assert.Equal(t, far.chunk.ID, out[1].chunk.ID)
	// No cached vector means no semantic comparison; the chunk survives.
	assert.Equal(t, uncached.chunk.ID, out[2].chunk.ID)
	assert.Equal(t, []string{near.chunk.ID.String()}, elided)
}

func TestDedupe_ThresholdZeroSkipsVectorLookups(t *testing.T) {
	calls := 0
	lookup := func(*domain.Chunk) []float32 { calls++; return []float32{1, 0} }

	out, elided := dedupe([]*candidate{cand(0.9, nil), cand(0.8, nil)}, 0, lookup)

	assert.Len(t, out, 2)
	assert.Empty(t, elided)
	assert.Zero(t, calls)
}
