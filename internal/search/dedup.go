package search

import (
	"github.com/llcontext/llcd/internal/adapters/embedder"
	"github.com/llcontext/llcd/internal/domain"
)

// vectorLookup returns the cached embedding for a chunk, or nil when none is
// available. Dedup never triggers a provider call.
type vectorLookup func(chunk *domain.Chunk) []float32

// dedupe collapses near-duplicates in ranked order, keeping the
// highest-scoring representative. Duplicates are detected by dedup linkage,
// identical text hash, or cosine similarity at or above threshold when both
// vectors are cached. Returns survivors plus the elided chunk ids.
func dedupe(cands []*candidate, threshold float64, lookup vectorLookup) ([]*candidate, []string) {
	var (
		out       []*candidate
		elided    []string
		canonical = make(map[string]struct{})
		hashes    = make(map[string]struct{})
		vectors   [][]float32
	)

	for _, cand := range cands {
		canon := cand.chunk.ID.String()
		if cand.chunk.DedupOf != nil {
			canon = cand.chunk.DedupOf.String()
		}
		if _, seen := canonical[canon]; seen {
			elided = append(elided, cand.chunk.ID.String())
			continue
		}
		if _, seen := hashes[cand.chunk.TextHash]; seen && cand.chunk.TextHash != "" {
			elided = append(elided, cand.chunk.ID.String())
			continue
		}

		var vec []float32
		if threshold > 0 && lookup != nil {
			vec = lookup(&cand.chunk)
		}
		if vec != nil && tooSimilar(vec, vectors, threshold) {
			elided = append(elided, cand.chunk.ID.String())
			continue
		}

		canonical[canon] = struct{}{}
		if cand.chunk.TextHash != "" {
			hashes[cand.chunk.TextHash] = struct{}{}
		}
		if vec != nil {
			vectors = append(vectors, vec)
		}
		out = append(out, cand)
	}
	return out, elided
}

func tooSimilar(vec []float32, emitted [][]float32, threshold float64) bool {
	for _, other := range emitted {
		if embedder.Cosine(vec, other) >= threshold {
			return true
		}
	}
	return false
}
