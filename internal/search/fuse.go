package search

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/llcontext/llcd/internal/repository"
)

// fuse merges per-stage rankings with Reciprocal Rank Fusion: each item
// scores the sum over stages of 1/(k0 + rank), rank starting at 1. Ties break
// by higher best stage score, then by chunk id for stability.
func fuse(stages map[string][]repository.ScoredChunk, k0 int) []*candidate {
	byID := make(map[string]*candidate)

	for stage, hits := range stages {
		for rank, hit := range hits {
			key := hit.Chunk.ID.String()
			cand, ok := byID[key]
			if !ok {
				cand = &candidate{
					chunk:       hit.Chunk,
					document:    hit.Document,
					stageScores: make(map[string]float64),
				}
				byID[key] = cand
			}
			cand.stageScores[stage] = hit.Score
			cand.fused += 1 / float64(k0+rank+1)
		}
	}

	out := make([]*candidate, 0, len(byID))
	for _, cand := range byID {
		out = append(out, cand)
	}
	sortCandidates(out)
	return out
}

func sortCandidates(cands []*candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].fused != cands[j].fused {
			return cands[i].fused > cands[j].fused
		}
		mi, mj := maxStageScore(cands[i]), maxStageScore(cands[j])
		if mi != mj {
			return mi > mj
		}
		return cands[i].chunk.ID.String() < cands[j].chunk.ID.String()
	})
}

func maxStageScore(c *candidate) float64 {
	max := math.Inf(-1)
	for _, s := range c.stageScores {
		if s > max {
			max = s
		}
	}
	return max
}

// applyFreshness decays fused scores by exp(-lambda * age_days), using the
// document's ingestion time and the owning container's lambda. Zero
// timestamps and zero lambdas are neutral.
func applyFreshness(cands []*candidate, lambdaFor func(containerID uuid.UUID) float64, now time.Time) {
	changed := false
	for _, cand := range cands {
		lambda := lambdaFor(cand.chunk.ContainerID)
		if lambda <= 0 {
			continue
		}
		ts := cand.document.CreatedAt
		if ts.IsZero() {
			continue
		}
		ageDays := now.Sub(ts).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		cand.fused *= math.Exp(-lambda * ageDays)
		changed = true
	}
	if changed {
		sortCandidates(cands)
	}
}
