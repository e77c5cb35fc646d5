// Package search implements the hybrid retrieval pipeline: parallel lexical,
// dense, and graph stages under a shared latency budget, reciprocal rank
// fusion, freshness adjustment, semantic dedup, budget-guarded rerank, and
// snippet rendering. No stage failure aborts a request; the pipeline degrades
// and reports issues instead.
package search

import (
	"time"

	"github.com/google/uuid"

	"github.com/llcontext/llcd/internal/domain"
)

// Request is one retrieval call after transport decoding.
type Request struct {
	Query         string
	QueryImage    []byte
	ContainerRefs []string
	Mode          domain.SearchMode
	K             int
	BudgetMS      int
	// Rerank opts out of policy-enabled rerank when set to false.
	Rerank      *bool
	Diagnostics bool
	// GraphQuery is an optional natural-language question routed to the
	// graph translator instead of seed expansion.
	GraphQuery string
	Principal  string
}

// MaxK bounds the result count a request may ask for.
const MaxK = 50

// GraphAttachment links a result to the graph context that pulled it in.
type GraphAttachment struct {
	Nodes         []domain.GraphNode `json:"nodes,omitempty"`
	Edges         []domain.GraphEdge `json:"edges,omitempty"`
	SourceChunkID string             `json:"source_chunk_id,omitempty"`
}

// ResultItem is one ranked chunk with provenance.
type ResultItem struct {
	ChunkID       uuid.UUID          `json:"chunk_id"`
	DocumentID    uuid.UUID          `json:"document_id"`
	ContainerID   uuid.UUID          `json:"container_id"`
	ContainerName string             `json:"container_name"`
	Title         string             `json:"title"`
	Snippet       string             `json:"snippet"`
	URI           string             `json:"uri,omitempty"`
	Modality      domain.Modality    `json:"modality"`
	Ordinal       int                `json:"ordinal"`
	Score         float64            `json:"score"`
	StageScores   map[string]float64 `json:"stage_scores,omitempty"`
	Provenance    map[string]any     `json:"provenance"`
	Meta          map[string]any     `json:"meta"`
	Graph         *GraphAttachment   `json:"graph,omitempty"`
}

// Diagnostics aggregates what happened to a request. Stage timings are
// milliseconds; absent stages report zero.
type Diagnostics struct {
	BM25MS   int64 `json:"bm25_ms"`
	VectorMS int64 `json:"vector_ms"`
	GraphMS  int64 `json:"graph_ms"`
	RerankMS int64 `json:"rerank_ms"`
	FuseMS   int64 `json:"fuse_ms"`
	TotalMS  int64 `json:"total_ms"`

	BudgetMS      int64          `json:"budget_ms"`
	HitCounts     map[string]int `json:"hit_counts"`
	RerankApplied bool           `json:"rerank_applied"`
	RerankCached  bool           `json:"rerank_cached"`
	DedupElided   []string       `json:"dedup_elided,omitempty"`
	ExpandedQuery string         `json:"expanded_query,omitempty"`
	// Fallback names the degraded retrieval path that answered part of the
	// request, such as the graph keyword template.
	Fallback string `json:"fallback,omitempty"`
}

// FallbackTemplate marks graph results produced by the keyword template query
// after translation failed or was rejected.
const FallbackTemplate = "template"

// GraphContext is the request-level graph neighborhood: everything the graph
// stage touched across containers, not attributed to a single result.
type GraphContext struct {
	Nodes    []domain.GraphNode `json:"nodes"`
	Edges    []domain.GraphEdge `json:"edges"`
	Snippets []string           `json:"snippets,omitempty"`
}

// Response is the pipeline output. Issues and Partial are always present;
// Diagnostics only when the request asked for them.
type Response struct {
	Results      []ResultItem   `json:"results"`
	GraphContext *GraphContext  `json:"graph_context,omitempty"`
	Partial      bool           `json:"partial"`
	Issues       []domain.Issue `json:"issues"`
	Diag         *Diagnostics   `json:"diagnostics,omitempty"`
}

// candidate is the pipeline's working record between fusion and rendering.
type candidate struct {
	chunk    domain.Chunk
	document domain.Document
	// stage ranks, zero-based; -1 means the stage did not return it.
	stageScores map[string]float64
	fused       float64
	graph       *GraphAttachment
}

// stage result names used in stageScores, hit counts, and diagnostics.
const (
	stageBM25   = "bm25"
	stageVector = "vector"
	stageGraph  = "graph"
	stageRerank = "rerank"
)

// budgetSafety is subtracted from the effective budget before slicing stage
// deadlines; rerankFloor is the minimum remaining budget worth spending on a
// rerank call.
const rerankFloor = 100 * time.Millisecond
