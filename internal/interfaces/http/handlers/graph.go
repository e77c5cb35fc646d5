package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/ingest"
	"github.com/llcontext/llcd/internal/lifecycle"
	"github.com/llcontext/llcd/internal/search"
	"github.com/llcontext/llcd/internal/store/graph"
	"github.com/llcontext/llcd/pkg/api"
)

// GraphQuerier is the slice of graph retrieval the handler needs: the fused
// NL path plus the validated-query entry point.
type GraphQuerier interface {
	search.GraphRetriever
	RunCypherLike(ctx context.Context, pol *domain.Policy, containerID uuid.UUID, query string) (*search.GraphStage, error)
}

// GraphHandler exposes the per-container graph: schema, external upserts,
// and graph search.
type GraphHandler struct {
	containers *lifecycle.Service
	policies   ingest.PolicyResolver
	graphs     graph.Store
	retriever  GraphQuerier
	logger     *zap.Logger
}

func NewGraphHandler(
	containers *lifecycle.Service,
	policies ingest.PolicyResolver,
	graphs graph.Store,
	retriever GraphQuerier,
	logger *zap.Logger,
) *GraphHandler {
	return &GraphHandler{
		containers: containers,
		policies:   policies,
		graphs:     graphs,
		retriever:  retriever,
		logger:     logger.Named("http.graph"),
	}
}

type graphSchemaResponse struct {
	api.Envelope
	Enabled bool                `json:"enabled"`
	MaxHops int                 `json:"max_hops,omitempty"`
	Schema  *domain.GraphSchema `json:"schema,omitempty"`
}

// Schema handles GET /v1/graph/{ref}/schema.
func (h *GraphHandler) Schema(w http.ResponseWriter, r *http.Request) {
	pol, err := h.resolve(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, graphSchemaResponse{
		Envelope: envelope(r),
		Enabled:  pol.Graph.Enabled,
		MaxHops:  pol.Graph.MaxHops,
		Schema:   pol.Graph.Schema,
	})
}

type graphUpsertResponse struct {
	api.Envelope
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// Upsert handles POST /v1/graph/{ref}/upsert: externally-built nodes and
// edges merged under the container's schema. Every entity must carry chunk
// provenance.
func (h *GraphHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	pol, err := h.resolve(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var body api.GraphUpsertRequest
	if err := api.Decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	cid, err := uuid.Parse(pol.ContainerID)
	if err != nil {
		fail(w, r, apperr.Internal("policy carries a malformed container id", err))
		return
	}

	nodes := make([]domain.GraphNode, 0, len(body.Nodes))
	for _, n := range body.Nodes {
		if !pol.Graph.Schema.AllowsLabel(n.Type) {
			fail(w, r, apperr.Validation(string(domain.IssueGraphQueryInvalid),
				"node type "+n.Type+" is not in the container schema"))
			return
		}
		chunkID, err := uuid.Parse(n.SourceChunkID)
		if err != nil {
			fail(w, r, apperr.Validation(string(domain.IssueGraphQueryInvalid),
				"every node needs a source_chunk_id"))
			return
		}
		nodes = append(nodes, domain.GraphNode{
			NodeID:        n.NodeID,
			ContainerID:   cid,
			Label:         n.Label,
			Type:          n.Type,
			Summary:       n.Summary,
			SourceChunkID: chunkID,
		})
	}
	edges := make([]domain.GraphEdge, 0, len(body.Edges))
	for _, e := range body.Edges {
		if !pol.Graph.Schema.AllowsEdge(e.Type) {
			fail(w, r, apperr.Validation(string(domain.IssueGraphQueryInvalid),
				"edge type "+e.Type+" is not in the container schema"))
			return
		}
		chunkID, err := uuid.Parse(e.SourceChunkID)
		if err != nil {
			fail(w, r, apperr.Validation(string(domain.IssueGraphQueryInvalid),
				"every edge needs a source_chunk_id"))
			return
		}
		edges = append(edges, domain.GraphEdge{
			SourceID:      e.SourceID,
			TargetID:      e.TargetID,
			Type:          e.Type,
			ContainerID:   cid,
			SourceChunkID: chunkID,
		})
	}

	if err := h.graphs.UpsertNodes(r.Context(), nodes); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.graphs.UpsertEdges(r.Context(), edges); err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, graphUpsertResponse{
		Envelope: envelope(r),
		Nodes:    len(nodes),
		Edges:    len(edges),
	})
}

type graphSearchResponse struct {
	api.Envelope
	Mode     string             `json:"mode"`
	Nodes    []domain.GraphNode `json:"nodes"`
	Edges    []domain.GraphEdge `json:"edges"`
	Chunks   []string           `json:"chunk_ids"`
	Fallback string             `json:"fallback,omitempty"`
}

// Search handles POST /v1/graph/{ref}/search. Mode nl translates the
// question, expand walks from seed chunks, cypher_like runs a validated
// caller query. An empty mode is inferred from the inputs.
func (h *GraphHandler) Search(w http.ResponseWriter, r *http.Request) {
	pol, err := h.resolve(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var body api.GraphSearchRequest
	if err := api.Decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	mode := body.Mode
	if mode == "" {
		if body.Query != "" {
			mode = api.GraphModeNL
		} else {
			mode = api.GraphModeExpand
		}
	}
	cid, err := uuid.Parse(pol.ContainerID)
	if err != nil {
		fail(w, r, apperr.Internal("policy carries a malformed container id", err))
		return
	}
	var seeds []uuid.UUID
	for _, s := range body.Seeds {
		id, err := uuid.Parse(s)
		if err != nil {
			fail(w, r, apperr.Validation("BAD_SEED", "seeds must be chunk uuids"))
			return
		}
		seeds = append(seeds, id)
	}
	if body.MaxHops > 0 && body.MaxHops < pol.Graph.MaxHops {
		polCopy := *pol
		polCopy.Graph.MaxHops = body.MaxHops
		pol = &polCopy
	}

	var stage *search.GraphStage
	switch mode {
	case api.GraphModeNL:
		if body.Query == "" {
			fail(w, r, apperr.Validation("NO_GRAPH_INPUT", "nl mode requires a query"))
			return
		}
		stage, err = h.retriever.Retrieve(r.Context(), pol, cid, body.Query, seeds)
	case api.GraphModeExpand:
		if len(seeds) == 0 {
			fail(w, r, apperr.Validation("NO_GRAPH_INPUT", "expand mode requires seeds"))
			return
		}
		stage, err = h.retriever.Retrieve(r.Context(), pol, cid, "", seeds)
	case api.GraphModeCypherLike:
		if body.Query == "" {
			fail(w, r, apperr.Validation("NO_GRAPH_INPUT", "cypher_like mode requires a query"))
			return
		}
		stage, err = h.retriever.RunCypherLike(r.Context(), pol, cid, body.Query)
	default:
		fail(w, r, apperr.Validation("BAD_GRAPH_MODE",
			"mode must be one of nl, expand, cypher_like"))
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	out := graphSearchResponse{
		Envelope: envelope(r),
		Mode:     mode,
		Nodes:    stage.Nodes,
		Edges:    stage.Edges,
		Fallback: stage.Fallback,
	}
	for _, hit := range stage.Hits {
		out.Chunks = append(out.Chunks, hit.Chunk.ID.String())
	}
	for _, issue := range stage.Issues {
		out.Issues = append(out.Issues, string(issue))
	}
	respond(w, r, http.StatusOK, out)
}

func (h *GraphHandler) resolve(r *http.Request) (*domain.Policy, error) {
	c, err := h.containers.Describe(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		return nil, err
	}
	pol, err := h.policies.Resolve(r.Context(), c.ID.String())
	if err != nil {
		return nil, err
	}
	if !pol.Graph.Enabled {
		return nil, apperr.Validation(string(domain.IssueGraphQueryInvalid),
			"graph is not enabled for this container")
	}
	return pol, nil
}
