package api

import (
	"time"

	"github.com/llcontext/llcd/internal/domain"
	"github.com/llcontext/llcd/internal/search"
)

// SearchRequest is the body of POST /v1/search. QueryImage is base64 on the
// wire (encoding/json []byte convention).
type SearchRequest struct {
	Query       string   `json:"query,omitempty"`
	QueryImage  []byte   `json:"query_image,omitempty"`
	Containers  []string `json:"containers"`
	Mode        string   `json:"mode,omitempty"`
	K           int      `json:"k,omitempty"`
	BudgetMS    int      `json:"budget_ms,omitempty"`
	Rerank      *bool    `json:"rerank,omitempty"`
	Diagnostics bool     `json:"diagnostics,omitempty"`
	GraphQuery  string   `json:"graph_query,omitempty"`
}

// SearchResponse wraps the pipeline output in the response envelope.
type SearchResponse struct {
	Envelope
	Partial      bool                 `json:"partial"`
	Query        string               `json:"query,omitempty"`
	Results      []search.ResultItem  `json:"results"`
	GraphContext *search.GraphContext `json:"graph_context,omitempty"`
	TotalHits    int                  `json:"total_hits"`
	Returned     int                  `json:"returned"`
	Diagnostics  *search.Diagnostics  `json:"diagnostics,omitempty"`
}

// UpdateContainerRequest carries mutable container metadata; absent fields
// stay unchanged.
type UpdateContainerRequest struct {
	Theme       *string             `json:"theme,omitempty"`
	Description *string             `json:"description,omitempty"`
	BudgetMS    *int                `json:"budget_ms,omitempty"`
	State       *string             `json:"state,omitempty"`
	Readers     []string            `json:"readers,omitempty"`
	Owners      []string            `json:"owners,omitempty"`
	GraphSchema *domain.GraphSchema `json:"graph_schema,omitempty"`
	Policy      map[string]any      `json:"policy,omitempty"`
}

// RefreshRequest asks for a shadow re-embed with a new embedder identity.
type RefreshRequest struct {
	Embedder string `json:"embedder"`
	Version  string `json:"version,omitempty"`
	Dims     int    `json:"dims"`
}

// ExportRequest asks for archive packaging of a container.
type ExportRequest struct {
	IncludeBlobs bool `json:"include_blobs,omitempty"`
}

// AddSourcesRequest enqueues ingestion for one or more sources.
type AddSourcesRequest struct {
	Sources   []domain.IngestSource `json:"sources"`
	Mode      string                `json:"mode,omitempty"`
	TimeoutMS int                   `json:"timeout_ms,omitempty"`
}

// JobRef pairs a source with its enqueued job.
type JobRef struct {
	JobID string `json:"job_id"`
	URI   string `json:"uri,omitempty"`
}

// AddSourcesResponse lists the enqueued (or, in blocking mode, finished)
// jobs.
type AddSourcesResponse struct {
	Envelope
	Jobs []JobStatus `json:"jobs"`
}

// LinkRequest records a typed association to another container.
type LinkRequest struct {
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

// SubscribeRequest records an agent's interest in a container.
type SubscribeRequest struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`
}

// GraphUpsertRequest merges externally-built nodes and edges into a
// container's graph.
type GraphUpsertRequest struct {
	Nodes []GraphNode `json:"nodes,omitempty"`
	Edges []GraphEdge `json:"edges,omitempty"`
}

// Graph search modes.
const (
	GraphModeNL         = "nl"
	GraphModeExpand     = "expand"
	GraphModeCypherLike = "cypher_like"
)

// GraphSearchRequest queries the container graph. Mode selects the path: nl
// translates a natural-language question, expand walks out from seed chunk
// ids, cypher_like runs a caller-written query through the validator. An
// empty mode is inferred from which inputs are present.
type GraphSearchRequest struct {
	Mode    string   `json:"mode,omitempty"`
	Query   string   `json:"query,omitempty"`
	Seeds   []string `json:"seeds,omitempty"`
	MaxHops int      `json:"max_hops,omitempty"`
	K       int      `json:"k,omitempty"`
}

// GraphNode is the wire shape of one graph entity.
type GraphNode struct {
	NodeID        string `json:"node_id"`
	Label         string `json:"label"`
	Type          string `json:"type,omitempty"`
	Summary       string `json:"summary,omitempty"`
	SourceChunkID string `json:"source_chunk_id,omitempty"`
}

// GraphEdge is the wire shape of one graph relation.
type GraphEdge struct {
	SourceID      string `json:"source_id"`
	TargetID      string `json:"target_id"`
	Type          string `json:"type"`
	SourceChunkID string `json:"source_chunk_id,omitempty"`
}

// Container is the API representation of a container.
type Container struct {
	ID              string              `json:"id"`
	ParentID        string              `json:"parent_id,omitempty"`
	Slug            string              `json:"slug"`
	Theme           string              `json:"theme"`
	Description     string              `json:"description,omitempty"`
	Modalities      []string            `json:"modalities"`
	Embedder        string              `json:"embedder"`
	EmbedderVersion string              `json:"embedder_version,omitempty"`
	Dims            int                 `json:"dims"`
	BudgetMS        int                 `json:"budget_ms,omitempty"`
	State           string              `json:"state"`
	GraphEnabled    bool                `json:"graph_enabled"`
	GraphSchema     *domain.GraphSchema `json:"graph_schema,omitempty"`
	Policy          map[string]any      `json:"policy,omitempty"`
	ACL             map[string]any      `json:"acl,omitempty"`
	Stats           *ContainerStats     `json:"stats,omitempty"`
	CreatedBy       string              `json:"created_by,omitempty"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

type ContainerStats struct {
	Documents    int64  `json:"documents"`
	Chunks       int64  `json:"chunks"`
	Bytes        int64  `json:"bytes"`
	LastIngestAt string `json:"last_ingest_at,omitempty"`
}

// FromContainer maps a domain container onto the wire shape. Stats are
// attached only when withStats is set.
func FromContainer(c *domain.Container, withStats bool) Container {
	modalities := make([]string, len(c.Modalities))
	for i, m := range c.Modalities {
		modalities[i] = string(m)
	}
	out := Container{
		ID:              c.ID.String(),
		Slug:            c.Slug,
		Theme:           c.Theme,
		Description:     c.Description,
		Modalities:      modalities,
		Embedder:        c.Embedder,
		EmbedderVersion: c.EmbedderVersion,
		Dims:            c.Dims,
		BudgetMS:        c.BudgetMS,
		State:           string(c.State),
		GraphEnabled:    c.GraphEnabled,
		GraphSchema:     c.GraphSchema,
		Policy:          c.Policy,
		ACL:             c.ACL,
		CreatedBy:       c.CreatedBy,
		CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.ParentID != nil {
		out.ParentID = c.ParentID.String()
	}
	if withStats {
		stats := &ContainerStats{
			Documents: c.Stats.Documents,
			Chunks:    c.Stats.Chunks,
			Bytes:     c.Stats.Bytes,
		}
		if c.Stats.LastIngestAt != nil {
			stats.LastIngestAt = c.Stats.LastIngestAt.UTC().Format(time.RFC3339)
		}
		out.Stats = stats
	}
	return out
}

// Document is the API representation of a document.
type Document struct {
	ID          string         `json:"id"`
	ContainerID string         `json:"container_id"`
	URI         string         `json:"uri,omitempty"`
	MIME        string         `json:"mime,omitempty"`
	ContentHash string         `json:"content_hash"`
	Title       string         `json:"title,omitempty"`
	Modality    string         `json:"modality"`
	Provenance  map[string]any `json:"provenance,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	State       string         `json:"state"`
	CreatedAt   string         `json:"created_at"`
}

func FromDocument(d *domain.Document) Document {
	return Document{
		ID:          d.ID.String(),
		ContainerID: d.ContainerID.String(),
		URI:         d.URI,
		MIME:        d.MIME,
		ContentHash: d.ContentHash,
		Title:       d.Title,
		Modality:    string(d.Modality),
		Provenance:  d.Provenance,
		ChunkCount:  d.ChunkCount,
		State:       string(d.State),
		CreatedAt:   d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Chunk is the API representation of a chunk row.
type Chunk struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id"`
	ContainerID string         `json:"container_id"`
	Modality    string         `json:"modality"`
	Ordinal     int            `json:"ordinal"`
	Text        string         `json:"text,omitempty"`
	StartOffset int            `json:"start_offset"`
	EndOffset   int            `json:"end_offset"`
	Provenance  map[string]any `json:"provenance,omitempty"`
	DedupOf     string         `json:"dedup_of,omitempty"`
}

func FromChunk(c *domain.Chunk) Chunk {
	out := Chunk{
		ID:          c.ID.String(),
		DocumentID:  c.DocID.String(),
		ContainerID: c.ContainerID.String(),
		Modality:    string(c.Modality),
		Ordinal:     c.Ordinal,
		Text:        c.Text,
		StartOffset: c.StartOffset,
		EndOffset:   c.EndOffset,
		Provenance:  c.Provenance,
	}
	if c.DedupOf != nil {
		out.DedupOf = c.DedupOf.String()
	}
	return out
}

// JobStatus is the API representation of a queued job.
type JobStatus struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	State       string         `json:"state"`
	ContainerID string         `json:"container_id,omitempty"`
	Attempts    int            `json:"attempts"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

func FromJob(j *domain.Job) JobStatus {
	out := JobStatus{
		ID:        j.ID.String(),
		Kind:      string(j.Kind),
		State:     string(j.State),
		Attempts:  j.Attempts,
		Result:    j.Result,
		Error:     j.LastError,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.ContainerID != nil {
		out.ContainerID = j.ContainerID.String()
	}
	return out
}

// JobEvent is one audit-trail transition.
type JobEvent struct {
	PrevState string `json:"prev_state,omitempty"`
	NewState  string `json:"new_state"`
	WorkerID  string `json:"worker_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

func FromJobEvent(e *domain.JobEvent) JobEvent {
	return JobEvent{
		PrevState: string(e.PrevState),
		NewState:  string(e.NewState),
		WorkerID:  e.WorkerID,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Link is the API representation of a container link.
type Link struct {
	ID        string `json:"id"`
	SourceID  string `json:"source_id"`
	TargetID  string `json:"target_id"`
	Kind      string `json:"kind"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at"`
}

func FromLink(l *domain.ContainerLink) Link {
	return Link{
		ID:        l.ID.String(),
		SourceID:  l.SourceID.String(),
		TargetID:  l.TargetID.String(),
		Kind:      l.Kind,
		CreatedBy: l.CreatedBy,
		CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Subscription is the API representation of a container subscription.
type Subscription struct {
	ID          string `json:"id"`
	ContainerID string `json:"container_id"`
	AgentID     string `json:"agent_id"`
	AgentName   string `json:"agent_name,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func FromSubscription(s *domain.ContainerSubscription) Subscription {
	return Subscription{
		ID:          s.ID.String(),
		ContainerID: s.ContainerID.String(),
		AgentID:     s.AgentID,
		AgentName:   s.AgentName,
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
	}
}
