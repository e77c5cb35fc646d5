package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContainerStats carries the running counters ingestion maintains per
// container. Counters are updated with atomic SQL increments, never
// read-modify-write.
type ContainerStats struct {
	Documents    int64      `json:"documents"`
	Chunks       int64      `json:"chunks"`
	Bytes        int64      `json:"bytes"`
	LastIngestAt *time.Time `json:"last_ingest_at,omitempty"`
}

// Container is a named, versioned policy envelope around a corpus. The
// embedder identity and vector dimensionality are immutable once the vector
// collection exists; only a shadow refresh may change them.
type Container struct {
	ID              uuid.UUID
	ParentID        *uuid.UUID
	Slug            string
	Theme           string
	Description     string
	Modalities      []Modality
	Embedder        string
	EmbedderVersion string
	Dims            int
	BudgetMS        int
	Policy          map[string]any
	ACL             map[string]any
	State           ContainerState
	Stats           ContainerStats
	GraphEnabled    bool
	GraphSchema     *GraphSchema
	Visibility      string
	Collaboration   string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AllowsModality reports whether the container accepts the given modality.
func (c *Container) AllowsModality(m Modality) bool {
	for _, allowed := range c.Modalities {
		if allowed == m {
			return true
		}
	}
	return false
}

// CollectionName derives the deterministic vector collection name for a
// container and modality. Text and pdf chunks share the text collection;
// image chunks live in a dedicated one.
func CollectionName(containerID uuid.UUID, m Modality) string {
	if m == ModalityImage {
		return "c_" + containerID.String() + "_image"
	}
	return "c_" + containerID.String()
}

// ContainerLink is a typed association between two containers, used by
// collaborating agents to record that corpora relate to each other.
type ContainerLink struct {
	ID        uuid.UUID
	SourceID  uuid.UUID
	TargetID  uuid.UUID
	Kind      string
	CreatedBy string
	CreatedAt time.Time
}

// ContainerSubscription records an agent's interest in a container; it is
// consulted by the audit trail, not by retrieval.
type ContainerSubscription struct {
	ID          uuid.UUID
	ContainerID uuid.UUID
	AgentID     string
	AgentName   string
	CreatedAt   time.Time
}

// AgentSession is one row per observed agent identity, refreshed on every
// annotated request.
type AgentSession struct {
	ID         uuid.UUID
	AgentID    string
	AgentName  string
	FirstSeen  time.Time
	LastSeen   time.Time
	RequestCnt int64
}
