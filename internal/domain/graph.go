package domain

import "github.com/google/uuid"

// GraphNode is one entity extracted from a chunk. Node ids are stable
// within a container, derived from the normalized name and type, so repeated
// extraction merges rather than duplicates. Every node references the chunk
// it came from (provenance closure).
type GraphNode struct {
	NodeID        string         `json:"node_id"`
	ContainerID   uuid.UUID      `json:"container_id"`
	Label         string         `json:"label"`
	Type          string         `json:"type"`
	Summary       string         `json:"summary,omitempty"`
	SourceChunkID uuid.UUID      `json:"source_chunk_id"`
	Props         map[string]any `json:"props,omitempty"`
}

// GraphEdge is a typed relation between two nodes in the same container,
// merged by (source, target, type).
type GraphEdge struct {
	SourceID      string    `json:"source"`
	TargetID      string    `json:"target"`
	Type          string    `json:"type"`
	ContainerID   uuid.UUID `json:"container_id"`
	SourceChunkID uuid.UUID `json:"source_chunk_id"`
}

// GraphSchema lists the node labels and edge types a container's graph may
// use; the NL2Query validator rejects anything outside it.
type GraphSchema struct {
	NodeLabels []string `json:"node_labels" yaml:"node_labels"`
	EdgeTypes  []string `json:"edge_types" yaml:"edge_types"`
}

// AllowsLabel reports whether the label is in the schema. A nil schema
// allows nothing beyond the base label.
func (s *GraphSchema) AllowsLabel(label string) bool {
	if s == nil {
		return false
	}
	for _, l := range s.NodeLabels {
		if l == label {
			return true
		}
	}
	return false
}

// AllowsEdge reports whether the edge type is in the schema.
func (s *GraphSchema) AllowsEdge(edgeType string) bool {
	if s == nil {
		return false
	}
	for _, t := range s.EdgeTypes {
		if t == edgeType {
			return true
		}
	}
	return false
}
