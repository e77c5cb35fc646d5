package domain

import (
	"time"

	"github.com/google/uuid"
)

// Document is a normalized source record within one container.
// (container_id, content_hash) is unique: re-ingesting identical bytes is a
// no-op yielding the same document id.
type Document struct {
	ID          uuid.UUID
	ContainerID uuid.UUID
	URI         string
	MIME        string
	ContentHash string
	Title       string
	Modality    Modality
	Meta        map[string]any
	Provenance  map[string]any
	ChunkCount  int
	State       DocumentState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is the atomic retrieval unit. A chunk with DedupOf set is
// retrievable but shares its vector and blob with the canonical peer;
// dedup links never chain.
type Chunk struct {
	ID          uuid.UUID
	DocID       uuid.UUID
	ContainerID uuid.UUID
	Modality    Modality
	Ordinal     int
	Text        string
	TextHash    string
	StartOffset int
	EndOffset   int
	Provenance  map[string]any
	Meta        map[string]any
	EmbVersion  string
	DedupOf     *uuid.UUID
	CreatedAt   time.Time
}

// Deduped reports whether this chunk reuses another chunk's vector.
func (c *Chunk) Deduped() bool { return c.DedupOf != nil }

// VectorPayload mirrors the registry fields carried alongside each vector.
// The registry stays authoritative on any conflict.
func (c *Chunk) VectorPayload(title, uri string) map[string]any {
	return map[string]any{
		"container_id": c.ContainerID.String(),
		"doc_id":       c.DocID.String(),
		"modality":     string(c.Modality),
		"title":        title,
		"uri":          uri,
		"ordinal":      c.Ordinal,
	}
}
