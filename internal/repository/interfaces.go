// Package repository defines the narrow data-access interfaces the pipelines
// depend on. One interface per entity family; the Postgres implementations
// live in repository/postgres, and tests use handwritten fakes.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/llcontext/llcd/internal/domain"
)

// ContainerFilter narrows container listings.
type ContainerFilter struct {
	States   []domain.ContainerState
	Search   string
	ParentID *uuid.UUID
	Limit    int
	Offset   int
}

// DocumentFilter narrows document listings within a container.
type DocumentFilter struct {
	ContainerID uuid.UUID
	States      []domain.DocumentState
	Limit       int
	Offset      int
}

// BM25Query is one lexical search against the full-text index.
type BM25Query struct {
	Query        string
	ContainerIDs []uuid.UUID
	Modalities   []domain.Modality
	Limit        int
}

// ScoredChunk is a chunk hydrated with its document and a stage score.
type ScoredChunk struct {
	Chunk    domain.Chunk
	Document domain.Document
	Score    float64
}

// ContainerRepository owns the containers table plus hierarchy fields.
type ContainerRepository interface {
	Create(ctx context.Context, c *domain.Container) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Container, error)
	// GetByRef resolves either a container id or a slug.
	GetByRef(ctx context.Context, ref string) (*domain.Container, error)
	List(ctx context.Context, filter ContainerFilter) ([]*domain.Container, error)
	Update(ctx context.Context, c *domain.Container) error
	UpdateState(ctx context.Context, id uuid.UUID, state domain.ContainerState) error
	// UpdateEmbedder finalizes a shadow refresh; callers must have rebuilt the
	// vector collection first.
	UpdateEmbedder(ctx context.Context, id uuid.UUID, embedder, version string, dims int) error
	Delete(ctx context.Context, id uuid.UUID) error
	// BumpStats applies atomic increments to the running counters.
	BumpStats(ctx context.Context, id uuid.UUID, docs, chunks int64, bytes int64, lastIngest time.Time) error
}

// DocumentRepository owns documents. Inserts happen inside IngestWriter's
// transaction, so the standalone interface is read/delete oriented.
type DocumentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	GetByHash(ctx context.Context, containerID uuid.UUID, hash string) (*domain.Document, error)
	List(ctx context.Context, filter DocumentFilter) ([]*domain.Document, error)
	// Delete removes the document and its chunks, returning the ids of
	// non-deduped chunks so callers can cascade to vector and blob stores.
	Delete(ctx context.Context, id uuid.UUID) (chunkIDs []uuid.UUID, err error)
}

// ChunkRepository serves the retrieval pipeline's registry reads.
type ChunkRepository interface {
	SearchBM25(ctx context.Context, q BM25Query) ([]ScoredChunk, error)
	// Resolve hydrates chunk ids (typically from the vector store) with their
	// registry rows. Unknown ids are skipped, not errors.
	Resolve(ctx context.Context, ids []uuid.UUID) ([]ScoredChunk, error)
	FindByTextHash(ctx context.Context, containerID uuid.UUID, textHash string) (*domain.Chunk, error)
	ListByContainer(ctx context.Context, containerID uuid.UUID, limit, offset int) ([]domain.Chunk, error)
	ListByDocument(ctx context.Context, docID uuid.UUID) ([]domain.Chunk, error)
}

// IngestWriter commits one ingest in a single registry transaction: the
// document, its chunks, and the container stat increments. Idempotent vector
// and blob writes follow outside the transaction.
type IngestWriter interface {
	CommitIngest(ctx context.Context, doc *domain.Document, chunks []*domain.Chunk) error
}

// JobQueue is the durable at-least-once queue on the registry store.
type JobQueue interface {
	Enqueue(ctx context.Context, kind domain.JobKind, containerID *uuid.UUID, payload map[string]any, idempotencyKey string) (uuid.UUID, error)
	// Claim atomically leases one queued job of the given kinds, or returns
	// (nil, nil) when none is available.
	Claim(ctx context.Context, workerID string, kinds []domain.JobKind, lease time.Duration) (*domain.Job, error)
	Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string, lease time.Duration) error
	Complete(ctx context.Context, jobID uuid.UUID, workerID string, result map[string]any) error
	// Fail records a failure; retryable failures requeue with backoff until
	// attempts are exhausted. The returned state is the job's new state.
	Fail(ctx context.Context, jobID uuid.UUID, workerID string, cause string, retryable bool) (domain.JobState, error)
	// Reap requeues running jobs whose lease expired without a heartbeat.
	Reap(ctx context.Context) (int, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Job, error)
	Events(ctx context.Context, jobID uuid.UUID) ([]domain.JobEvent, error)
	QueuedDepth(ctx context.Context) (int64, error)
}

// EmbeddingCacheKey identifies a cached vector; embedder identity and version
// are part of the key so model upgrades never serve stale vectors.
type EmbeddingCacheKey struct {
	TextHash string
	Embedder string
	Version  string
}

// EmbeddingCache is the durable (text-hash, embedder, version) → vector map.
type EmbeddingCache interface {
	Get(ctx context.Context, key EmbeddingCacheKey) ([]float32, bool, error)
	Put(ctx context.Context, key EmbeddingCacheKey, vector []float32, ttl time.Duration) error
	SweepExpired(ctx context.Context) (int64, error)
}

// RerankCacheEntry pins a provider ordering for an exact candidate set.
type RerankCacheEntry struct {
	Order  []string
	Scores []float64
}

// RerankCache stores rerank orderings keyed by the order-sensitive
// fingerprint of (query, candidates, provider, model).
type RerankCache interface {
	Get(ctx context.Context, key string) (*RerankCacheEntry, bool, error)
	Put(ctx context.Context, key string, entry RerankCacheEntry, ttl time.Duration) error
	SweepExpired(ctx context.Context) (int64, error)
}

// CollaborationRepository owns links, subscriptions, and agent sessions.
type CollaborationRepository interface {
	AddLink(ctx context.Context, link *domain.ContainerLink) error
	ListLinks(ctx context.Context, containerID uuid.UUID) ([]domain.ContainerLink, error)
	Subscribe(ctx context.Context, sub *domain.ContainerSubscription) error
	ListSubscriptions(ctx context.Context, containerID uuid.UUID) ([]domain.ContainerSubscription, error)
	// TouchAgent upserts the agent session row for an annotated request.
	TouchAgent(ctx context.Context, agentID, agentName string) error
}
