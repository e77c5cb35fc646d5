package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job is a durable unit of async work carried by the Postgres-backed queue.
// At most one worker holds a job in running state; ownership is a lease
// refreshed by heartbeats.
type Job struct {
	ID             uuid.UUID
	Kind           JobKind
	State          JobState
	ContainerID    *uuid.UUID
	Payload        map[string]any
	Result         map[string]any
	IdempotencyKey string
	Attempts       int
	MaxAttempts    int
	WorkerID       string
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobEvent is one append-only row in the job audit trail. The sequence of
// events for a job forms a valid path through the job state machine.
type JobEvent struct {
	ID        int64
	JobID     uuid.UUID
	PrevState JobState
	NewState  JobState
	WorkerID  string
	Reason    string
	CreatedAt time.Time
}

// IngestSource describes one source inside an ingest job payload.
type IngestSource struct {
	URI       string         `json:"uri,omitempty"`
	FileToken string         `json:"file_token,omitempty"`
	MIME      string         `json:"mime,omitempty"`
	Modality  Modality       `json:"modality,omitempty"`
	Title     string         `json:"title,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// IngestResult is the payload stored on a completed ingest job.
type IngestResult struct {
	DocumentID    string `json:"document_id"`
	ChunksCreated int    `json:"chunks_created"`
	ChunksDeduped int    `json:"chunks_deduped"`
	BytesStored   int64  `json:"bytes_stored"`
	NoOp          bool   `json:"no_op,omitempty"`
}
