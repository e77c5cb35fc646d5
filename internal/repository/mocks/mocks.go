// Package mocks holds handwritten in-memory fakes of the repository
// interfaces for tests. They are deliberately simple: maps guarded by a
// mutex, no query planning, deterministic ordering where tests need it.
package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
)

// ContainerRepo is an in-memory repository.ContainerRepository.
type ContainerRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Container

	// GetCalls counts lookups, letting cache tests assert on traffic.
	GetCalls int
}

func NewContainerRepo() *ContainerRepo {
	return &ContainerRepo{rows: make(map[uuid.UUID]*domain.Container)}
}

func (r *ContainerRepo) Create(_ context.Context, c *domain.Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.Slug == c.Slug {
			return apperr.Conflict("CONTAINER_EXISTS", "slug already in use")
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.rows[c.ID] = &cp
	return nil
}

func (r *ContainerRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GetCalls++
	c, ok := r.rows[id]
	if !ok {
		return nil, apperr.NotFound(string(domain.IssueContainerNotFound), "container does not exist")
	}
	cp := *c
	return &cp, nil
}

func (r *ContainerRepo) GetByRef(_ context.Context, ref string) (*domain.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GetCalls++
	if id, err := uuid.Parse(ref); err == nil {
		if c, ok := r.rows[id]; ok {
			cp := *c
			return &cp, nil
		}
	}
	for _, c := range r.rows {
		if c.Slug == ref {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.NotFound(string(domain.IssueContainerNotFound), "container does not exist")
}

func (r *ContainerRepo) List(_ context.Context, filter repository.ContainerFilter) ([]*domain.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Container
	for _, c := range r.rows {
		if len(filter.States) > 0 && !containsState(filter.States, c.State) {
			continue
		}
		if filter.Search != "" && !strings.Contains(c.Theme, filter.Search) && !strings.Contains(c.Slug, filter.Search) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (r *ContainerRepo) Update(_ context.Context, c *domain.Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[c.ID]; !ok {
		return apperr.NotFound(string(domain.IssueContainerNotFound), "container does not exist")
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	r.rows[c.ID] = &cp
	return nil
}

func (r *ContainerRepo) UpdateState(_ context.Context, id uuid.UUID, state domain.ContainerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return apperr.NotFound(string(domain.IssueContainerNotFound), "container does not exist")
	}
	c.State = state
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *ContainerRepo) UpdateEmbedder(_ context.Context, id uuid.UUID, embedder, version string, dims int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return apperr.NotFound(string(domain.IssueContainerNotFound), "container does not exist")
	}
	c.Embedder, c.EmbedderVersion, c.Dims = embedder, version, dims
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *ContainerRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return apperr.NotFound(string(domain.IssueContainerNotFound), "container does not exist")
	}
	delete(r.rows, id)
	return nil
}

func (r *ContainerRepo) BumpStats(_ context.Context, id uuid.UUID, docs, chunks, bytes int64, lastIngest time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return apperr.NotFound(string(domain.IssueContainerNotFound), "container does not exist")
	}
	c.Stats.Documents += docs
	c.Stats.Chunks += chunks
	c.Stats.Bytes += bytes
	if !lastIngest.IsZero() {
		t := lastIngest
		c.Stats.LastIngestAt = &t
	}
	return nil
}

func containsDocState(states []domain.DocumentState, s domain.DocumentState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func containsState(states []domain.ContainerState, s domain.ContainerState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// DocumentRepo is an in-memory repository.DocumentRepository plus the ingest
// writer, so ingest tests can run against one fake.
type DocumentRepo struct {
	mu         sync.Mutex
	docs       map[uuid.UUID]*domain.Document
	chunks     map[uuid.UUID]*domain.Chunk
	Containers *ContainerRepo

	CommitErr error
}

func NewDocumentRepo(containers *ContainerRepo) *DocumentRepo {
	return &DocumentRepo{
		docs:       make(map[uuid.UUID]*domain.Document),
		chunks:     make(map[uuid.UUID]*domain.Chunk),
		Containers: containers,
	}
}

func (r *DocumentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, apperr.NotFound("DOCUMENT_NOT_FOUND", "document does not exist")
	}
	cp := *d
	return &cp, nil
}

func (r *DocumentRepo) GetByHash(_ context.Context, containerID uuid.UUID, hash string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.ContainerID == containerID && d.ContentHash == hash && d.State == domain.DocumentActive {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("DOCUMENT_NOT_FOUND", "document does not exist")
}

func (r *DocumentRepo) List(_ context.Context, filter repository.DocumentFilter) ([]*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Document
	for _, d := range r.docs {
		if d.ContainerID != filter.ContainerID {
			continue
		}
		if len(filter.States) > 0 && !containsDocState(filter.States, d.State) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Offset > len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *DocumentRepo) Delete(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return nil, apperr.NotFound("DOCUMENT_NOT_FOUND", "document does not exist")
	}
	var vectorIDs []uuid.UUID
	for cid, ch := range r.chunks {
		if ch.DocID == id {
			if !ch.Deduped() {
				vectorIDs = append(vectorIDs, cid)
			}
			delete(r.chunks, cid)
		}
	}
	delete(r.docs, id)
	return vectorIDs, nil
}

func (r *DocumentRepo) CommitIngest(_ context.Context, doc *domain.Document, chunks []*domain.Chunk) error {
	if r.CommitErr != nil {
		return r.CommitErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	for _, ch := range chunks {
		chCp := *ch
		r.chunks[ch.ID] = &chCp
	}
	return nil
}

// Chunks returns the stored chunks for assertions, ordered by ordinal.
func (r *DocumentRepo) Chunks(docID uuid.UUID) []domain.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Chunk
	for _, ch := range r.chunks {
		if ch.DocID == docID {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// ChunkRepo is an in-memory repository.ChunkRepository fed directly by tests.
type ChunkRepo struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]repository.ScoredChunk
	BM25Hits  []repository.ScoredChunk
	BM25Err   error
	BM25Delay time.Duration
}

func NewChunkRepo() *ChunkRepo {
	return &ChunkRepo{rows: make(map[uuid.UUID]repository.ScoredChunk)}
}

// Add registers a chunk for Resolve and FindByTextHash lookups.
func (r *ChunkRepo) Add(sc repository.ScoredChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[sc.Chunk.ID] = sc
}

func (r *ChunkRepo) SearchBM25(ctx context.Context, _ repository.BM25Query) ([]repository.ScoredChunk, error) {
	if r.BM25Delay > 0 {
		select {
		case <-time.After(r.BM25Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.BM25Err != nil {
		return nil, r.BM25Err
	}
	return r.BM25Hits, nil
}

func (r *ChunkRepo) Resolve(_ context.Context, ids []uuid.UUID) ([]repository.ScoredChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.ScoredChunk
	for _, id := range ids {
		if sc, ok := r.rows[id]; ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (r *ChunkRepo) FindByTextHash(_ context.Context, containerID uuid.UUID, textHash string) (*domain.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sc := range r.rows {
		if sc.Chunk.ContainerID == containerID && sc.Chunk.TextHash == textHash && !sc.Chunk.Deduped() {
			cp := sc.Chunk
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ChunkRepo) ListByContainer(_ context.Context, containerID uuid.UUID, limit, offset int) ([]domain.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Chunk
	for _, sc := range r.rows {
		if sc.Chunk.ContainerID == containerID {
			out = append(out, sc.Chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *ChunkRepo) ListByDocument(_ context.Context, docID uuid.UUID) ([]domain.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Chunk
	for _, sc := range r.rows {
		if sc.Chunk.DocID == docID {
			out = append(out, sc.Chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// JobQueue is an in-memory repository.JobQueue good enough for worker-loop
// and handler tests. It honors idempotency keys, leases, and backoff states
// but schedules retries immediately.
type JobQueue struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*domain.Job
	events map[uuid.UUID][]domain.JobEvent
	order  []uuid.UUID
	seq    int64
}

func NewJobQueue() *JobQueue {
	return &JobQueue{
		jobs:   make(map[uuid.UUID]*domain.Job),
		events: make(map[uuid.UUID][]domain.JobEvent),
	}
}

func (q *JobQueue) Enqueue(_ context.Context, kind domain.JobKind, containerID *uuid.UUID, payload map[string]any, idempotencyKey string) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idempotencyKey != "" {
		for _, j := range q.jobs {
			if j.IdempotencyKey == idempotencyKey && !j.State.Terminal() {
				return j.ID, nil
			}
		}
	}
	j := &domain.Job{
		ID:             uuid.New(),
		Kind:           kind,
		State:          domain.JobQueued,
		ContainerID:    containerID,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		MaxAttempts:    5,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	q.jobs[j.ID] = j
	q.order = append(q.order, j.ID)
	q.appendEvent(j.ID, "", domain.JobQueued, "", "enqueued")
	return j.ID, nil
}

func (q *JobQueue) Claim(_ context.Context, workerID string, kinds []domain.JobKind, lease time.Duration) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		j := q.jobs[id]
		if j.State != domain.JobQueued || !kindIn(kinds, j.Kind) {
			continue
		}
		j.State = domain.JobRunning
		j.WorkerID = workerID
		j.Attempts++
		expires := time.Now().Add(lease)
		j.LeaseExpiresAt = &expires
		q.appendEvent(j.ID, domain.JobQueued, domain.JobRunning, workerID, "claimed")
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (q *JobQueue) Heartbeat(_ context.Context, jobID uuid.UUID, workerID string, lease time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || j.State != domain.JobRunning || j.WorkerID != workerID {
		return apperr.Conflict(string(domain.IssueLeaseLost), "job lease is no longer held by this worker")
	}
	expires := time.Now().Add(lease)
	j.LeaseExpiresAt = &expires
	return nil
}

func (q *JobQueue) Complete(_ context.Context, jobID uuid.UUID, workerID string, result map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || j.State != domain.JobRunning || j.WorkerID != workerID {
		return apperr.Conflict(string(domain.IssueLeaseLost), "job lease is no longer held by this worker")
	}
	j.State = domain.JobDone
	j.Result = result
	j.LeaseExpiresAt = nil
	q.appendEvent(jobID, domain.JobRunning, domain.JobDone, workerID, "completed")
	return nil
}

func (q *JobQueue) Fail(_ context.Context, jobID uuid.UUID, workerID string, cause string, retryable bool) (domain.JobState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || j.State != domain.JobRunning || j.WorkerID != workerID {
		return "", apperr.Conflict(string(domain.IssueLeaseLost), "job lease is no longer held by this worker")
	}
	j.LastError = cause
	j.LeaseExpiresAt = nil
	j.WorkerID = ""
	if retryable && j.Attempts < j.MaxAttempts {
		j.State = domain.JobQueued
		q.appendEvent(jobID, domain.JobRunning, domain.JobQueued, workerID, "retryable failure: "+cause)
		return domain.JobQueued, nil
	}
	j.State = domain.JobFailed
	q.appendEvent(jobID, domain.JobRunning, domain.JobFailed, workerID, "failure: "+cause)
	return domain.JobFailed, nil
}

func (q *JobQueue) Reap(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	reaped := 0
	for _, j := range q.jobs {
		if j.State == domain.JobRunning && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(time.Now()) {
			j.State = domain.JobQueued
			j.WorkerID = ""
			j.LeaseExpiresAt = nil
			q.appendEvent(j.ID, domain.JobRunning, domain.JobQueued, "", "reaped: lease expired")
			reaped++
		}
	}
	return reaped, nil
}

func (q *JobQueue) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*domain.Job
	for _, id := range ids {
		if j, ok := q.jobs[id]; ok {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (q *JobQueue) Events(_ context.Context, jobID uuid.UUID) ([]domain.JobEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	evs := make([]domain.JobEvent, len(q.events[jobID]))
	copy(evs, q.events[jobID])
	return evs, nil
}

func (q *JobQueue) QueuedDepth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, j := range q.jobs {
		if j.State == domain.JobQueued {
			n++
		}
	}
	return n, nil
}

func (q *JobQueue) appendEvent(jobID uuid.UUID, prev, next domain.JobState, workerID, reason string) {
	q.seq++
	q.events[jobID] = append(q.events[jobID], domain.JobEvent{
		ID:        q.seq,
		JobID:     jobID,
		PrevState: prev,
		NewState:  next,
		WorkerID:  workerID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
}

func kindIn(kinds []domain.JobKind, k domain.JobKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
