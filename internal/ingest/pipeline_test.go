package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/adapters/embedder"
	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/repository/mocks"
	"github.com/llcontext/llcd/internal/store/blob"
	"github.com/llcontext/llcd/internal/store/vector"
)

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}}
}

func (b *fakeBlob) Put(_ context.Context, key string, body []byte, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), body...)
	return nil
}

func (b *fakeBlob) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, apperr.NotFound("BLOB_NOT_FOUND", "no object at "+key)
	}
	return append([]byte(nil), data...), nil
}

func (b *fakeBlob) Delete(_ context.Context, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

func (b *fakeBlob) DeletePrefix(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			delete(b.objects, k)
		}
	}
	return nil
}

func (b *fakeBlob) Healthy(context.Context) error { return nil }

type fakeVectorStore struct {
	mu         sync.Mutex
	upserts    map[string][]vector.Point
	searchHits []vector.Hit
	searchErr  error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{upserts: map[string][]vector.Point{}}
}

func (v *fakeVectorStore) EnsureCollection(context.Context, string, int) error { return nil }

func (v *fakeVectorStore) Upsert(_ context.Context, collection string, points []vector.Point) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.upserts[collection] = append(v.upserts[collection], points...)
	return nil
}

func (v *fakeVectorStore) Search(context.Context, string, []float32, int) ([]vector.Hit, error) {
	return v.searchHits, v.searchErr
}

func (v *fakeVectorStore) DeletePoints(context.Context, string, []uuid.UUID) error { return nil }
func (v *fakeVectorStore) DropCollection(context.Context, string) error            { return nil }
func (v *fakeVectorStore) BeginShadow(context.Context, string, int) (string, error) {
	return "", nil
}
func (v *fakeVectorStore) PromoteShadow(context.Context, string, string) error { return nil }
func (v *fakeVectorStore) Healthy(context.Context) error                       { return nil }

type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 0, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *fakeEmbedder) EmbedImage(_ context.Context, _ []byte) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.5, 0.5, 0, 0}, nil
}

func (e *fakeEmbedder) Identity() (string, string, int) { return "test-embed", "v1", 4 }

type staticPolicies map[string]*domain.Policy

func (s staticPolicies) Resolve(_ context.Context, ref string) (*domain.Policy, error) {
	pol, ok := s[ref]
	if !ok {
		return nil, apperr.NotFound(string(domain.IssueContainerNotFound), "no container "+ref)
	}
	cp := *pol
	return &cp, nil
}

type pipeFixture struct {
	cid        uuid.UUID
	policy     *domain.Policy
	containers *mocks.ContainerRepo
	docs       *mocks.DocumentRepo
	chunks     *mocks.ChunkRepo
	queue      *mocks.JobQueue
	vectors    *fakeVectorStore
	blobs      *fakeBlob
	embed      *fakeEmbedder
}

func newPipeFixture() *pipeFixture {
	cid := uuid.New()
	containers := mocks.NewContainerRepo()
	return &pipeFixture{
		cid: cid,
		policy: &domain.Policy{
			ContainerID:     cid.String(),
			Slug:            "impressionism",
			State:           domain.ContainerActive,
			Modalities:      []domain.Modality{domain.ModalityText, domain.ModalityPDF, domain.ModalityImage},
			Embedder:        "test-embed",
			EmbedderVersion: "v1",
			Dims:            4,
			MaxSizeBytes:    1 << 20,
		},
		containers: containers,
		docs:       mocks.NewDocumentRepo(containers),
		chunks:     mocks.NewChunkRepo(),
		queue:      mocks.NewJobQueue(),
		vectors:    newFakeVectorStore(),
		blobs:      newFakeBlob(),
		embed:      &fakeEmbedder{},
	}
}

func (f *pipeFixture) build() *Pipeline {
	logger := zap.NewNop()
	return NewPipeline(
		staticPolicies{f.cid.String(): f.policy},
		f.docs, f.docs, f.chunks, f.containers,
		f.vectors, f.blobs, f.embed, f.queue,
		NewFetcher(f.blobs, time.Second, 0, logger),
		Config{}, logger,
	)
}

func (f *pipeFixture) inlineJob(text string) *domain.Job {
	return &domain.Job{
		ID:          uuid.New(),
		Kind:        domain.JobIngest,
		ContainerID: &f.cid,
		Payload: map[string]any{
			"source": map[string]any{
				"title": "Notes",
				"meta":  map[string]any{"text": text},
			},
		},
	}
}

func longText(words int) string {
	var b strings.Builder
	for i := 0; i < words; i++ {
		fmt.Fprintf(&b, "word%04d ", i)
	}
	return strings.TrimSpace(b.String())
}

func TestPipeline_TextIngest(t *testing.T) {
	f := newPipeFixture()
	text := longText(150) // ~1350 chars, three windows
	res, err := f.build().Run(context.Background(), f.inlineJob(text), nil)
	require.NoError(t, err)

	assert.False(t, res.NoOp)
	assert.Equal(t, 3, res.ChunksCreated)
	assert.Equal(t, 0, res.ChunksDeduped)
	assert.Equal(t, int64(len(text)), res.BytesStored)

	docID := uuid.MustParse(res.DocumentID)
	doc, err := f.docs.GetByID(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentActive, doc.State)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, "Notes", doc.Title)

	stored := f.docs.Chunks(docID)
	require.Len(t, stored, 3)
	assert.Equal(t, 0, stored[0].StartOffset)
	assert.Equal(t, "v1", stored[0].EmbVersion)
	assert.NotEmpty(t, stored[0].TextHash)

	points := f.vectors.upserts[domain.CollectionName(f.cid, domain.ModalityText)]
	require.Len(t, points, 3)
	assert.Equal(t, f.cid.String(), points[0].Payload["container_id"])
	assert.Equal(t, docID.String(), points[0].Payload["doc_id"])

	// Original bytes land in the blob store under the document key.
	raw, err := f.blobs.Get(context.Background(), blob.DocumentKey(f.cid, docID))
	require.NoError(t, err)
	assert.Equal(t, text, string(raw))
}

func TestPipeline_DuplicateSourceIsNoOp(t *testing.T) {
	f := newPipeFixture()
	p := f.build()
	text := longText(120)

	first, err := p.Run(context.Background(), f.inlineJob(text), nil)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), f.inlineJob(text), nil)
	require.NoError(t, err)

	assert.True(t, second.NoOp)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Zero(t, second.ChunksCreated)
}

func TestPipeline_ModalityBlocked(t *testing.T) {
	f := newPipeFixture()
	f.policy.Modalities = []domain.Modality{domain.ModalityText}

	job := f.inlineJob("anything")
	job.Payload["source"].(map[string]any)["mime"] = "image/png"

	_, err := f.build().Run(context.Background(), job, nil)
	require.Error(t, err)
	assert.Equal(t, "MODALITY_BLOCKED", apperr.CodeOf(err))
	assert.False(t, apperr.IsRetryable(err))
}

func TestPipeline_ExactDedupReusesCanonical(t *testing.T) {
	f := newPipeFixture()
	canonical := domain.Chunk{
		ID:          uuid.New(),
		ContainerID: f.cid,
		TextHash:    embedder.TextHash("a short note"),
	}
	f.chunks.Add(repository.ScoredChunk{Chunk: canonical})

	res, err := f.build().Run(context.Background(), f.inlineJob("a short note"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksCreated)
	assert.Equal(t, 1, res.ChunksDeduped)

	stored := f.docs.Chunks(uuid.MustParse(res.DocumentID))
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].DedupOf)
	assert.Equal(t, canonical.ID, *stored[0].DedupOf)
	assert.Empty(t, f.vectors.upserts)
	assert.Zero(t, f.embed.calls)
}

func TestPipeline_SemanticDedupSkipsVectorWrite(t *testing.T) {
	f := newPipeFixture()
	f.policy.SemanticDedup = 0.92
	near := uuid.New()
	f.vectors.searchHits = []vector.Hit{{ID: near, Score: 0.95}}

	res, err := f.build().Run(context.Background(), f.inlineJob("nearly the same note"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksDeduped)

	stored := f.docs.Chunks(uuid.MustParse(res.DocumentID))
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].DedupOf)
	assert.Equal(t, near, *stored[0].DedupOf)
	assert.Empty(t, f.vectors.upserts)
}

func TestPipeline_SemanticDedupBelowThresholdWrites(t *testing.T) {
	f := newPipeFixture()
	f.policy.SemanticDedup = 0.92
	f.vectors.searchHits = []vector.Hit{{ID: uuid.New(), Score: 0.5}}

	res, err := f.build().Run(context.Background(), f.inlineJob("a distinct note"), nil)
	require.NoError(t, err)
	assert.Zero(t, res.ChunksDeduped)
	assert.Len(t, f.vectors.upserts[domain.CollectionName(f.cid, domain.ModalityText)], 1)
}

func TestPipeline_IntraBatchDedupNeverChains(t *testing.T) {
	f := newPipeFixture()
	f.policy.SemanticDedup = 0.92
	canonical := uuid.New()
	f.vectors.searchHits = []vector.Hit{{ID: canonical, Score: 0.97}}
	p := f.build()

	doc := &domain.Document{
		ID:          uuid.New(),
		ContainerID: f.cid,
		Modality:    domain.ModalityText,
		Title:       "Notes",
	}
	first := &domain.Chunk{
		ID:          uuid.New(),
		DocID:       doc.ID,
		ContainerID: f.cid,
		Text:        "the same window twice",
		TextHash:    embedder.TextHash("the same window twice"),
	}
	second := &domain.Chunk{
		ID:          uuid.New(),
		DocID:       doc.ID,
		ContainerID: f.cid,
		Ordinal:     1,
		Text:        first.Text,
		TextHash:    first.TextHash,
	}

	points, deduped, err := p.dedupeAndEmbed(context.Background(), f.policy, doc, []*domain.Chunk{first, second}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, deduped)
	assert.Empty(t, points)

	// The exact pass points the second chunk at the first; once the semantic
	// pass dedupes the first against the stored canonical, both must resolve
	// to that canonical rather than forming a chain through the batch.
	require.NotNil(t, first.DedupOf)
	assert.Equal(t, canonical, *first.DedupOf)
	require.NotNil(t, second.DedupOf)
	assert.Equal(t, canonical, *second.DedupOf)
}

func TestPipeline_DuplicateRetryRestoresVectors(t *testing.T) {
	f := newPipeFixture()
	p := f.build()
	text := longText(150)
	collection := domain.CollectionName(f.cid, domain.ModalityText)

	first, err := p.Run(context.Background(), f.inlineJob(text), nil)
	require.NoError(t, err)
	require.NotEmpty(t, f.vectors.upserts[collection])
	committed := len(f.vectors.upserts[collection])

	for _, ch := range f.docs.Chunks(uuid.MustParse(first.DocumentID)) {
		f.chunks.Add(repository.ScoredChunk{Chunk: ch})
	}

	// A crash between the registry commit and the vector upsert leaves the
	// document committed with no points. The retry lands on the duplicate
	// no-op path and must put them back.
	f.vectors.upserts = map[string][]vector.Point{}

	second, err := p.Run(context.Background(), f.inlineJob(text), nil)
	require.NoError(t, err)
	assert.True(t, second.NoOp)
	assert.Equal(t, first.DocumentID, second.DocumentID)

	restored := f.vectors.upserts[collection]
	require.Len(t, restored, committed)
	ids := make(map[uuid.UUID]bool, len(restored))
	for _, pt := range restored {
		ids[pt.ID] = true
		assert.Equal(t, "Notes", pt.Payload["title"])
	}
	for _, ch := range f.docs.Chunks(uuid.MustParse(first.DocumentID)) {
		assert.True(t, ids[ch.ID])
	}
}

func TestPipeline_EmbedderDownIsRetryable(t *testing.T) {
	f := newPipeFixture()
	f.embed.err = apperr.Unavailable(string(domain.IssueEmbeddingDown), "provider down", nil)

	_, err := f.build().Run(context.Background(), f.inlineJob("some text"), nil)
	require.Error(t, err)
	assert.Equal(t, "EMBEDDING_DOWN", apperr.CodeOf(err))
	assert.True(t, apperr.IsRetryable(err))
}

func TestPipeline_PayloadTooLarge(t *testing.T) {
	f := newPipeFixture()
	f.policy.MaxSizeBytes = 16

	_, err := f.build().Run(context.Background(), f.inlineJob(longText(50)), nil)
	require.Error(t, err)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", apperr.CodeOf(err))
	assert.False(t, apperr.IsRetryable(err))
}

func TestPipeline_GraphExtractionEnqueued(t *testing.T) {
	f := newPipeFixture()
	f.policy.Graph = domain.GraphPolicy{Enabled: true, MaxHops: 2}

	res, err := f.build().Run(context.Background(), f.inlineJob(longText(30)), nil)
	require.NoError(t, err)

	job, err := f.queue.Claim(context.Background(), "w1", []domain.JobKind{domain.JobGraphExtract}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, res.DocumentID, job.Payload["document_id"])
	require.NotNil(t, job.ContainerID)
	assert.Equal(t, f.cid, *job.ContainerID)
}

func TestPipeline_HeartbeatFires(t *testing.T) {
	f := newPipeFixture()
	var beats int
	beat := func(context.Context) error { beats++; return nil }

	_, err := f.build().Run(context.Background(), f.inlineJob(longText(800)), beat)
	require.NoError(t, err)
	assert.Greater(t, beats, 0)
}

func TestPipeline_ImageIngest(t *testing.T) {
	f := newPipeFixture()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 32))))
	f.blobs.objects["uploads/img-1"] = buf.Bytes()

	job := &domain.Job{
		ID:          uuid.New(),
		Kind:        domain.JobIngest,
		ContainerID: &f.cid,
		Payload: map[string]any{
			"source": map[string]any{
				"file_token": "img-1",
				"mime":       "image/png",
				"title":      "Sunrise",
			},
		},
	}
	res, err := f.build().Run(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksCreated)

	points := f.vectors.upserts[domain.CollectionName(f.cid, domain.ModalityImage)]
	require.Len(t, points, 1)
	assert.Equal(t, "image", points[0].Payload["modality"])

	stored := f.docs.Chunks(uuid.MustParse(res.DocumentID))
	require.Len(t, stored, 1)
	assert.Empty(t, stored[0].Text)
	assert.NotEmpty(t, stored[0].TextHash)
}

func TestPipeline_UnknownContainer(t *testing.T) {
	f := newPipeFixture()
	other := uuid.New()
	job := f.inlineJob("text")
	job.ContainerID = &other

	_, err := f.build().Run(context.Background(), job, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
