package documents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/repository/mocks"
	"github.com/llcontext/llcd/internal/store/blob"
	"github.com/llcontext/llcd/internal/store/graph"
	"github.com/llcontext/llcd/internal/store/vector"
)

type fakeVectors struct {
	mu      sync.Mutex
	deleted map[string][]uuid.UUID
}

func (v *fakeVectors) EnsureCollection(context.Context, string, int) error { return nil }
func (v *fakeVectors) Upsert(context.Context, string, []vector.Point) error {
	return nil
}
func (v *fakeVectors) Search(context.Context, string, []float32, int) ([]vector.Hit, error) {
	return nil, nil
}
func (v *fakeVectors) DeletePoints(_ context.Context, collection string, ids []uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.deleted == nil {
		v.deleted = map[string][]uuid.UUID{}
	}
	v.deleted[collection] = append(v.deleted[collection], ids...)
	return nil
}
func (v *fakeVectors) DropCollection(context.Context, string) error { return nil }
func (v *fakeVectors) BeginShadow(context.Context, string, int) (string, error) {
	return "", nil
}
func (v *fakeVectors) PromoteShadow(context.Context, string, string) error { return nil }
func (v *fakeVectors) Healthy(context.Context) error                       { return nil }

type fakeGraphs struct {
	mu      sync.Mutex
	deleted map[uuid.UUID][]uuid.UUID
}

func (g *fakeGraphs) UpsertNodes(context.Context, []domain.GraphNode) error { return nil }
func (g *fakeGraphs) UpsertEdges(context.Context, []domain.GraphEdge) error { return nil }
func (g *fakeGraphs) RunReadOnly(context.Context, uuid.UUID, string, map[string]any, time.Duration) ([]map[string]any, error) {
	return nil, nil
}
func (g *fakeGraphs) ExpandFromChunks(context.Context, uuid.UUID, []uuid.UUID, int) ([]graph.RelatedChunk, error) {
	return nil, nil
}
func (g *fakeGraphs) DeleteContainer(context.Context, uuid.UUID) error { return nil }
func (g *fakeGraphs) DeleteChunks(_ context.Context, cid uuid.UUID, ids []uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleted == nil {
		g.deleted = map[uuid.UUID][]uuid.UUID{}
	}
	g.deleted[cid] = append(g.deleted[cid], ids...)
	return nil
}
func (g *fakeGraphs) Healthy(context.Context) error { return nil }

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: map[string][]byte{}} }

func (b *fakeBlob) Put(_ context.Context, key string, body []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = body
	return nil
}
func (b *fakeBlob) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, apperr.NotFound("BLOB_NOT_FOUND", "no object at "+key)
	}
	return data, nil
}
func (b *fakeBlob) Delete(_ context.Context, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}
func (b *fakeBlob) DeletePrefix(context.Context, string) error { return nil }
func (b *fakeBlob) Healthy(context.Context) error              { return nil }

type deleteFixture struct {
	cid        uuid.UUID
	containers *mocks.ContainerRepo
	docs       *mocks.DocumentRepo
	chunks     *mocks.ChunkRepo
	vectors    *fakeVectors
	graphs     *fakeGraphs
	blobs      *fakeBlob
	svc        *Service
}

func newDeleteFixture(t *testing.T) *deleteFixture {
	t.Helper()
	f := &deleteFixture{
		containers: mocks.NewContainerRepo(),
		chunks:     mocks.NewChunkRepo(),
		vectors:    &fakeVectors{},
		graphs:     &fakeGraphs{},
		blobs:      newFakeBlob(),
	}
	f.docs = mocks.NewDocumentRepo(f.containers)
	c := &domain.Container{Slug: "impressionism", Theme: "Impressionist painting", State: domain.ContainerActive}
	require.NoError(t, f.containers.Create(context.Background(), c))
	f.cid = c.ID
	f.svc = NewService(f.docs, f.chunks, f.containers, f.vectors, f.graphs, f.blobs, zap.NewNop())
	return f
}

// seedDocument writes a document with two canonical chunks and one deduped
// chunk into both registries and its raw blob into the store.
func (f *deleteFixture) seedDocument(t *testing.T) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	docID := uuid.New()
	doc := &domain.Document{
		ID:          docID,
		ContainerID: f.cid,
		Title:       "Haystacks study",
		Modality:    domain.ModalityText,
		State:       domain.DocumentActive,
		ChunkCount:  3,
	}
	canon := uuid.New()
	rows := []*domain.Chunk{
		{ID: uuid.New(), DocID: docID, ContainerID: f.cid, Ordinal: 0, Text: "morning light"},
		{ID: uuid.New(), DocID: docID, ContainerID: f.cid, Ordinal: 1, Text: "evening light"},
		{ID: uuid.New(), DocID: docID, ContainerID: f.cid, Ordinal: 2, Text: "morning light", DedupOf: &canon},
	}
	require.NoError(t, f.docs.CommitIngest(context.Background(), doc, rows))
	var ids []uuid.UUID
	for _, ch := range rows {
		f.chunks.Add(repository.ScoredChunk{Chunk: *ch, Document: *doc})
		ids = append(ids, ch.ID)
	}
	require.NoError(t, f.blobs.Put(context.Background(), blob.DocumentKey(f.cid, docID), []byte("raw"), "text/plain"))
	require.NoError(t, f.containers.BumpStats(context.Background(), f.cid, 1, 3, 3, time.Now().UTC()))
	return docID, ids
}

func TestGet_ReturnsDocumentWithChunks(t *testing.T) {
	f := newDeleteFixture(t)
	docID, _ := f.seedDocument(t)

	doc, chunks, err := f.svc.Get(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, "Haystacks study", doc.Title)
	assert.Len(t, chunks, 3)
}

func TestGet_UnknownDocument(t *testing.T) {
	f := newDeleteFixture(t)
	_, _, err := f.svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestDelete_CascadesAcrossStores(t *testing.T) {
	f := newDeleteFixture(t)
	docID, chunkIDs := f.seedDocument(t)

	require.NoError(t, f.svc.Delete(context.Background(), docID))

	_, err := f.docs.GetByID(context.Background(), docID)
	require.Error(t, err)

	// Only the two canonical chunks had vectors; the deduped one never did.
	collection := domain.CollectionName(f.cid, domain.ModalityText)
	assert.Len(t, f.vectors.deleted[collection], 2)

	// Graph provenance covers every chunk, deduped included.
	assert.ElementsMatch(t, chunkIDs, f.graphs.deleted[f.cid])

	_, err = f.blobs.Get(context.Background(), blob.DocumentKey(f.cid, docID))
	require.Error(t, err)

	c, err := f.containers.GetByID(context.Background(), f.cid)
	require.NoError(t, err)
	assert.EqualValues(t, 0, c.Stats.Documents)
	assert.EqualValues(t, 0, c.Stats.Chunks)
}

func TestDelete_UnknownDocument(t *testing.T) {
	f := newDeleteFixture(t)
	err := f.svc.Delete(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
