// Package ingest turns a claimed ingest job into registry rows, vectors, and
// blobs: fetch, normalize, chunk, dedupe, embed, then one registry
// transaction followed by idempotent vector and blob upserts.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/adapters/embedder"
	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/store/blob"
	"github.com/llcontext/llcd/internal/store/vector"
)

// PolicyResolver yields the effective policy for a container reference.
type PolicyResolver interface {
	Resolve(ctx context.Context, ref string) (*domain.Policy, error)
}

// Config carries the chunking and heartbeat knobs.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	HeartbeatEvery int
}

func (c *Config) defaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 5
	}
}

// Pipeline executes ingest jobs. One instance is shared by all workers.
type Pipeline struct {
	policies   PolicyResolver
	docs       repository.DocumentRepository
	writer     repository.IngestWriter
	registry   repository.ChunkRepository
	containers repository.ContainerRepository
	vectors    vector.Store
	blobs      blob.Store
	embed      embedder.Embedder
	queue      repository.JobQueue
	fetch      *Fetcher
	cfg        Config
	logger     *zap.Logger
}

func NewPipeline(
	policies PolicyResolver,
	docs repository.DocumentRepository,
	writer repository.IngestWriter,
	registry repository.ChunkRepository,
	containers repository.ContainerRepository,
	vectors vector.Store,
	blobs blob.Store,
	embed embedder.Embedder,
	queue repository.JobQueue,
	fetch *Fetcher,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		policies:   policies,
		docs:       docs,
		writer:     writer,
		registry:   registry,
		containers: containers,
		vectors:    vectors,
		blobs:      blobs,
		embed:      embed,
		queue:      queue,
		fetch:      fetch,
		cfg:        cfg,
		logger:     logger.Named("ingest"),
	}
}

// Heartbeat extends the running job's lease; the worker loop supplies it.
type Heartbeat func(ctx context.Context) error

// Run executes one claimed ingest job. Returned errors carry retryability:
// policy and content faults are terminal, transport and provider faults
// requeue.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job, beat Heartbeat) (*domain.IngestResult, error) {
	if job.ContainerID == nil {
		return nil, apperr.Validation(string(domain.IssueContainerNotFound), "ingest job has no container")
	}
	cid := *job.ContainerID

	src, err := decodeSource(job.Payload)
	if err != nil {
		return nil, err
	}

	pol, err := p.policies.Resolve(ctx, cid.String())
	if err != nil {
		return nil, err
	}
	modality := DetectModality(src)
	if !pol.AllowsModality(modality) {
		return nil, apperr.Validation(string(domain.IssueModalityBlocked),
			fmt.Sprintf("container %s does not accept %s sources", pol.Slug, modality))
	}

	raw, ctype, err := p.fetch.Fetch(ctx, src, pol.MaxSizeBytes)
	if err != nil {
		return nil, err
	}
	mime := src.MIME
	if mime == "" {
		mime = ctype
	}

	norm, err := p.normalize(raw, modality, pol)
	if err != nil {
		return nil, err
	}

	hash := contentHash(cid, fingerprint(norm, src, raw))
	if existing, err := p.docs.GetByHash(ctx, cid, hash); err == nil &&
		existing != nil && existing.State == domain.DocumentActive && existing.ChunkCount > 0 {
		// A crash between the registry commit and the vector upsert lands the
		// retry here; re-running the idempotent upsert makes it self-healing.
		if err := p.healVectors(ctx, existing, raw); err != nil {
			return nil, err
		}
		p.logger.Info("duplicate source, completing as no-op",
			zap.String("container_id", cid.String()),
			zap.String("document_id", existing.ID.String()))
		return &domain.IngestResult{DocumentID: existing.ID.String(), NoOp: true}, nil
	}

	now := time.Now().UTC()
	docID := uuid.New()
	doc := &domain.Document{
		ID:          docID,
		ContainerID: cid,
		URI:         src.URI,
		MIME:        mime,
		ContentHash: hash,
		Title:       titleFor(src, norm),
		Modality:    modality,
		Meta:        src.Meta,
		Provenance: map[string]any{
			"ingested_at": now.Format(time.RFC3339),
			"fetcher":     fetcherFor(src),
		},
		State:     domain.DocumentActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Originals land in the blob store before the registry commit so a
	// crash-retry re-reads identical bytes.
	if err := p.blobs.Put(ctx, blob.DocumentKey(cid, docID), raw, mime); err != nil {
		return nil, err
	}
	if len(norm.Thumb) > 0 {
		if err := p.blobs.Put(ctx, blob.ThumbnailKey(cid, docID), norm.Thumb, "image/jpeg"); err != nil {
			return nil, err
		}
	}

	chunks, err := p.buildChunks(doc, norm, raw, now)
	if err != nil {
		return nil, err
	}

	points, deduped, err := p.dedupeAndEmbed(ctx, pol, doc, chunks, raw, beat)
	if err != nil {
		return nil, err
	}

	doc.ChunkCount = len(chunks)
	if err := p.writer.CommitIngest(ctx, doc, chunks); err != nil {
		return nil, err
	}
	if err := p.containers.BumpStats(ctx, cid, 0, 0, int64(len(raw)), now); err != nil {
		p.logger.Warn("byte counter update failed", zap.Error(err))
	}

	if len(points) > 0 {
		collection := domain.CollectionName(cid, modality)
		if err := p.vectors.Upsert(ctx, collection, points); err != nil {
			return nil, err
		}
	}

	if pol.Graph.Enabled && p.queue != nil && modality != domain.ModalityImage {
		key := "graph_extract:" + docID.String()
		payload := map[string]any{"document_id": docID.String()}
		if _, err := p.queue.Enqueue(ctx, domain.JobGraphExtract, &cid, payload, key); err != nil {
			p.logger.Warn("graph extraction enqueue failed",
				zap.String("document_id", docID.String()), zap.Error(err))
		}
	}

	p.logger.Info("ingest complete",
		zap.String("container_id", cid.String()),
		zap.String("document_id", docID.String()),
		zap.Int("chunks", len(chunks)),
		zap.Int("deduped", deduped),
		zap.Int("bytes", len(raw)))

	return &domain.IngestResult{
		DocumentID:    docID.String(),
		ChunksCreated: len(chunks),
		ChunksDeduped: deduped,
		BytesStored:   int64(len(raw)),
	}, nil
}

func (p *Pipeline) normalize(raw []byte, modality domain.Modality, pol *domain.Policy) (*Normalized, error) {
	switch modality {
	case domain.ModalityPDF:
		return NormalizePDF(raw, pol.MaxPDFPages)
	case domain.ModalityImage:
		return NormalizeImage(raw, pol.ThumbMaxEdge)
	default:
		return &Normalized{Text: NormalizeText(string(raw))}, nil
	}
}

func (p *Pipeline) buildChunks(doc *domain.Document, norm *Normalized, raw []byte, now time.Time) ([]*domain.Chunk, error) {
	_, version, _ := p.embed.Identity()

	if doc.Modality == domain.ModalityImage {
		sum := sha256.Sum256(raw)
		return []*domain.Chunk{{
			ID:          uuid.New(),
			DocID:       doc.ID,
			ContainerID: doc.ContainerID,
			Modality:    domain.ModalityImage,
			Ordinal:     0,
			TextHash:    hex.EncodeToString(sum[:]),
			Provenance:  map[string]any{"ingested_at": now.Format(time.RFC3339)},
			EmbVersion:  version,
			CreatedAt:   now,
		}}, nil
	}

	pieces := ChunkText(norm.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(pieces) == 0 {
		return nil, apperr.Validation("UNREADABLE_SOURCE", "source produced no chunks")
	}
	chunks := make([]*domain.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		prov := map[string]any{"ingested_at": now.Format(time.RFC3339)}
		if page := pageFor(norm.Pages, piece.Start); page > 0 {
			prov["page"] = page
		}
		chunks = append(chunks, &domain.Chunk{
			ID:          uuid.New(),
			DocID:       doc.ID,
			ContainerID: doc.ContainerID,
			Modality:    doc.Modality,
			Ordinal:     i,
			Text:        piece.Text,
			TextHash:    embedder.TextHash(piece.Text),
			StartOffset: piece.Start,
			EndOffset:   piece.End,
			Provenance:  prov,
			EmbVersion:  version,
			CreatedAt:   now,
		})
	}
	return chunks, nil
}

// dedupeAndEmbed marks exact and semantic duplicates and returns the vector
// points for the remaining chunks. The heartbeat fires every few chunks so
// long embeds keep their lease.
func (p *Pipeline) dedupeAndEmbed(ctx context.Context, pol *domain.Policy, doc *domain.Document, chunks []*domain.Chunk, raw []byte, beat Heartbeat) ([]vector.Point, int, error) {
	collection := domain.CollectionName(doc.ContainerID, doc.Modality)
	deduped := 0

	// Exact pass: committed chunks first, then earlier chunks of this batch.
	seen := make(map[string]uuid.UUID, len(chunks))
	fresh := make([]*domain.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if canonical, err := p.registry.FindByTextHash(ctx, doc.ContainerID, ch.TextHash); err == nil && canonical != nil {
			id := canonical.ID
			ch.DedupOf = &id
			deduped++
			continue
		}
		if prior, ok := seen[ch.TextHash]; ok {
			id := prior
			ch.DedupOf = &id
			deduped++
			continue
		}
		seen[ch.TextHash] = ch.ID
		fresh = append(fresh, ch)
	}
	if len(fresh) == 0 {
		return nil, deduped, nil
	}

	vecs, err := p.embedChunks(ctx, doc.Modality, fresh, raw)
	if err != nil {
		return nil, 0, err
	}

	points := make([]vector.Point, 0, len(fresh))
	for i, ch := range fresh {
		if beat != nil && i > 0 && i%p.cfg.HeartbeatEvery == 0 {
			if err := beat(ctx); err != nil {
				return nil, 0, err
			}
		}
		if pol.SemanticDedup > 0 {
			hits, err := p.vectors.Search(ctx, collection, vecs[i], 1)
			if err != nil {
				p.logger.Warn("semantic dedup probe failed", zap.Error(err))
			} else if len(hits) > 0 && hits[0].Score >= pol.SemanticDedup {
				id := hits[0].ID
				ch.DedupOf = &id
				deduped++
				continue
			}
		}
		points = append(points, vector.Point{
			ID:      ch.ID,
			Vector:  vecs[i],
			Payload: ch.VectorPayload(doc.Title, doc.URI),
		})
	}

	// An intra-batch duplicate may point at a peer the semantic pass itself
	// marked deduped; re-point it at the peer's canonical so links never
	// chain and every DedupOf target owns a vector.
	byID := make(map[uuid.UUID]*domain.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}
	for _, ch := range chunks {
		if ch.DedupOf == nil {
			continue
		}
		if peer, ok := byID[*ch.DedupOf]; ok && peer.DedupOf != nil {
			id := *peer.DedupOf
			ch.DedupOf = &id
		}
	}
	return points, deduped, nil
}

// healVectors re-upserts vectors for a committed document's canonical
// chunks. Embeddings come back from the durable cache for anything embedded
// on the first attempt, so the repeat upsert costs little when nothing is
// missing.
func (p *Pipeline) healVectors(ctx context.Context, doc *domain.Document, raw []byte) error {
	chunks, err := p.registry.ListByDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	fresh := make([]*domain.Chunk, 0, len(chunks))
	for i := range chunks {
		if chunks[i].DedupOf == nil {
			fresh = append(fresh, &chunks[i])
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	vecs, err := p.embedChunks(ctx, doc.Modality, fresh, raw)
	if err != nil {
		return err
	}
	points := make([]vector.Point, len(fresh))
	for i, ch := range fresh {
		points[i] = vector.Point{
			ID:      ch.ID,
			Vector:  vecs[i],
			Payload: ch.VectorPayload(doc.Title, doc.URI),
		}
	}
	return p.vectors.Upsert(ctx, domain.CollectionName(doc.ContainerID, doc.Modality), points)
}

func (p *Pipeline) embedChunks(ctx context.Context, modality domain.Modality, fresh []*domain.Chunk, raw []byte) ([][]float32, error) {
	if modality == domain.ModalityImage {
		vec, err := p.embed.EmbedImage(ctx, raw)
		if err != nil {
			return nil, err
		}
		return [][]float32{vec}, nil
	}
	texts := make([]string, len(fresh))
	for i, ch := range fresh {
		texts[i] = ch.Text
	}
	return p.embed.EmbedTexts(ctx, texts)
}

// decodeSource reads the job payload's source block through a JSON
// round-trip so map payloads from any transport decode uniformly.
func decodeSource(payload map[string]any) (domain.IngestSource, error) {
	var src domain.IngestSource
	block, ok := payload["source"]
	if !ok {
		return src, apperr.Validation("FETCH_FAILED", "ingest payload has no source")
	}
	data, err := json.Marshal(block)
	if err != nil {
		return src, apperr.Validation("FETCH_FAILED", "unreadable source block")
	}
	if err := json.Unmarshal(data, &src); err != nil {
		return src, apperr.Validation("FETCH_FAILED", "unreadable source block")
	}
	return src, nil
}

// contentHash keys document identity on container plus source fingerprint.
func contentHash(containerID uuid.UUID, fp string) string {
	sum := sha256.Sum256([]byte(containerID.String() + ":" + fp))
	return hex.EncodeToString(sum[:])
}

// fingerprint prefers the normalized text; binary sources fall back to a
// hash of their raw bytes so identical uploads dedupe regardless of uri.
func fingerprint(norm *Normalized, src domain.IngestSource, raw []byte) string {
	if text := strings.TrimSpace(norm.Text); text != "" {
		return text
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func titleFor(src domain.IngestSource, norm *Normalized) string {
	if src.Title != "" {
		return src.Title
	}
	if src.URI != "" {
		parts := strings.Split(stripQuery(src.URI), "/")
		if last := parts[len(parts)-1]; last != "" {
			return last
		}
	}
	text := strings.TrimSpace(norm.Text)
	if runes := []rune(text); len(runes) > 80 {
		return string(runes[:80])
	}
	return text
}

func fetcherFor(src domain.IngestSource) string {
	switch {
	case src.FileToken != "":
		return "upload"
	case src.URI != "":
		return "http"
	default:
		return "inline"
	}
}
