package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
)

// ChunkRepo implements repository.ChunkRepository.
type ChunkRepo struct {
	store *Store
}

const chunkJoinColumns = `c.id, c.doc_id, c.container_id, c.modality, c.ordinal,
	c.text, c.text_hash, c.start_offset, c.end_offset, c.provenance, c.meta,
	c.embedding_version, c.dedup_of, c.created_at, ` + docJoinColumns

const docJoinColumns = `d.id, d.container_id, d.uri, d.mime, d.content_hash,
	d.title, d.modality, d.meta, d.provenance, d.chunk_count, d.state,
	d.created_at, d.updated_at`

// SearchBM25 runs websearch_to_tsquery ranking over the chunk tsvector
// column. Deduped chunks are excluded; their canonical peer represents them.
func (r *ChunkRepo) SearchBM25(ctx context.Context, q repository.BM25Query) ([]repository.ScoredChunk, error) {
	if q.Query == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var (
		where = []string{
			"c.dedup_of IS NULL",
			"d.state = 'active'",
			"c.tsv @@ websearch_to_tsquery('english', $1)",
		}
		args = []any{q.Query}
	)
	if len(q.ContainerIDs) > 0 {
		args = append(args, q.ContainerIDs)
		where = append(where, fmt.Sprintf("c.container_id = ANY($%d)", len(args)))
	}
	if len(q.Modalities) > 0 {
		args = append(args, modalityStrings(q.Modalities))
		where = append(where, fmt.Sprintf("c.modality = ANY($%d)", len(args)))
	}
	args = append(args, limit)

	query := `
		SELECT ` + chunkJoinColumns + `,
			ts_rank_cd(c.tsv, websearch_to_tsquery('english', $1)) AS rank
		FROM chunks c
		JOIN documents d ON d.id = c.doc_id
		WHERE ` + joinAnd(where) + `
		ORDER BY rank DESC
		LIMIT $` + fmt.Sprint(len(args))

	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	defer rows.Close()

	var out []repository.ScoredChunk
	for rows.Next() {
		sc, err := scanScoredChunk(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Resolve hydrates chunk ids with registry rows; ids with no row are
// silently dropped so a stale vector entry cannot fail a request.
func (r *ChunkRepo) Resolve(ctx context.Context, ids []uuid.UUID) ([]repository.ScoredChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.store.pool.Query(ctx, `
		SELECT `+chunkJoinColumns+`
		FROM chunks c
		JOIN documents d ON d.id = c.doc_id
		WHERE c.id = ANY($1) AND d.state = 'active'`, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]repository.ScoredChunk, len(ids))
	for rows.Next() {
		sc, err := scanScoredChunk(rows, false)
		if err != nil {
			return nil, err
		}
		byID[sc.Chunk.ID] = sc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the caller's ordering (vector store rank order).
	out := make([]repository.ScoredChunk, 0, len(byID))
	for _, id := range ids {
		if sc, ok := byID[id]; ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (r *ChunkRepo) FindByTextHash(ctx context.Context, containerID uuid.UUID, textHash string) (*domain.Chunk, error) {
	row := r.store.pool.QueryRow(ctx, `
		SELECT id, doc_id, container_id, modality, ordinal, text, text_hash,
			start_offset, end_offset, provenance, meta, embedding_version,
			dedup_of, created_at
		FROM chunks
		WHERE container_id = $1 AND text_hash = $2 AND dedup_of IS NULL
		ORDER BY created_at
		LIMIT 1`, containerID, textHash)
	ch, err := scanChunk(row)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return ch, nil
}

func (r *ChunkRepo) ListByContainer(ctx context.Context, containerID uuid.UUID, limit, offset int) ([]domain.Chunk, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, doc_id, container_id, modality, ordinal, text, text_hash,
			start_offset, end_offset, provenance, meta, embedding_version,
			dedup_of, created_at
		FROM chunks WHERE container_id = $1
		ORDER BY created_at, ordinal
		LIMIT $2 OFFSET $3`, containerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, docID uuid.UUID) ([]domain.Chunk, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, doc_id, container_id, modality, ordinal, text, text_hash,
			start_offset, end_offset, provenance, meta, embedding_version,
			dedup_of, created_at
		FROM chunks WHERE doc_id = $1
		ORDER BY ordinal`, docID)
	if err != nil {
		return nil, fmt.Errorf("list document chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func collectChunks(rows pgx.Rows) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func scanChunk(row rowScanner) (*domain.Chunk, error) {
	var (
		ch       domain.Chunk
		modality string
		prov     []byte
		meta     []byte
	)
	err := row.Scan(
		&ch.ID, &ch.DocID, &ch.ContainerID, &modality, &ch.Ordinal,
		&ch.Text, &ch.TextHash, &ch.StartOffset, &ch.EndOffset, &prov, &meta,
		&ch.EmbVersion, &ch.DedupOf, &ch.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("CHUNK_NOT_FOUND", "chunk does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	ch.Modality = domain.Modality(modality)
	if len(prov) > 0 {
		_ = json.Unmarshal(prov, &ch.Provenance)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &ch.Meta)
	}
	return &ch, nil
}

func scanScoredChunk(rows pgx.Rows, withRank bool) (repository.ScoredChunk, error) {
	var (
		sc          repository.ScoredChunk
		cModality   string
		cProv       []byte
		cMeta       []byte
		dMeta       []byte
		dProv       []byte
		dModality   string
		dState      string
	)
	dest := []any{
		&sc.Chunk.ID, &sc.Chunk.DocID, &sc.Chunk.ContainerID, &cModality,
		&sc.Chunk.Ordinal, &sc.Chunk.Text, &sc.Chunk.TextHash,
		&sc.Chunk.StartOffset, &sc.Chunk.EndOffset, &cProv, &cMeta,
		&sc.Chunk.EmbVersion, &sc.Chunk.DedupOf, &sc.Chunk.CreatedAt,
		&sc.Document.ID, &sc.Document.ContainerID, &sc.Document.URI,
		&sc.Document.MIME, &sc.Document.ContentHash, &sc.Document.Title,
		&dModality, &dMeta, &dProv, &sc.Document.ChunkCount, &dState,
		&sc.Document.CreatedAt, &sc.Document.UpdatedAt,
	}
	if withRank {
		dest = append(dest, &sc.Score)
	}
	if err := rows.Scan(dest...); err != nil {
		return sc, fmt.Errorf("scan scored chunk: %w", err)
	}
	sc.Chunk.Modality = domain.Modality(cModality)
	sc.Document.Modality = domain.Modality(dModality)
	sc.Document.State = domain.DocumentState(dState)
	if len(cProv) > 0 {
		_ = json.Unmarshal(cProv, &sc.Chunk.Provenance)
	}
	if len(cMeta) > 0 {
		_ = json.Unmarshal(cMeta, &sc.Chunk.Meta)
	}
	if len(dMeta) > 0 {
		_ = json.Unmarshal(dMeta, &sc.Document.Meta)
	}
	if len(dProv) > 0 {
		_ = json.Unmarshal(dProv, &sc.Document.Provenance)
	}
	return sc, nil
}

func joinAnd(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}
