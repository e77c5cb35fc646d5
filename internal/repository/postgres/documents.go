package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
)

// DocumentRepo implements repository.DocumentRepository and IngestWriter.
type DocumentRepo struct {
	store *Store
}

const documentColumns = `id, container_id, uri, mime, content_hash, title,
	modality, meta, provenance, chunk_count, state, created_at, updated_at`

func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	row := r.store.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (r *DocumentRepo) GetByHash(ctx context.Context, containerID uuid.UUID, hash string) (*domain.Document, error) {
	row := r.store.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE container_id = $1 AND content_hash = $2 AND state = 'active'`,
		containerID, hash)
	return scanDocument(row)
}

func (r *DocumentRepo) List(ctx context.Context, filter repository.DocumentFilter) ([]*domain.Document, error) {
	var (
		where = []string{"container_id = $1"}
		args  = []any{filter.ContainerID}
	)
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		args = append(args, states)
		where = append(where, fmt.Sprintf("state = ANY($%d)", len(args)))
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` +
		strings.Join(where, " AND ") + " ORDER BY created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Delete removes a document and its chunks inside one transaction,
// decrements the container counters, and returns the non-deduped chunk ids
// so the caller can cascade to the vector and blob stores.
func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	var chunkIDs []uuid.UUID
	err := r.store.withTx(ctx, func(tx pgx.Tx) error {
		var containerID uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT container_id FROM documents WHERE id = $1`, id).Scan(&containerID)
		if err == pgx.ErrNoRows {
			return apperr.NotFound("DOCUMENT_NOT_FOUND", "document does not exist")
		}
		if err != nil {
			return fmt.Errorf("load document: %w", err)
		}

		rows, err := tx.Query(ctx,
			`SELECT id FROM chunks WHERE doc_id = $1 AND dedup_of IS NULL`, id)
		if err != nil {
			return fmt.Errorf("list chunk ids: %w", err)
		}
		for rows.Next() {
			var cid uuid.UUID
			if err := rows.Scan(&cid); err != nil {
				rows.Close()
				return err
			}
			chunkIDs = append(chunkIDs, cid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// Re-point dedup references in other documents at nothing; their
		// vectors vanish with the canonical chunk, so they become canonical.
		if _, err := tx.Exec(ctx, `
			UPDATE chunks SET dedup_of = NULL
			WHERE dedup_of IN (SELECT id FROM chunks WHERE doc_id = $1)
			  AND doc_id <> $1`, id); err != nil {
			return fmt.Errorf("unlink dedup references: %w", err)
		}

		var chunkCount int64
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM chunks WHERE doc_id = $1`, id).Scan(&chunkCount); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, id); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE containers SET doc_count = doc_count - 1,
				chunk_count = chunk_count - $2, updated_at = now()
			WHERE id = $1`, containerID, chunkCount); err != nil {
			return fmt.Errorf("decrement container stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunkIDs, nil
}

// CommitIngest writes the document, its chunks, and the container stat
// increments in one transaction. Chunk inserts are idempotent on id so a
// crash-retry does not duplicate rows.
func (r *DocumentRepo) CommitIngest(ctx context.Context, doc *domain.Document, chunks []*domain.Chunk) error {
	return r.store.withTx(ctx, func(tx pgx.Tx) error {
		meta, err := json.Marshal(orEmpty(doc.Meta))
		if err != nil {
			return fmt.Errorf("marshal doc meta: %w", err)
		}
		prov, err := json.Marshal(orEmpty(doc.Provenance))
		if err != nil {
			return fmt.Errorf("marshal doc provenance: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO documents (id, container_id, uri, mime, content_hash,
				title, modality, meta, provenance, chunk_count, state)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'active')
			ON CONFLICT (id) DO UPDATE SET
				chunk_count = EXCLUDED.chunk_count, updated_at = now()`,
			doc.ID, doc.ContainerID, doc.URI, doc.MIME, doc.ContentHash,
			doc.Title, string(doc.Modality), meta, prov, len(chunks),
		)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}

		for _, ch := range chunks {
			cmeta, err := json.Marshal(orEmpty(ch.Meta))
			if err != nil {
				return fmt.Errorf("marshal chunk meta: %w", err)
			}
			cprov, err := json.Marshal(orEmpty(ch.Provenance))
			if err != nil {
				return fmt.Errorf("marshal chunk provenance: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO chunks (id, doc_id, container_id, modality, ordinal,
					text, text_hash, start_offset, end_offset, provenance, meta,
					embedding_version, dedup_of)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
				ON CONFLICT (id) DO NOTHING`,
				ch.ID, ch.DocID, ch.ContainerID, string(ch.Modality), ch.Ordinal,
				ch.Text, ch.TextHash, ch.StartOffset, ch.EndOffset, cprov, cmeta,
				ch.EmbVersion, ch.DedupOf,
			)
			if err != nil {
				return fmt.Errorf("insert chunk %s: %w", ch.ID, err)
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE containers SET doc_count = doc_count + 1,
				chunk_count = chunk_count + $2,
				last_ingest_at = now(), updated_at = now()
			WHERE id = $1`, doc.ContainerID, len(chunks))
		if err != nil {
			return fmt.Errorf("bump container stats: %w", err)
		}
		return nil
	})
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		d        domain.Document
		meta     []byte
		prov     []byte
		modality string
		state    string
	)
	err := row.Scan(
		&d.ID, &d.ContainerID, &d.URI, &d.MIME, &d.ContentHash, &d.Title,
		&modality, &meta, &prov, &d.ChunkCount, &state, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("DOCUMENT_NOT_FOUND", "document does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Modality = domain.Modality(modality)
	d.State = domain.DocumentState(state)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &d.Meta)
	}
	if len(prov) > 0 {
		_ = json.Unmarshal(prov, &d.Provenance)
	}
	return &d, nil
}
