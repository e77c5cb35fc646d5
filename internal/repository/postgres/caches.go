package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/llcontext/llcd/internal/repository"
)

// EmbeddingCacheRepo stores query and chunk vectors keyed by content hash and
// embedder identity. Rows survive restarts; a Redis layer in front of this
// absorbs the hot path.
type EmbeddingCacheRepo struct {
	store *Store
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, key repository.EmbeddingCacheKey) ([]float32, bool, error) {
	var vec []float32
	err := r.store.pool.QueryRow(ctx, `
		SELECT vector FROM embedding_cache
		WHERE text_hash = $1 AND embedder = $2 AND embedder_version = $3
		  AND (expires_at IS NULL OR expires_at > now())`,
		key.TextHash, key.Embedder, key.Version).Scan(&vec)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding cache get: %w", err)
	}
	return vec, true, nil
}

func (r *EmbeddingCacheRepo) Put(ctx context.Context, key repository.EmbeddingCacheKey, vector []float32, ttl time.Duration) error {
	var expires *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expires = &t
	}
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO embedding_cache (text_hash, embedder, embedder_version, vector, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (text_hash, embedder, embedder_version)
		DO UPDATE SET vector = EXCLUDED.vector, expires_at = EXCLUDED.expires_at`,
		key.TextHash, key.Embedder, key.Version, vector, expires)
	if err != nil {
		return fmt.Errorf("embedding cache put: %w", err)
	}
	return nil
}

func (r *EmbeddingCacheRepo) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := r.store.pool.Exec(ctx,
		`DELETE FROM embedding_cache WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("embedding cache sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RerankCacheRepo pins provider orderings keyed by the fused-order
// fingerprint computed in the search pipeline.
type RerankCacheRepo struct {
	store *Store
}

func (r *RerankCacheRepo) Get(ctx context.Context, key string) (*repository.RerankCacheEntry, bool, error) {
	var raw []byte
	err := r.store.pool.QueryRow(ctx, `
		SELECT entry FROM rerank_cache
		WHERE cache_key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rerank cache get: %w", err)
	}
	var entry repository.RerankCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("rerank cache decode: %w", err)
	}
	return &entry, true, nil
}

func (r *RerankCacheRepo) Put(ctx context.Context, key string, entry repository.RerankCacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("rerank cache encode: %w", err)
	}
	var expires *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expires = &t
	}
	_, err = r.store.pool.Exec(ctx, `
		INSERT INTO rerank_cache (cache_key, entry, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key)
		DO UPDATE SET entry = EXCLUDED.entry, expires_at = EXCLUDED.expires_at`,
		key, raw, expires)
	if err != nil {
		return fmt.Errorf("rerank cache put: %w", err)
	}
	return nil
}

func (r *RerankCacheRepo) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := r.store.pool.Exec(ctx,
		`DELETE FROM rerank_cache WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("rerank cache sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
