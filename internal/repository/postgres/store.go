// Package postgres implements the repository interfaces on PostgreSQL via
// pgx. The registry is the source of truth for all cross-store writes.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store owns the connection pool and hands out repository implementations
// that share it.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Options configure pool construction.
type Options struct {
	DSN          string
	MaxConns     int32
	ConnLifetime time.Duration
}

// NewStore connects the pool and verifies connectivity.
func NewStore(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.ConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.ConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, logger: logger.Named("postgres")}, nil
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the current goose version for readiness checks.
func (s *Store) MigrationVersion(ctx context.Context) (int64, error) {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return goose.GetDBVersionContext(ctx, db)
}

// Ping verifies registry reachability.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Containers returns the container repository.
func (s *Store) Containers() *ContainerRepo { return &ContainerRepo{store: s} }

// Documents returns the document repository.
func (s *Store) Documents() *DocumentRepo { return &DocumentRepo{store: s} }

// Chunks returns the chunk repository.
func (s *Store) Chunks() *ChunkRepo { return &ChunkRepo{store: s} }

// Jobs returns the job queue.
func (s *Store) Jobs() *JobQueue { return &JobQueue{store: s} }

// EmbeddingCache returns the durable embedding cache.
func (s *Store) EmbeddingCache() *EmbeddingCacheRepo { return &EmbeddingCacheRepo{store: s} }

// RerankCache returns the durable rerank cache.
func (s *Store) RerankCache() *RerankCacheRepo { return &RerankCacheRepo{store: s} }

// Collaboration returns links/subscriptions/agent sessions.
func (s *Store) Collaboration() *CollabRepo { return &CollabRepo{store: s} }

// withTx runs fn inside a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
