// Package app wires configuration into the stores, adapters, and services
// shared by the API server and the worker. Both binaries build the same App
// and differ only in what they run on top of it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/adapters/embedder"
	"github.com/llcontext/llcd/internal/adapters/nl2query"
	"github.com/llcontext/llcd/internal/adapters/rerank"
	"github.com/llcontext/llcd/internal/config"
	"github.com/llcontext/llcd/internal/documents"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/graphrag"
	"github.com/llcontext/llcd/internal/lifecycle"
	"github.com/llcontext/llcd/internal/observability"
	"github.com/llcontext/llcd/internal/policy"
	"github.com/llcontext/llcd/internal/repository/postgres"
	"github.com/llcontext/llcd/internal/repository/rediscache"
	"github.com/llcontext/llcd/internal/search"
	"github.com/llcontext/llcd/internal/store/blob"
	"github.com/llcontext/llcd/internal/store/graph"
	"github.com/llcontext/llcd/internal/store/vector"
)

// App holds every long-lived dependency. Close releases them in reverse
// construction order.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	Store   *postgres.Store
	Queue   *postgres.JobQueue
	Redis   *redis.Client
	Vectors *vector.Client
	Graphs  *graph.Client
	Blobs   *blob.Client

	Embedder  *embedder.Client
	Reranker  *rerank.Client
	Retriever *graphrag.Retriever
	Resolver  *policy.Resolver

	Search    *search.Service
	Lifecycle *lifecycle.Service
	Documents *documents.Service
	Status    *lifecycle.StatusReporter

	embCache *rediscache.EmbeddingCache
}

// New connects every backing store and assembles the service graph. The
// registry and vector store are required; graph, blob, and redis degrade per
// the status report if their servers are down later, but must be reachable
// at startup when configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	store, err := postgres.NewStore(ctx, postgres.Options{
		DSN:          cfg.Postgres.DSN,
		MaxConns:     cfg.Postgres.MaxConns,
		ConnLifetime: cfg.Postgres.ConnLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate registry: %w", err)
	}

	a.Queue = store.Jobs()
	a.Queue.BackoffBase = cfg.Worker.BackoffBase
	a.Queue.BackoffCap = cfg.Worker.BackoffCap

	a.Vectors, err = vector.New(vector.Options{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	}, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.Graphs, err = graph.New(ctx, graph.Options{
		URI:      cfg.Neo4j.URI,
		User:     cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
	}, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.Blobs, err = blob.New(ctx, blob.Options{
		Endpoint:  cfg.Blob.Endpoint,
		Region:    cfg.Blob.Region,
		Bucket:    cfg.Blob.Bucket,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		PathStyle: cfg.Blob.UsePathStyle,
	}, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		a.Redis = rediscache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	}
	a.embCache = rediscache.NewEmbeddingCache(a.Redis, store.EmbeddingCache(), logger)
	rerankCache := rediscache.NewRerankCache(a.Redis, store.RerankCache(), logger)

	a.Embedder = embedder.New(embedderOptions(cfg, cfg.Embedder.Model, cfg.Embedder.Version, cfg.Embedder.Dims), a.embCache, logger)
	a.Reranker = rerank.New(rerank.Options{
		BaseURL:     cfg.Rerank.BaseURL,
		APIKey:      cfg.Rerank.APIKey,
		Model:       cfg.Rerank.Model,
		Timeout:     cfg.Rerank.Timeout,
		CacheTTL:    cfg.Rerank.CacheTTL,
		BreakerTrip: cfg.Rerank.BreakerTrips,
		BreakerCool: cfg.Rerank.BreakerCool,
	}, rerankCache, logger)

	translator := nl2query.New(nl2query.Options{
		BaseURL:     cfg.Translator.BaseURL,
		APIKey:      cfg.Translator.APIKey,
		Model:       cfg.Translator.Model,
		Timeout:     cfg.Translator.Timeout,
		BreakerTrip: cfg.Translator.BreakerTrips,
		BreakerCool: cfg.Translator.BreakerCool,
	}, logger)
	a.Retriever = graphrag.NewRetriever(a.Graphs, store.Chunks(), translator, logger)

	a.Resolver = policy.NewResolver(store.Containers(), policy.Defaults{
		GlobalBudget:    cfg.Search.GlobalBudget,
		SemanticDedup:   cfg.Search.SemanticDedup,
		SnippetMaxChars: cfg.Search.SnippetMaxChars,
		RerankTopKIn:    cfg.Search.RerankTopKIn,
		RerankTimeout:   cfg.Rerank.Timeout,
		RerankCacheTTL:  cfg.Rerank.CacheTTL,
		GraphMaxHops:    cfg.Graph.MaxHopsDefault,
		GraphTimeout:    cfg.Graph.QueryTimeout,
		ThumbMaxEdge:    cfg.Ingest.ThumbMaxEdge,
		MaxSizeBytes:    cfg.Ingest.MaxSizeBytes,
		MaxPDFPages:     cfg.Ingest.MaxPDFPages,
	}, cfg.Manifests.CacheTTL, logger)

	a.Search = search.NewService(
		a.Resolver,
		store.Chunks(),
		a.Vectors,
		a.Retriever,
		a.Embedder,
		a.Reranker,
		a.embCache,
		search.Config{
			GlobalBudget: cfg.Search.GlobalBudget,
			BudgetSafety: cfg.Search.BudgetSafety,
			RRFK:         cfg.Search.RRFK,
		},
		a.Metrics,
		logger,
	)

	factory := func(name, version string, dims int) embedder.Embedder {
		return embedder.New(embedderOptions(cfg, name, version, dims), a.embCache, logger)
	}
	a.Lifecycle = lifecycle.NewService(
		store.Containers(),
		store.Documents(),
		store.Chunks(),
		store.Collaboration(),
		a.Queue,
		a.Vectors,
		a.Graphs,
		a.Blobs,
		a.Resolver,
		factory,
		logger,
	)
	a.Documents = documents.NewService(
		store.Documents(),
		store.Chunks(),
		store.Containers(),
		a.Vectors,
		a.Graphs,
		a.Blobs,
		logger,
	)

	a.Status = &lifecycle.StatusReporter{
		Registry:   store.Ping,
		Vectors:    a.Vectors.Healthy,
		Graph:      a.Graphs.Healthy,
		Blobs:      a.Blobs.Healthy,
		Migrations: store.MigrationVersion,
	}
	if a.Redis != nil {
		rdb := a.Redis
		a.Status.Redis = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	if err := a.bootstrapManifests(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func embedderOptions(cfg *config.Config, model, version string, dims int) embedder.Options {
	return embedder.Options{
		BaseURL:     cfg.Embedder.BaseURL,
		APIKey:      cfg.Embedder.APIKey,
		Model:       model,
		ImageModel:  cfg.Embedder.ImageModel,
		Version:     version,
		Dims:        dims,
		BatchSize:   cfg.Embedder.BatchSize,
		Timeout:     cfg.Embedder.Timeout,
		RatePerSec:  cfg.Embedder.RatePerSec,
		RateBurst:   cfg.Embedder.RateBurst,
		CacheTTL:    cfg.Embedder.CacheTTL,
		BreakerTrip: cfg.Embedder.BreakerTrips,
		BreakerCool: cfg.Embedder.BreakerCool,
	}
}

// bootstrapManifests creates containers for manifests that name a slug the
// registry does not know yet. Existing containers are left alone; edits flow
// through the update endpoint, not the bootstrap.
func (a *App) bootstrapManifests(ctx context.Context) error {
	manifests, err := policy.LoadDir(a.Config.Manifests.Dir)
	if err != nil {
		return err
	}
	for _, m := range manifests {
		if _, err := a.Lifecycle.Describe(ctx, m.Slug); err == nil {
			continue
		} else if !apperr.IsKind(err, apperr.KindNotFound) {
			return err
		}
		if _, err := a.Lifecycle.Create(ctx, m, "manifest"); err != nil {
			return fmt.Errorf("bootstrap manifest %s: %w", m.Slug, err)
		}
		a.Logger.Info("container bootstrapped from manifest", zap.String("slug", m.Slug))
	}
	return nil
}

// WatchManifests runs the fsnotify watcher until ctx ends.
func (a *App) WatchManifests(ctx context.Context) error {
	return policy.NewWatcher(a.Resolver, a.Config.Manifests.Dir, a.Logger).Run(ctx)
}

// Close releases every connection. Safe on a partially constructed App.
func (a *App) Close(ctx context.Context) {
	a.close(ctx)
}

func (a *App) close(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Graphs != nil {
		_ = a.Graphs.Close(cctx)
	}
	if a.Vectors != nil {
		_ = a.Vectors.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
