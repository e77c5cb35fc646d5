// Package vector adapts Qdrant as the dense index. Collections are addressed
// through aliases so embedder refreshes can build a shadow collection and
// promote it atomically.
package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	apperr "github.com/llcontext/llcd/internal/errors"
)

// Point is one chunk vector plus its registry payload.
type Point struct {
	ID      uuid.UUID
	Vector  []float32
	Payload map[string]any
}

// Hit is a scored point id from a dense search.
type Hit struct {
	ID    uuid.UUID
	Score float64
}

// Store is the dense-index surface the pipelines use.
type Store interface {
	EnsureCollection(ctx context.Context, name string, dims int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vec []float32, limit int) ([]Hit, error)
	DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error
	DropCollection(ctx context.Context, name string) error
	// BeginShadow creates a fresh physical collection behind the alias and
	// returns its name; PromoteShadow repoints the alias and drops the old
	// physical collection.
	BeginShadow(ctx context.Context, alias string, dims int) (string, error)
	PromoteShadow(ctx context.Context, alias, shadow string) error
	Healthy(ctx context.Context) error
}

type Options struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Client wraps the Qdrant gRPC client.
type Client struct {
	qc     *qdrant.Client
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) (*Client, error) {
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return &Client{qc: qc, logger: logger.Named("vector")}, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error { return c.qc.Close() }

// EnsureCollection creates the physical collection and its alias if either is
// missing. The alias is the name callers search against.
func (c *Client) EnsureCollection(ctx context.Context, name string, dims int) error {
	phys := name + "_v1"
	exists, err := c.qc.CollectionExists(ctx, phys)
	if err != nil {
		return apperr.Unavailable("VECTOR_TIMEOUT", "vector store unreachable", err)
	}
	if !exists {
		if err := c.createPhysical(ctx, phys, dims); err != nil {
			return err
		}
		if err := c.qc.CreateAlias(ctx, name, phys); err != nil {
			return fmt.Errorf("create alias %s: %w", name, err)
		}
		c.logger.Info("created vector collection", zap.String("alias", name), zap.Int("dims", dims))
	}
	return nil
}

func (c *Client) createPhysical(ctx context.Context, phys string, dims int) error {
	err := c.qc.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: phys,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", phys, err)
	}
	return nil
}

// Upsert writes points by chunk id; re-running after a crash overwrites the
// same points, which keeps ingestion idempotent.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qps := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qps[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID.String()),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}
	_, err := c.qc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qps,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return apperr.Unavailable("VECTOR_TIMEOUT", "vector upsert failed", err)
	}
	return nil
}

func (c *Client) Search(ctx context.Context, collection string, vec []float32, limit int) ([]Hit, error) {
	res, err := c.qc.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
	})
	if err != nil {
		return nil, apperr.Unavailable("VECTOR_TIMEOUT", "vector search failed", err)
	}
	hits := make([]Hit, 0, len(res))
	for _, sp := range res {
		id, err := uuid.Parse(sp.GetId().GetUuid())
		if err != nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: float64(sp.GetScore())})
	}
	return hits, nil
}

func (c *Client) DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewIDUUID(id.String())
	}
	_, err := c.qc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pids...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return apperr.Unavailable("VECTOR_TIMEOUT", "vector delete failed", err)
	}
	return nil
}

// DropCollection removes the alias and every physical collection behind it.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	_ = c.qc.DeleteAlias(ctx, name)
	for _, phys := range []string{name + "_v1", name + "_v2"} {
		exists, err := c.qc.CollectionExists(ctx, phys)
		if err != nil {
			return apperr.Unavailable("VECTOR_TIMEOUT", "vector store unreachable", err)
		}
		if exists {
			if err := c.qc.DeleteCollection(ctx, phys); err != nil {
				return fmt.Errorf("drop collection %s: %w", phys, err)
			}
		}
	}
	return nil
}

// BeginShadow creates the alternate physical collection for a refresh. The
// alias keeps serving the old collection until PromoteShadow.
func (c *Client) BeginShadow(ctx context.Context, alias string, dims int) (string, error) {
	current, err := c.currentPhysical(ctx, alias)
	if err != nil {
		return "", err
	}
	shadow := alias + "_v1"
	if current == shadow {
		shadow = alias + "_v2"
	}
	if exists, err := c.qc.CollectionExists(ctx, shadow); err == nil && exists {
		// Leftover from an aborted refresh; rebuild from scratch.
		if err := c.qc.DeleteCollection(ctx, shadow); err != nil {
			return "", fmt.Errorf("clear stale shadow %s: %w", shadow, err)
		}
	}
	if err := c.createPhysical(ctx, shadow, dims); err != nil {
		return "", err
	}
	return shadow, nil
}

// PromoteShadow atomically repoints the alias at the rebuilt collection, then
// drops the superseded one.
func (c *Client) PromoteShadow(ctx context.Context, alias, shadow string) error {
	old, err := c.currentPhysical(ctx, alias)
	if err != nil {
		return err
	}
	if err := c.qc.DeleteAlias(ctx, alias); err != nil {
		return fmt.Errorf("delete alias %s: %w", alias, err)
	}
	if err := c.qc.CreateAlias(ctx, alias, shadow); err != nil {
		return fmt.Errorf("repoint alias %s: %w", alias, err)
	}
	if old != "" && old != shadow {
		if err := c.qc.DeleteCollection(ctx, old); err != nil {
			c.logger.Warn("failed to drop superseded collection",
				zap.String("collection", old), zap.Error(err))
		}
	}
	return nil
}

func (c *Client) currentPhysical(ctx context.Context, alias string) (string, error) {
	for _, phys := range []string{alias + "_v1", alias + "_v2"} {
		aliases, err := c.qc.ListCollectionAliases(ctx, phys)
		if err != nil {
			continue
		}
		for _, a := range aliases {
			if a == alias {
				return phys, nil
			}
		}
	}
	return "", nil
}

func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := c.qc.HealthCheck(ctx); err != nil {
		return apperr.Unavailable("VECTOR_TIMEOUT", "vector store unhealthy", err)
	}
	return nil
}
