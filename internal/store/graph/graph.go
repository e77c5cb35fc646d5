// Package graph adapts Neo4j as the per-container knowledge graph. All nodes
// carry a container_id property and a stable node_id, so MERGE keeps repeated
// extraction idempotent and containers isolated inside a shared database.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

// RelatedChunk is a chunk reached through graph expansion, with the hop
// distance from the nearest seed.
type RelatedChunk struct {
	ChunkID uuid.UUID
	Hops    int
}

// Store is the graph surface the extraction and retrieval pipelines use.
type Store interface {
	UpsertNodes(ctx context.Context, nodes []domain.GraphNode) error
	UpsertEdges(ctx context.Context, edges []domain.GraphEdge) error
	// RunReadOnly executes a validated read query inside a read transaction.
	RunReadOnly(ctx context.Context, containerID uuid.UUID, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error)
	// ExpandFromChunks walks up to maxHops relations out from the entities of
	// the seed chunks and returns the chunk ids reached.
	ExpandFromChunks(ctx context.Context, containerID uuid.UUID, seeds []uuid.UUID, maxHops int) ([]RelatedChunk, error)
	DeleteContainer(ctx context.Context, containerID uuid.UUID) error
	DeleteChunks(ctx context.Context, containerID uuid.UUID, chunkIDs []uuid.UUID) error
	Healthy(ctx context.Context) error
}

type Options struct {
	URI      string
	User     string
	Password string
	Database string
}

// Client wraps the Neo4j driver.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

func New(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, apperr.Unavailable(string(domain.IssueGraphDown), "graph store unreachable", err)
	}
	return &Client{driver: driver, database: opts.Database, logger: logger.Named("graph")}, nil
}

func (c *Client) Close(ctx context.Context) error { return c.driver.Close(ctx) }

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.database,
	})
}

// UpsertNodes merges nodes by (container_id, node_id). Re-extraction updates
// summaries in place.
func (c *Client) UpsertNodes(ctx context.Context, nodes []domain.GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		rows[i] = map[string]any{
			"node_id":         n.NodeID,
			"container_id":    n.ContainerID.String(),
			"label":           n.Label,
			"type":            n.Type,
			"summary":         n.Summary,
			"source_chunk_id": n.SourceChunkID.String(),
		}
	}
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MERGE (n:Entity {container_id: row.container_id, node_id: row.node_id})
			SET n.label = row.label,
			    n.type = row.type,
			    n.summary = row.summary,
			    n.source_chunk_id = row.source_chunk_id`,
			map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return apperr.Unavailable(string(domain.IssueGraphDown), "graph node upsert failed", err)
	}
	return nil
}

// UpsertEdges merges edges by (source, target, type) within a container.
func (c *Client) UpsertEdges(ctx context.Context, edges []domain.GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(edges))
	for i, e := range edges {
		rows[i] = map[string]any{
			"source":          e.SourceID,
			"target":          e.TargetID,
			"type":            e.Type,
			"container_id":    e.ContainerID.String(),
			"source_chunk_id": e.SourceChunkID.String(),
		}
	}
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MATCH (a:Entity {container_id: row.container_id, node_id: row.source})
			MATCH (b:Entity {container_id: row.container_id, node_id: row.target})
			MERGE (a)-[r:RELATES {type: row.type}]->(b)
			SET r.source_chunk_id = row.source_chunk_id`,
			map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return apperr.Unavailable(string(domain.IssueGraphDown), "graph edge upsert failed", err)
	}
	return nil
}

// RunReadOnly executes a query that already passed the NL2Query validator.
// The container filter is the validator's job; the read transaction and the
// timeout are enforced here as the second line of defense.
func (c *Client) RunReadOnly(ctx context.Context, containerID uuid.UUID, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if params == nil {
		params = map[string]any{}
	}
	params["container_id"] = containerID.String()

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, len(records))
		for i, rec := range records {
			rows[i] = rec.AsMap()
		}
		return rows, nil
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperr.Timeout(string(domain.IssueGraphTimeout), "graph query exceeded its deadline", err)
		}
		return nil, apperr.Unavailable(string(domain.IssueGraphDown), "graph query failed", err)
	}
	return out.([]map[string]any), nil
}

// ExpandFromChunks finds entities sourced from the seed chunks, walks up to
// maxHops RELATES edges, and returns the distinct chunk ids behind the
// reached entities. Seeds themselves are excluded.
func (c *Client) ExpandFromChunks(ctx context.Context, containerID uuid.UUID, seeds []uuid.UUID, maxHops int) ([]RelatedChunk, error) {
	if len(seeds) == 0 || maxHops <= 0 {
		return nil, nil
	}
	seedStrs := make([]string, len(seeds))
	for i, id := range seeds {
		seedStrs[i] = id.String()
	}

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	// Variable-length patterns cannot take a parameter for the bound, so the
	// validated integer is interpolated.
	query := fmt.Sprintf(`
		MATCH (seed:Entity {container_id: $container_id})
		WHERE seed.source_chunk_id IN $seeds
		MATCH path = (seed)-[:RELATES*1..%d]-(related:Entity {container_id: $container_id})
		WHERE NOT related.source_chunk_id IN $seeds
		RETURN related.source_chunk_id AS chunk_id, min(length(path)) AS hops`, maxHops)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"container_id": containerID.String(),
			"seeds":        seedStrs,
		})
		if err != nil {
			return nil, err
		}
		var related []RelatedChunk
		for res.Next(ctx) {
			rec := res.Record()
			rawID, _ := rec.Get("chunk_id")
			rawHops, _ := rec.Get("hops")
			idStr, ok := rawID.(string)
			if !ok {
				continue
			}
			id, err := uuid.Parse(idStr)
			if err != nil {
				continue
			}
			hops := 1
			if h, ok := rawHops.(int64); ok {
				hops = int(h)
			}
			related = append(related, RelatedChunk{ChunkID: id, Hops: hops})
		}
		return related, res.Err()
	})
	if err != nil {
		return nil, apperr.Unavailable(string(domain.IssueGraphDown), "graph expansion failed", err)
	}
	return out.([]RelatedChunk), nil
}

// DeleteContainer removes every node and edge the container owns.
func (c *Client) DeleteContainer(ctx context.Context, containerID uuid.UUID) error {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (n:Entity {container_id: $container_id}) DETACH DELETE n`,
			map[string]any{"container_id": containerID.String()})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return apperr.Unavailable(string(domain.IssueGraphDown), "graph container delete failed", err)
	}
	return nil
}

// DeleteChunks removes nodes sourced from the given chunks, used by document
// deletion cascades.
func (c *Client) DeleteChunks(ctx context.Context, containerID uuid.UUID, chunkIDs []uuid.UUID) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = id.String()
	}
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:Entity {container_id: $container_id})
			WHERE n.source_chunk_id IN $ids
			DETACH DELETE n`,
			map[string]any{"container_id": containerID.String(), "ids": ids})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return apperr.Unavailable(string(domain.IssueGraphDown), "graph chunk delete failed", err)
	}
	return nil
}

func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return apperr.Unavailable(string(domain.IssueGraphDown), "graph store unhealthy", err)
	}
	return nil
}
