// Package rediscache layers a best-effort Redis hot tier over the durable
// caches in repository/postgres. Every write goes through to the durable
// store; Redis failures are logged and otherwise ignored, so the system works
// with Redis absent.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/repository"
)

// hotTTL caps how long the hot tier may diverge from the durable store.
const hotTTL = 15 * time.Minute

func New(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

// EmbeddingCache fronts a durable repository.EmbeddingCache with Redis.
type EmbeddingCache struct {
	rdb     *redis.Client
	durable repository.EmbeddingCache
	logger  *zap.Logger
}

func NewEmbeddingCache(rdb *redis.Client, durable repository.EmbeddingCache, logger *zap.Logger) *EmbeddingCache {
	return &EmbeddingCache{rdb: rdb, durable: durable, logger: logger.Named("rediscache")}
}

func embKey(key repository.EmbeddingCacheKey) string {
	return fmt.Sprintf("emb:%s:%s:%s", key.Embedder, key.Version, key.TextHash)
}

func (c *EmbeddingCache) Get(ctx context.Context, key repository.EmbeddingCacheKey) ([]float32, bool, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, embKey(key)).Bytes()
		if err == nil {
			var vec []float32
			if jerr := json.Unmarshal(raw, &vec); jerr == nil {
				return vec, true, nil
			}
		} else if err != redis.Nil {
			c.logger.Debug("redis get failed", zap.Error(err))
		}
	}

	vec, ok, err := c.durable.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	c.warm(ctx, embKey(key), vec)
	return vec, true, nil
}

func (c *EmbeddingCache) Put(ctx context.Context, key repository.EmbeddingCacheKey, vector []float32, ttl time.Duration) error {
	if err := c.durable.Put(ctx, key, vector, ttl); err != nil {
		return err
	}
	c.warm(ctx, embKey(key), vector)
	return nil
}

func (c *EmbeddingCache) SweepExpired(ctx context.Context) (int64, error) {
	// Redis entries expire on their own TTL.
	return c.durable.SweepExpired(ctx)
}

func (c *EmbeddingCache) warm(ctx context.Context, key string, v any) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, hotTTL).Err(); err != nil {
		c.logger.Debug("redis set failed", zap.Error(err))
	}
}

// RerankCache fronts a durable repository.RerankCache with Redis.
type RerankCache struct {
	rdb     *redis.Client
	durable repository.RerankCache
	logger  *zap.Logger
}

func NewRerankCache(rdb *redis.Client, durable repository.RerankCache, logger *zap.Logger) *RerankCache {
	return &RerankCache{rdb: rdb, durable: durable, logger: logger.Named("rediscache")}
}

func (c *RerankCache) Get(ctx context.Context, key string) (*repository.RerankCacheEntry, bool, error) {
	rkey := "rerank:" + key
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, rkey).Bytes()
		if err == nil {
			var entry repository.RerankCacheEntry
			if jerr := json.Unmarshal(raw, &entry); jerr == nil {
				return &entry, true, nil
			}
		} else if err != redis.Nil {
			c.logger.Debug("redis get failed", zap.Error(err))
		}
	}

	entry, ok, err := c.durable.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	c.warm(ctx, rkey, entry)
	return entry, true, nil
}

func (c *RerankCache) Put(ctx context.Context, key string, entry repository.RerankCacheEntry, ttl time.Duration) error {
	if err := c.durable.Put(ctx, key, entry, ttl); err != nil {
		return err
	}
	c.warm(ctx, "rerank:"+key, entry)
	return nil
}

func (c *RerankCache) SweepExpired(ctx context.Context) (int64, error) {
	return c.durable.SweepExpired(ctx)
}

func (c *RerankCache) warm(ctx context.Context, key string, v any) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, hotTTL).Err(); err != nil {
		c.logger.Debug("redis set failed", zap.Error(err))
	}
}
