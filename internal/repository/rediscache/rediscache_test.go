package rediscache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/repository"
)

type memEmbeddingCache struct {
	mu   sync.Mutex
	data map[repository.EmbeddingCacheKey][]float32
	gets int
}

func (m *memEmbeddingCache) Get(_ context.Context, key repository.EmbeddingCacheKey) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memEmbeddingCache) Put(_ context.Context, key repository.EmbeddingCacheKey, vector []float32, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[repository.EmbeddingCacheKey][]float32{}
	}
	m.data[key] = vector
	return nil
}

func (m *memEmbeddingCache) SweepExpired(context.Context) (int64, error) { return 0, nil }

type memRerankCache struct {
	mu   sync.Mutex
	data map[string]repository.RerankCacheEntry
}

func (m *memRerankCache) Get(_ context.Context, key string) (*repository.RerankCacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (m *memRerankCache) Put(_ context.Context, key string, entry repository.RerankCacheEntry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]repository.RerankCacheEntry{}
	}
	m.data[key] = entry
	return nil
}

func (m *memRerankCache) SweepExpired(context.Context) (int64, error) { return 0, nil }

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestEmbeddingCache_WriteThroughAndHotHit(t *testing.T) {
	ctx := context.Background()
	durable := &memEmbeddingCache{}
	cache := NewEmbeddingCache(newTestRedis(t), durable, zap.NewNop())

	key := repository.EmbeddingCacheKey{TextHash: "abc", Embedder: "bge-m3", Version: "1"}
	require.NoError(t, cache.Put(ctx, key, []float32{0.1, 0.2}, time.Hour))

	vec, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, vec)

	// The hot tier answered; the durable store saw no read.
	assert.Equal(t, 0, durable.gets)
}

func TestEmbeddingCache_FallsBackToDurableAndWarms(t *testing.T) {
	ctx := context.Background()
	key := repository.EmbeddingCacheKey{TextHash: "abc", Embedder: "bge-m3", Version: "1"}
	durable := &memEmbeddingCache{data: map[repository.EmbeddingCacheKey][]float32{
		key: {0.5, 0.5},
	}}
	cache := NewEmbeddingCache(newTestRedis(t), durable, zap.NewNop())

	vec, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
	assert.Equal(t, 1, durable.gets)

	// Second read is served from the warmed hot tier.
	_, ok, err = cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, durable.gets)
}

func TestEmbeddingCache_SurvivesRedisDown(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	durable := &memEmbeddingCache{}
	cache := NewEmbeddingCache(rdb, durable, zap.NewNop())

	key := repository.EmbeddingCacheKey{TextHash: "abc", Embedder: "bge-m3", Version: "1"}
	require.NoError(t, cache.Put(ctx, key, []float32{1}, time.Hour))

	srv.Close()

	vec, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1}, vec)
}

func TestRerankCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewRerankCache(newTestRedis(t), &memRerankCache{}, zap.NewNop())

	entry := repository.RerankCacheEntry{Order: []string{"b", "a"}, Scores: []float64{0.9, 0.2}}
	require.NoError(t, cache.Put(ctx, "fp1", entry, time.Minute))

	got, ok, err := cache.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Order, got.Order)
	assert.Equal(t, entry.Scores, got.Scores)

	_, ok, err = cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRerankCache_NoRedisClient(t *testing.T) {
	ctx := context.Background()
	cache := NewRerankCache(nil, &memRerankCache{}, zap.NewNop())

	entry := repository.RerankCacheEntry{Order: []string{"a"}, Scores: []float64{1}}
	require.NoError(t, cache.Put(ctx, "fp", entry, time.Minute))

	got, ok, err := cache.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, got.Order)
}
