// Package embedder wraps the external embedding service: request batching,
// L2 normalization, a token-bucket rate limit, a circuit breaker, and the
// durable vector cache keyed by content hash and embedder identity.
package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
)

// Embedder is the surface the search and ingest pipelines depend on.
type Embedder interface {
	// EmbedTexts returns one normalized vector per input, in order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	Identity() (model, version string, dims int)
}

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	ImageModel  string
	Version     string
	Dims        int
	BatchSize   int
	Timeout     time.Duration
	RatePerSec  float64
	RateBurst   int
	CacheTTL    time.Duration
	BreakerTrip uint32
	BreakerCool time.Duration
}

// Client calls an OpenAI-style /embeddings endpoint.
type Client struct {
	opts    Options
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cache   repository.EmbeddingCache
	logger  *zap.Logger
}

func New(opts Options, cache repository.EmbeddingCache, logger *zap.Logger) *Client {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = int(opts.RatePerSec)
	}
	trips := opts.BreakerTrip
	if trips == 0 {
		trips = 5
	}
	cool := opts.BreakerCool
	if cool <= 0 {
		cool = 30 * time.Second
	}
	return &Client{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "embedder",
			Timeout: cool,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trips
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RateBurst),
		cache:   cache,
		logger:  logger.Named("embedder"),
	}
}

func (c *Client) Identity() (string, string, int) {
	return c.opts.Model, c.opts.Version, c.opts.Dims
}

// TextHash is the cache key component for a piece of text.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbedTexts serves cached vectors where possible and batches the rest
// through the provider, writing new vectors back to the cache. Calls count
// against the ingest rate limit.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedBatch(ctx, texts, true)
}

func (c *Client) embedBatch(ctx context.Context, texts []string, limited bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := c.cacheKey(text)
		if c.cache != nil {
			if vec, ok, err := c.cache.Get(ctx, key); err == nil && ok {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	for start := 0; start < len(missTexts); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		vecs, err := c.call(ctx, c.opts.Model, missTexts[start:end], limited)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			i := missIdx[start+j]
			out[i] = vec
			if c.cache != nil {
				if err := c.cache.Put(ctx, c.cacheKey(missTexts[start+j]), vec, c.opts.CacheTTL); err != nil {
					c.logger.Warn("embedding cache write failed", zap.Error(err))
				}
			}
		}
	}
	return out, nil
}

// EmbedQuery embeds one search query. Queries skip the rate limiter: the
// limit exists to pace bulk ingest, and a queued ingest batch must not stall
// interactive retrieval.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedBatch(ctx, []string{text}, false)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedImage routes through the image model. Image bytes are sent base64
// encoded; the cache key hashes the raw bytes.
func (c *Client) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if c.opts.ImageModel == "" {
		return nil, apperr.Validation(string(domain.IssueModalityBlocked), "no image embedder configured")
	}
	sum := sha256.Sum256(data)
	key := repository.EmbeddingCacheKey{
		TextHash: hex.EncodeToString(sum[:]),
		Embedder: c.opts.ImageModel,
		Version:  c.opts.Version,
	}
	if c.cache != nil {
		if vec, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			return vec, nil
		}
	}
	vecs, err := c.call(ctx, c.opts.ImageModel, []string{base64.StdEncoding.EncodeToString(data)}, true)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Put(ctx, key, vecs[0], c.opts.CacheTTL); err != nil {
			c.logger.Warn("embedding cache write failed", zap.Error(err))
		}
	}
	return vecs[0], nil
}

func (c *Client) cacheKey(text string) repository.EmbeddingCacheKey {
	return repository.EmbeddingCacheKey{
		TextHash: TextHash(text),
		Embedder: c.opts.Model,
		Version:  c.opts.Version,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// call performs one provider request under the breaker. The rate limit only
// applies when limited is set; query embedding goes straight through.
func (c *Client) call(ctx context.Context, model string, inputs []string, limited bool) ([][]float32, error) {
	if limited {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Timeout(string(domain.IssueEmbeddingDown), "embedder rate wait aborted", err)
		}
	}

	res, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, model, inputs)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.Unavailable(string(domain.IssueEmbeddingDown), "embedder circuit open", err)
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperr.Timeout(string(domain.IssueEmbeddingDown), "embedder call timed out", err)
		}
		return nil, apperr.Unavailable(string(domain.IssueEmbeddingDown), "embedder call failed", err)
	}
	return res.([][]float32), nil
}

func (c *Client) post(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Input: inputs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedder returned %d: %s", resp.StatusCode, raw)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedder response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(parsed.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedder returned out-of-range index %d", d.Index)
		}
		if c.opts.Dims > 0 && len(d.Embedding) != c.opts.Dims {
			return nil, fmt.Errorf("embedder returned %d dims, want %d", len(d.Embedding), c.opts.Dims)
		}
		out[d.Index] = Normalize(d.Embedding)
	}
	return out, nil
}

// Normalize rescales to unit L2 norm so cosine similarity is a dot product.
// Zero vectors pass through unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out
}

// Cosine computes similarity between two vectors of equal length. Assumes
// normalized inputs but tolerates unnormalized ones.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
