// Package rerank wraps the external cross-encoder service. Orderings are
// cached under an order-sensitive fingerprint of the candidate list, so an
// identical fused candidate set replays the provider's ordering without a
// network call.
package rerank

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
)

// Candidate is one fused result offered to the reranker.
type Candidate struct {
	ID   string
	Text string
}

// Result carries the provider's ordering, best first, with aligned scores.
type Result struct {
	Order  []string
	Scores []float64
	Cached bool
}

// Reranker is the surface the search pipeline depends on.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, timeout time.Duration) (*Result, error)
	Identity() (provider, model string)
}

type Options struct {
	BaseURL     string
	APIKey      string
	Provider    string
	Model       string
	Timeout     time.Duration
	CacheTTL    time.Duration
	BreakerTrip uint32
	BreakerCool time.Duration
}

// Client calls a Cohere-style /rerank endpoint.
type Client struct {
	opts    Options
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   repository.RerankCache
	logger  *zap.Logger
}

func New(opts Options, cache repository.RerankCache, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Provider == "" {
		opts.Provider = "default"
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
			Name:    "rerank",
			Timeout: cool,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trips
			},
		}),
		cache:  cache,
		logger: logger.Named("rerank"),
	}
}

func (c *Client) Identity() (string, string) { return c.opts.Provider, c.opts.Model }

// Fingerprint hashes the query, provider identity, and candidate ids in
// order. Any change to the candidate set or its order yields a new key.
func Fingerprint(query, provider, model string, ids []string) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(model))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Rerank returns the provider ordering for the candidates, serving from
// cache when the exact ordered candidate set was scored before. The timeout
// bounds the provider call only; cache reads are not budgeted.
func (c *Client) Rerank(ctx context.Context, query string, candidates []Candidate, timeout time.Duration) (*Result, error) {
	if len(candidates) == 0 {
		return &Result{}, nil
	}
	ids := make([]string, len(candidates))
	for i, cand := range candidates {
		ids[i] = cand.ID
	}
	key := Fingerprint(query, c.opts.Provider, c.opts.Model, ids)

	if c.cache != nil {
		if entry, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			return &Result{Order: entry.Order, Scores: entry.Scores, Cached: true}, nil
		}
	}

	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := c.breaker.Execute(func() (any, error) {
		return c.call(callCtx, query, candidates)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.Unavailable(string(domain.IssueRerankDown), "rerank circuit open", err)
		}
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, apperr.Timeout(string(domain.IssueRerankTimeout), "rerank call timed out", err)
		}
		return nil, apperr.Unavailable(string(domain.IssueRerankDown), "rerank call failed", err)
	}
	result := res.(*Result)

	if c.cache != nil {
		entry := repository.RerankCacheEntry{Order: result.Order, Scores: result.Scores}
		if err := c.cache.Put(ctx, key, entry, c.opts.CacheTTL); err != nil {
			c.logger.Warn("rerank cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (c *Client) call(ctx context.Context, query string, candidates []Candidate) (*Result, error) {
	docs := make([]string, len(candidates))
	for i, cand := range candidates {
		docs[i] = cand.Text
	}
	body, err := json.Marshal(rerankRequest{Model: c.opts.Model, Query: query, Documents: docs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/rerank", bytes.NewReader(body))
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
		return nil, fmt.Errorf("rerank returned %d: %s", resp.StatusCode, raw)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	sort.SliceStable(parsed.Results, func(i, j int) bool {
		return parsed.Results[i].RelevanceScore > parsed.Results[j].RelevanceScore
	})
	result := &Result{
		Order:  make([]string, 0, len(parsed.Results)),
		Scores: make([]float64, 0, len(parsed.Results)),
	}
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank returned out-of-range index %d", r.Index)
		}
		result.Order = append(result.Order, candidates[r.Index].ID)
		result.Scores = append(result.Scores, r.RelevanceScore)
	}
	return result, nil
}
