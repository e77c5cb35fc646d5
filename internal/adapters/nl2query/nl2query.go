// Package nl2query wraps the natural-language to graph-query translator
// service. The pipeline validates whatever comes back before execution, so
// this adapter is transport only.
package nl2query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

// Translation is the candidate query produced for a question.
type Translation struct {
	Query  string
	Params map[string]any
}

// Translator is the surface the graph retrieval pipeline depends on.
type Translator interface {
	Translate(ctx context.Context, question string, schema *domain.GraphSchema) (*Translation, error)
}

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	BreakerTrip uint32
	BreakerCool time.Duration
}

// Client calls the translator service over HTTP.
type Client struct {
	opts    Options
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
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
			Name:    "nl2query",
			Timeout: cool,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trips
			},
		}),
		logger: logger.Named("nl2query"),
	}
}

type translateRequest struct {
	Model      string   `json:"model,omitempty"`
	Question   string   `json:"question"`
	NodeLabels []string `json:"node_labels"`
	EdgeTypes  []string `json:"edge_types"`
}

type translateResponse struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params"`
}

func (c *Client) Translate(ctx context.Context, question string, schema *domain.GraphSchema) (*Translation, error) {
	req := translateRequest{Model: c.opts.Model, Question: question}
	if schema != nil {
		req.NodeLabels = schema.NodeLabels
		req.EdgeTypes = schema.EdgeTypes
	}

	res, err := c.breaker.Execute(func() (any, error) {
		return c.call(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.Unavailable(string(domain.IssueNL2QueryFailed), "translator circuit open", err)
		}
		return nil, apperr.Unavailable(string(domain.IssueNL2QueryFailed), "translation failed", err)
	}
	return res.(*Translation), nil
}

func (c *Client) call(ctx context.Context, treq translateRequest) (*Translation, error) {
	body, err := json.Marshal(treq)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/translate", bytes.NewReader(body))
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
		return nil, fmt.Errorf("translator returned %d: %s", resp.StatusCode, raw)
	}

	var parsed translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode translator response: %w", err)
	}
	if parsed.Query == "" {
		return nil, fmt.Errorf("translator returned empty query")
	}
	return &Translation{Query: parsed.Query, Params: parsed.Params}, nil
}
