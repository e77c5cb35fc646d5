package policy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
)

// Defaults fill manifest knobs left at zero. They come from the service
// config at construction time.
type Defaults struct {
	GlobalBudget    time.Duration
	SemanticDedup   float64
	SnippetMaxChars int
	RerankTopKIn    int
	RerankTimeout   time.Duration
	RerankCacheTTL  time.Duration
	GraphMaxHops    int
	GraphTimeout    time.Duration
	ThumbMaxEdge    int
	MaxSizeBytes    int64
	MaxPDFPages     int
}

type cachedPolicy struct {
	policy  *domain.Policy
	expires time.Time
}

// Resolver loads containers from the registry and resolves them into Policy
// values, with a short per-container TTL cache. Lifecycle mutations and
// manifest file changes call Invalidate.
type Resolver struct {
	containers repository.ContainerRepository
	defaults   Defaults
	ttl        time.Duration
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[string]cachedPolicy
}

func NewResolver(containers repository.ContainerRepository, defaults Defaults, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{
		containers: containers,
		defaults:   defaults,
		ttl:        ttl,
		logger:     logger.Named("policy"),
		cache:      make(map[string]cachedPolicy),
	}
}

// Resolve returns the effective policy for a container id or slug.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*domain.Policy, error) {
	r.mu.RLock()
	if c, ok := r.cache[ref]; ok && time.Now().Before(c.expires) {
		r.mu.RUnlock()
		return c.policy, nil
	}
	r.mu.RUnlock()

	container, err := r.containers.GetByRef(ctx, ref)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.NotFound(string(domain.IssueContainerNotFound), "container does not exist")
		}
		return nil, err
	}

	policy := r.resolve(container)
	expires := time.Now().Add(r.ttl)

	r.mu.Lock()
	// Cache under both addressable names so either form of Invalidate works.
	r.cache[container.ID.String()] = cachedPolicy{policy: policy, expires: expires}
	r.cache[container.Slug] = cachedPolicy{policy: policy, expires: expires}
	r.mu.Unlock()

	return policy, nil
}

// Invalidate drops the cached policy for a container's id and slug.
func (r *Resolver) Invalidate(refs ...string) {
	r.mu.Lock()
	for _, ref := range refs {
		delete(r.cache, ref)
	}
	r.mu.Unlock()
}

// InvalidateAll clears the whole cache; the manifest watcher uses this since
// a file event does not say which container changed.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]cachedPolicy)
	r.mu.Unlock()
}

// resolve merges the container's manifest knobs with defaults into the
// effective policy.
func (r *Resolver) resolve(c *domain.Container) *domain.Policy {
	p := &domain.Policy{
		ContainerID:     c.ID.String(),
		Slug:            c.Slug,
		State:           c.State,
		Modalities:      c.Modalities,
		Budget:          domain.EffectiveBudget(0, time.Duration(c.BudgetMS)*time.Millisecond, r.defaults.GlobalBudget),
		SemanticDedup:   floatKnob(c.Policy, "semantic_threshold", r.defaults.SemanticDedup),
		FreshnessLambda: floatKnob(c.Policy, "freshness_lambda", 0),
		SnippetMaxChars: intKnob(c.Policy, "snippet_max_chars", r.defaults.SnippetMaxChars),
		Embedder:        c.Embedder,
		EmbedderVersion: c.EmbedderVersion,
		Dims:            c.Dims,
	}

	rr := subMap(c.Policy, "rerank")
	p.Rerank = domain.RerankPolicy{
		Enabled:  boolKnob(rr, "enabled", false),
		Provider: strKnob(rr, "provider", ""),
		Model:    strKnob(rr, "model", ""),
		TopKIn:   intKnob(rr, "top_k_in", r.defaults.RerankTopKIn),
		TopKOut:  intKnob(rr, "top_k_out", 0),
		Timeout:  time.Duration(intKnob(rr, "timeout_ms", 0)) * time.Millisecond,
		CacheTTL: time.Duration(intKnob(rr, "cache_ttl_s", 0)) * time.Second,
	}
	if p.Rerank.TopKIn <= 0 || p.Rerank.TopKIn > 50 {
		p.Rerank.TopKIn = r.defaults.RerankTopKIn
	}
	if p.Rerank.Timeout <= 0 {
		p.Rerank.Timeout = r.defaults.RerankTimeout
	}
	if p.Rerank.CacheTTL <= 0 {
		p.Rerank.CacheTTL = r.defaults.RerankCacheTTL
	}

	p.Graph = domain.GraphPolicy{
		Enabled:      c.GraphEnabled,
		MaxHops:      intKnob(c.Policy, "graph_max_hops", r.defaults.GraphMaxHops),
		QueryTimeout: r.defaults.GraphTimeout,
		Schema:       c.GraphSchema,
	}

	limits := subMap(c.Policy, "limits")
	p.ThumbMaxEdge = intKnob(limits, "thumb_max_edge", r.defaults.ThumbMaxEdge)
	p.MaxPDFPages = intKnob(limits, "max_pdf_pages", r.defaults.MaxPDFPages)
	if mb := intKnob(limits, "max_size_mb", 0); mb > 0 {
		p.MaxSizeBytes = int64(mb) << 20
	} else {
		p.MaxSizeBytes = r.defaults.MaxSizeBytes
	}

	p.Readers = strSlice(c.ACL, "readers")
	p.Owners = strSlice(c.ACL, "owners")
	return p
}

// Knob readers tolerate the numeric type drift JSON round-trips introduce.

func subMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	return nil
}

func floatKnob(m map[string]any, key string, def float64) float64 {
	if m == nil {
		return def
	}
	switch v := m[key].(type) {
	case float64:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return float64(v)
		}
	}
	return def
}

func intKnob(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	switch v := m[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

func boolKnob(m map[string]any, key string, def bool) bool {
	if m == nil {
		return def
	}
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func strKnob(m map[string]any, key string, def string) string {
	if m == nil {
		return def
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func strSlice(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
