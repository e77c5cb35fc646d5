package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/llcontext/llcd/internal/adapters/embedder"
	"github.com/llcontext/llcd/internal/adapters/rerank"
	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/observability"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/store/vector"
)

// PolicyResolver is the slice of the policy layer the pipeline needs.
type PolicyResolver interface {
	Resolve(ctx context.Context, ref string) (*domain.Policy, error)
}

// VectorSearcher is the read side of the vector store.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, vec []float32, limit int) ([]vector.Hit, error)
}

// GraphStage is what graph retrieval contributes to fusion: scored chunks
// plus the nodes and edges that justified them.
type GraphStage struct {
	Hits  []repository.ScoredChunk
	Nodes []domain.GraphNode
	Edges []domain.GraphEdge
	// ByChunk maps a contributed chunk id to its attachment.
	ByChunk map[uuid.UUID]*GraphAttachment
	// Issues records degradations the retriever absorbed, such as a
	// translator failure answered by the fallback query.
	Issues []domain.Issue
	// Fallback is FallbackTemplate when the keyword template answered in
	// place of a translated query.
	Fallback string
}

// GraphRetriever runs graph retrieval for one container, either from a
// natural-language question or by expanding from seed chunks.
type GraphRetriever interface {
	Retrieve(ctx context.Context, pol *domain.Policy, containerID uuid.UUID, question string, seeds []uuid.UUID) (*GraphStage, error)
}

// Config carries the pipeline-wide knobs.
type Config struct {
	GlobalBudget time.Duration
	BudgetSafety time.Duration
	RRFK         int
	DefaultK     int
}

// Service is the retrieval pipeline. Adapters may be nil; the corresponding
// stage degrades with an issue code instead of failing the request.
type Service struct {
	policies PolicyResolver
	chunks   repository.ChunkRepository
	vectors  VectorSearcher
	graph    GraphRetriever
	embed    embedder.Embedder
	reranker rerank.Reranker
	embCache repository.EmbeddingCache
	cfg      Config
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewService(
	policies PolicyResolver,
	chunks repository.ChunkRepository,
	vectors VectorSearcher,
	graph GraphRetriever,
	embed embedder.Embedder,
	reranker rerank.Reranker,
	embCache repository.EmbeddingCache,
	cfg Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Service {
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.GlobalBudget <= 0 {
		cfg.GlobalBudget = 1500 * time.Millisecond
	}
	if cfg.BudgetSafety <= 0 {
		cfg.BudgetSafety = 50 * time.Millisecond
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 10
	}
	return &Service{
		policies: policies,
		chunks:   chunks,
		vectors:  vectors,
		graph:    graph,
		embed:    embed,
		reranker: reranker,
		embCache: embCache,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("search"),
	}
}

// Search runs the full pipeline. Only validation, ACL, and container-state
// faults return an error; everything else degrades into issues on the
// response.
func (s *Service) Search(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if err := s.validate(req); err != nil {
		return nil, err
	}

	policies, err := s.resolvePolicies(ctx, req)
	if err != nil {
		return nil, err
	}

	budget := s.effectiveBudget(req, policies)
	deadline := start.Add(budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var (
		issues domain.IssueSet
		diag   = &Diagnostics{BudgetMS: budget.Milliseconds(), HitCounts: map[string]int{}}
	)

	queryVec := s.embedQuery(ctx, req, &issues)
	mode := req.Mode

	// Fan out the lexical and dense stages under a shared slice of the
	// budget. Stage failures degrade; their partial results are dropped.
	stageBudget := budget - s.cfg.BudgetSafety
	stages := make(map[string][]repository.ScoredChunk)
	var bm25Hits, vectorHits []repository.ScoredChunk

	g, gctx := errgroup.WithContext(ctx)
	runLexical := mode.WantsLexical() || (mode == domain.ModeSemantic && queryVec == nil && req.Query != "")
	if runLexical && req.Query != "" {
		g.Go(func() error {
			sctx, cancel := s.stageCtx(gctx, stageBudget)
			defer cancel()
			t := time.Now()
			hits, stageErr := s.bm25Stage(sctx, req, policies)
			diag.BM25MS = time.Since(t).Milliseconds()
			s.observeStage(stageBM25, diag.BM25MS)
			if stageErr != nil {
				issues.Add(s.stageIssue(stageErr, domain.IssueBM25Timeout))
				return nil
			}
			bm25Hits = hits
			return nil
		})
	}
	if mode.WantsDense() && queryVec != nil && s.vectors != nil {
		g.Go(func() error {
			sctx, cancel := s.stageCtx(gctx, stageBudget)
			defer cancel()
			t := time.Now()
			hits, stageErr := s.vectorStage(sctx, req, policies, queryVec)
			diag.VectorMS = time.Since(t).Milliseconds()
			s.observeStage(stageVector, diag.VectorMS)
			if stageErr != nil {
				issues.Add(s.stageIssue(stageErr, domain.IssueVectorTimeout))
				return nil
			}
			vectorHits = hits
			return nil
		})
	}
	_ = g.Wait()

	if len(bm25Hits) > 0 {
		stages[stageBM25] = bm25Hits
		diag.HitCounts[stageBM25] = len(bm25Hits)
	}
	if len(vectorHits) > 0 {
		stages[stageVector] = vectorHits
		diag.HitCounts[stageVector] = len(vectorHits)
	}

	// Graph retrieval runs after the base stages so it can seed from them.
	var (
		graphCtx     map[uuid.UUID]*GraphAttachment
		neighborhood *GraphContext
	)
	if mode.WantsGraph() {
		t := time.Now()
		hits, attachments, gc, fallback := s.graphStage(ctx, req, policies, bm25Hits, vectorHits, deadline, &issues)
		diag.GraphMS = time.Since(t).Milliseconds()
		s.observeStage(stageGraph, diag.GraphMS)
		if len(hits) > 0 {
			stages[stageGraph] = hits
			diag.HitCounts[stageGraph] = len(hits)
		}
		graphCtx = attachments
		neighborhood = gc
		diag.Fallback = fallback
	}

	fuseStart := time.Now()
	cands := fuse(stages, s.cfg.RRFK)
	applyFreshness(cands, func(cid uuid.UUID) float64 { return lambdaFor(policies, cid) }, time.Now())
	cands, elided := dedupe(cands, minDedupThreshold(policies), s.vectorFromCache(ctx, policies))
	diag.FuseMS = time.Since(fuseStart).Milliseconds()
	diag.DedupElided = elided

	for id, att := range graphCtx {
		for _, cand := range cands {
			if cand.chunk.ID == id {
				cand.graph = att
			}
		}
	}

	cands = s.rerankStage(ctx, req, policies, cands, deadline, diag, &issues)

	k := req.K
	if len(cands) > k {
		cands = cands[:k]
	}

	results := s.render(cands, policies)
	if len(results) == 0 {
		issues.Add(domain.IssueNoHits)
	}

	diag.TotalMS = time.Since(start).Milliseconds()
	if diag.TotalMS > diag.BudgetMS {
		issues.Add(domain.IssueLatencyBudgetExceeded)
	}
	if variants := expandQuery(req.Query); len(variants) > 1 {
		diag.ExpandedQuery = variants[1]
	}

	resp := &Response{
		Results:      results,
		GraphContext: neighborhood,
		Partial:      s.isPartial(&issues),
		Issues:       issues.Slice(),
	}
	if req.Diagnostics {
		resp.Diag = diag
	}

	if s.metrics != nil {
		s.metrics.SearchResults.Observe(float64(len(results)))
		for _, issue := range resp.Issues {
			s.metrics.SearchIssues.WithLabelValues(string(issue)).Inc()
		}
	}
	s.logger.Debug("search complete",
		zap.Int("results", len(results)),
		zap.Bool("partial", resp.Partial),
		zap.Int64("total_ms", diag.TotalMS))
	return resp, nil
}

func (s *Service) validate(req *Request) error {
	if !req.Mode.Valid() {
		return apperr.Validation("INVALID_MODE", fmt.Sprintf("unknown search mode %q", req.Mode))
	}
	if req.Query == "" && len(req.QueryImage) == 0 {
		return apperr.Validation("EMPTY_QUERY", "query or query_image is required")
	}
	if len(req.ContainerRefs) == 0 {
		return apperr.Validation("NO_CONTAINERS", "at least one container is required")
	}
	if req.K <= 0 {
		req.K = s.cfg.DefaultK
	}
	if req.K > MaxK {
		return apperr.Validation("K_TOO_LARGE", fmt.Sprintf("k must be at most %d", MaxK))
	}
	return nil
}

// resolvePolicies loads every container's policy and enforces state and ACL.
// Any unknown or non-active container fails the whole request.
func (s *Service) resolvePolicies(ctx context.Context, req *Request) (map[uuid.UUID]*domain.Policy, error) {
	out := make(map[uuid.UUID]*domain.Policy, len(req.ContainerRefs))
	for _, ref := range req.ContainerRefs {
		pol, err := s.policies.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		if pol.State != domain.ContainerActive {
			return nil, apperr.Conflict(string(domain.IssueContainerUnavailable),
				fmt.Sprintf("container %s is %s", pol.Slug, pol.State))
		}
		if !pol.AllowsPrincipal(req.Principal) {
			return nil, apperr.Forbidden("ACL_DENIED", "principal may not read this container")
		}
		id, err := uuid.Parse(pol.ContainerID)
		if err != nil {
			return nil, apperr.Internal("malformed container id in policy", err)
		}
		out[id] = pol
	}
	return out, nil
}

func (s *Service) effectiveBudget(req *Request, policies map[uuid.UUID]*domain.Policy) time.Duration {
	budget := s.cfg.GlobalBudget
	for _, pol := range policies {
		if pol.Budget > 0 && pol.Budget < budget {
			budget = pol.Budget
		}
	}
	return domain.EffectiveBudget(time.Duration(req.BudgetMS)*time.Millisecond, budget, s.cfg.GlobalBudget)
}

// embedQuery returns the dense query vector, or nil with an issue when the
// embedder is unavailable; the pipeline then degrades to lexical retrieval.
func (s *Service) embedQuery(ctx context.Context, req *Request, issues *domain.IssueSet) []float32 {
	if !req.Mode.WantsDense() || s.embed == nil {
		return nil
	}
	var (
		vec []float32
		err error
	)
	if len(req.QueryImage) > 0 {
		vec, err = s.embed.EmbedImage(ctx, req.QueryImage)
	} else {
		vec, err = s.embed.EmbedQuery(ctx, req.Query)
	}
	if err != nil {
		issues.Add(domain.IssueEmbeddingDown)
		s.logger.Warn("query embedding failed, degrading to lexical", zap.Error(err))
		return nil
	}
	return vec
}

func (s *Service) stageCtx(parent context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, budget)
}

// bm25Stage queries the full-text index with the original query and its
// expanded variant, keeping each chunk's best score.
func (s *Service) bm25Stage(ctx context.Context, req *Request, policies map[uuid.UUID]*domain.Policy) ([]repository.ScoredChunk, error) {
	ids := make([]uuid.UUID, 0, len(policies))
	for id := range policies {
		ids = append(ids, id)
	}

	best := make(map[uuid.UUID]repository.ScoredChunk)
	for _, variant := range expandQuery(req.Query) {
		hits, err := s.chunks.SearchBM25(ctx, repository.BM25Query{
			Query:        variant,
			ContainerIDs: ids,
			Limit:        MaxK * 2,
		})
		if err != nil {
			if len(best) > 0 {
				break
			}
			return nil, err
		}
		for _, hit := range hits {
			if prev, ok := best[hit.Chunk.ID]; !ok || hit.Score > prev.Score {
				best[hit.Chunk.ID] = hit
			}
		}
	}

	out := make([]repository.ScoredChunk, 0, len(best))
	for _, hit := range best {
		out = append(out, hit)
	}
	sortScored(out)
	return out, nil
}

// vectorStage searches each container's collection and resolves the ids back
// through the registry, dropping anything the registry no longer knows.
func (s *Service) vectorStage(ctx context.Context, req *Request, policies map[uuid.UUID]*domain.Policy, queryVec []float32) ([]repository.ScoredChunk, error) {
	scores := make(map[uuid.UUID]float64)
	var ids []uuid.UUID
	for cid := range policies {
		modality := domain.ModalityText
		if req.Mode == domain.ModeCrossmodal || len(req.QueryImage) > 0 {
			modality = domain.ModalityImage
		}
		hits, err := s.vectors.Search(ctx, domain.CollectionName(cid, modality), queryVec, MaxK*2)
		if err != nil {
			if len(ids) > 0 {
				continue
			}
			return nil, err
		}
		for _, hit := range hits {
			if _, ok := scores[hit.ID]; !ok {
				ids = append(ids, hit.ID)
			}
			if hit.Score > scores[hit.ID] {
				scores[hit.ID] = hit.Score
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	resolved, err := s.chunks.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range resolved {
		resolved[i].Score = scores[resolved[i].Chunk.ID]
	}
	sortScored(resolved)
	return resolved, nil
}

// graphSnippetCap bounds how many node summaries the response-level graph
// context carries.
const graphSnippetCap = 20

// graphStage runs graph retrieval per graph-enabled container, seeded from
// the top lexical/dense hits unless the request carries an explicit graph
// question. Beyond per-chunk hits it aggregates the touched neighborhood for
// the response-level graph context.
func (s *Service) graphStage(ctx context.Context, req *Request, policies map[uuid.UUID]*domain.Policy, bm25, vec []repository.ScoredChunk, deadline time.Time, issues *domain.IssueSet) ([]repository.ScoredChunk, map[uuid.UUID]*GraphAttachment, *GraphContext, string) {
	if s.graph == nil {
		issues.Add(domain.IssueGraphDown)
		return nil, nil, nil, ""
	}
	remaining := time.Until(deadline) - s.cfg.BudgetSafety
	if remaining <= 0 {
		issues.Add(domain.IssueGraphTimeout)
		return nil, nil, nil, ""
	}
	gctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	seeds := topChunkIDs(bm25, vec, 5)

	var (
		hits        []repository.ScoredChunk
		attachments = make(map[uuid.UUID]*GraphAttachment)
		gc          *GraphContext
		fallback    string
	)
	for cid, pol := range policies {
		if !pol.Graph.Enabled {
			continue
		}
		stage, err := s.graph.Retrieve(gctx, pol, cid, req.GraphQuery, seeds)
		if err != nil {
			issues.Add(s.stageIssue(err, domain.IssueGraphTimeout))
			continue
		}
		hits = append(hits, stage.Hits...)
		issues.Add(stage.Issues...)
		for id, att := range stage.ByChunk {
			attachments[id] = att
		}
		if len(stage.Nodes) > 0 || len(stage.Edges) > 0 {
			if gc == nil {
				gc = &GraphContext{}
			}
			gc.Nodes = append(gc.Nodes, stage.Nodes...)
			gc.Edges = append(gc.Edges, stage.Edges...)
			for _, node := range stage.Nodes {
				if node.Summary != "" && len(gc.Snippets) < graphSnippetCap {
					gc.Snippets = append(gc.Snippets, node.Summary)
				}
			}
		}
		if stage.Fallback != "" {
			fallback = stage.Fallback
		}
	}
	sortScored(hits)
	return hits, attachments, gc, fallback
}

// rerankStage applies the provider reorder under the remaining budget, or
// the deterministic keyword blend when no provider is configured. The fused
// order survives any rerank failure.
func (s *Service) rerankStage(ctx context.Context, req *Request, policies map[uuid.UUID]*domain.Policy, cands []*candidate, deadline time.Time, diag *Diagnostics, issues *domain.IssueSet) []*candidate {
	pol := rerankPolicy(policies)
	optedOut := req.Rerank != nil && !*req.Rerank

	if pol == nil || optedOut || s.reranker == nil {
		if req.Query != "" {
			pseudoRerank(req.Query, cands)
		}
		return cands
	}
	if len(cands) == 0 || req.Query == "" {
		return cands
	}

	topKIn := pol.TopKIn
	if topKIn > MaxK {
		topKIn = MaxK
	}
	if twice := 2 * req.K; twice < topKIn {
		topKIn = twice
	}
	if topKIn > len(cands) {
		topKIn = len(cands)
	}

	timeout := pol.Timeout
	if remaining := time.Until(deadline) - rerankFloor; remaining < timeout {
		timeout = remaining
	}
	if timeout <= 0 {
		issues.Add(domain.IssueRerankSkippedBudget)
		return cands
	}

	head := cands[:topKIn]
	reranked, err := s.callReranker(ctx, req.Query, head, timeout, diag)
	if err != nil {
		issues.Add(s.rerankIssue(err))
		return cands
	}
	diag.RerankApplied = true
	return append(reranked, cands[topKIn:]...)
}

func (s *Service) callReranker(ctx context.Context, query string, head []*candidate, timeout time.Duration, diag *Diagnostics) ([]*candidate, error) {
	byID := make(map[string]*candidate, len(head))
	reqCands := make([]rerank.Candidate, len(head))
	for i, cand := range head {
		id := cand.chunk.ID.String()
		byID[id] = cand
		reqCands[i] = rerank.Candidate{ID: id, Text: cand.chunk.Text}
	}

	t := time.Now()
	res, err := s.reranker.Rerank(ctx, query, reqCands, timeout)
	diag.RerankMS = time.Since(t).Milliseconds()
	s.observeStage(stageRerank, diag.RerankMS)
	if err != nil {
		return nil, err
	}
	diag.RerankCached = res.Cached

	out := make([]*candidate, 0, len(head))
	taken := make(map[string]struct{}, len(res.Order))
	for i, id := range res.Order {
		cand, ok := byID[id]
		if !ok {
			continue
		}
		if i < len(res.Scores) {
			cand.stageScores[stageRerank] = res.Scores[i]
		}
		out = append(out, cand)
		taken[id] = struct{}{}
	}
	// Anything the provider did not mention keeps its fused position at the
	// tail.
	for _, cand := range head {
		if _, ok := taken[cand.chunk.ID.String()]; !ok {
			out = append(out, cand)
		}
	}
	return out, nil
}

// pseudoRerank blends dense, lexical, and keyword-overlap evidence into a
// final deterministic ordering when no provider rerank runs.
func pseudoRerank(query string, cands []*candidate) {
	for _, cand := range cands {
		overlap := keywordOverlap(query, cand.chunk.Text)
		blend := 0.4*cand.stageScores[stageVector] + 0.4*cand.stageScores[stageBM25] + 0.2*overlap
		cand.stageScores["blend"] = blend
		// The fused score stays primary; the blend breaks RRF ties with
		// direct relevance evidence.
		cand.fused += blend * 1e-6
	}
	sortCandidates(cands)
}

func (s *Service) render(cands []*candidate, policies map[uuid.UUID]*domain.Policy) []ResultItem {
	results := make([]ResultItem, 0, len(cands))
	for _, cand := range cands {
		maxChars := 320
		if pol, ok := policies[cand.chunk.ContainerID]; ok && pol.SnippetMaxChars > 0 {
			maxChars = pol.SnippetMaxChars
		}
		name := ""
		if pol, ok := policies[cand.chunk.ContainerID]; ok {
			name = pol.Slug
		}
		provenance := cand.chunk.Provenance
		if provenance == nil {
			provenance = cand.document.Provenance
		}
		if provenance == nil {
			provenance = map[string]any{}
		}
		meta := cand.chunk.Meta
		if meta == nil {
			meta = cand.document.Meta
		}
		if meta == nil {
			meta = map[string]any{}
		}
		item := ResultItem{
			ChunkID:       cand.chunk.ID,
			DocumentID:    cand.chunk.DocID,
			ContainerID:   cand.chunk.ContainerID,
			ContainerName: name,
			Title:         cand.document.Title,
			Snippet:       renderSnippet(&cand.chunk, maxChars),
			URI:           cand.document.URI,
			Modality:      cand.chunk.Modality,
			Ordinal:       cand.chunk.Ordinal,
			Score:         cand.fused,
			StageScores:   cand.stageScores,
			Provenance:    provenance,
			Meta:          meta,
			Graph:         cand.graph,
		}
		results = append(results, item)
	}
	return results
}

// vectorFromCache builds the dedup lookup: cached chunk embeddings only,
// keyed by the container's embedder identity.
func (s *Service) vectorFromCache(ctx context.Context, policies map[uuid.UUID]*domain.Policy) vectorLookup {
	if s.embCache == nil {
		return nil
	}
	return func(chunk *domain.Chunk) []float32 {
		pol, ok := policies[chunk.ContainerID]
		if !ok || chunk.TextHash == "" {
			return nil
		}
		vec, found, err := s.embCache.Get(ctx, repository.EmbeddingCacheKey{
			TextHash: chunk.TextHash,
			Embedder: pol.Embedder,
			Version:  pol.EmbedderVersion,
		})
		if err != nil || !found {
			return nil
		}
		return vec
	}
}

func (s *Service) stageIssue(err error, timeoutIssue domain.Issue) domain.Issue {
	if errors.Is(err, context.DeadlineExceeded) || apperr.IsKind(err, apperr.KindTimeout) {
		return timeoutIssue
	}
	if code := apperr.CodeOf(err); code != "INTERNAL" {
		return domain.Issue(code)
	}
	return timeoutIssue
}

func (s *Service) rerankIssue(err error) domain.Issue {
	if apperr.IsKind(err, apperr.KindTimeout) {
		return domain.IssueRerankTimeout
	}
	return domain.IssueRerankDown
}

func (s *Service) isPartial(issues *domain.IssueSet) bool {
	for _, issue := range []domain.Issue{
		domain.IssueBM25Timeout, domain.IssueVectorTimeout,
		domain.IssueGraphTimeout, domain.IssueGraphDown,
		domain.IssueEmbeddingDown, domain.IssueLatencyBudgetExceeded,
	} {
		if issues.Has(issue) {
			return true
		}
	}
	return false
}

func (s *Service) observeStage(stage string, ms int64) {
	if s.metrics != nil {
		s.metrics.SearchStageMS.WithLabelValues(stage).Observe(float64(ms))
	}
}

func sortScored(hits []repository.ScoredChunk) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func topChunkIDs(bm25, vec []repository.ScoredChunk, n int) []uuid.UUID {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	add := func(hits []repository.ScoredChunk) {
		for _, hit := range hits {
			if len(out) >= n {
				return
			}
			if _, ok := seen[hit.Chunk.ID]; ok {
				continue
			}
			seen[hit.Chunk.ID] = struct{}{}
			out = append(out, hit.Chunk.ID)
		}
	}
	add(vec)
	add(bm25)
	return out
}

func lambdaFor(policies map[uuid.UUID]*domain.Policy, cid uuid.UUID) float64 {
	if pol, ok := policies[cid]; ok {
		return pol.FreshnessLambda
	}
	return 0
}

// minDedupThreshold takes the strictest (lowest) semantic threshold across
// the queried containers so cross-container results never under-dedup.
func minDedupThreshold(policies map[uuid.UUID]*domain.Policy) float64 {
	min := 0.0
	for _, pol := range policies {
		if pol.SemanticDedup <= 0 {
			continue
		}
		if min == 0 || pol.SemanticDedup < min {
			min = pol.SemanticDedup
		}
	}
	return min
}

// rerankPolicy picks the first enabled rerank config among the containers.
func rerankPolicy(policies map[uuid.UUID]*domain.Policy) *domain.RerankPolicy {
	for _, pol := range policies {
		if pol.Rerank.Enabled {
			rp := pol.Rerank
			return &rp
		}
	}
	return nil
}
