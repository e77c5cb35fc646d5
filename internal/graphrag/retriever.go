package graphrag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/adapters/nl2query"
	"github.com/llcontext/llcd/internal/domain"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/search"
	"github.com/llcontext/llcd/internal/store/graph"
)

// retrieveLimit bounds how many chunks graph retrieval contributes to fusion.
const retrieveLimit = 20

// Retriever is the graph stage of the search pipeline. With a question and a
// configured translator it runs a validated translated query; otherwise, or
// on any translation failure, it expands from the seed chunks.
type Retriever struct {
	graphs     graph.Store
	chunks     repository.ChunkRepository
	translator nl2query.Translator
	logger     *zap.Logger
}

func NewRetriever(graphs graph.Store, chunks repository.ChunkRepository, translator nl2query.Translator, logger *zap.Logger) *Retriever {
	return &Retriever{graphs: graphs, chunks: chunks, translator: translator, logger: logger.Named("graphrag")}
}

func (r *Retriever) Retrieve(ctx context.Context, pol *domain.Policy, containerID uuid.UUID, question string, seeds []uuid.UUID) (*search.GraphStage, error) {
	stage := &search.GraphStage{ByChunk: make(map[uuid.UUID]*search.GraphAttachment)}

	if question != "" {
		if done := r.retrieveTranslated(ctx, pol, containerID, question, stage); done {
			return stage, nil
		}
		// Translation failed or was rejected; the issue codes already on the
		// stage tell the caller why. Try the keyword template before giving
		// up on the question entirely.
		if err := r.runTemplate(ctx, pol, containerID, question, stage); err != nil {
			r.logger.Warn("template fallback failed", zap.Error(err))
		} else {
			stage.Fallback = search.FallbackTemplate
			if len(stage.Hits) > 0 {
				return stage, nil
			}
		}
	}

	if err := r.expandSeeds(ctx, pol, containerID, seeds, stage); err != nil {
		return nil, err
	}
	return stage, nil
}

// retrieveTranslated runs the NL path end to end. It reports true when the
// translated query executed, false when the caller should fall back.
func (r *Retriever) retrieveTranslated(ctx context.Context, pol *domain.Policy, containerID uuid.UUID, question string, stage *search.GraphStage) bool {
	if r.translator == nil {
		stage.Issues = append(stage.Issues, domain.IssueNL2QueryFailed)
		return false
	}

	tr, err := r.translator.Translate(ctx, question, pol.Graph.Schema)
	if err != nil {
		stage.Issues = append(stage.Issues, domain.IssueNL2QueryFailed)
		r.logger.Warn("translation failed, falling back to seed expansion", zap.Error(err))
		return false
	}

	query, err := ValidateQuery(tr.Query, pol.Graph.Schema, pol.Graph.MaxHops, retrieveLimit)
	if err != nil {
		stage.Issues = append(stage.Issues, domain.IssueGraphQueryInvalid)
		r.logger.Warn("translated query rejected",
			zap.String("query", tr.Query), zap.Error(err))
		return false
	}

	rows, err := r.graphs.RunReadOnly(ctx, containerID, query, tr.Params, pol.Graph.QueryTimeout)
	if err != nil {
		stage.Issues = append(stage.Issues, domain.IssueGraphTimeout)
		r.logger.Warn("translated query failed", zap.Error(err))
		return false
	}

	r.collectRows(ctx, containerID, rows, stage)
	return true
}

// fallbackQuery matches question keywords against entity labels and
// summaries, pulling one hop of neighborhood around the matches.
func fallbackQuery(question string, limit int) (string, map[string]any) {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		if len(w) > 2 {
			keywords = append(keywords, w)
		}
	}
	return fmt.Sprintf(`
		MATCH (n:Entity {container_id: $container_id})
		WHERE any(kw IN $keywords WHERE toLower(n.label) CONTAINS kw OR toLower(coalesce(n.summary, '')) CONTAINS kw)
		WITH n LIMIT %d
		OPTIONAL MATCH (n)-[rel:RELATES]-(m:Entity {container_id: $container_id})
		RETURN collect(DISTINCT {node_id: n.node_id, label: n.label, type: n.type, summary: n.summary, source_chunk_id: n.source_chunk_id})
		     + collect(DISTINCT {node_id: m.node_id, label: m.label, type: m.type, summary: m.summary, source_chunk_id: m.source_chunk_id}) AS nodes,
		       collect(DISTINCT {source: startNode(rel).node_id, target: endNode(rel).node_id, type: rel.type}) AS rels
		LIMIT %d`, limit, limit), map[string]any{"keywords": keywords}
}

// RunCypherLike validates a caller-written query against the container
// schema and the read-only rules, then executes it. The graph search
// operation exposes this as its cypher_like mode.
func (r *Retriever) RunCypherLike(ctx context.Context, pol *domain.Policy, containerID uuid.UUID, query string) (*search.GraphStage, error) {
	stage := &search.GraphStage{ByChunk: make(map[uuid.UUID]*search.GraphAttachment)}
	validated, err := ValidateQuery(query, pol.Graph.Schema, pol.Graph.MaxHops, retrieveLimit)
	if err != nil {
		return nil, err
	}
	rows, err := r.graphs.RunReadOnly(ctx, containerID, validated, nil, pol.Graph.QueryTimeout)
	if err != nil {
		return nil, err
	}
	r.collectRows(ctx, containerID, rows, stage)
	return stage, nil
}

func (r *Retriever) runTemplate(ctx context.Context, pol *domain.Policy, containerID uuid.UUID, question string, stage *search.GraphStage) error {
	query, params := fallbackQuery(question, retrieveLimit)
	rows, err := r.graphs.RunReadOnly(ctx, containerID, query, params, pol.Graph.QueryTimeout)
	if err != nil {
		return err
	}
	r.collectRows(ctx, containerID, rows, stage)
	return nil
}

// collectRows folds query rows shaped as {nodes: [map], rels: [map]} into the
// stage: nodes and edges verbatim, plus scored chunk hits hydrated through
// the registry. Chunk score is the share of returned nodes citing it.
func (r *Retriever) collectRows(ctx context.Context, containerID uuid.UUID, rows []map[string]any, stage *search.GraphStage) {
	citations := make(map[uuid.UUID]int)
	nodesByChunk := make(map[uuid.UUID][]domain.GraphNode)
	seenNodes := make(map[string]struct{})

	for _, row := range rows {
		for _, raw := range asSlice(row["nodes"]) {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			node := domain.GraphNode{
				NodeID:      str(m["node_id"]),
				ContainerID: containerID,
				Label:       str(m["label"]),
				Type:        str(m["type"]),
				Summary:     str(m["summary"]),
			}
			if node.NodeID == "" {
				continue
			}
			if _, dup := seenNodes[node.NodeID]; dup {
				continue
			}
			seenNodes[node.NodeID] = struct{}{}
			if id, err := uuid.Parse(str(m["source_chunk_id"])); err == nil {
				node.SourceChunkID = id
				citations[id]++
				nodesByChunk[id] = append(nodesByChunk[id], node)
			}
			stage.Nodes = append(stage.Nodes, node)
		}
		for _, raw := range asSlice(row["rels"]) {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			edge := domain.GraphEdge{
				SourceID:    str(m["source"]),
				TargetID:    str(m["target"]),
				Type:        str(m["type"]),
				ContainerID: containerID,
			}
			if edge.SourceID != "" && edge.TargetID != "" {
				stage.Edges = append(stage.Edges, edge)
			}
		}
	}
	if len(citations) == 0 {
		return
	}

	maxCites := 0
	ids := make([]uuid.UUID, 0, len(citations))
	for id, n := range citations {
		ids = append(ids, id)
		if n > maxCites {
			maxCites = n
		}
	}
	resolved, err := r.chunks.Resolve(ctx, ids)
	if err != nil {
		r.logger.Warn("resolving graph chunk ids failed", zap.Error(err))
		return
	}
	for i := range resolved {
		id := resolved[i].Chunk.ID
		resolved[i].Score = float64(citations[id]) / float64(maxCites)
		stage.ByChunk[id] = &search.GraphAttachment{Nodes: nodesByChunk[id]}
	}
	sort.SliceStable(resolved, func(i, j int) bool { return resolved[i].Score > resolved[j].Score })
	if len(resolved) > retrieveLimit {
		resolved = resolved[:retrieveLimit]
	}
	stage.Hits = resolved
}

// expandSeeds walks the graph outward from the seed chunks and scores the
// reached chunks by hop distance.
func (r *Retriever) expandSeeds(ctx context.Context, pol *domain.Policy, containerID uuid.UUID, seeds []uuid.UUID, stage *search.GraphStage) error {
	related, err := r.graphs.ExpandFromChunks(ctx, containerID, seeds, pol.Graph.MaxHops)
	if err != nil {
		return err
	}
	if len(related) == 0 {
		return nil
	}

	hops := make(map[uuid.UUID]int, len(related))
	ids := make([]uuid.UUID, 0, len(related))
	for _, rc := range related {
		hops[rc.ChunkID] = rc.Hops
		ids = append(ids, rc.ChunkID)
	}

	resolved, err := r.chunks.Resolve(ctx, ids)
	if err != nil {
		return err
	}
	for i := range resolved {
		id := resolved[i].Chunk.ID
		resolved[i].Score = 1 / float64(1+hops[id])
		stage.ByChunk[id] = &search.GraphAttachment{SourceChunkID: seedLabel(seeds)}
	}
	sort.SliceStable(resolved, func(i, j int) bool { return resolved[i].Score > resolved[j].Score })
	if len(resolved) > retrieveLimit {
		resolved = resolved[:retrieveLimit]
	}
	stage.Hits = resolved
	return nil
}

func seedLabel(seeds []uuid.UUID) string {
	if len(seeds) == 0 {
		return ""
	}
	return seeds[0].String()
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// str coerces the scalar shapes the graph driver hands back. Node ids in
// particular arrive as int64 when an extractor wrote numeric ids.
func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}
