package graphrag

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	"github.com/llcontext/llcd/internal/store/graph"
)

// Entity and Relation are the extractor's raw output before normalization.
type Entity struct {
	ID      string
	Name    string
	Type    string
	Summary string
}

type Relation struct {
	SourceID string
	TargetID string
	Type     string
}

// Extractor pulls entities and relations out of one chunk of text.
// Implementations may call a model or work heuristically; the builder
// normalizes either way.
type Extractor interface {
	Extract(ctx context.Context, containerID uuid.UUID, chunk *domain.Chunk) ([]Entity, []Relation, error)
}

var (
	allowedEntityTypes = map[string]struct{}{
		"Person": {}, "Organization": {}, "Project": {}, "Document": {},
		"Decision": {}, "Product": {}, "Team": {}, "Risk": {}, "Concept": {},
		"Other": {},
	}
	allowedRelationTypes = map[string]struct{}{
		"WORKS_ON": {}, "OWNS": {}, "MANAGES": {}, "AUTHORED_BY": {},
		"MENTIONS": {}, "USES": {}, "DEPENDS_ON": {}, "HAS_DECISION": {},
		"AFFECTS": {}, "PART_OF": {}, "IMPLEMENTS": {}, "RELATED_TO": {},
	}
)

// NormalizeEntityType maps anything outside the closed vocabulary to Concept.
func NormalizeEntityType(t string) string {
	if _, ok := allowedEntityTypes[t]; ok {
		return t
	}
	return "Concept"
}

// NormalizeRelationType upcases and maps unknown types to RELATED_TO.
func NormalizeRelationType(t string) string {
	up := strings.ToUpper(strings.TrimSpace(t))
	if _, ok := allowedRelationTypes[up]; ok {
		return up
	}
	return "RELATED_TO"
}

var nodeIDClean = regexp.MustCompile(`[^a-z0-9]+`)

// NodeID derives a stable identifier from an entity's name and type, e.g.
// ("Project GraphOS", "Project") -> "project:project_graphos". Re-extraction
// of the same entity merges onto the same graph node.
func NodeID(name, entityType string) string {
	slug := strings.Trim(nodeIDClean.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		slug = "unnamed"
	}
	return strings.ToLower(NormalizeEntityType(entityType)) + ":" + slug
}

// Builder runs an extractor over chunks and upserts the normalized result.
type Builder struct {
	extractor Extractor
	graphs    graph.Store
	logger    *zap.Logger
}

func NewBuilder(extractor Extractor, graphs graph.Store, logger *zap.Logger) *Builder {
	return &Builder{extractor: extractor, graphs: graphs, logger: logger.Named("graphrag")}
}

// ExtractResult summarizes one extraction pass for job reporting.
type ExtractResult struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
	// ChunksFailed counts chunks whose extraction errored; the pass continues
	// past them.
	ChunksFailed int `json:"chunks_failed"`
}

// BuildFromChunks extracts every chunk and merges the results into the
// container graph. A chunk-level extraction failure skips that chunk only.
func (b *Builder) BuildFromChunks(ctx context.Context, containerID uuid.UUID, chunks []*domain.Chunk) (*ExtractResult, error) {
	res := &ExtractResult{}
	var (
		nodes []domain.GraphNode
		edges []domain.GraphEdge
	)
	for _, chunk := range chunks {
		if chunk.Deduped() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entities, relations, err := b.extractor.Extract(ctx, containerID, chunk)
		if err != nil {
			res.ChunksFailed++
			b.logger.Warn("chunk extraction failed",
				zap.String("chunk_id", chunk.ID.String()), zap.Error(err))
			continue
		}

		idByRaw := make(map[string]string, len(entities))
		for _, ent := range entities {
			name := ent.Name
			if name == "" {
				name = ent.ID
			}
			if name == "" {
				continue
			}
			nodeID := NodeID(name, ent.Type)
			idByRaw[ent.ID] = nodeID
			nodes = append(nodes, domain.GraphNode{
				NodeID:        nodeID,
				ContainerID:   containerID,
				Label:         name,
				Type:          NormalizeEntityType(ent.Type),
				Summary:       ent.Summary,
				SourceChunkID: chunk.ID,
			})
		}
		for _, rel := range relations {
			src, okS := idByRaw[rel.SourceID]
			tgt, okT := idByRaw[rel.TargetID]
			if !okS || !okT || src == tgt {
				continue
			}
			edges = append(edges, domain.GraphEdge{
				SourceID:      src,
				TargetID:      tgt,
				Type:          NormalizeRelationType(rel.Type),
				ContainerID:   containerID,
				SourceChunkID: chunk.ID,
			})
		}
	}

	if err := b.graphs.UpsertNodes(ctx, nodes); err != nil {
		return nil, err
	}
	if err := b.graphs.UpsertEdges(ctx, edges); err != nil {
		return nil, err
	}
	res.Nodes, res.Edges = len(nodes), len(edges)
	return res, nil
}

// HeuristicExtractor is the zero-dependency fallback when no model endpoint
// is configured: capitalized multi-word phrases become Concept entities and
// co-occurrence within a chunk becomes RELATED_TO.
type HeuristicExtractor struct {
	// MaxEntities bounds entities per chunk; defaults to 8.
	MaxEntities int
}

func (h *HeuristicExtractor) Extract(_ context.Context, _ uuid.UUID, chunk *domain.Chunk) ([]Entity, []Relation, error) {
	limit := h.MaxEntities
	if limit <= 0 {
		limit = 8
	}

	var (
		entities []Entity
		seen     = make(map[string]struct{})
	)
	for _, phrase := range capitalizedPhrases(chunk.Text) {
		key := strings.ToLower(phrase)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entities = append(entities, Entity{ID: key, Name: phrase, Type: "Concept"})
		if len(entities) >= limit {
			break
		}
	}

	var relations []Relation
	for i := 1; i < len(entities); i++ {
		relations = append(relations, Relation{
			SourceID: entities[0].ID,
			TargetID: entities[i].ID,
			Type:     "RELATED_TO",
		})
	}
	return entities, relations, nil
}

// capitalizedPhrases returns maximal runs of capitalized words, skipping
// sentence-initial single words which are usually not entities.
func capitalizedPhrases(text string) []string {
	words := strings.Fields(text)
	var (
		phrases    []string
		run        []string
		runAtStart bool
	)
	flush := func() {
		if len(run) >= 2 || (len(run) == 1 && !runAtStart) {
			phrases = append(phrases, strings.Join(run, " "))
		}
		run = nil
	}
	atStart := true
	for _, word := range words {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed != "" && unicode.IsUpper([]rune(trimmed)[0]) {
			if len(run) == 0 {
				runAtStart = atStart
			}
			run = append(run, trimmed)
		} else {
			flush()
		}
		atStart = strings.ContainsAny(word, ".!?")
		if atStart {
			flush()
		}
	}
	flush()
	return phrases
}
