package lifecycle

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/store/vector"
)

const refreshBatch = 64

// RunRefresh executes a claimed refresh job: build a shadow collection with
// the new embedder, re-embed every canonical chunk into it, promote the
// shadow, then record the new embedder identity. The alias swap is the
// atomic step; a crash before it leaves the old collection serving.
func (s *Service) RunRefresh(ctx context.Context, job *domain.Job, beat func(context.Context) error) (map[string]any, error) {
	if job.ContainerID == nil {
		return nil, apperr.Validation(string(domain.IssueContainerNotFound), "refresh job has no container")
	}
	cid := *job.ContainerID
	c, err := s.containers.GetByID(ctx, cid)
	if err != nil {
		return nil, err
	}

	name, _ := job.Payload["embedder"].(string)
	version, _ := job.Payload["version"].(string)
	dims := intPayload(job.Payload, "dims")
	if name == "" || dims <= 0 {
		return nil, apperr.Validation(string(domain.IssuePolicyInvalid), "refresh payload needs embedder and dims")
	}
	if s.newEmbedder == nil {
		return nil, apperr.Internal("no embedder factory configured", nil)
	}
	embed := s.newEmbedder(name, version, dims)

	alias := domain.CollectionName(cid, domain.ModalityText)
	shadow, err := s.vectors.BeginShadow(ctx, alias, dims)
	if err != nil {
		return nil, err
	}

	reembedded := 0
	offset := 0
	docMeta := map[uuid.UUID]*domain.Document{}
	for {
		rows, err := s.chunks.ListByContainer(ctx, cid, refreshBatch, offset)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		offset += len(rows)

		var texts []string
		var batch []*domain.Chunk
		for i := range rows {
			ch := &rows[i]
			if ch.Deduped() || ch.Modality == domain.ModalityImage || ch.Text == "" {
				continue
			}
			texts = append(texts, ch.Text)
			batch = append(batch, ch)
		}
		if len(batch) == 0 {
			continue
		}

		vecs, err := embed.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, err
		}
		points := make([]vector.Point, len(batch))
		for i, ch := range batch {
			doc, ok := docMeta[ch.DocID]
			if !ok {
				doc, err = s.docs.GetByID(ctx, ch.DocID)
				if err != nil {
					return nil, err
				}
				docMeta[ch.DocID] = doc
			}
			// The shadow payload must match what ingest wrote, or promoted
			// search results lose their title and uri.
			points[i] = vector.Point{ID: ch.ID, Vector: vecs[i], Payload: ch.VectorPayload(doc.Title, doc.URI)}
		}
		if err := s.vectors.Upsert(ctx, shadow, points); err != nil {
			return nil, err
		}
		reembedded += len(batch)

		if beat != nil {
			if err := beat(ctx); err != nil {
				return nil, err
			}
		}
	}

	if err := s.vectors.PromoteShadow(ctx, alias, shadow); err != nil {
		return nil, err
	}
	if err := s.containers.UpdateEmbedder(ctx, cid, name, version, dims); err != nil {
		return nil, err
	}
	s.policies.Invalidate(cid.String(), c.Slug)

	s.logger.Info("shadow refresh promoted",
		zap.String("container_id", cid.String()),
		zap.String("embedder", name),
		zap.Int("chunks", reembedded))
	return map[string]any{"chunks_reembedded": reembedded, "embedder": name, "dims": dims}, nil
}

func intPayload(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
