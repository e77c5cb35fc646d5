// Package documents serves document reads and the delete cascade: registry
// rows first, then vectors, blobs, and graph provenance.
package documents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/store/blob"
	"github.com/llcontext/llcd/internal/store/graph"
	"github.com/llcontext/llcd/internal/store/vector"
)

type Service struct {
	docs       repository.DocumentRepository
	chunks     repository.ChunkRepository
	containers repository.ContainerRepository
	vectors    vector.Store
	graphs     graph.Store
	blobs      blob.Store
	logger     *zap.Logger
}

func NewService(
	docs repository.DocumentRepository,
	chunks repository.ChunkRepository,
	containers repository.ContainerRepository,
	vectors vector.Store,
	graphs graph.Store,
	blobs blob.Store,
	logger *zap.Logger,
) *Service {
	return &Service{
		docs:       docs,
		chunks:     chunks,
		containers: containers,
		vectors:    vectors,
		graphs:     graphs,
		blobs:      blobs,
		logger:     logger.Named("documents"),
	}
}

// List returns a container's documents.
func (s *Service) List(ctx context.Context, filter repository.DocumentFilter) ([]*domain.Document, error) {
	return s.docs.List(ctx, filter)
}

// Get returns one document with its chunks.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Document, []domain.Chunk, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := s.chunks.ListByDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return doc, chunks, nil
}

// Delete removes the document and cascades: chunks go with the registry
// delete, canonical chunk vectors leave the dense index, the graph drops
// everything those chunks sourced, and the blobs are removed. Store-side
// cascade failures are logged, not fatal, since the registry row is already
// gone and re-running cannot recover it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	allChunks, err := s.chunks.ListByDocument(ctx, id)
	if err != nil {
		return err
	}

	vectorIDs, err := s.docs.Delete(ctx, id)
	if err != nil {
		return err
	}

	if len(vectorIDs) > 0 {
		collection := domain.CollectionName(doc.ContainerID, doc.Modality)
		if err := s.vectors.DeletePoints(ctx, collection, vectorIDs); err != nil {
			s.logger.Warn("vector cascade failed",
				zap.String("document_id", id.String()), zap.Error(err))
		}
	}

	chunkIDs := make([]uuid.UUID, len(allChunks))
	for i := range allChunks {
		chunkIDs[i] = allChunks[i].ID
	}
	if len(chunkIDs) > 0 {
		if err := s.graphs.DeleteChunks(ctx, doc.ContainerID, chunkIDs); err != nil {
			s.logger.Warn("graph cascade failed",
				zap.String("document_id", id.String()), zap.Error(err))
		}
	}

	keys := []string{
		blob.DocumentKey(doc.ContainerID, id),
		blob.ThumbnailKey(doc.ContainerID, id),
	}
	if err := s.blobs.Delete(ctx, keys); err != nil {
		s.logger.Warn("blob cascade failed",
			zap.String("document_id", id.String()), zap.Error(err))
	}

	if err := s.containers.BumpStats(ctx, doc.ContainerID,
		-1, -int64(len(allChunks)), 0, time.Now().UTC()); err != nil {
		s.logger.Warn("stat decrement failed", zap.Error(err))
	}

	s.logger.Info("document deleted",
		zap.String("document_id", id.String()),
		zap.Int("chunks", len(allChunks)))
	return nil
}
