// Package lifecycle owns container management: create, describe, list,
// metadata updates, soft and hard delete, shadow embedder refresh, and
// export packaging. Refresh and export run as queued jobs.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/adapters/embedder"
	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/policy"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/store/blob"
	"github.com/llcontext/llcd/internal/store/graph"
	"github.com/llcontext/llcd/internal/store/vector"
)

// EmbedderFactory builds an embedding client for a refresh target. The
// worker wiring supplies it so refresh jobs can address models the serving
// path is not configured with.
type EmbedderFactory func(name, version string, dims int) embedder.Embedder

// Invalidator drops cached policies after a mutation.
type Invalidator interface {
	Invalidate(refs ...string)
}

// Service is the container lifecycle facade shared by HTTP and MCP.
type Service struct {
	containers  repository.ContainerRepository
	docs        repository.DocumentRepository
	chunks      repository.ChunkRepository
	collab      repository.CollaborationRepository
	queue       repository.JobQueue
	vectors     vector.Store
	graphs      graph.Store
	blobs       blob.Store
	policies    Invalidator
	newEmbedder EmbedderFactory
	logger      *zap.Logger
}

func NewService(
	containers repository.ContainerRepository,
	docs repository.DocumentRepository,
	chunks repository.ChunkRepository,
	collab repository.CollaborationRepository,
	queue repository.JobQueue,
	vectors vector.Store,
	graphs graph.Store,
	blobs blob.Store,
	policies Invalidator,
	newEmbedder EmbedderFactory,
	logger *zap.Logger,
) *Service {
	return &Service{
		containers:  containers,
		docs:        docs,
		chunks:      chunks,
		collab:      collab,
		queue:       queue,
		vectors:     vectors,
		graphs:      graphs,
		blobs:       blobs,
		policies:    policies,
		newEmbedder: newEmbedder,
		logger:      logger.Named("lifecycle"),
	}
}

// Create validates the manifest, persists the container, and provisions its
// vector collections. The embedder identity is immutable from here on.
func (s *Service) Create(ctx context.Context, m *policy.Manifest, createdBy string) (*domain.Container, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	c := m.ToContainer()
	c.ID = uuid.New()
	c.CreatedBy = createdBy
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.containers.Create(ctx, c); err != nil {
		return nil, err
	}
	if err := s.vectors.EnsureCollection(ctx, domain.CollectionName(c.ID, domain.ModalityText), c.Dims); err != nil {
		return nil, err
	}
	if c.AllowsModality(domain.ModalityImage) {
		if err := s.vectors.EnsureCollection(ctx, domain.CollectionName(c.ID, domain.ModalityImage), c.Dims); err != nil {
			return nil, err
		}
	}
	s.logger.Info("container created",
		zap.String("container_id", c.ID.String()),
		zap.String("slug", c.Slug))
	return c, nil
}

// Describe resolves a container by id or slug.
func (s *Service) Describe(ctx context.Context, ref string) (*domain.Container, error) {
	return s.containers.GetByRef(ctx, ref)
}

// List returns containers matching the filter, stats included.
func (s *Service) List(ctx context.Context, filter repository.ContainerFilter) ([]*domain.Container, error) {
	return s.containers.List(ctx, filter)
}

// UpdateRequest carries the mutable metadata fields; nil means unchanged.
// Embedder identity and dims are absent on purpose: only Refresh touches
// them.
type UpdateRequest struct {
	Theme       *string
	Description *string
	BudgetMS    *int
	State       *domain.ContainerState
	Readers     []string
	Owners      []string
	GraphSchema *domain.GraphSchema
	Policy      map[string]any
}

// Update applies metadata changes and invalidates the cached policy.
func (s *Service) Update(ctx context.Context, ref string, req UpdateRequest) (*domain.Container, error) {
	c, err := s.containers.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if req.Theme != nil {
		c.Theme = *req.Theme
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.BudgetMS != nil {
		c.BudgetMS = *req.BudgetMS
	}
	if req.State != nil {
		switch *req.State {
		case domain.ContainerActive, domain.ContainerPaused:
			c.State = *req.State
		default:
			return nil, apperr.Validation(string(domain.IssuePolicyInvalid),
				"state transitions to archived go through delete")
		}
	}
	if req.Readers != nil || req.Owners != nil {
		if c.ACL == nil {
			c.ACL = map[string]any{}
		}
		if req.Readers != nil {
			c.ACL["readers"] = req.Readers
		}
		if req.Owners != nil {
			c.ACL["owners"] = req.Owners
		}
	}
	if req.GraphSchema != nil {
		c.GraphSchema = req.GraphSchema
	}
	for k, v := range req.Policy {
		if c.Policy == nil {
			c.Policy = map[string]any{}
		}
		c.Policy[k] = v
	}
	c.UpdatedAt = time.Now().UTC()

	if err := s.containers.Update(ctx, c); err != nil {
		return nil, err
	}
	s.policies.Invalidate(c.ID.String(), c.Slug)
	return c, nil
}

// Delete archives the container (soft) or cascades through every store
// (hard): registry rows, both vector collections, the blob prefix, and the
// container's graph.
func (s *Service) Delete(ctx context.Context, ref string, hard bool) error {
	c, err := s.containers.GetByRef(ctx, ref)
	if err != nil {
		return err
	}
	if !hard {
		if err := s.containers.UpdateState(ctx, c.ID, domain.ContainerArchived); err != nil {
			return err
		}
		s.policies.Invalidate(c.ID.String(), c.Slug)
		return nil
	}

	if err := s.vectors.DropCollection(ctx, domain.CollectionName(c.ID, domain.ModalityText)); err != nil {
		s.logger.Warn("drop text collection failed", zap.Error(err))
	}
	if err := s.vectors.DropCollection(ctx, domain.CollectionName(c.ID, domain.ModalityImage)); err != nil {
		s.logger.Warn("drop image collection failed", zap.Error(err))
	}
	if err := s.blobs.DeletePrefix(ctx, blob.ContainerPrefix(c.ID)); err != nil {
		s.logger.Warn("blob prefix delete failed", zap.Error(err))
	}
	if err := s.graphs.DeleteContainer(ctx, c.ID); err != nil {
		s.logger.Warn("graph delete failed", zap.Error(err))
	}
	if err := s.containers.Delete(ctx, c.ID); err != nil {
		return err
	}
	s.policies.Invalidate(c.ID.String(), c.Slug)
	s.logger.Info("container hard-deleted", zap.String("container_id", c.ID.String()))
	return nil
}

// Refresh enqueues a shadow re-embed with a new embedder identity.
func (s *Service) Refresh(ctx context.Context, ref, embedderName, version string, dims int) (uuid.UUID, error) {
	c, err := s.containers.GetByRef(ctx, ref)
	if err != nil {
		return uuid.Nil, err
	}
	if embedderName == "" || dims <= 0 {
		return uuid.Nil, apperr.Validation(string(domain.IssuePolicyInvalid), "refresh needs an embedder and dims")
	}
	payload := map[string]any{
		"embedder": embedderName,
		"version":  version,
		"dims":     dims,
	}
	key := fmt.Sprintf("refresh:%s:%s:%s:%d", c.ID, embedderName, version, dims)
	return s.queue.Enqueue(ctx, domain.JobRefresh, &c.ID, payload, key)
}

// Export enqueues archive packaging for a container.
func (s *Service) Export(ctx context.Context, ref string, includeBlobs bool) (uuid.UUID, error) {
	c, err := s.containers.GetByRef(ctx, ref)
	if err != nil {
		return uuid.Nil, err
	}
	payload := map[string]any{"include_blobs": includeBlobs}
	return s.queue.Enqueue(ctx, domain.JobExport, &c.ID, payload, "")
}

// AddLink records a typed association between two containers.
func (s *Service) AddLink(ctx context.Context, sourceRef, targetRef, kind, createdBy string) (*domain.ContainerLink, error) {
	source, err := s.containers.GetByRef(ctx, sourceRef)
	if err != nil {
		return nil, err
	}
	target, err := s.containers.GetByRef(ctx, targetRef)
	if err != nil {
		return nil, err
	}
	link := &domain.ContainerLink{
		ID:        uuid.New(),
		SourceID:  source.ID,
		TargetID:  target.ID,
		Kind:      kind,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.collab.AddLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// Links lists a container's outbound links.
func (s *Service) Links(ctx context.Context, ref string) ([]domain.ContainerLink, error) {
	c, err := s.containers.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.collab.ListLinks(ctx, c.ID)
}

// Subscribe records an agent's interest in a container.
func (s *Service) Subscribe(ctx context.Context, ref, agentID, agentName string) (*domain.ContainerSubscription, error) {
	c, err := s.containers.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	sub := &domain.ContainerSubscription{
		ID:          uuid.New(),
		ContainerID: c.ID,
		AgentID:     agentID,
		AgentName:   agentName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.collab.Subscribe(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Subscriptions lists a container's subscribers.
func (s *Service) Subscriptions(ctx context.Context, ref string) ([]domain.ContainerSubscription, error) {
	c, err := s.containers.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.collab.ListSubscriptions(ctx, c.ID)
}
