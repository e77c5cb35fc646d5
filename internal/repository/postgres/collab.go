package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

// CollabRepo owns the collaboration side tables: links between containers,
// agent subscriptions, and agent session bookkeeping.
type CollabRepo struct {
	store *Store
}

func (r *CollabRepo) AddLink(ctx context.Context, link *domain.ContainerLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.Kind == "" {
		link.Kind = "related"
	}
	link.CreatedAt = time.Now().UTC()

	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO container_links (id, source_id, target_id, kind, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		link.ID, link.SourceID, link.TargetID, link.Kind, link.CreatedBy, link.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("LINK_EXISTS", "an identical container link already exists")
	}
	if err != nil {
		return fmt.Errorf("insert container link: %w", err)
	}
	return nil
}

func (r *CollabRepo) ListLinks(ctx context.Context, containerID uuid.UUID) ([]domain.ContainerLink, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, source_id, target_id, kind, created_by, created_at
		FROM container_links
		WHERE source_id = $1 OR target_id = $1
		ORDER BY created_at`, containerID)
	if err != nil {
		return nil, fmt.Errorf("list container links: %w", err)
	}
	defer rows.Close()

	var out []domain.ContainerLink
	for rows.Next() {
		var l domain.ContainerLink
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.Kind, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *CollabRepo) Subscribe(ctx context.Context, sub *domain.ContainerSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.CreatedAt = time.Now().UTC()

	// Re-subscribing refreshes the display name and is otherwise a no-op.
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO container_subscriptions (id, container_id, agent_id, agent_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (container_id, agent_id)
		DO UPDATE SET agent_name = EXCLUDED.agent_name`,
		sub.ID, sub.ContainerID, sub.AgentID, sub.AgentName, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (r *CollabRepo) ListSubscriptions(ctx context.Context, containerID uuid.UUID) ([]domain.ContainerSubscription, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, container_id, agent_id, agent_name, created_at
		FROM container_subscriptions
		WHERE container_id = $1
		ORDER BY created_at`, containerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.ContainerSubscription
	for rows.Next() {
		var s domain.ContainerSubscription
		if err := rows.Scan(&s.ID, &s.ContainerID, &s.AgentID, &s.AgentName, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CollabRepo) TouchAgent(ctx context.Context, agentID, agentName string) error {
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO agent_sessions (id, agent_id, agent_name, request_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (agent_id)
		DO UPDATE SET
			agent_name = CASE WHEN EXCLUDED.agent_name <> '' THEN EXCLUDED.agent_name ELSE agent_sessions.agent_name END,
			last_seen = now(),
			request_count = agent_sessions.request_count + 1`,
		uuid.New(), agentID, agentName)
	if err != nil {
		return fmt.Errorf("touch agent session: %w", err)
	}
	return nil
}
