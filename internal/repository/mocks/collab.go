package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llcontext/llcd/internal/domain"
)

// CollabRepo is an in-memory repository.CollaborationRepository.
type CollabRepo struct {
	mu     sync.Mutex
	links  []domain.ContainerLink
	subs   []domain.ContainerSubscription
	agents map[string]domain.AgentSession
}

func NewCollabRepo() *CollabRepo {
	return &CollabRepo{agents: make(map[string]domain.AgentSession)}
}

func (r *CollabRepo) AddLink(_ context.Context, link *domain.ContainerLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, *link)
	return nil
}

func (r *CollabRepo) ListLinks(_ context.Context, containerID uuid.UUID) ([]domain.ContainerLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ContainerLink
	for _, l := range r.links {
		if l.SourceID == containerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *CollabRepo) Subscribe(_ context.Context, sub *domain.ContainerSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, *sub)
	return nil
}

func (r *CollabRepo) ListSubscriptions(_ context.Context, containerID uuid.UUID) ([]domain.ContainerSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ContainerSubscription
	for _, s := range r.subs {
		if s.ContainerID == containerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *CollabRepo) TouchAgent(_ context.Context, agentID, agentName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	sess, ok := r.agents[agentID]
	if !ok {
		sess = domain.AgentSession{ID: uuid.New(), AgentID: agentID, FirstSeen: now}
	}
	sess.AgentName = agentName
	sess.LastSeen = now
	sess.RequestCnt++
	r.agents[agentID] = sess
	return nil
}

// Agents returns the touched agent sessions for assertions.
func (r *CollabRepo) Agents() map[string]domain.AgentSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.AgentSession, len(r.agents))
	for k, v := range r.agents {
		out[k] = v
	}
	return out
}
