package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository/mocks"
)

func startPool(t *testing.T, queue *mocks.JobQueue, register func(*Pool)) {
	t.Helper()
	pool := NewPool(queue, Config{
		Workers:       2,
		PollInterval:  5 * time.Millisecond,
		ReapInterval:  time.Hour,
		DepthInterval: time.Hour,
	}, nil, zap.NewNop())
	register(pool)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func jobState(t *testing.T, queue *mocks.JobQueue, id uuid.UUID) *domain.Job {
	t.Helper()
	jobs, err := queue.GetByIDs(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestPool_CompletesJobs(t *testing.T) {
	queue := mocks.NewJobQueue()
	cid := uuid.New()
	id1, err := queue.Enqueue(context.Background(), domain.JobIngest, &cid, map[string]any{"n": 1}, "k1")
	require.NoError(t, err)
	id2, err := queue.Enqueue(context.Background(), domain.JobIngest, &cid, map[string]any{"n": 2}, "k2")
	require.NoError(t, err)

	startPool(t, queue, func(p *Pool) {
		p.Register(domain.JobIngest, ExecutorFunc(func(_ context.Context, job *domain.Job, _ Heartbeat) (map[string]any, error) {
			return map[string]any{"echo": job.Payload["n"]}, nil
		}))
	})

	require.Eventually(t, func() bool {
		return jobState(t, queue, id1).State == domain.JobDone &&
			jobState(t, queue, id2).State == domain.JobDone
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, map[string]any{"echo": 1}, jobState(t, queue, id1).Result)
}

func TestPool_RetryableFailureRequeues(t *testing.T) {
	queue := mocks.NewJobQueue()
	cid := uuid.New()
	id, err := queue.Enqueue(context.Background(), domain.JobIngest, &cid, nil, "")
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	startPool(t, queue, func(p *Pool) {
		p.Register(domain.JobIngest, ExecutorFunc(func(context.Context, *domain.Job, Heartbeat) (map[string]any, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return nil, apperr.Unavailable("EMBEDDING_DOWN", "provider flapped", nil)
			}
			return map[string]any{}, nil
		}))
	})

	require.Eventually(t, func() bool {
		return jobState(t, queue, id).State == domain.JobDone
	}, time.Second, 10*time.Millisecond)

	job := jobState(t, queue, id)
	assert.Equal(t, 2, job.Attempts)

	events, err := queue.Events(context.Background(), id)
	require.NoError(t, err)
	var requeued bool
	for _, ev := range events {
		if ev.PrevState == domain.JobRunning && ev.NewState == domain.JobQueued {
			requeued = true
		}
	}
	assert.True(t, requeued)
}

func TestPool_NonRetryableDeadLetters(t *testing.T) {
	queue := mocks.NewJobQueue()
	cid := uuid.New()
	id, err := queue.Enqueue(context.Background(), domain.JobIngest, &cid, nil, "")
	require.NoError(t, err)

	startPool(t, queue, func(p *Pool) {
		p.Register(domain.JobIngest, ExecutorFunc(func(context.Context, *domain.Job, Heartbeat) (map[string]any, error) {
			return nil, apperr.Validation("MODALITY_BLOCKED", "container rejects images")
		}))
	})

	require.Eventually(t, func() bool {
		return jobState(t, queue, id).State == domain.JobFailed
	}, time.Second, 10*time.Millisecond)

	job := jobState(t, queue, id)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, "MODALITY_BLOCKED")
}

func TestPool_OnlyClaimsRegisteredKinds(t *testing.T) {
	queue := mocks.NewJobQueue()
	cid := uuid.New()
	ingestID, err := queue.Enqueue(context.Background(), domain.JobIngest, &cid, nil, "")
	require.NoError(t, err)
	refreshID, err := queue.Enqueue(context.Background(), domain.JobRefresh, &cid, nil, "")
	require.NoError(t, err)

	startPool(t, queue, func(p *Pool) {
		p.Register(domain.JobIngest, ExecutorFunc(func(context.Context, *domain.Job, Heartbeat) (map[string]any, error) {
			return map[string]any{}, nil
		}))
	})

	require.Eventually(t, func() bool {
		return jobState(t, queue, ingestID).State == domain.JobDone
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.JobQueued, jobState(t, queue, refreshID).State)
}

func TestPool_RefusesEmptyRegistry(t *testing.T) {
	pool := NewPool(mocks.NewJobQueue(), Config{}, nil, zap.NewNop())
	err := pool.Run(context.Background())
	require.Error(t, err)
}
