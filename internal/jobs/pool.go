// Package jobs runs the durable queue's worker side: a fixed pool of
// claim→execute→ack loops plus the lease reaper and queue-depth gauge.
package jobs

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/observability"
	"github.com/llcontext/llcd/internal/repository"
)

// Heartbeat extends the lease on the job currently being executed.
type Heartbeat func(ctx context.Context) error

// Executor runs one claimed job and returns its result payload.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job, beat Heartbeat) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *domain.Job, beat Heartbeat) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, job *domain.Job, beat Heartbeat) (map[string]any, error) {
	return f(ctx, job, beat)
}

// Config sizes the pool and its timers.
type Config struct {
	Workers       int
	Lease         time.Duration
	PollInterval  time.Duration
	ReapInterval  time.Duration
	DepthInterval time.Duration
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.DepthInterval <= 0 {
		c.DepthInterval = 10 * time.Second
	}
}

// Pool owns the worker goroutines for one process.
type Pool struct {
	queue   repository.JobQueue
	execs   map[domain.JobKind]Executor
	cfg     Config
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewPool(queue repository.JobQueue, cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Pool {
	cfg.defaults()
	return &Pool{
		queue:   queue,
		execs:   make(map[domain.JobKind]Executor),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("jobs"),
	}
}

// Register binds an executor to a job kind. The pool only claims kinds that
// have an executor.
func (p *Pool) Register(kind domain.JobKind, exec Executor) {
	p.execs[kind] = exec
}

func (p *Pool) kinds() []domain.JobKind {
	out := make([]domain.JobKind, 0, len(p.execs))
	for k := range p.execs {
		out = append(out, k)
	}
	return out
}

// Run blocks until the context is cancelled, operating the workers, the
// reaper, and the depth gauge. It returns the context's error on shutdown.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.execs) == 0 {
		return apperr.Internal("worker pool has no registered executors", nil)
	}

	host, _ := os.Hostname()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d-%s", host, i, uuid.NewString()[:8])
		g.Go(func() error {
			p.workerLoop(gctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		p.reapLoop(gctx)
		return nil
	})
	g.Go(func() error {
		p.depthLoop(gctx)
		return nil
	})

	_ = g.Wait()
	return ctx.Err()
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) {
	kinds := p.kinds()
	logger := p.logger.With(zap.String("worker_id", workerID))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Claim(ctx, workerID, kinds, p.cfg.Lease)
		if err != nil {
			logger.Warn("claim failed", zap.Error(err))
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}
		p.execute(ctx, workerID, job, logger)
	}
}

func (p *Pool) execute(ctx context.Context, workerID string, job *domain.Job, logger *zap.Logger) {
	kind := string(job.Kind)
	if p.metrics != nil {
		p.metrics.JobsClaimed.WithLabelValues(kind).Inc()
	}
	logger = logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("kind", kind),
		zap.Int("attempt", job.Attempts))

	beat := func(bctx context.Context) error {
		return p.queue.Heartbeat(bctx, job.ID, workerID, p.cfg.Lease)
	}

	start := time.Now()
	result, err := p.execs[job.Kind].Execute(ctx, job, beat)
	if p.metrics != nil {
		p.metrics.JobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		retryable := apperr.IsRetryable(err)
		state, ferr := p.queue.Fail(ctx, job.ID, workerID, err.Error(), retryable)
		if ferr != nil {
			logger.Error("fail transition lost", zap.Error(ferr))
			return
		}
		if p.metrics != nil {
			p.metrics.JobsFailed.WithLabelValues(kind, strconv.FormatBool(retryable)).Inc()
		}
		if state == domain.JobFailed {
			logger.Error("job dead-lettered", zap.String("cause", err.Error()))
		} else {
			logger.Warn("job requeued", zap.Error(err))
		}
		return
	}

	if err := p.queue.Complete(ctx, job.ID, workerID, result); err != nil {
		logger.Error("complete transition lost", zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.JobsCompleted.WithLabelValues(kind).Inc()
	}
	logger.Info("job done", zap.Duration("took", time.Since(start)))
}

func (p *Pool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.Reap(ctx)
			if err != nil {
				p.logger.Warn("reap failed", zap.Error(err))
			} else if n > 0 {
				p.logger.Info("requeued expired leases", zap.Int("jobs", n))
			}
		}
	}
}

func (p *Pool) depthLoop(ctx context.Context) {
	if p.metrics == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(p.cfg.DepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := p.queue.QueuedDepth(ctx)
			if err == nil {
				p.metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
