package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

// JobQueue implements repository.JobQueue on the jobs and job_events tables.
// Claim uses FOR UPDATE SKIP LOCKED so concurrent claimers never observe the
// same job, and every transition appends one job_events row in the same
// transaction.
type JobQueue struct {
	store *Store

	// BackoffBase and BackoffCap shape retry scheduling; zero values fall
	// back to 2s / 5m.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

const jobColumns = `id, kind, state, container_id, payload, result,
	coalesce(idempotency_key, ''), attempts, max_attempts, worker_id,
	lease_expires_at, last_error, created_at, updated_at`

func (q *JobQueue) Enqueue(ctx context.Context, kind domain.JobKind, containerID *uuid.UUID, payload map[string]any, idempotencyKey string) (uuid.UUID, error) {
	body, err := json.Marshal(orEmpty(payload))
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal job payload: %w", err)
	}

	jobID := uuid.New()
	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey
	}

	err = q.store.withTx(ctx, func(tx pgx.Tx) error {
		if key != nil {
			var existing uuid.UUID
			err := tx.QueryRow(ctx, `
				SELECT id FROM jobs
				WHERE idempotency_key = $1 AND state IN ('queued', 'running')`,
				*key).Scan(&existing)
			if err == nil {
				jobID = existing
				return nil
			}
			if err != pgx.ErrNoRows {
				return fmt.Errorf("idempotency lookup: %w", err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO jobs (id, kind, state, container_id, payload, idempotency_key)
			VALUES ($1, $2, 'queued', $3, $4, $5)`,
			jobID, string(kind), containerID, body, key)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return appendEvent(ctx, tx, jobID, "", domain.JobQueued, "", "enqueued")
	})
	if err != nil {
		return uuid.Nil, err
	}
	return jobID, nil
}

// Claim leases the oldest eligible queued job. Ties on created_at break
// randomly per worker so duplicate submissions do not herd onto one worker.
func (q *JobQueue) Claim(ctx context.Context, workerID string, kinds []domain.JobKind, lease time.Duration) (*domain.Job, error) {
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}

	var job *domain.Job
	err := q.store.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE jobs SET
				state = 'running',
				worker_id = $1,
				lease_expires_at = now() + make_interval(secs => $2),
				attempts = attempts + 1,
				updated_at = now()
			WHERE id = (
				SELECT id FROM jobs
				WHERE state = 'queued' AND run_after <= now() AND kind = ANY($3)
				ORDER BY created_at, random()
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+jobColumns,
			workerID, lease.Seconds(), kindStrs)
		j, err := scanJob(row)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return nil
			}
			return err
		}
		job = j
		return appendEvent(ctx, tx, j.ID, domain.JobQueued, domain.JobRunning, workerID, "claimed")
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (q *JobQueue) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string, lease time.Duration) error {
	tag, err := q.store.pool.Exec(ctx, `
		UPDATE jobs SET lease_expires_at = now() + make_interval(secs => $3), updated_at = now()
		WHERE id = $1 AND worker_id = $2 AND state = 'running'`,
		jobID, workerID, lease.Seconds())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(string(domain.IssueLeaseLost), "job lease is no longer held by this worker")
	}
	return nil
}

func (q *JobQueue) Complete(ctx context.Context, jobID uuid.UUID, workerID string, result map[string]any) error {
	body, err := json.Marshal(orEmpty(result))
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	return q.store.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE jobs SET state = 'done', result = $3, lease_expires_at = NULL,
				updated_at = now()
			WHERE id = $1 AND worker_id = $2 AND state = 'running'`,
			jobID, workerID, body)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict(string(domain.IssueLeaseLost), "job lease is no longer held by this worker")
		}
		return appendEvent(ctx, tx, jobID, domain.JobRunning, domain.JobDone, workerID, "completed")
	})
}

func (q *JobQueue) Fail(ctx context.Context, jobID uuid.UUID, workerID string, cause string, retryable bool) (domain.JobState, error) {
	if len(cause) > 500 {
		cause = cause[:500]
	}
	var next domain.JobState
	err := q.store.withTx(ctx, func(tx pgx.Tx) error {
		var attempts, maxAttempts int
		err := tx.QueryRow(ctx, `
			SELECT attempts, max_attempts FROM jobs
			WHERE id = $1 AND worker_id = $2 AND state = 'running'
			FOR UPDATE`, jobID, workerID).Scan(&attempts, &maxAttempts)
		if err == pgx.ErrNoRows {
			return apperr.Conflict(string(domain.IssueLeaseLost), "job lease is no longer held by this worker")
		}
		if err != nil {
			return fmt.Errorf("load job for fail: %w", err)
		}

		if retryable && attempts < maxAttempts {
			next = domain.JobQueued
			delay := q.backoff(attempts)
			_, err = tx.Exec(ctx, `
				UPDATE jobs SET state = 'queued', worker_id = '',
					lease_expires_at = NULL, run_after = now() + make_interval(secs => $2),
					last_error = $3, updated_at = now()
				WHERE id = $1`, jobID, delay.Seconds(), cause)
			if err != nil {
				return fmt.Errorf("requeue job: %w", err)
			}
			return appendEvent(ctx, tx, jobID, domain.JobRunning, domain.JobQueued,
				workerID, fmt.Sprintf("retryable failure (attempt %d/%d): %s", attempts, maxAttempts, cause))
		}

		next = domain.JobFailed
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET state = 'failed', worker_id = '',
				lease_expires_at = NULL, last_error = $2, updated_at = now()
			WHERE id = $1`, jobID, cause)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		reason := "failure: " + cause
		if retryable {
			reason = "dead_letter: attempts exhausted: " + cause
		}
		return appendEvent(ctx, tx, jobID, domain.JobRunning, domain.JobFailed, workerID, reason)
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// Reap requeues running jobs whose lease expired. Attempts stay untouched;
// the next Claim increments them.
func (q *JobQueue) Reap(ctx context.Context) (int, error) {
	var reaped int
	err := q.store.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE jobs SET state = 'queued', worker_id = '',
				lease_expires_at = NULL, updated_at = now()
			WHERE state = 'running' AND lease_expires_at < now()
			RETURNING id`)
		if err != nil {
			return fmt.Errorf("reap jobs: %w", err)
		}
		var ids []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if err := appendEvent(ctx, tx, id, domain.JobRunning, domain.JobQueued, "", "reaped: lease expired"); err != nil {
				return err
			}
		}
		reaped = len(ids)
		return nil
	})
	return reaped, err
}

func (q *JobQueue) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.store.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return nil, fmt.Errorf("get jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (q *JobQueue) Events(ctx context.Context, jobID uuid.UUID) ([]domain.JobEvent, error) {
	rows, err := q.store.pool.Query(ctx, `
		SELECT id, job_id, prev_state, new_state, worker_id, reason, created_at
		FROM job_events WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	var out []domain.JobEvent
	for rows.Next() {
		var (
			ev   domain.JobEvent
			prev string
			next string
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &prev, &next, &ev.WorkerID, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.PrevState = domain.JobState(prev)
		ev.NewState = domain.JobState(next)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (q *JobQueue) QueuedDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := q.store.pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE state = 'queued'`).Scan(&depth)
	return depth, err
}

// backoff computes exponential delay with ±20% jitter: base·2^(attempt−1),
// capped.
func (q *JobQueue) backoff(attempt int) time.Duration {
	base := q.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	ceiling := q.BackoffCap
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > ceiling {
		d = ceiling
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func appendEvent(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, prev, next domain.JobState, workerID, reason string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO job_events (job_id, prev_state, new_state, worker_id, reason)
		VALUES ($1, $2, $3, $4, $5)`,
		jobID, string(prev), string(next), workerID, reason)
	if err != nil {
		return fmt.Errorf("append job event: %w", err)
	}
	return nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j       domain.Job
		kind    string
		state   string
		payload []byte
		result  []byte
	)
	err := row.Scan(
		&j.ID, &kind, &state, &j.ContainerID, &payload, &result,
		&j.IdempotencyKey, &j.Attempts, &j.MaxAttempts, &j.WorkerID,
		&j.LeaseExpiresAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("JOB_NOT_FOUND", "job does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Kind = domain.JobKind(kind)
	j.State = domain.JobState(state)
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &j.Payload)
	}
	if len(result) > 0 {
		_ = json.Unmarshal(result, &j.Result)
	}
	return &j, nil
}
