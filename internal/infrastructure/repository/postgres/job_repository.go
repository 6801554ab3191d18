package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

type JobRepositoryOptions struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Lease       time.Duration
}

func (o JobRepositoryOptions) normalize() JobRepositoryOptions {
	out := o
	if out.BackoffBase <= 0 {
		out.BackoffBase = 10 * time.Second
	}
	if out.BackoffMax <= 0 {
		out.BackoffMax = 10 * time.Minute
	}
	if out.BackoffMax < out.BackoffBase {
		out.BackoffMax = out.BackoffBase
	}
	if out.Lease <= 0 {
		out.Lease = 2 * time.Minute
	}
	return out
}

// JobRepository is the durable work queue over the jobs table. Concurrent
// claimers never receive the same job: the claim locks candidate rows with
// FOR UPDATE SKIP LOCKED, so competing workers take disjoint batches without
// blocking on each other.
type JobRepository struct {
	db   *sql.DB
	opts JobRepositoryOptions
}

func NewJobRepository(db *sql.DB, opts JobRepositoryOptions) *JobRepository {
	return &JobRepository{db: db, opts: opts.normalize()}
}

// enqueueEmbedJob inserts a pending job inside the writer's transaction.
func enqueueEmbedJob(ctx context.Context, tx *sql.Tx, messageID, model string, now time.Time) error {
	payload, err := domain.EmbedPayload{MessageID: messageID, Model: model}.Marshal()
	if err != nil {
		return fmt.Errorf("marshal embed payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO jobs (id, kind, payload, status, attempts, not_before, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, $5, $5, $5)
`, uuid.NewString(), domain.JobKindEmbedMessage, payload, string(domain.JobPending), now)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) ClaimBatch(ctx context.Context, kind string, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
WITH claimed AS (
	SELECT id
	FROM jobs
	WHERE kind = $1 AND status = $2 AND not_before <= NOW()
	ORDER BY not_before, created_at
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
UPDATE jobs j
SET status = $4, lease_expires_at = NOW() + make_interval(secs => $5), updated_at = NOW()
FROM claimed
WHERE j.id = claimed.id
RETURNING j.id, j.kind, j.payload, j.status, j.attempts, j.not_before, j.lease_expires_at, j.last_error, j.created_at, j.updated_at
`, kind, string(domain.JobPending), limit, string(domain.JobRunning), r.opts.Lease.Seconds())
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "claim jobs", err)
	}
	defer rows.Close()

	out := make([]domain.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "iterate claimed jobs", err)
	}
	return out, nil
}

func (r *JobRepository) Complete(ctx context.Context, jobID string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = $2, lease_expires_at = NULL, updated_at = NOW()
WHERE id = $1
`, jobID, string(domain.JobCompleted))
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return requireRow(result, jobID)
}

func (r *JobRepository) Fail(ctx context.Context, job domain.Job, errMsg string, retry bool) error {
	if !retry {
		result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = $2, last_error = $3, lease_expires_at = NULL, updated_at = NOW()
WHERE id = $1
`, job.ID, string(domain.JobFailed), errMsg)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		return requireRow(result, job.ID)
	}

	delay := RetryBackoff(r.opts.BackoffBase, r.opts.BackoffMax, job.Attempts+1)
	result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = $2, attempts = attempts + 1, last_error = $3, lease_expires_at = NULL,
	not_before = NOW() + make_interval(secs => $4), updated_at = NOW()
WHERE id = $1
`, job.ID, string(domain.JobPending), errMsg, delay.Seconds())
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return requireRow(result, job.ID)
}

// ReclaimExpired returns running jobs whose lease ran out (worker died
// mid-batch) to pending so no job is ever lost.
func (r *JobRepository) ReclaimExpired(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = $1, lease_expires_at = NULL, updated_at = NOW()
WHERE status = $2 AND lease_expires_at < NOW()
`, string(domain.JobPending), string(domain.JobRunning))
	if err != nil {
		return 0, domain.WrapError(domain.ErrStoreUnavailable, "reclaim jobs", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim rows affected: %w", err)
	}
	return int(count), nil
}

// RetryBackoff is base doubled per attempt, capped at max. The schedule is
// computed from NOW() at failure time, so consecutive retries always push
// not_before strictly forward.
func RetryBackoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func requireRow(result sql.Result, jobID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("job rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, "update job", fmt.Errorf("job %s", jobID))
	}
	return nil
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var status string
	var lease sql.NullTime
	var lastError sql.NullString
	err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.Payload,
		&status,
		&job.Attempts,
		&job.NotBefore,
		&lease,
		&lastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	if lease.Valid {
		job.LeaseExpiresAt = lease.Time
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}
	return job, nil
}
