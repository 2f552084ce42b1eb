package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rezkam/hookworker/internal/queue"
	"github.com/rezkam/hookworker/internal/webhook"
)

// Enqueue inserts job as a new Available row and returns its generated ID.
func (s *Store) Enqueue(ctx context.Context, job webhook.NewJob) (string, error) {
	id := uuid.New()

	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	scheduledAt := job.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO webhook_jobs
			(id, status, queue, target, attempt, max_attempts, attempted_by, scheduled_at, parameters, metadata, errors)
		VALUES
			($1, $2, $3, $4, 0, $5, '{}', $6, $7, $8, '[]')
	`, id, webhook.StatusAvailable, job.Queue, job.Parameters.URL, job.MaxAttempts, scheduledAt, params, metadata)
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue webhook job", "job_id", id, "queue", job.Queue, "error", err)
		return "", fmt.Errorf("insert job: %w", err)
	}

	return id.String(), nil
}

// DequeueTx leases up to batchSize Available jobs on queueName whose
// scheduled_at has elapsed, ordered by scheduled_at with ties broken by
// created_at (insertion order), using SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent workers never contend on the same row. The lease and the
// status/attempt/attempted_by mutation happen in one round trip, inside the
// transaction returned as part of the Batch; nothing is durable until
// Batch.Commit.
func (s *Store) DequeueTx(ctx context.Context, workerID, queueName string, batchSize int) (queue.Batch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	rows, err := tx.Query(ctx, `
		WITH leased AS (
			SELECT id FROM webhook_jobs
			WHERE status = $1 AND queue = $2 AND scheduled_at <= now()
			ORDER BY scheduled_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		UPDATE webhook_jobs
		SET status = $4, attempt = attempt + 1, attempted_by = array_append(attempted_by, $5), updated_at = now()
		FROM leased
		WHERE webhook_jobs.id = leased.id
		RETURNING
			webhook_jobs.id, webhook_jobs.status, webhook_jobs.queue, webhook_jobs.target,
			webhook_jobs.attempt, webhook_jobs.max_attempts, webhook_jobs.attempted_by,
			webhook_jobs.scheduled_at, webhook_jobs.parameters, webhook_jobs.metadata,
			webhook_jobs.errors, webhook_jobs.created_at, webhook_jobs.updated_at
	`, webhook.StatusAvailable, queueName, batchSize, webhook.StatusRunning, workerID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("lease batch: %w", err)
	}

	jobs, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("scan leased batch: %w", err)
	}

	if len(jobs) == 0 {
		_ = tx.Rollback(ctx)
		return nil, nil
	}

	batch := &txBatch{tx: tx}
	batch.jobs = make([]*txJob, len(jobs))
	for i, j := range jobs {
		batch.jobs[i] = &txJob{tx: tx, record: j}
	}
	return batch, nil
}

func scanJobs(rows pgx.Rows) ([]webhook.Job, error) {
	var out []webhook.Job
	for rows.Next() {
		var (
			j                  webhook.Job
			id                 uuid.UUID
			rawParams, rawMeta []byte
			rawErrors          []byte
		)
		if err := rows.Scan(
			&id, &j.Status, &j.Queue, &j.Target,
			&j.Attempt, &j.MaxAttempts, &j.AttemptedBy,
			&j.ScheduledAt, &rawParams, &rawMeta,
			&rawErrors, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, err
		}
		j.ID = id.String()
		if err := json.Unmarshal(rawParams, &j.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters for job %s: %w", j.ID, err)
		}
		if err := json.Unmarshal(rawMeta, &j.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for job %s: %w", j.ID, err)
		}
		if err := json.Unmarshal(rawErrors, &j.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors for job %s: %w", j.ID, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
