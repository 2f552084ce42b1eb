package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/hookworker/internal/queue"
	"github.com/rezkam/hookworker/internal/webhook"
)

// txBatch is the queue.Batch returned by Store.DequeueTx: every job in it
// was leased inside tx, and none of their finalizations are durable until
// Commit.
type txBatch struct {
	tx   pgx.Tx
	jobs []*txJob
}

func (b *txBatch) Jobs() []queue.Job {
	out := make([]queue.Job, len(b.jobs))
	for i, j := range b.jobs {
		out[i] = j
	}
	return out
}

// Commit finalizes every job's mutation performed against tx.
func (b *txBatch) Commit(ctx context.Context) error {
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Rollback aborts tx, reverting every leased job back to Available.
func (b *txBatch) Rollback(ctx context.Context) error {
	if err := b.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("rollback batch: %w", err)
	}
	return nil
}

// txJob is a single leased job, bound to its batch's transaction.
type txJob struct {
	tx     pgx.Tx
	record webhook.Job
}

func (j *txJob) Record() webhook.Job { return j.record }

func (j *txJob) Complete(ctx context.Context) error {
	_, err := j.tx.Exec(ctx, `
		UPDATE webhook_jobs SET status = $1, updated_at = now() WHERE id = $2
	`, webhook.StatusCompleted, j.record.ID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", j.record.ID, err)
	}
	j.record.Status = webhook.StatusCompleted
	return nil
}

func (j *txJob) Fail(ctx context.Context, rec webhook.ErrorRecord) error {
	errorsJSON, err := j.appendError(rec)
	if err != nil {
		return err
	}

	_, err = j.tx.Exec(ctx, `
		UPDATE webhook_jobs SET status = $1, errors = $2, updated_at = now() WHERE id = $3
	`, webhook.StatusFailed, errorsJSON, j.record.ID)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", j.record.ID, err)
	}
	j.record.Status = webhook.StatusFailed
	return nil
}

func (j *txJob) Retry(ctx context.Context, rec webhook.ErrorRecord, interval time.Duration, newQueue string) error {
	if j.record.Attempt >= j.record.MaxAttempts {
		return webhook.ErrRetryInvalid
	}

	errorsJSON, err := j.appendError(rec)
	if err != nil {
		return err
	}

	scheduledAt := j.record.UpdatedAt.Add(interval)

	_, err = j.tx.Exec(ctx, `
		UPDATE webhook_jobs
		SET status = $1, queue = $2, errors = $3,
		    scheduled_at = now() + ($4 * interval '1 second'), updated_at = now()
		WHERE id = $5
	`, webhook.StatusAvailable, newQueue, errorsJSON, interval.Seconds(), j.record.ID)
	if err != nil {
		return fmt.Errorf("retry job %s: %w", j.record.ID, err)
	}

	j.record.Status = webhook.StatusAvailable
	j.record.Queue = newQueue
	j.record.ScheduledAt = scheduledAt
	return nil
}

func (j *txJob) appendError(rec webhook.ErrorRecord) ([]byte, error) {
	errs := append(append([]webhook.ErrorRecord{}, j.record.Errors...), rec)
	data, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("marshal errors for job %s: %w", j.record.ID, err)
	}
	j.record.Errors = errs
	return data, nil
}
