// Package queue defines the transactional job-leasing contract the worker
// loop and dispatcher are built against. The only implementation shipped
// here is internal/queue/postgres, but the interfaces let the dispatcher
// and worker loop be tested against an in-memory fake.
package queue

import (
	"context"
	"time"

	"github.com/rezkam/hookworker/internal/webhook"
)

// Queue is the durable, transactional job store (spec component C1).
type Queue interface {
	// Enqueue inserts a new job in Available status, ready to be leased
	// once ScheduledAt (defaulted to now) elapses.
	Enqueue(ctx context.Context, job webhook.NewJob) (string, error)

	// DequeueTx opens a transaction and atomically leases up to batchSize
	// available jobs from the named queue, returning them together with
	// the open transaction as a Batch. Returns (nil, nil) when no jobs are
	// eligible; the transaction is rolled back before returning in that
	// case.
	DequeueTx(ctx context.Context, workerID, queueName string, batchSize int) (Batch, error)
}

// Batch is the set of jobs leased by a single DequeueTx call, all sharing
// one transaction lifetime. Its jobs must all be finalized (Complete, Fail,
// or Retry) before Commit is called; an uncommitted Batch that is dropped
// (worker crash, process exit) reverts every one of its jobs back to
// Available when the underlying transaction aborts.
type Batch interface {
	Jobs() []Job

	// Commit makes every finalization performed on this batch's jobs
	// durable. Must be called exactly once, after every job has been
	// finalized.
	Commit(ctx context.Context) error

	// Rollback aborts the transaction, reverting every leased job in this
	// batch back to Available. Safe to call after Commit (no-op).
	Rollback(ctx context.Context) error
}

// Job is a single leased job, borrowed from a Batch for the duration of a
// dispatch. Its finalizer methods operate inside the batch's transaction,
// not independently — none of them durably take effect until Batch.Commit.
type Job interface {
	// Record returns a snapshot of the job as leased (post-increment
	// attempt, post-append attempted_by).
	Record() webhook.Job

	// Complete marks the job Completed.
	Complete(ctx context.Context) error

	// Fail appends rec and marks the job Failed (terminal).
	Fail(ctx context.Context, rec webhook.ErrorRecord) error

	// Retry appends rec and marks the job Available again, with
	// ScheduledAt advanced by interval and Queue set to newQueue. Returns
	// webhook.ErrRetryInvalid — without making any change — if Attempt has
	// already reached MaxAttempts; the caller must call Fail instead.
	Retry(ctx context.Context, rec webhook.ErrorRecord, interval time.Duration, newQueue string) error
}
