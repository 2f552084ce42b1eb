// Package dispatcher executes one leased queue.Job against the safe HTTP
// client and classifies the outcome into a Complete, Fail, or Retry
// finalizer call on that job.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"github.com/rezkam/hookworker/internal/queue"
	"github.com/rezkam/hookworker/internal/retry"
	"github.com/rezkam/hookworker/internal/safehttp"
	"github.com/rezkam/hookworker/internal/webhook"
)

// Sender is the subset of *safehttp.Client the dispatcher depends on,
// narrowed for testability.
type Sender interface {
	Send(ctx context.Context, p webhook.Parameters) (*safehttp.Result, error)
}

// Outcome summarizes what a Dispatch call did, for metrics/logging by the
// caller (internal/workerloop).
type Outcome struct {
	JobID      string
	Queue      string
	StatusCode int    // 0 if no response was obtained
	Terminal   string // "completed", "failed", or "retried"
}

// Dispatcher wires the safe HTTP client and retry policy together.
type Dispatcher struct {
	client Sender
	policy retry.Policy
}

func New(client Sender, policy retry.Policy) *Dispatcher {
	return &Dispatcher{client: client, policy: policy}
}

// Dispatch sends job's request and finalizes it on the transaction it was
// leased under. It never returns an error for ordinary request failures —
// those are folded into the job's Fail/Retry finalization — only for
// failures finalizing the job itself (infrastructure failures that should
// abort the whole batch).
func (d *Dispatcher) Dispatch(ctx context.Context, job queue.Job) (Outcome, error) {
	record := job.Record()
	outcome := Outcome{JobID: record.ID, Queue: record.Queue}

	result, sendErr := d.executeWithRecovery(ctx, job)
	if sendErr == nil {
		outcome.StatusCode = result.StatusCode
		outcome.Terminal = "completed"
		if err := job.Complete(ctx); err != nil {
			return outcome, fmt.Errorf("finalize completed job %s: %w", record.ID, err)
		}
		slog.InfoContext(ctx, "webhook delivered", "job_id", record.ID, "queue", record.Queue, "status", result.StatusCode)
		return outcome, nil
	}

	retryable, statusCode, now := classify(sendErr)
	outcome.StatusCode = statusCode

	errRec := webhook.NewErrorRecord(errorKind(sendErr), sendErr.Error(), now)

	if !retryable {
		outcome.Terminal = "failed"
		if err := job.Fail(ctx, errRec); err != nil {
			return outcome, fmt.Errorf("finalize failed job %s: %w", record.ID, err)
		}
		slog.WarnContext(ctx, "webhook permanently failed", "job_id", record.ID, "queue", record.Queue, "error", sendErr)
		return outcome, nil
	}

	hint, hasHint := retryAfterHint(sendErr)
	interval := d.policy.Interval(record.Attempt, hint, hasHint)
	newQueue := d.policy.Route(record.Queue)

	if err := job.Retry(ctx, errRec, interval, newQueue); err != nil {
		if errors.Is(err, webhook.ErrRetryInvalid) {
			outcome.Terminal = "failed"
			if err := job.Fail(ctx, errRec); err != nil {
				return outcome, fmt.Errorf("finalize exhausted job %s: %w", record.ID, err)
			}
			slog.WarnContext(ctx, "webhook retries exhausted", "job_id", record.ID, "queue", record.Queue, "attempt", record.Attempt)
			return outcome, nil
		}
		return outcome, fmt.Errorf("finalize retry for job %s: %w", record.ID, err)
	}

	outcome.Terminal = "retried"
	slog.InfoContext(ctx, "webhook scheduled for retry", "job_id", record.ID, "queue", newQueue, "interval", interval, "error", sendErr)
	return outcome, nil
}

// executeWithRecovery converts a panic inside the HTTP send path into a
// TransportError rather than letting it escape the batch goroutine and
// take the rest of the batch down with it.
func (d *Dispatcher) executeWithRecovery(ctx context.Context, job queue.Job) (result *safehttp.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			slog.ErrorContext(ctx, "webhook dispatch panicked",
				"job_id", job.Record().ID, "panic", r, "stack", stack)
			err = &safehttp.TransportError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return d.client.Send(ctx, job.Record().Parameters)
}

// classify determines whether err is retryable, the HTTP status code it
// carries (0 if none), and the timestamp to stamp on the resulting error
// record.
func classify(err error) (retryable bool, statusCode int, now time.Time) {
	now = time.Now().UTC()

	var parseErr *safehttp.ParseError
	if errors.As(err, &parseErr) {
		return false, 0, now
	}

	var httpErr *safehttp.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable(), httpErr.StatusCode, now
	}

	var transportErr *safehttp.TransportError
	if errors.As(err, &transportErr) {
		// A resolver that found no public address will never succeed on
		// retry, regardless of how many times the request is attempted.
		if errors.Is(err, webhook.ErrNoPublicIP) {
			return false, 0, now
		}
		return true, 0, now
	}

	return true, 0, now
}

func errorKind(err error) webhook.ErrorKind {
	var parseErr *safehttp.ParseError
	if errors.As(err, &parseErr) {
		return webhook.ErrorKindParse
	}
	var httpErr *safehttp.HTTPError
	if errors.As(err, &httpErr) {
		return webhook.ErrorKindHTTP
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return webhook.ErrorKindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return webhook.ErrorKindTimeout
	}
	return webhook.ErrorKindTransport
}

func retryAfterHint(err error) (time.Duration, bool) {
	var httpErr *safehttp.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter, httpErr.HasRetryAfter
	}
	return 0, false
}
