package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/hookworker/internal/retry"
	"github.com/rezkam/hookworker/internal/safehttp"
	"github.com/rezkam/hookworker/internal/webhook"
)

// fakeSender lets each test control exactly what Send returns.
type fakeSender struct {
	result *safehttp.Result
	err    error
}

func (f *fakeSender) Send(ctx context.Context, p webhook.Parameters) (*safehttp.Result, error) {
	return f.result, f.err
}

// fakeJob is an in-memory queue.Job, recording which finalizer was called.
type fakeJob struct {
	record webhook.Job

	completed bool
	failed    *webhook.ErrorRecord
	retried   *webhook.ErrorRecord
	retryErr  error
	newQueue  string
	interval  time.Duration
}

func (j *fakeJob) Record() webhook.Job { return j.record }

func (j *fakeJob) Complete(ctx context.Context) error {
	j.completed = true
	return nil
}

func (j *fakeJob) Fail(ctx context.Context, rec webhook.ErrorRecord) error {
	j.failed = &rec
	return nil
}

func (j *fakeJob) Retry(ctx context.Context, rec webhook.ErrorRecord, interval time.Duration, newQueue string) error {
	if j.retryErr != nil {
		return j.retryErr
	}
	j.retried = &rec
	j.interval = interval
	j.newQueue = newQueue
	return nil
}

func newJob(attempt, maxAttempts int) *fakeJob {
	return &fakeJob{record: webhook.Job{
		ID:          "job-1",
		Queue:       "webhooks",
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Parameters:  webhook.Parameters{Method: webhook.MethodPost, URL: "http://example.invalid"},
	}}
}

func testPolicy() retry.Policy {
	return retry.Policy{BaseInterval: time.Millisecond, MaxInterval: time.Millisecond, Router: retry.SuffixSlowQueue{}}
}

func TestDispatchSuccessCompletesJob(t *testing.T) {
	d := New(&fakeSender{result: &safehttp.Result{StatusCode: 200}}, testPolicy())
	job := newJob(1, 5)

	outcome, err := d.Dispatch(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "completed", outcome.Terminal)
	assert.True(t, job.completed)
}

func TestDispatchParseErrorFails(t *testing.T) {
	d := New(&fakeSender{err: &safehttp.ParseError{Stage: "url", Err: assertErr("bad url")}}, testPolicy())
	job := newJob(1, 5)

	outcome, err := d.Dispatch(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "failed", outcome.Terminal)
	require.NotNil(t, job.failed)
	assert.Equal(t, webhook.ErrorKindParse, job.failed.Kind)
}

func TestDispatchNon429HTTPErrorFails(t *testing.T) {
	d := New(&fakeSender{err: &safehttp.HTTPError{StatusCode: 404}}, testPolicy())
	job := newJob(1, 5)

	outcome, err := d.Dispatch(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "failed", outcome.Terminal)
	assert.Equal(t, 404, outcome.StatusCode)
}

func TestDispatch429Retries(t *testing.T) {
	d := New(&fakeSender{err: &safehttp.HTTPError{StatusCode: 429, RetryAfter: 5 * time.Second, HasRetryAfter: true}}, testPolicy())
	job := newJob(1, 5)

	outcome, err := d.Dispatch(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "retried", outcome.Terminal)
	assert.Equal(t, 5*time.Second, job.interval)
	assert.Equal(t, "webhooks_slow", job.newQueue)
}

func TestDispatch5xxRetries(t *testing.T) {
	d := New(&fakeSender{err: &safehttp.HTTPError{StatusCode: 503}}, testPolicy())
	job := newJob(1, 5)

	outcome, err := d.Dispatch(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "retried", outcome.Terminal)
}

func TestDispatchTransportErrorRetries(t *testing.T) {
	d := New(&fakeSender{err: &safehttp.TransportError{Err: assertErr("connection refused")}}, testPolicy())
	job := newJob(1, 5)

	outcome, err := d.Dispatch(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "retried", outcome.Terminal)
}

func TestDispatchNoPublicIPFailsDespiteBeingATransportError(t *testing.T) {
	d := New(&fakeSender{err: &safehttp.TransportError{Err: webhook.ErrNoPublicIP}}, testPolicy())
	job := newJob(1, 5)

	outcome, err := d.Dispatch(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "failed", outcome.Terminal)
}

func TestDispatchRetryInvalidConvertsToFail(t *testing.T) {
	d := New(&fakeSender{err: &safehttp.HTTPError{StatusCode: 500}}, testPolicy())
	job := newJob(5, 5)
	job.retryErr = webhook.ErrRetryInvalid

	outcome, err := d.Dispatch(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "failed", outcome.Terminal)
	require.NotNil(t, job.failed)
}

type assertErrType string

func (e assertErrType) Error() string { return string(e) }

func assertErr(msg string) error { return assertErrType(msg) }
