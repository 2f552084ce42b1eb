package workerloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/rezkam/hookworker/internal/dispatcher"
	"github.com/rezkam/hookworker/internal/queue"
	"github.com/rezkam/hookworker/internal/retry"
	"github.com/rezkam/hookworker/internal/safehttp"
	"github.com/rezkam/hookworker/internal/webhook"
)

type fakeJob struct {
	record    webhook.Job
	completed int32
}

func (j *fakeJob) Record() webhook.Job { return j.record }
func (j *fakeJob) Complete(ctx context.Context) error {
	atomic.StoreInt32(&j.completed, 1)
	return nil
}
func (j *fakeJob) Fail(ctx context.Context, rec webhook.ErrorRecord) error { return nil }
func (j *fakeJob) Retry(ctx context.Context, rec webhook.ErrorRecord, interval time.Duration, newQueue string) error {
	return nil
}

type fakeBatch struct {
	jobs       []queue.Job
	committed  int32
	rolledBack int32
}

func (b *fakeBatch) Jobs() []queue.Job { return b.jobs }
func (b *fakeBatch) Commit(ctx context.Context) error {
	atomic.StoreInt32(&b.committed, 1)
	return nil
}
func (b *fakeBatch) Rollback(ctx context.Context) error {
	atomic.StoreInt32(&b.rolledBack, 1)
	return nil
}

type fakeQueue struct {
	batches []queue.Batch
	calls   int32
}

func (q *fakeQueue) Enqueue(ctx context.Context, job webhook.NewJob) (string, error) { return "", nil }
func (q *fakeQueue) DequeueTx(ctx context.Context, workerID, queueName string, batchSize int) (queue.Batch, error) {
	i := int(atomic.AddInt32(&q.calls, 1)) - 1
	if i >= len(q.batches) {
		return nil, nil
	}
	return q.batches[i], nil
}

type fakeSender struct{}

func (fakeSender) Send(ctx context.Context, p webhook.Parameters) (*safehttp.Result, error) {
	return &safehttp.Result{StatusCode: 200}, nil
}

func TestPollOnceCommitsBatchOnSuccess(t *testing.T) {
	job := &fakeJob{record: webhook.Job{ID: "j1", Queue: "webhooks"}}
	batch := &fakeBatch{jobs: []queue.Job{job}}
	q := &fakeQueue{batches: []queue.Batch{batch}}
	d := dispatcher.New(fakeSender{}, retry.DefaultPolicy())

	loop, err := New(q, d, Config{
		WorkerID: "w1", PollInterval: time.Hour, DequeueBatchSize: 10, MaxConcurrentJobs: 4, LivenessMaxAge: time.Minute,
	}, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	require.NoError(t, loop.pollOnce(context.Background()))
	loop.wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&batch.committed))
	assert.EqualValues(t, 1, atomic.LoadInt32(&job.completed))
}

func TestPollOnceNoJobsIsNotAnError(t *testing.T) {
	q := &fakeQueue{}
	d := dispatcher.New(fakeSender{}, retry.DefaultPolicy())

	loop, err := New(q, d, Config{
		WorkerID: "w1", PollInterval: time.Hour, DequeueBatchSize: 10, MaxConcurrentJobs: 4, LivenessMaxAge: time.Minute,
	}, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	assert.NoError(t, loop.pollOnce(context.Background()))
	loop.wg.Wait()
}

func TestPollOnceReleasesSemaphoreAfterBatchCompletes(t *testing.T) {
	job := &fakeJob{record: webhook.Job{ID: "j1", Queue: "webhooks"}}
	batch := &fakeBatch{jobs: []queue.Job{job}}
	q := &fakeQueue{batches: []queue.Batch{batch}}
	d := dispatcher.New(fakeSender{}, retry.DefaultPolicy())

	loop, err := New(q, d, Config{
		WorkerID: "w1", PollInterval: time.Hour, DequeueBatchSize: 10, MaxConcurrentJobs: 4, LivenessMaxAge: time.Minute,
	}, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	require.NoError(t, loop.pollOnce(context.Background()))
	loop.wg.Wait()

	assert.Equal(t, float64(0), loop.saturationRatio())
}

func TestPollOnceDoesNotBlockUntilBatchFinishes(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	job := &fakeJob{record: webhook.Job{ID: "j1", Queue: "webhooks"}}
	batch := &fakeBatch{jobs: []queue.Job{job}}
	q := &fakeQueue{batches: []queue.Batch{batch}}
	d := dispatcher.New(blockingSender{started: started, release: release}, retry.DefaultPolicy())

	loop, err := New(q, d, Config{
		WorkerID: "w1", PollInterval: time.Hour, DequeueBatchSize: 10, MaxConcurrentJobs: 4, LivenessMaxAge: time.Minute,
	}, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- loop.pollOnce(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pollOnce did not return promptly; it should not wait for dispatch to finish")
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("dispatch never started")
	}

	assert.EqualValues(t, 0, atomic.LoadInt32(&batch.committed))

	close(release)
	loop.wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&batch.committed))
}

type blockingSender struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingSender) Send(ctx context.Context, p webhook.Parameters) (*safehttp.Result, error) {
	close(b.started)
	<-b.release
	return &safehttp.Result{StatusCode: 200}, nil
}

func TestSaturationRatioReflectsReservedSemaphoreSlots(t *testing.T) {
	q := &fakeQueue{}
	d := dispatcher.New(fakeSender{}, retry.DefaultPolicy())

	loop, err := New(q, d, Config{
		WorkerID: "w1", PollInterval: time.Hour, DequeueBatchSize: 10, MaxConcurrentJobs: 4, LivenessMaxAge: time.Minute,
	}, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	assert.Equal(t, float64(0), loop.saturationRatio())

	loop.sem <- struct{}{}
	loop.sem <- struct{}{}
	assert.Equal(t, 0.5, loop.saturationRatio())

	<-loop.sem
	<-loop.sem
}
