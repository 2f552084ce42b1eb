// Package workerloop implements the poll-dequeue-dispatch-commit cycle
// (spec component C2): a ticker-driven poll loop grounded on the teacher's
// internal/worker.Worker ticker idiom, generalized from two independent
// schedule/process tickers down to a single poll ticker, and from
// unbounded per-tick goroutines to a batch whose jobs fan out under a
// bounded semaphore and share one commit.
//
// Batch processing is detached from the poll loop itself: pollOnce acquires
// permits for a batch and hands dispatch+commit off to a goroutine, so the
// loop can dequeue the next batch on its next tick, as long as the semaphore
// has room, rather than waiting for the current batch's jobs to finish and
// commit. The
// semaphore is a single Loop-lifetime channel shared across every batch in
// flight, not recreated per batch, so overlapping batches draw from one
// pool of concurrency. Ported from the reference worker's run() (
// _examples/original_source/hook-worker/src/worker.rs), which acquires
// permits from a shared tokio::sync::Semaphore before tokio::spawning the
// batch's processing task and immediately loops to the next dequeue.
package workerloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/rezkam/hookworker/internal/dispatcher"
	"github.com/rezkam/hookworker/internal/health"
	"github.com/rezkam/hookworker/internal/queue"
)

// Config parameterizes a Loop.
type Config struct {
	WorkerID          string
	Queue             string
	PollInterval      time.Duration
	DequeueBatchSize  int
	MaxConcurrentJobs int
	LivenessMaxAge    time.Duration
}

// Loop polls Queue for batches and dispatches every job in a batch
// concurrently, bounded by MaxConcurrentJobs, before committing that
// batch's transaction. Multiple batches can be in flight at once: the loop
// only blocks on dequeuing and on acquiring permits for the next batch,
// never on a previous batch's dispatch or commit.
type Loop struct {
	queue      queue.Queue
	dispatcher *dispatcher.Dispatcher
	cfg        Config
	health     *health.Handle
	metrics    *metrics

	// sem bounds total concurrent job dispatches across every in-flight
	// batch. It is created once, sized MaxConcurrentJobs, and shared: a
	// batch reserves len(jobs) slots before its processing goroutine is
	// spawned, and releases them when that goroutine returns.
	sem chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a Loop. meter may be a no-op meter (e.g. from
// noop.NewMeterProvider()) when observability is disabled.
func New(q queue.Queue, d *dispatcher.Dispatcher, cfg Config, meter metric.Meter) (*Loop, error) {
	if cfg.LivenessMaxAge <= 0 {
		cfg.LivenessMaxAge = 30 * time.Second
	}
	semSize := cfg.MaxConcurrentJobs
	if semSize <= 0 {
		semSize = 1
	}
	// A batch reserves one slot per job before dispatching, so a batch
	// larger than the semaphore could never acquire its slots.
	if cfg.DequeueBatchSize > semSize {
		cfg.DequeueBatchSize = semSize
	}
	l := &Loop{
		queue:      q,
		dispatcher: d,
		cfg:        cfg,
		health:     health.NewHandle(cfg.LivenessMaxAge),
		sem:        make(chan struct{}, semSize),
		done:       make(chan struct{}),
	}

	m, err := newMetrics(meter, l.saturationRatio)
	if err != nil {
		return nil, fmt.Errorf("init workerloop metrics: %w", err)
	}
	l.metrics = m

	return l, nil
}

// Health returns the liveness handle external readiness checks should poll.
func (l *Loop) Health() *health.Handle { return l.health }

func (l *Loop) saturationRatio() float64 {
	if cap(l.sem) == 0 {
		return 0
	}
	return float64(len(l.sem)) / float64(cap(l.sem))
}

// Run blocks, polling until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "worker loop started",
		"worker_id", l.cfg.WorkerID, "queue", l.cfg.Queue, "poll_interval", l.cfg.PollInterval,
		"dequeue_batch_size", l.cfg.DequeueBatchSize, "max_concurrent_jobs", l.cfg.MaxConcurrentJobs)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.health.Report()
			if err := l.pollOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "worker loop iteration failed", "error", err)
			}
		case <-ctx.Done():
			l.wg.Wait()
			return ctx.Err()
		case <-l.done:
			l.wg.Wait()
			return nil
		}
	}
}

// Stop requests the loop to exit. It does not cancel in-flight dispatches:
// an interrupted batch is already the documented crash-equivalent (the
// transaction rolls back and every job in it reverts to Available), so
// there is nothing extra to drain safely here. Run waits for every
// detached batch-processing goroutine spawned by pollOnce to finish before
// it returns.
func (l *Loop) Stop() {
	close(l.done)
}

// pollOnce dequeues a single batch, reserves its jobs' share of the shared
// dispatch semaphore, and hands the batch off to a detached goroutine for
// dispatch and commit. It never waits for that goroutine: once permits are
// reserved and the goroutine is spawned, pollOnce returns so Run can poll
// again on its next tick, bounded only by how much of the semaphore remains
// free.
func (l *Loop) pollOnce(ctx context.Context) error {
	batch, err := l.queue.DequeueTx(ctx, l.cfg.WorkerID, l.cfg.Queue, l.cfg.DequeueBatchSize)
	if err != nil {
		return fmt.Errorf("dequeue batch: %w", err)
	}
	if batch == nil {
		return nil
	}

	jobs := batch.Jobs()
	l.metrics.batchSize.Record(ctx, int64(len(jobs)))
	slog.InfoContext(ctx, "leased batch", "worker_id", l.cfg.WorkerID, "batch_size", len(jobs))

	if err := l.acquire(ctx, len(jobs)); err != nil {
		if rbErr := batch.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback after %w: %w", err, rbErr)
		}
		return err
	}

	l.wg.Add(1)
	go l.processBatch(ctx, batch, jobs)

	return nil
}

// acquire reserves n slots on the shared semaphore, blocking until they are
// free or ctx is cancelled. On cancellation it releases whatever slots it
// had already reserved before returning ctx's error.
func (l *Loop) acquire(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			for ; i > 0; i-- {
				<-l.sem
			}
			return ctx.Err()
		}
	}
	return nil
}

// processBatch dispatches every job in batch concurrently, then commits or
// rolls back the batch as a whole, and finally releases the semaphore slots
// pollOnce reserved for it. It runs detached from Run's poll loop, so
// errors are logged here rather than propagated.
func (l *Loop) processBatch(ctx context.Context, batch queue.Batch, jobs []queue.Job) {
	defer l.wg.Done()
	defer func() {
		for range jobs {
			<-l.sem
		}
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()

			start := time.Now().UTC()
			outcome, dispatchErr := l.dispatcher.Dispatch(ctx, job)
			l.metrics.recordTerminal(ctx, outcome.Queue, outcome.Terminal, time.Since(start).Seconds())

			if dispatchErr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = dispatchErr
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if firstErr != nil {
		slog.ErrorContext(ctx, "batch had finalization failures, rolling back", "worker_id", l.cfg.WorkerID, "error", firstErr)
		if rbErr := batch.Rollback(ctx); rbErr != nil {
			slog.ErrorContext(ctx, "rollback after finalization failure failed", "worker_id", l.cfg.WorkerID, "error", rbErr)
		}
		return
	}

	if err := batch.Commit(ctx); err != nil {
		slog.ErrorContext(ctx, "commit batch failed", "worker_id", l.cfg.WorkerID, "error", err)
	}
}
