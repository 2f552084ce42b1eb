package workerloop

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the OTel instruments emitted once per batch/job. Modeled on
// the webhook-processor metrics set (processed/retry/dlq counters, a
// duration histogram), generalized with a saturation gauge for the bounded
// dispatch semaphore, which has no counterpart in that reference.
type metrics struct {
	batchSize     metric.Int64Histogram
	jobDuration   metric.Float64Histogram
	terminalTotal metric.Int64Counter
	saturation    metric.Float64ObservableGauge
}

func newMetrics(meter metric.Meter, inFlight func() float64) (*metrics, error) {
	batchSize, err := meter.Int64Histogram(
		"hookworker.batch.size",
		metric.WithDescription("Number of jobs leased per dequeue batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batch size histogram: %w", err)
	}

	jobDuration, err := meter.Float64Histogram(
		"hookworker.job.duration.seconds",
		metric.WithDescription("Time spent dispatching a single webhook job"),
	)
	if err != nil {
		return nil, fmt.Errorf("create job duration histogram: %w", err)
	}

	terminalTotal, err := meter.Int64Counter(
		"hookworker.job.terminal.total",
		metric.WithDescription("Jobs reaching a terminal outcome, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create terminal counter: %w", err)
	}

	saturation, err := meter.Float64ObservableGauge(
		"hookworker.dispatch.saturation",
		metric.WithDescription("Fraction of the dispatch concurrency limit currently in use"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(inFlight())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create saturation gauge: %w", err)
	}

	return &metrics{
		batchSize:     batchSize,
		jobDuration:   jobDuration,
		terminalTotal: terminalTotal,
		saturation:    saturation,
	}, nil
}

func (m *metrics) recordTerminal(ctx context.Context, queue, outcome string, duration float64) {
	m.terminalTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", outcome),
	))
	m.jobDuration.Record(ctx, duration, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", outcome),
	))
}
