// Command hookworker runs the webhook delivery worker: it polls a
// PostgreSQL-backed job queue, dispatches leased jobs through an
// SSRF-resistant HTTP client, and retries or fails them according to the
// configured backoff policy.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/rezkam/hookworker/internal/config"
	"github.com/rezkam/hookworker/internal/dispatcher"
	"github.com/rezkam/hookworker/internal/observability"
	"github.com/rezkam/hookworker/internal/queue/postgres"
	"github.com/rezkam/hookworker/internal/retry"
	"github.com/rezkam/hookworker/internal/safehttp"
	"github.com/rezkam/hookworker/internal/workerloop"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadHookWorkerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	obsCfg := observability.Config{Enabled: cfg.Observability.OTelEnabled, ServiceName: observability.DefaultServiceName}

	lp, logger, err := observability.InitLogger(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown)
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer shutdownWithTimeout(tp.Shutdown)

	mp, err := observability.InitMeterProvider(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown)

	slog.InfoContext(ctx, "starting hookworker", "queue", cfg.Queue)

	store, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to open queue store: %w", err)
	}
	defer store.Close()

	client := safehttp.NewClient(safehttp.Config{
		RequestTimeout: cfg.RequestTimeout,
	})

	policy := retry.Policy{
		BaseInterval: cfg.RetryBaseInterval,
		MaxInterval:  cfg.RetryMaxInterval,
		Router:       retry.SuffixSlowQueue{},
	}

	worker := dispatcher.New(client, policy)

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("hookworker-%d", os.Getpid())
	}

	loop, err := workerloop.New(store, worker, workerloop.Config{
		WorkerID:          workerID,
		Queue:             cfg.Queue,
		PollInterval:      cfg.PollInterval,
		DequeueBatchSize:  cfg.DequeueBatchSize,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		LivenessMaxAge:    cfg.LivenessMaxAge,
	}, otel.Meter("hookworker"))
	if err != nil {
		return fmt.Errorf("failed to init worker loop: %w", err)
	}

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("worker loop exited: %w", err)
	}

	slog.InfoContext(ctx, "hookworker shut down cleanly")
	return nil
}

func shutdownWithTimeout(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to shut down observability provider", "error", err)
	}
}
