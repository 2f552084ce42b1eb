package config

import (
	"fmt"
	"time"

	"github.com/rezkam/hookworker/internal/env"
)

// HookWorkerConfig holds all configuration for the webhook worker binary.
type HookWorkerConfig struct {
	Database      DatabaseConfig
	Observability ObservabilityConfig

	// WorkerID identifies this process in attempted_by history. Defaults to
	// "hookworker-<pid>" when unset.
	WorkerID string `env:"HOOKWORKER_WORKER_ID"`

	// Queue is the queue name this worker polls.
	Queue string `env:"HOOKWORKER_QUEUE"`

	// PollInterval is how often the worker checks for available jobs,
	// whether or not the previous poll found any.
	PollInterval time.Duration `env:"HOOKWORKER_POLL_INTERVAL"`

	// DequeueBatchSize is the maximum number of jobs leased per poll. The
	// worker loop caps it at MaxConcurrentJobs.
	DequeueBatchSize int `env:"HOOKWORKER_DEQUEUE_BATCH_SIZE"`

	// MaxConcurrentJobs bounds how many jobs are dispatched at once across
	// every batch in flight.
	MaxConcurrentJobs int `env:"HOOKWORKER_MAX_CONCURRENT_JOBS"`

	// RequestTimeout bounds a single outbound webhook request.
	RequestTimeout time.Duration `env:"HOOKWORKER_REQUEST_TIMEOUT"`

	// RetryBaseInterval and RetryMaxInterval parameterize the backoff
	// policy (internal/retry.Policy).
	RetryBaseInterval time.Duration `env:"HOOKWORKER_RETRY_BASE_INTERVAL"`
	RetryMaxInterval  time.Duration `env:"HOOKWORKER_RETRY_MAX_INTERVAL"`

	// LivenessMaxAge is how long a worker's heartbeat may go stale before
	// the health handle reports unhealthy.
	LivenessMaxAge time.Duration `env:"HOOKWORKER_LIVENESS_MAX_AGE"`
}

// Validate fills in defaults for unset fields and enforces the invariants
// Load can't express as zero values (env.Load leaves defaults to the
// consumer, per its own doc comment).
func (c *HookWorkerConfig) Validate() error {
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DequeueBatchSize <= 0 {
		c.DequeueBatchSize = 100
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 50
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RetryBaseInterval <= 0 {
		c.RetryBaseInterval = 100 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 10 * time.Minute
	}
	if c.LivenessMaxAge <= 0 {
		c.LivenessMaxAge = 30 * time.Second
	}
	return nil
}

// LoadHookWorkerConfig loads webhook worker configuration from the
// environment. env.Load validates Database and the root config
// automatically, since both implement Validator.
func LoadHookWorkerConfig() (*HookWorkerConfig, error) {
	cfg := &HookWorkerConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load hookworker config: %w", err)
	}
	return cfg, nil
}
