package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHookWorkerConfigValidateFillsDefaults(t *testing.T) {
	cfg := &HookWorkerConfig{}

	assert.NoError(t, cfg.Validate())

	assert.Equal(t, "default", cfg.Queue)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 100, cfg.DequeueBatchSize)
	assert.Equal(t, 50, cfg.MaxConcurrentJobs)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseInterval)
	assert.Equal(t, 10*time.Minute, cfg.RetryMaxInterval)
	assert.Equal(t, 30*time.Second, cfg.LivenessMaxAge)
}

func TestHookWorkerConfigValidatePreservesExplicitValues(t *testing.T) {
	cfg := &HookWorkerConfig{
		Queue:             "priority",
		PollInterval:      5 * time.Second,
		DequeueBatchSize:  20,
		MaxConcurrentJobs: 5,
		RequestTimeout:    2 * time.Second,
		RetryBaseInterval: time.Second,
		RetryMaxInterval:  time.Minute,
		LivenessMaxAge:    10 * time.Second,
	}

	assert.NoError(t, cfg.Validate())

	assert.Equal(t, "priority", cfg.Queue)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 20, cfg.DequeueBatchSize)
	assert.Equal(t, 5, cfg.MaxConcurrentJobs)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Second, cfg.RetryBaseInterval)
	assert.Equal(t, time.Minute, cfg.RetryMaxInterval)
	assert.Equal(t, 10*time.Second, cfg.LivenessMaxAge)
}
