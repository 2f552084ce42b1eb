// Package retry computes retry backoff intervals and retry-queue routing.
// Policy is a pure function object parameterized over its randomness
// source: two calls with the same inputs and the same jitter source
// produce identical results, which is what makes the backoff math
// reproducible in tests.
package retry

import (
	"crypto/rand"
	"io"
	"math"
	"math/big"
	"time"
)

// RouteStrategy decides which queue a retried job should be rescheduled
// onto. The contract (spec §4.5): retries never return to a
// higher-priority queue than they came from. The exact mapping is
// configuration, exposed as a pluggable strategy per the spec's open
// question ("implementers should expose it as a pluggable strategy").
type RouteStrategy interface {
	Route(currentQueue string) string
}

// SuffixSlowQueue is the default RouteStrategy: it demotes a job to
// "<queue><Suffix>" the first time it is retried, and leaves it there on
// subsequent retries (so it never promotes back to the fast queue).
type SuffixSlowQueue struct {
	Suffix string // defaults to "_slow" when empty
}

func (s SuffixSlowQueue) Route(currentQueue string) string {
	suffix := s.Suffix
	if suffix == "" {
		suffix = "_slow"
	}
	if len(currentQueue) >= len(suffix) && currentQueue[len(currentQueue)-len(suffix):] == suffix {
		return currentQueue // already on the slow queue
	}
	return currentQueue + suffix
}

// Policy computes retry intervals with exponential backoff and full
// jitter, capped at MaxInterval, and routes retries via Router.
type Policy struct {
	// BaseInterval bounds the jittered delay before the first retry
	// (attempt 1); each later attempt doubles the bound.
	BaseInterval time.Duration
	// MaxInterval caps the computed backoff before jitter and before
	// applying any Retry-After floor.
	MaxInterval time.Duration
	// Router assigns the queue a retry is rescheduled onto. Defaults to
	// SuffixSlowQueue{} when nil.
	Router RouteStrategy
	// JitterSource supplies randomness for the full-jitter backoff
	// calculation. Defaults to crypto/rand.Reader when nil. Tests can
	// inject a seeded *math/rand.Rand (it implements io.Reader) to make
	// Interval's jitter reproducible.
	JitterSource io.Reader
}

// DefaultPolicy returns the policy used when a worker isn't configured
// with its own backoff parameters.
func DefaultPolicy() Policy {
	return Policy{
		BaseInterval: 100 * time.Millisecond,
		MaxInterval:  10 * time.Minute,
		Router:       SuffixSlowQueue{},
	}
}

// Interval computes the delay before the next attempt. attempt is the
// 1-based attempt count just recorded by the lease (i.e. the attempt that
// just failed). retryAfterHint, when present, is the destination's
// requested minimum delay; the returned interval is never shorter than it.
func (p Policy) Interval(attempt int, retryAfterHint time.Duration, hasRetryAfterHint bool) time.Duration {
	backoff := backoffDuration(attempt, p.BaseInterval, p.MaxInterval, p.jitterSource())

	if hasRetryAfterHint && retryAfterHint > backoff {
		backoff = retryAfterHint
	}
	return backoff
}

// jitterSource returns p.JitterSource, falling back to crypto/rand.Reader.
func (p Policy) jitterSource() io.Reader {
	if p.JitterSource != nil {
		return p.JitterSource
	}
	return rand.Reader
}

// Route returns the queue a retry should be rescheduled onto.
func (p Policy) Route(currentQueue string) string {
	router := p.Router
	if router == nil {
		router = SuffixSlowQueue{}
	}
	return router.Route(currentQueue)
}

// backoffDuration computes full-jitter exponential backoff: a uniformly
// random duration in [0, min(maxInterval, base*2^(attempt-1))), drawn from
// src. Ported from the teacher's calculateRetryDelay
// (internal/infrastructure/persistence/postgres/coordinator.go), generalized
// from a fixed base/max pair to Policy's configured ones, and from a
// hardcoded crypto/rand.Reader to an injectable source so the jitter is
// reproducible in tests.
func backoffDuration(attempt int, base, max time.Duration, src io.Reader) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	exp := math.Pow(2, float64(attempt-1))
	upper := float64(base) * exp
	if max > 0 && upper > float64(max) {
		upper = float64(max)
	}

	ceiling := int64(upper)
	if ceiling <= 0 {
		return base
	}

	jitter, err := rand.Int(src, big.NewInt(ceiling))
	if err != nil {
		return base
	}
	return time.Duration(jitter.Int64())
}
