package safehttp

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRetryAfterInteger(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "120")
	now := time.Now()

	d, ok := parseRetryAfter(h, now)

	assert.True(t, ok)
	assert.Equal(t, 120*time.Second, d)
}

func TestParseRetryAfterNegativeIntegerRejected(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "-5")

	_, ok := parseRetryAfter(h, time.Now())

	assert.False(t, ok)
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	future := now.Add(90 * time.Second)

	h := http.Header{}
	h.Set("Retry-After", future.Format(http.TimeFormat))

	d, ok := parseRetryAfter(h, now)

	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)
}

func TestParseRetryAfterPastDateRejected(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-90 * time.Second)

	h := http.Header{}
	h.Set("Retry-After", past.Format(http.TimeFormat))

	_, ok := parseRetryAfter(h, now)

	assert.False(t, ok)
}

func TestParseRetryAfterMalformedRejected(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "not-a-valid-value")

	_, ok := parseRetryAfter(h, time.Now())

	assert.False(t, ok)
}

func TestParseRetryAfterMissingHeader(t *testing.T) {
	_, ok := parseRetryAfter(http.Header{}, time.Now())

	assert.False(t, ok)
}
