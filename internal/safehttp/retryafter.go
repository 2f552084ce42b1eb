package safehttp

import (
	"net/http"
	"strconv"
	"time"
)

// parseRetryAfter reads the Retry-After response header, accepting both the
// integer-seconds form and the RFC 2822 HTTP-date form (via Go's RFC1123
// parsers, which is what net/http itself emits and accepts for HTTP dates).
// A negative delta (a date already in the past) and any malformed value
// both yield (0, false) rather than an error — the header is advisory,
// never load-bearing for correctness.
func parseRetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	value := header.Get("Retry-After")
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	for _, layout := range []string{http.TimeFormat, time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, value); err == nil {
			delta := t.Sub(now)
			if delta < 0 {
				return 0, false
			}
			return delta, true
		}
	}

	return 0, false
}
