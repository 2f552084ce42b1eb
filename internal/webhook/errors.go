package webhook

import "errors"

// ErrNoPublicIP is returned by the safe HTTP client when every address a
// hostname resolves to is filtered out as non-public. The dispatcher
// classifies this as non-retryable: retrying will not change DNS.
var ErrNoPublicIP = errors.New("no public IPv4 address found for host")

// ErrRetryInvalid is returned by the queue's Retry finalizer when the job
// has already reached max_attempts. The dispatcher must convert this into
// a Fail call with the same underlying error.
var ErrRetryInvalid = errors.New("retry refused: attempts exhausted")

// ErrJobNotFound is returned when a job ID referenced by a finalizer no
// longer exists (it should always exist inside the leasing transaction;
// surfaced mainly for defensive checks and tests).
var ErrJobNotFound = errors.New("job not found")
