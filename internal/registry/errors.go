package registry

import (
	"fmt"
	"time"
)

// TransientError covers 5xx responses and network failures. Retried with
// exponential backoff before being surfaced.
type TransientError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient registry error (HTTP %d) for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("transient registry error for %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError covers HTTP 429. The client waits for RetryAfter and
// retries without consuming the retry budget.
type RateLimitedError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("registry rate limited for %s (retry after %s)", e.URL, e.RetryAfter)
}

// PermanentError covers 4xx responses other than 429 and malformed payloads.
// Never retried.
type PermanentError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent registry error for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("permanent registry error (HTTP %d) for %s", e.StatusCode, e.URL)
}

func (e *PermanentError) Unwrap() error { return e.Err }
