package gho

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// FetchError classifies an HTTP fetch failure. Transient errors are
// retried with backoff; non-transient errors fail the partition immediately.
type FetchError struct {
	StatusCode int // 0 for network-level errors
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("http status %d: %v", e.StatusCode, e.Err)
	}
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient fetch error
// (5xx, 429, timeouts, connection resets).
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}

// classifyStatus maps an HTTP status code to a FetchError.
// Rate limiting (429) and server errors are transient; other
// client errors are fatal for the partition.
func classifyStatus(status int, err error) *FetchError {
	transient := status >= 500 || status == 429
	return &FetchError{StatusCode: status, Transient: transient, Err: err}
}

// classifyNetErr wraps a transport-level error. Timeouts and connection
// failures are transient; everything else (bad URL, TLS failures, etc.)
// is fatal.
func classifyNetErr(err error) *FetchError {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &FetchError{Transient: true, Err: err}
		}
		// Connection refused/reset surface as *net.OpError inside url.Error
		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) {
			return &FetchError{Transient: true, Err: err}
		}
	}
	return &FetchError{Transient: false, Err: err}
}

// RetryPolicy parameterizes transient-error retries: bounded attempts
// with exponential backoff between them.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy mirrors the production defaults: 3 attempts,
// 1s initial backoff doubling up to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

// Backoff returns the delay before the given retry attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do runs fn under the policy. Only transient errors are retried;
// fatal errors and context cancellation return immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", p.MaxAttempts, lastErr)
}
