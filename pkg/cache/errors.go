package cache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache closed")

// RetryableError marks an error as worth retrying.
type RetryableError struct{ Err error }

// Retryable wraps err as a RetryableError. Retryable(nil) is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Backoff configures RetryWithBackoff.
type Backoff struct {
	Attempts int           // total calls, including the first
	Delay    time.Duration // wait before the second call; doubles after each retry
}

// DefaultBackoff makes 3 attempts starting at one second.
var DefaultBackoff = Backoff{Attempts: 3, Delay: time.Second}

// RetryWithBackoff calls fn until it succeeds, returns an error that is not
// retryable, or b.Attempts calls were made. Waiting stops early when ctx is
// done.
func RetryWithBackoff(ctx context.Context, b Backoff, fn func() error) error {
	attempts := max(b.Attempts, 1)
	delay := b.Delay
	var lastErr error
	for i := range attempts {
		err := fn()
		if err == nil {
			return nil
		}
		if lastErr = err; !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return lastErr
}
