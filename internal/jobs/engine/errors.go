package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled    = errors.New("job engine disabled")
	ErrStopped     = errors.New("job engine stopped")
	ErrStopping    = errors.New("job engine stopping")
	ErrQueueFull   = errors.New("job engine queue full")
	ErrOverlapSkip = errors.New("job skipped: previous run still active")
	ErrCircuitOpen = errors.New("job skipped: circuit breaker open")
)

// NoRetry marks a permanent failure so the engine does not retry it.
//
//	return engine.NoRetry(fmt.Errorf("bad pattern: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested delay, e.g. from an HTTP 429 Retry-After
// header. The engine honours it up to RetryMaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// RetryAfterHint extracts the delay carried by err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}
