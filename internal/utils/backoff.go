package utils

import (
	"errors"
	"math/rand"
	"time"
)

// retryable is implemented by errors that may succeed on another attempt.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err (or anything it wraps) declares itself
// retryable. Plain errors are not.
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.Retryable()
}

// Backoff retries a function with exponential delays. Sleep is injectable
// so tests run without real waits.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      time.Duration
	MaxAttempts int
	Sleep       func(time.Duration)
}

// Delay returns the pause before attempt+1: Base doubled per attempt,
// capped at Max, plus up to Jitter of random spread.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base << uint(attempt)
	if b.Max > 0 && (d > b.Max || d <= 0) {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It stops
// early on success or on the first non-retryable error and returns the
// last error seen.
func (b Backoff) Do(fn func(attempt int) error) error {
	sleep := b.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn(i)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if i < attempts-1 {
			sleep(b.Delay(i))
		}
	}
	return err
}
