// Package retry runs operations again when they fail with a transient error.
//
// The loader uses it to re-run a batch after a busy/locked signal from the
// store; the fetcher uses it for flaky downloads.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy decides how long to wait before each retry.
type BackoffStrategy interface {
	// NextDelay returns the wait before retry number attempt (0-based).
	NextDelay(attempt int) time.Duration
	// MaxAttempts is the number of retries after the first try
	// (-1 = unlimited, 0 = never retry).
	MaxAttempts() int
}

// ExponentialBackoff implements exponential backoff with jitter.
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	maxAttempts  int

	// jitter of 0.1 means +/- 10%
	jitter     float64
	jitterFunc func() float64
}

// BackoffOption configures ExponentialBackoff.
type BackoffOption func(*ExponentialBackoff)

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.initialDelay = d }
}

// WithMaxDelay caps the delay between retries.
func WithMaxDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.maxDelay = d }
}

// WithMultiplier sets the growth factor between retries.
func WithMultiplier(m float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.multiplier = m }
}

// WithJitter sets the jitter factor (0.0-1.0).
func WithJitter(j float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.jitter = j }
}

// WithJitterFunc replaces the random source, which must return values in [0, 1).
func WithJitterFunc(f func() float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.jitterFunc = f }
}

// NewExponentialBackoff returns a strategy with defaults of 100ms initial
// delay, 5s cap, multiplier 2 and 10% jitter.
//
// Example:
//
//	b := retry.NewExponentialBackoff(5,
//	    retry.WithInitialDelay(50*time.Millisecond),
//	    retry.WithMaxDelay(2*time.Second),
//	)
func NewExponentialBackoff(maxAttempts int, opts ...BackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initialDelay: 100 * time.Millisecond,
		maxDelay:     5 * time.Second,
		multiplier:   2.0,
		maxAttempts:  maxAttempts,
		jitter:       0.1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NextDelay returns initialDelay * multiplier^attempt, capped at maxDelay,
// then jittered.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}

	if b.jitter > 0 {
		f := b.jitterFunc
		if f == nil {
			f = rand.Float64
		}
		offset := (f() - 0.5) * 2.0 // [0,1) -> [-1,1)
		delay *= 1.0 + b.jitter*offset
	}
	return time.Duration(delay)
}

// MaxAttempts returns the retry budget.
func (b *ExponentialBackoff) MaxAttempts() int { return b.maxAttempts }

// InitialDelay returns the configured first delay.
func (b *ExponentialBackoff) InitialDelay() time.Duration { return b.initialDelay }

// MaxDelay returns the configured cap.
func (b *ExponentialBackoff) MaxDelay() time.Duration { return b.maxDelay }
