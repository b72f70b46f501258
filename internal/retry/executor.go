package retry

import (
	"context"
	"time"
)

// ErrorClassifier decides whether an error is worth another attempt.
type ErrorClassifier interface {
	IsTransient(err error) bool
}

// ClassifierFunc adapts a function to ErrorClassifier.
type ClassifierFunc func(err error) bool

func (f ClassifierFunc) IsTransient(err error) bool { return f(err) }

// Executor retries an operation while it fails with transient errors.
//
// An Executor is safe for concurrent use. WithOnRetry returns a copy, so
// per-worker callbacks never share state.
type Executor struct {
	classifier ErrorClassifier
	strategy   BackoffStrategy
	onRetry    func(attempt int, err error, delay time.Duration)
}

// NewExecutor panics if classifier or strategy is nil.
func NewExecutor(classifier ErrorClassifier, strategy BackoffStrategy) *Executor {
	if classifier == nil {
		panic("retry: classifier cannot be nil")
	}
	if strategy == nil {
		panic("retry: strategy cannot be nil")
	}
	return &Executor{classifier: classifier, strategy: strategy}
}

// WithOnRetry returns a copy of e that calls fn before each retry wait.
func (e *Executor) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) *Executor {
	clone := *e
	clone.onRetry = fn
	return &clone
}

// Execute runs op, retrying transient failures until the strategy's budget
// is spent. It returns the last error (nil on success). A cancelled ctx
// stops the wait between attempts, never an attempt in progress.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	lastErr := op(ctx)
	if lastErr == nil || !e.classifier.IsTransient(lastErr) {
		return lastErr
	}

	maxAttempts := e.strategy.MaxAttempts()
	for attempt := 0; maxAttempts < 0 || attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay := e.strategy.NextDelay(attempt)
		if e.onRetry != nil {
			e.onRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		lastErr = op(ctx)
		if lastErr == nil || !e.classifier.IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
