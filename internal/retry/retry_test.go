package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

var (
	errTransient = errors.New("busy")
	errFatal     = errors.New("fatal")
)

var isBusy = ClassifierFunc(func(err error) bool { return errors.Is(err, errTransient) })

type mockOperation struct {
	invocations atomic.Int64
	failUntil   int64
	err         error
}

func (m *mockOperation) run(context.Context) error {
	n := m.invocations.Add(1)
	if n <= m.failUntil {
		return m.err
	}
	return nil
}

func fastBackoff(max int) *ExponentialBackoff {
	return NewExponentialBackoff(max, WithInitialDelay(time.Millisecond), WithMaxDelay(2*time.Millisecond), WithJitter(0))
}

// TestExecuteRetriesTransient verifies transient failures are retried until
// success and reported through the callback.
func TestExecuteRetriesTransient(t *testing.T) {
	t.Parallel()

	op := &mockOperation{failUntil: 2, err: errTransient}
	var retries atomic.Int64
	ex := NewExecutor(isBusy, fastBackoff(5)).WithOnRetry(func(int, error, time.Duration) { retries.Add(1) })

	if err := ex.Execute(context.Background(), op.run); err != nil {
		t.Fatalf("Execute()=%v, want nil", err)
	}
	if got := op.invocations.Load(); got != 3 {
		t.Fatalf("invocations=%d, want 3", got)
	}
	if got := retries.Load(); got != 2 {
		t.Fatalf("retries=%d, want 2", got)
	}
}

// TestExecuteStopsOnFatal verifies fatal errors are returned immediately.
func TestExecuteStopsOnFatal(t *testing.T) {
	t.Parallel()

	op := &mockOperation{failUntil: 10, err: errFatal}
	err := NewExecutor(isBusy, fastBackoff(5)).Execute(context.Background(), op.run)
	if !errors.Is(err, errFatal) {
		t.Fatalf("Execute()=%v, want errFatal", err)
	}
	if got := op.invocations.Load(); got != 1 {
		t.Fatalf("invocations=%d, want 1", got)
	}
}

// TestExecuteExhausts verifies the last transient error surfaces once the
// budget is spent.
func TestExecuteExhausts(t *testing.T) {
	t.Parallel()

	op := &mockOperation{failUntil: 100, err: errTransient}
	err := NewExecutor(isBusy, fastBackoff(3)).Execute(context.Background(), op.run)
	if !errors.Is(err, errTransient) {
		t.Fatalf("Execute()=%v, want errTransient", err)
	}
	if got := op.invocations.Load(); got != 4 {
		t.Fatalf("invocations=%d, want 4 (1 + 3 retries)", got)
	}
}

// TestExecuteContextCancel verifies a cancelled context ends the wait.
func TestExecuteContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	op := &mockOperation{failUntil: 100, err: errTransient}
	ex := NewExecutor(isBusy, NewExponentialBackoff(-1, WithInitialDelay(time.Hour), WithJitter(0))).
		WithOnRetry(func(int, error, time.Duration) { cancel() })

	if err := ex.Execute(ctx, op.run); !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute()=%v, want context.Canceled", err)
	}
}

// TestNextDelay verifies growth, the cap and jitter bounds.
func TestNextDelay(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(10, WithInitialDelay(100*time.Millisecond), WithMaxDelay(time.Second), WithJitter(0))
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{40, time.Second},
	}
	for _, tc := range tests {
		if got := b.NextDelay(tc.attempt); got != tc.want {
			t.Fatalf("NextDelay(%d)=%v, want %v", tc.attempt, got, tc.want)
		}
	}

	j := NewExponentialBackoff(1, WithInitialDelay(time.Second), WithMaxDelay(time.Minute), WithJitter(0.1), WithJitterFunc(func() float64 { return 0.75 }))
	if got := j.NextDelay(0); got != 1050*time.Millisecond {
		t.Fatalf("jittered NextDelay(0)=%v, want 1.05s", got)
	}
}

// TestNewExecutorPanics verifies nil dependencies are rejected.
func TestNewExecutorPanics(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		c ErrorClassifier
		s BackoffStrategy
	}{{nil, fastBackoff(1)}, {isBusy, nil}} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("NewExecutor(%v, %v) did not panic", tc.c, tc.s)
				}
			}()
			NewExecutor(tc.c, tc.s)
		}()
	}
}

// TestNetworkClassifier verifies common transport failures are transient.
func TestNetworkClassifier(t *testing.T) {
	t.Parallel()

	c := NetworkClassifier{}
	refused := &net.OpError{Op: "dial", Err: fmt.Errorf("connect: %w", syscall.ECONNREFUSED)}
	if !c.IsTransient(refused) {
		t.Fatalf("connection refused should be transient")
	}
	if !c.IsTransient(&net.DNSError{IsTimeout: true}) {
		t.Fatalf("DNS timeout should be transient")
	}
	if c.IsTransient(errFatal) || c.IsTransient(nil) {
		t.Fatalf("plain errors must not be transient")
	}
	if !(Any{NetworkClassifier{}, isBusy}).IsTransient(errTransient) {
		t.Fatalf("Any should accept the second classifier")
	}
}
