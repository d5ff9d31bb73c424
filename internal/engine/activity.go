package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ActivityOptions bound one activity execution.
type ActivityOptions struct {
	// Timeout applies to each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int
	// InitialBackoff doubles after every failed attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ErrNonRetryable marks errors an activity must not retry.
var ErrNonRetryable = errors.New("non-retryable")

type nonRetryable struct{ err error }

func (e *nonRetryable) Error() string { return e.err.Error() }
func (e *nonRetryable) Unwrap() []error {
	return []error{e.err, ErrNonRetryable}
}

// NonRetryable wraps err so ExecuteActivity returns it without retrying.
// errors.Is still matches the wrapped error.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryable{err: err}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrNonRetryable) && !errors.Is(err, context.Canceled)
}

// runActivity executes fn under opts. sleep is injectable for tests.
func runActivity(ctx context.Context, opts ActivityOptions, sleep func(context.Context, time.Duration) error,
	fn func(ctx context.Context) error) (attempts int, err error) {

	max := opts.MaxAttempts
	if max < 1 {
		max = 1
	}
	backoff := opts.InitialBackoff

	for attempts = 1; ; attempts++ {
		err = attempt(ctx, opts.Timeout, fn)
		if err == nil {
			return attempts, nil
		}
		if attempts >= max || !retryable(ctx, err) {
			return attempts, err
		}
		if backoff > 0 {
			if serr := sleep(ctx, backoff); serr != nil {
				return attempts, fmt.Errorf("%w (retry interrupted: %v)", err, serr)
			}
			backoff *= 2
			if opts.MaxBackoff > 0 && backoff > opts.MaxBackoff {
				backoff = opts.MaxBackoff
			}
		}
	}
}

func attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
