// Package retry executes operations that fail transiently, under pluggable
// backoff strategies, jitter, retry budgets and per-attempt timeouts.
//
// Two layers are provided. The low-level Runner retries any error until the
// attempt budget runs out, stopping early only for permanent errors (see
// Abort). The higher-level Orchestrator additionally classifies each failure
// and selects the retry policy registered for the failure's category, so
// database errors, upstream API errors and timeouts each back off on their
// own schedule.
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    return makeAPICall()
//	})
//
// Policy-driven usage:
//
//	o := retry.NewOrchestrator(retry.DefaultPolicies())
//	result := o.Execute(ctx, "load-user", func(ctx context.Context) error {
//	    return db.Load(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	defaultAttempts      = 4
	defaultBaseDelay     = 100 * time.Millisecond
	defaultMaxDelay      = 2 * time.Second
	defaultBackoffFactor = 2.0
)

// Runner is an interface for executing operations with retry logic.
type Runner interface {
	Do(ctx context.Context, f func(ctx context.Context) error) error
}

// ValueRunner is a generic interface for executing operations that return a
// value with retry logic.
type ValueRunner[T any] interface {
	Do(ctx context.Context, f func(ctx context.Context) (T, error)) (T, error)
}

// NewRunner creates a new Runner. Without options it makes 4 attempts with
// exponential backoff (100ms base, 2s cap, factor 2) and full jitter.
func NewRunner(opts ...Option) Runner {
	return &runnerImpl{opts: buildOptions(opts)}
}

// NewValueRunner creates a new ValueRunner with the same defaults as NewRunner.
func NewValueRunner[T any](opts ...Option) ValueRunner[T] {
	return &valueRunnerImpl[T]{opts: buildOptions(opts)}
}

func buildOptions(opts []Option) *options {
	intOpts := &options{
		attempts: Attempts(defaultAttempts),
		backoff: ExpBackoff{
			Base:   defaultBaseDelay,
			Max:    defaultMaxDelay,
			Factor: defaultBackoffFactor,
		},
		jitter: FullJitter,
	}

	for _, option := range opts {
		option(intOpts)
	}

	return intOpts
}

type runnerImpl struct {
	opts *options
}

func (r *runnerImpl) Do(ctx context.Context, f func(ctx context.Context) error) error {
	return do(ctx, r.opts, f)
}

type valueRunnerImpl[T any] struct {
	opts *options
}

func (v valueRunnerImpl[T]) Do(ctx context.Context, f func(ctx context.Context) (T, error)) (T, error) {
	var out T

	err := do(ctx, v.opts, func(ctx context.Context) error {
		var err error

		out, err = f(ctx)

		return err
	})
	if err != nil {
		var zero T

		return zero, err
	}

	return out, nil
}

// do is the core retry loop. It returns nil on success, ctx.Err() on
// cancellation, ErrExhausted when the retry budget refuses an attempt, the
// wrapped error of a permanent failure, or the last error once attempts run
// out. Attempts == 0 means retry without limit.
func do(ctx context.Context, opts *options, operation func(ctx context.Context) error) error {
	var err error

	for attemptIndex := uint(0); Attempts(attemptIndex) < opts.attempts || opts.attempts == 0; attemptIndex++ {
		// Expose the attempt number to the operation.
		ctx := withAttempt(ctx, attemptIndex)

		// The budget rejects retries (never initial calls) under load.
		if !opts.budget.sendOK(attemptIndex != 0) {
			return ErrExhausted
		}

		err = runAttempt(ctx, opts, operation)
		if err == nil {
			return nil
		}

		// Permanent errors stop the loop immediately.
		var retryErr Error
		if errors.As(err, &retryErr) && !retryErr.Temporary() {
			var p *permanentError
			if errors.As(err, &p) {
				return p.error
			}

			return err
		}

		delay := opts.jitter.jitter(opts.backoff.Delay(attemptIndex))

		if opts.onRetry != nil {
			opts.onRetry(attemptIndex+1, err, delay)
		}

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	return err
}

// runAttempt runs a single attempt, applying the per-attempt timeout when one
// is configured. The operation owns honoring the context deadline; a
// non-cooperating operation is abandoned (its goroutine drains in the
// background) and the attempt reports context.DeadlineExceeded.
func runAttempt(ctx context.Context, opts *options, operation func(ctx context.Context) error) error {
	if opts.timeout == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		return operation(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.timeout))
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		errChan <- operation(attemptCtx)
	}()

	select {
	case <-attemptCtx.Done():
		return attemptCtx.Err()
	case err := <-errChan:
		return err
	}
}

// sleep waits for the delay, respecting context cancellation.
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do creates a Runner and executes the function with retry logic in one call.
func Do(ctx context.Context, f func(ctx context.Context) error, opts ...Option) error {
	return NewRunner(opts...).Do(ctx, f)
}

// DoValue creates a ValueRunner and executes the function with retry logic in
// one call, returning the successful result or an error.
func DoValue[T any](ctx context.Context, f func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	return NewValueRunner[T](opts...).Do(ctx, f)
}
