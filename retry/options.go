package retry

import "time"

// Option configures a Runner or ValueRunner.
type Option func(*options)

// OnRetry observes each scheduled retry: the one-indexed attempt that just
// failed, its error, and the delay before the next attempt.
type OnRetry func(attempt uint, err error, delay time.Duration)

type options struct {
	attempts Attempts
	backoff  Backoff
	budget   *Budget
	jitter   Jitter
	timeout  Timeout
	onRetry  OnRetry
}

// WithAttempts sets the maximum number of attempts. Zero means unlimited.
func WithAttempts(a Attempts) Option {
	return func(o *options) {
		o.attempts = a
	}
}

// WithBackoff sets the backoff strategy used between attempts.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// WithBudget attaches a retry budget that limits retries when the system is
// under heavy load.
func WithBudget(budget *Budget) Option {
	return func(o *options) {
		o.budget = budget
	}
}

// WithJitter sets the jitter strategy applied to each delay.
func WithJitter(j Jitter) Option {
	return func(o *options) {
		o.jitter = j
	}
}

// WithTimeout bounds each individual attempt.
func WithTimeout(t Timeout) Option {
	return func(o *options) {
		o.timeout = t
	}
}

// WithOnRetry registers an observer invoked before each backoff sleep.
func WithOnRetry(fn OnRetry) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}
