package retry

import "context"

// Attempts is the maximum number of attempts for an operation. Zero means
// unlimited retries.
type Attempts uint

type ctxKey string

const attemptKey ctxKey = "attempt"

// withAttempt stores the zero-indexed attempt number in the context so the
// operation being retried can observe it.
func withAttempt(ctx context.Context, attempt uint) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// AttemptNumber returns the current attempt number from the context, or 0
// when the operation is not running under a retry loop.
func AttemptNumber(ctx context.Context) uint {
	i := ctx.Value(attemptKey)
	if i == nil {
		return 0
	}

	attemptNum, ok := i.(uint)
	if !ok {
		return 0
	}

	return attemptNum
}
