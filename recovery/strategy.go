package recovery

import (
	"context"
	"time"
)

// StrategyKind names a recovery strategy in configuration and results.
type StrategyKind string

const (
	// KindImmediateRetry - one bare re-invocation of the operation.
	KindImmediateRetry StrategyKind = "immediate_retry"
	// KindExponentialBackoff - policy-driven retries via the retry
	// orchestrator.
	KindExponentialBackoff StrategyKind = "exponential_backoff"
	// KindCircuitBreaker - the invocation runs under a category-selected
	// circuit breaker.
	KindCircuitBreaker StrategyKind = "circuit_breaker"
	// KindFallbackValue - succeed with the caller-supplied default.
	KindFallbackValue StrategyKind = "fallback_value"
	// KindCacheFallback - serve a previously cached result.
	KindCacheFallback StrategyKind = "cache_fallback"
	// KindDeadLetter - enqueue the failure for deferred handling.
	KindDeadLetter StrategyKind = "dead_letter_queue"
	// KindGracefulDegradation - run the operation, degrading to the
	// fallback value on failure.
	KindGracefulDegradation StrategyKind = "graceful_degradation"
	// KindFailFast - refuse recovery and surface the last error.
	KindFailFast StrategyKind = "fail_fast"
)

// Kinds returns every known strategy kind.
func Kinds() []StrategyKind {
	return []StrategyKind{
		KindImmediateRetry,
		KindExponentialBackoff,
		KindCircuitBreaker,
		KindFallbackValue,
		KindCacheFallback,
		KindDeadLetter,
		KindGracefulDegradation,
		KindFailFast,
	}
}

// Valid reports whether the kind is one of the known constants.
func (k StrategyKind) Valid() bool {
	switch k {
	case KindImmediateRetry, KindExponentialBackoff, KindCircuitBreaker,
		KindFallbackValue, KindCacheFallback, KindDeadLetter,
		KindGracefulDegradation, KindFailFast:
		return true
	default:
		return false
	}
}

// Strategy is one step of a recovery chain. The set of implementations is
// closed: the unexported attempt method keeps strategies inside this package
// so chains stay exhaustively checkable.
type Strategy interface {
	Kind() StrategyKind
	attempt(ctx context.Context, req *Request, op Operation, st *chainState) outcome
}

// outcome is what one strategy reports back to the chain walk.
type outcome struct {
	// resolved means the strategy produced a value; the chain stops.
	resolved bool
	// value is the produced result when resolved.
	value any
	// degraded marks a resolved value as a degraded substitute.
	degraded bool
	// handled means the strategy accepted responsibility for the failure
	// without producing a value (dead-lettering); the chain stops.
	handled bool
	// halt stops the chain without resolution (fail-fast).
	halt bool
	// err is the strategy's failure when none of the above applies.
	err error
}

// chainState is the mutable bookkeeping shared by the strategies of one
// recovery run.
type chainState struct {
	// budget is the remaining operation-invocation allowance.
	budget int
	// attempts counts operation invocations across all strategies.
	attempts int
	// lastErr is the most recent operation failure.
	lastErr error
	// deadLettered records that some strategy already enqueued the failure.
	deadLettered bool
}

// allowAttempt consumes one unit of the shared attempt budget.
func (st *chainState) allowAttempt() bool {
	if st.budget <= 0 {
		return false
	}

	st.budget--
	st.attempts++

	return true
}

// StrategyMeta is the per-strategy diagnostic record of a recovery run.
type StrategyMeta struct {
	// Kind names the strategy.
	Kind StrategyKind
	// Attempts is how many operation invocations the strategy spent.
	Attempts int
	// Duration is how long the strategy ran.
	Duration time.Duration
	// Error is the strategy's failure message, empty on success.
	Error string
}
