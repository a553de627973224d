package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amp-labs/amp-resilience/breaker"
	"github.com/amp-labs/amp-resilience/classify"
	"github.com/amp-labs/amp-resilience/dlq"
	"github.com/amp-labs/amp-resilience/logger"
	"github.com/amp-labs/amp-resilience/retry"
)

var (
	// ErrAttemptBudget - the shared recovery attempt budget ran out before
	// the strategy could invoke the operation.
	ErrAttemptBudget = errors.New("recovery attempt budget exhausted")
	// ErrNoFallback - the strategy needs a fallback value and the request
	// carries none.
	ErrNoFallback = errors.New("no fallback value configured")
	// ErrCacheMiss - the cache holds no usable entry for the request.
	ErrCacheMiss = errors.New("cache miss")
	// ErrFailFast - recovery was refused by a fail-fast strategy.
	ErrFailFast = errors.New("recovery refused")
)

// immediateRetry re-invokes the operation once with no delay.
type immediateRetry struct{}

func (immediateRetry) Kind() StrategyKind { return KindImmediateRetry }

func (immediateRetry) attempt(ctx context.Context, req *Request, op Operation, st *chainState) outcome {
	if !st.allowAttempt() {
		return outcome{err: ErrAttemptBudget}
	}

	value, err := op(ctx)
	if err != nil {
		st.lastErr = err

		return outcome{err: err}
	}

	return outcome{resolved: true, value: value}
}

// backoffRetry delegates to the policy-driven retry orchestrator. Every
// attempt the orchestrator makes counts against the shared recovery budget.
type backoffRetry struct {
	retrier *retry.Orchestrator
}

func (backoffRetry) Kind() StrategyKind { return KindExponentialBackoff }

func (s backoffRetry) attempt(ctx context.Context, req *Request, op Operation, st *chainState) outcome {
	if st.budget <= 0 {
		return outcome{err: ErrAttemptBudget}
	}

	var value any

	result := s.retrier.Execute(ctx, req.Name, func(ctx context.Context) error {
		if !st.allowAttempt() {
			return retry.Abort(ErrAttemptBudget)
		}

		var err error

		value, err = op(ctx)
		if err != nil {
			st.lastErr = err
		}

		return err
	})

	if !result.Success {
		// A budget refusal is chain bookkeeping; lastErr keeps the most
		// recent real operation failure.
		if result.Err != nil && !errors.Is(result.Err, ErrAttemptBudget) {
			st.lastErr = result.Err
		}

		return outcome{err: result.Err}
	}

	return outcome{resolved: true, value: value}
}

// breakerNameByCategory maps failure categories to shared named breakers.
// Operations outside these categories get a breaker scoped to their own name
// so an unrelated noisy operation cannot trip theirs.
var breakerNameByCategory = map[classify.Category]string{ //nolint:gochecknoglobals
	classify.CategoryDatabase:    "database",
	classify.CategoryExternalAPI: "external-api",
	classify.CategoryNetwork:     "network",
	classify.CategoryTimeout:     "external-api",
}

// circuitBreaker wraps the invocation in a category-selected breaker.
type circuitBreaker struct {
	breakers *breaker.Registry
}

func (circuitBreaker) Kind() StrategyKind { return KindCircuitBreaker }

func (s circuitBreaker) attempt(ctx context.Context, req *Request, op Operation, st *chainState) outcome {
	if !st.allowAttempt() {
		return outcome{err: ErrAttemptBudget}
	}

	name, ok := breakerNameByCategory[req.Category]
	if !ok {
		name = "op:" + req.Name
	}

	b := s.breakers.GetOrCreate(breaker.Config{Name: name})

	value, err := breaker.Do(ctx, b, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		// A rejected call never reached the operation; hand the budget
		// unit back.
		if errors.Is(err, breaker.ErrOpen) || errors.Is(err, breaker.ErrTrialInFlight) {
			st.budget++
			st.attempts--
		} else {
			st.lastErr = err
		}

		return outcome{err: err}
	}

	return outcome{resolved: true, value: value}
}

// fallbackValue succeeds immediately with the caller-supplied default.
type fallbackValue struct{}

func (fallbackValue) Kind() StrategyKind { return KindFallbackValue }

func (fallbackValue) attempt(ctx context.Context, req *Request, op Operation, st *chainState) outcome {
	if !req.HasFallback {
		return outcome{err: ErrNoFallback}
	}

	return outcome{resolved: true, value: req.Fallback}
}

// cacheFallback serves a previously cached result. A miss is this strategy's
// failure, not an error surfaced to the caller.
type cacheFallback struct {
	cache Cache
}

func (cacheFallback) Kind() StrategyKind { return KindCacheFallback }

func (s cacheFallback) attempt(ctx context.Context, req *Request, op Operation, st *chainState) outcome {
	if s.cache == nil || req.CacheKey == "" {
		return outcome{err: ErrCacheMiss}
	}

	value, ok := s.cache.Get(ctx, req.CacheKey)
	if !ok {
		return outcome{err: fmt.Errorf("%w: %q", ErrCacheMiss, req.CacheKey)}
	}

	return outcome{resolved: true, value: value}
}

// deadLetter enqueues the failure for deferred handling. Success here means
// accepting responsibility for the failure, not producing a result. Enqueue
// failures are logged and swallowed: dead-lettering is best-effort auditing
// and must never escalate to the caller.
type deadLetter struct {
	queue *dlq.Queue
	log   *slog.Logger
}

func (deadLetter) Kind() StrategyKind { return KindDeadLetter }

func (s deadLetter) attempt(ctx context.Context, req *Request, op Operation, st *chainState) outcome {
	if s.queue == nil {
		return outcome{err: errors.New("no dead letter queue configured")} //nolint:err113 // Configuration gap, not a matchable condition
	}

	_, err := s.queue.Enqueue(ctx, dlq.Failure{
		OperationName: req.Name,
		Payload:       req.Payload,
		Err:           st.lastErr,
		Priority:      req.Priority,
		Tags:          req.Tags,
	})
	if err != nil {
		s.log.Warn("dead-letter enqueue failed",
			"operation", req.Name,
			"error", logger.AnnotateError(err, "queue", s.queue.Name()),
		)

		return outcome{err: err}
	}

	st.deadLettered = true

	return outcome{handled: true}
}

// gracefulDegradation runs the real operation and, on failure, returns the
// configured fallback value tagged as degraded instead of propagating the
// error.
type gracefulDegradation struct{}

func (gracefulDegradation) Kind() StrategyKind { return KindGracefulDegradation }

func (gracefulDegradation) attempt(ctx context.Context, req *Request, op Operation, st *chainState) outcome {
	if !st.allowAttempt() {
		return outcome{err: ErrAttemptBudget}
	}

	value, err := op(ctx)
	if err == nil {
		return outcome{resolved: true, value: value}
	}

	st.lastErr = err

	if !req.HasFallback {
		return outcome{err: err}
	}

	return outcome{resolved: true, value: req.Fallback, degraded: true}
}

// failFast refuses recovery, terminating the chain with the last error. It
// exists so chains can bail out early on categories where continued recovery
// would only mask a real defect.
type failFast struct{}

func (failFast) Kind() StrategyKind { return KindFailFast }

func (failFast) attempt(ctx context.Context, req *Request, op Operation, st *chainState) outcome {
	return outcome{halt: true, err: ErrFailFast}
}
