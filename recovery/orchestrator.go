// Package recovery composes the resilience primitives into ordered fallback
// chains. One orchestrator call tries each configured strategy in order
// (retries, circuit breaking, cached or static fallbacks, dead-lettering)
// until one produces a value, accepts the failure, or the chain is exhausted.
//
// Basic usage:
//
//	orch := recovery.New(recovery.Config{
//	    Strategies: []recovery.StrategyKind{
//	        recovery.KindImmediateRetry,
//	        recovery.KindExponentialBackoff,
//	        recovery.KindFallbackValue,
//	    },
//	})
//
//	result := orch.Execute(ctx, recovery.Request{
//	    Name:        "load-profile",
//	    Category:    classify.CategoryDatabase,
//	    Fallback:    defaultProfile,
//	    HasFallback: true,
//	}, loadProfile)
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amp-labs/amp-resilience/breaker"
	"github.com/amp-labs/amp-resilience/classify"
	"github.com/amp-labs/amp-resilience/dlq"
	"github.com/amp-labs/amp-resilience/errors"
	"github.com/amp-labs/amp-resilience/retry"
)

const (
	defaultMaxRecoveryAttempts = 3
	defaultCacheTTL            = 5 * time.Minute
	defaultQueueName           = "recovery"
)

// Operation is the unreliable call a recovery run protects.
type Operation func(ctx context.Context) (any, error)

// Request carries the per-call metadata strategies consult.
type Request struct {
	// Name identifies the operation in breakers, queues, logs, and metrics.
	Name string
	// Category hints the failure domain; it selects the shared breaker and
	// may differ from what the classifier later derives from an actual
	// error.
	Category classify.Category
	// Priority propagates to dead-lettered records.
	Priority int
	// Payload is stored with dead-lettered records.
	Payload []byte
	// Fallback is the static substitute value; HasFallback reports whether
	// one was supplied (so nil can be a legitimate fallback).
	Fallback any
	// HasFallback reports whether Fallback was supplied.
	HasFallback bool
	// CacheKey enables the cache-fallback strategy and result caching.
	CacheKey string
	// Strategies overrides the orchestrator's chain for this call.
	Strategies []StrategyKind
	// Tags propagate to dead-lettered records.
	Tags []string
}

// Result reports the outcome of one recovery run.
type Result struct {
	// Success reports whether some strategy produced a value.
	Success bool
	// Value is the produced result on success.
	Value any
	// Degraded marks Value as a degraded substitute rather than a real
	// result.
	Degraded bool
	// DeadLettered reports that the failure was enqueued for deferred
	// handling.
	DeadLettered bool
	// StrategyUsed names the strategy that ended the chain.
	StrategyUsed StrategyKind
	// AttemptsUsed counts operation invocations across all strategies.
	AttemptsUsed int
	// TotalDuration covers the whole run.
	TotalDuration time.Duration
	// Metadata holds one diagnostic record per executed strategy, in
	// order.
	Metadata []StrategyMeta
	// Err is nil on success, otherwise the classified original failure.
	Err error
}

// Config configures an Orchestrator. Zero fields get defaults.
type Config struct {
	// Strategies is the default chain, walked in order.
	Strategies []StrategyKind
	// MaxRecoveryAttempts is the operation-invocation budget shared by all
	// strategies of one run. It bounds attempts, not wall-clock time.
	MaxRecoveryAttempts int
	// Breakers backs the circuit-breaker strategy. Defaults to a fresh
	// registry.
	Breakers *breaker.Registry
	// Queues backs the dead-letter strategy. Defaults to a fresh registry.
	Queues *dlq.Registry
	// QueueName selects the queue used for dead-lettering.
	QueueName string
	// Retrier backs the exponential-backoff strategy. Defaults to an
	// orchestrator with the stock policies.
	Retrier *retry.Orchestrator
	// Cache backs the cache-fallback strategy and receives successful
	// results. Nil disables both.
	Cache Cache
	// CacheTTL is how long successful results stay cached.
	CacheTTL time.Duration
	// Collector receives one synthetic request per run. Defaults to the
	// prometheus-backed collector.
	Collector MetricsCollector
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if len(c.Strategies) == 0 {
		c.Strategies = []StrategyKind{
			KindImmediateRetry,
			KindExponentialBackoff,
			KindCircuitBreaker,
			KindFallbackValue,
		}
	}

	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = defaultMaxRecoveryAttempts
	}

	if c.Breakers == nil {
		c.Breakers = breaker.NewRegistry()
	}

	if c.Queues == nil {
		c.Queues = dlq.NewRegistry()
	}

	if c.QueueName == "" {
		c.QueueName = defaultQueueName
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.Retrier == nil {
		c.Retrier = retry.NewOrchestrator(retry.OrchestratorConfig{Logger: c.Logger})
	}

	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}

	if c.Collector == nil {
		c.Collector = NewPromCollector()
	}

	return c
}

// Orchestrator walks recovery chains. Safe for concurrent use.
type Orchestrator struct {
	cfg   Config
	log   *slog.Logger
	queue *dlq.Queue
}

// New creates an orchestrator from the config.
func New(cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()

	return &Orchestrator{
		cfg:   cfg,
		log:   cfg.Logger,
		queue: cfg.Queues.GetOrCreate(dlq.Config{Name: cfg.QueueName, Logger: cfg.Logger}),
	}
}

// Execute runs the operation through the recovery chain. A failure is
// surfaced to the caller only when the whole chain is exhausted; the surfaced
// error is the classified original failure, never a synthetic wrapper.
func (o *Orchestrator) Execute(ctx context.Context, req Request, op Operation) Result {
	start := time.Now()

	ctx, span := startRunSpan(ctx, &req)
	defer span.End()

	st := &chainState{budget: o.cfg.MaxRecoveryAttempts}
	result := Result{}

	var lastStrategyErr error

	halted := false

	for _, kind := range o.chain(&req) {
		strategy := o.strategyFor(kind)
		if strategy == nil {
			o.log.Warn("unknown recovery strategy skipped",
				"operation", req.Name,
				"strategy", string(kind),
			)

			continue
		}

		out, meta := o.runStrategy(ctx, strategy, &req, op, st)
		result.Metadata = append(result.Metadata, meta)

		switch {
		case out.resolved:
			result.Success = true
			result.Value = out.value
			result.Degraded = out.degraded
			result.StrategyUsed = kind

			o.finish(ctx, &req, &result, st, start)

			return result
		case out.handled:
			result.DeadLettered = true
			result.StrategyUsed = kind

			o.finishFailed(&req, &result, st, lastStrategyErr)
			o.finish(ctx, &req, &result, st, start)

			return result
		case out.halt:
			halted = true
			lastStrategyErr = out.err
		default:
			lastStrategyErr = out.err
		}

		if halted {
			break
		}
	}

	// The chain gave up. Dead-letter the failure once, unless a strategy
	// already did or a fail-fast refused recovery outright.
	if !halted && !st.deadLettered {
		out, meta := o.runStrategy(ctx, deadLetter{queue: o.queue, log: o.log}, &req, op, st)
		result.Metadata = append(result.Metadata, meta)
		result.DeadLettered = out.handled
	}

	o.finishFailed(&req, &result, st, lastStrategyErr)
	o.finish(ctx, &req, &result, st, start)

	return result
}

// ExecuteValue runs a typed operation through the recovery chain. A resolved
// value of the wrong type (a mistyped fallback, a stale cache entry) fails
// the run rather than panicking.
func ExecuteValue[T any](
	ctx context.Context,
	o *Orchestrator,
	req Request,
	op func(ctx context.Context) (T, error),
) (T, Result) {
	result := o.Execute(ctx, req, func(ctx context.Context) (any, error) {
		return op(ctx)
	})

	var zero T

	if !result.Success {
		return zero, result
	}

	value, ok := result.Value.(T)
	if !ok {
		result.Success = false
		result.Err = fmt.Errorf("%w: recovered value is %T", errors.ErrWrongType, result.Value)

		return zero, result
	}

	return value, result
}

// chain resolves the strategy list for one call.
func (o *Orchestrator) chain(req *Request) []StrategyKind {
	if len(req.Strategies) > 0 {
		return req.Strategies
	}

	return o.cfg.Strategies
}

// strategyFor maps a kind to its implementation.
func (o *Orchestrator) strategyFor(kind StrategyKind) Strategy {
	switch kind {
	case KindImmediateRetry:
		return immediateRetry{}
	case KindExponentialBackoff:
		return backoffRetry{retrier: o.cfg.Retrier}
	case KindCircuitBreaker:
		return circuitBreaker{breakers: o.cfg.Breakers}
	case KindFallbackValue:
		return fallbackValue{}
	case KindCacheFallback:
		return cacheFallback{cache: o.cfg.Cache}
	case KindDeadLetter:
		return deadLetter{queue: o.queue, log: o.log}
	case KindGracefulDegradation:
		return gracefulDegradation{}
	case KindFailFast:
		return failFast{}
	default:
		return nil
	}
}

// runStrategy executes one strategy under a span, isolating panics: an
// unexpected panic inside a strategy is that strategy's failure, never the
// whole chain's.
func (o *Orchestrator) runStrategy(
	ctx context.Context,
	strategy Strategy,
	req *Request,
	op Operation,
	st *chainState,
) (out outcome, meta StrategyMeta) {
	kind := strategy.Kind()
	attemptsBefore := st.attempts
	start := time.Now()

	ctx, span := startStrategySpan(ctx, kind, req)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			strategyPanics.WithLabelValues(string(kind)).Inc()

			out = outcome{err: fmt.Errorf("strategy panic: %v", r)} //nolint:err113 // Panic payload is dynamic

			o.log.Error("recovery strategy panicked",
				"operation", req.Name,
				"strategy", string(kind),
				"panic", r,
			)
		}

		meta = StrategyMeta{
			Kind:     kind,
			Attempts: st.attempts - attemptsBefore,
			Duration: time.Since(start),
		}

		label := "success"

		if !out.resolved && !out.handled {
			label = "failure"

			if out.err != nil {
				meta.Error = out.err.Error()
			}
		}

		strategyAttempts.WithLabelValues(string(kind), label).Inc()
	}()

	out = strategy.attempt(ctx, req, op, st)

	return out, meta
}

// finishFailed settles the surfaced error of an unrecovered run.
func (o *Orchestrator) finishFailed(req *Request, result *Result, st *chainState, lastStrategyErr error) {
	surfaced := st.lastErr
	if surfaced == nil {
		surfaced = lastStrategyErr
	}

	result.Err = classify.Classify(surfaced, classify.Context{Operation: req.Name})
}

// finish closes out a run: duration, result caching, logging, and the
// synthetic request metric.
func (o *Orchestrator) finish(ctx context.Context, req *Request, result *Result, st *chainState, start time.Time) {
	result.AttemptsUsed = st.attempts
	result.TotalDuration = time.Since(start)

	if result.Success && !result.Degraded && req.CacheKey != "" && o.cfg.Cache != nil {
		o.cfg.Cache.Set(ctx, req.CacheKey, result.Value, o.cfg.CacheTTL)
	}

	if result.Success {
		o.log.Debug("recovery succeeded",
			"operation", req.Name,
			"strategy", string(result.StrategyUsed),
			"attempts", result.AttemptsUsed,
			"degraded", result.Degraded,
			"elapsed", result.TotalDuration,
		)
	} else {
		o.log.Warn("recovery failed",
			"operation", req.Name,
			"attempts", result.AttemptsUsed,
			"dead_lettered", result.DeadLettered,
			"elapsed", result.TotalDuration,
			"error", result.Err,
		)
	}

	o.record(req, *result)
}

// record delivers the synthetic request metric, isolating collector panics.
func (o *Orchestrator) record(req *Request, result Result) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("metrics collector panicked", "panic", r)
		}
	}()

	o.cfg.Collector.RecordRequest(newRequestMetric(req, result))
}
