package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/amp-labs/amp-resilience/classify"
)

var (
	errMissingName     = errors.New("name is required")
	errMissingBackoff  = errors.New("backoff is required")
	errUnlimitedPolicy = errors.New("attempts must be bounded")
	errUnknownCategory = errors.New("unknown error category")
)

// StopReason explains why the orchestrator gave up on an operation.
type StopReason string

const (
	// ReasonExhausted - the matched policy's attempts ran out.
	ReasonExhausted StopReason = "exhausted"
	// ReasonNotRetryable - the classified failure is not retryable.
	ReasonNotRetryable StopReason = "not_retryable"
	// ReasonNoPolicy - no registered policy matches the failure category.
	ReasonNoPolicy StopReason = "no_policy"
	// ReasonCanceled - the caller's context ended.
	ReasonCanceled StopReason = "canceled"
	// ReasonBudget - the shared retry budget refused the attempt.
	ReasonBudget StopReason = "budget"
)

// Attempt records one execution of the operation.
type Attempt struct {
	// Number is the one-indexed attempt number.
	Number int
	// Err is the classified failure; zero-valued for the final success.
	Err classify.ClassifiedError
	// Duration is how long the attempt itself took.
	Duration time.Duration
	// Delay is the backoff scheduled after this attempt (zero if none).
	Delay time.Duration
}

// Result reports the outcome of a policy-driven retry run.
type Result struct {
	// Success reports whether any attempt succeeded.
	Success bool
	// Attempts is the number of attempts made.
	Attempts int
	// History holds one entry per attempt, in order.
	History []Attempt
	// TotalDuration covers the whole run including backoff sleeps.
	TotalDuration time.Duration
	// Err is nil on success, otherwise the last classified failure.
	Err error
	// Policy names the matched policy, when one matched.
	Policy string
	// Reason explains why the run stopped without success.
	Reason StopReason
}

// OrchestratorConfig configures an Orchestrator. Zero fields get defaults.
type OrchestratorConfig struct {
	// Policies is the policy set consulted per failure category.
	// Defaults to DefaultPolicies().
	Policies *PolicySet
	// Budget, when set, is shared across all operations run by this
	// orchestrator and refuses retries under load.
	Budget *Budget
	// OnRetry observes every scheduled retry.
	OnRetry OnRetry
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Orchestrator executes operations with category-aware retry policies. The
// failure classification table (see the classify package) decides
// retryability; the matched policy decides schedule and attempt budget.
type Orchestrator struct {
	policies *PolicySet
	budget   *Budget
	onRetry  OnRetry
	log      *slog.Logger
}

// NewOrchestrator creates an orchestrator from the config.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		policies: cfg.Policies,
		budget:   cfg.Budget,
		onRetry:  cfg.OnRetry,
		log:      cfg.Logger,
	}
}

// Execute runs the operation until it succeeds, its policy's attempts run
// out, or the failure proves non-retryable. The returned Result always
// carries the full attempt history; on failure Result.Err is the classified
// original error, never a synthetic wrapper.
func (o *Orchestrator) Execute(
	ctx context.Context,
	operationName string,
	operation func(ctx context.Context) error,
) Result {
	start := time.Now()

	var result Result

	for {
		attemptNo := result.Attempts + 1

		if !o.budget.sendOK(attemptNo > 1) {
			result.Reason = ReasonBudget
			result.TotalDuration = time.Since(start)

			return result
		}

		attemptStart := time.Now()
		err := operation(withAttempt(ctx, uint(attemptNo-1))) //nolint:gosec // attemptNo >= 1
		attemptDuration := time.Since(attemptStart)

		result.Attempts = attemptNo

		if err == nil {
			result.History = append(result.History, Attempt{
				Number:   attemptNo,
				Duration: attemptDuration,
			})
			result.Success = true
			result.TotalDuration = time.Since(start)

			o.log.Debug("operation succeeded",
				"operation", operationName,
				"attempt", attemptNo,
				"elapsed", result.TotalDuration,
			)

			return result
		}

		// Abort-marked errors stop the loop; the marker wrapper is
		// stripped so the classified failure is the original error.
		permanent := false

		var retryErr Error
		if errors.As(err, &retryErr) && !retryErr.Temporary() {
			permanent = true

			var p *permanentError
			if errors.As(err, &p) {
				err = p.error
			}
		}

		ce := classify.Classify(err, classify.Context{Operation: operationName})
		if permanent {
			ce.Retryable = false
		}

		result.Err = ce

		o.log.Debug("operation attempt failed",
			"operation", operationName,
			"attempt", attemptNo,
			"elapsed", attemptDuration,
			"failure", ce,
		)

		stop, delay, policy := o.plan(ce, attemptNo)

		result.History = append(result.History, Attempt{
			Number:   attemptNo,
			Err:      ce,
			Duration: attemptDuration,
			Delay:    delay,
		})
		result.Policy = policy

		if stop != "" {
			result.Reason = stop
			result.TotalDuration = time.Since(start)

			o.log.Warn("operation retries stopped",
				"operation", operationName,
				"attempts", result.Attempts,
				"reason", string(stop),
				"failure", ce,
			)

			return result
		}

		if o.onRetry != nil {
			o.onRetry(uint(attemptNo), ce, delay) //nolint:gosec // attemptNo >= 1
		}

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			result.Reason = ReasonCanceled
			result.TotalDuration = time.Since(start)

			return result
		}
	}
}

// plan decides whether to retry after a failed attempt and with what delay.
// An empty StopReason means "retry after delay".
func (o *Orchestrator) plan(ce classify.ClassifiedError, attemptNo int) (StopReason, time.Duration, string) {
	if !ce.Retryable {
		return ReasonNotRetryable, 0, ""
	}

	policy, ok := o.policies.Match(ce.Category)
	if !ok {
		return ReasonNoPolicy, 0, ""
	}

	if Attempts(attemptNo) >= policy.Attempts { //nolint:gosec // attemptNo >= 1
		return ReasonExhausted, 0, policy.Name
	}

	delay := policy.Backoff.Delay(uint(attemptNo - 1)) //nolint:gosec // attemptNo >= 1
	delay += additiveJitter(policy.JitterMax)

	return "", delay, policy.Name
}

// ExecuteValue runs an operation that returns a value under the
// orchestrator's policies.
func ExecuteValue[T any](
	ctx context.Context,
	o *Orchestrator,
	operationName string,
	operation func(ctx context.Context) (T, error),
) (T, Result) {
	var out T

	result := o.Execute(ctx, operationName, func(ctx context.Context) error {
		var err error

		out, err = operation(ctx)

		return err
	})
	if !result.Success {
		var zero T

		return zero, result
	}

	return out, result
}
