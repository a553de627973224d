// Package breaker implements the circuit breaker pattern for named resources.
// A breaker gates calls to a failing resource: it trips open once the recent
// failure rate (or slow-call rate) crosses a threshold, rejects calls for a
// recovery window, then admits a single trial call to probe recovery.
//
// Breakers never swallow errors: a call either returns the wrapped operation's
// error or the breaker's own rejection error (ErrOpen, ErrTrialInFlight). The
// caller decides what to do next.
//
// Basic usage:
//
//	b := breaker.New(breaker.Config{Name: "billing-db"})
//	err := b.Execute(ctx, func(ctx context.Context) error {
//	    return db.Ping(ctx)
//	})
//	if errors.Is(err, breaker.ErrOpen) {
//	    // serve a fallback instead
//	}
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrOpen is returned when the breaker rejects a call without executing it.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrTrialInFlight is returned in the half-open state when the single
	// admitted trial call has not completed yet.
	ErrTrialInFlight = errors.New("circuit breaker trial already in flight")
)

// State is the circuit breaker state.
type State int32

const (
	// StateClosed admits all calls.
	StateClosed State = iota
	// StateOpen rejects all calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen admits one trial call at a time to probe recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a per-resource failure gate. All state is guarded by its own
// mutex; a breaker is safe for concurrent use.
type Breaker struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	state         State
	consecFails   int
	trialSuccess  int
	trialInFlight bool
	totalCalls    uint64
	rejectedCalls uint64
	nextRetry     time.Time
	history       *history
}

// New creates a breaker from the config, applying defaults for zero fields.
func New(cfg Config) *Breaker {
	cfg = cfg.withDefaults()

	b := &Breaker{
		cfg:     cfg,
		log:     cfg.Logger,
		state:   StateClosed,
		history: newHistory(cfg.HistorySize),
	}

	breakerState.WithLabelValues(cfg.Name).Set(float64(StateClosed))

	return b
}

// Execute runs the operation under the breaker. In the open state the
// operation is not invoked and ErrOpen is returned.
func (b *Breaker) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	trial, err := b.acquire()
	if err != nil {
		callsTotal.WithLabelValues(b.cfg.Name, "rejected").Inc()

		return err
	}

	start := b.cfg.Now()
	opErr := operation(ctx)
	duration := b.cfg.Now().Sub(start)

	b.record(trial, opErr, duration)

	if opErr != nil {
		callsTotal.WithLabelValues(b.cfg.Name, "failure").Inc()
	} else {
		callsTotal.WithLabelValues(b.cfg.Name, "success").Inc()
	}

	return opErr
}

// Do runs an operation returning a value under the breaker.
func Do[T any](ctx context.Context, b *Breaker, operation func(ctx context.Context) (T, error)) (T, error) {
	var out T

	err := b.Execute(ctx, func(ctx context.Context) error {
		var opErr error

		out, opErr = operation(ctx)

		return opErr
	})
	if err != nil {
		var zero T

		return zero, err
	}

	return out, nil
}

// acquire decides whether a call may proceed. It returns trial=true when the
// call is the half-open probe.
func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.totalCalls++

		return false, nil

	case StateOpen:
		if b.cfg.Now().Before(b.nextRetry) {
			b.rejectedCalls++

			return false, fmt.Errorf("%w: %q", ErrOpen, b.cfg.Name)
		}

		// Recovery window elapsed: this call becomes the half-open trial.
		b.transitionLocked(StateHalfOpen)
		b.trialInFlight = true
		b.totalCalls++

		return true, nil

	case StateHalfOpen:
		if b.trialInFlight {
			b.rejectedCalls++

			return false, fmt.Errorf("%w: %q", ErrTrialInFlight, b.cfg.Name)
		}

		b.trialInFlight = true
		b.totalCalls++

		return true, nil

	default:
		return false, fmt.Errorf("%w: %q", ErrOpen, b.cfg.Name)
	}
}

// record feeds a call outcome back into the state machine.
func (b *Breaker) record(trial bool, opErr error, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()
	slow := b.cfg.SlowCallDetection && duration >= b.cfg.SlowCallThreshold

	b.history.append(callRecord{
		at:      now,
		failed:  opErr != nil,
		slow:    slow,
		elapsed: duration,
	})

	if trial {
		b.trialInFlight = false
	}

	if opErr == nil {
		b.onSuccessLocked(trial)

		return
	}

	b.onFailureLocked(trial, now)
}

func (b *Breaker) onSuccessLocked(trial bool) {
	switch b.state {
	case StateClosed:
		b.consecFails = 0

		// A successful but slow call can still trip the breaker.
		if b.cfg.SlowCallDetection {
			b.maybeOpenLocked(b.cfg.Now())
		}

	case StateHalfOpen:
		if !trial {
			return
		}

		b.trialSuccess++
		if b.trialSuccess >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}

	case StateOpen:
		// A stale call finishing after a force-open. Nothing to do.
	}
}

func (b *Breaker) onFailureLocked(trial bool, now time.Time) {
	switch b.state {
	case StateClosed:
		b.consecFails++
		b.maybeOpenLocked(now)

	case StateHalfOpen:
		if trial {
			b.transitionLocked(StateOpen)
		}

	case StateOpen:
		// Stale call; the breaker already opened.
	}
}

// maybeOpenLocked trips the breaker when window rates cross the thresholds.
func (b *Breaker) maybeOpenLocked(now time.Time) {
	total, failures, slow := b.history.windowCounts(now, b.cfg.MonitoringWindow)
	if total < b.cfg.MinimumCalls {
		return
	}

	failureRate := float64(failures) / float64(total)
	if failureRate >= b.cfg.FailureThreshold {
		b.transitionLocked(StateOpen)

		return
	}

	if b.cfg.SlowCallDetection {
		slowRate := float64(slow) / float64(total)
		if slowRate >= b.cfg.SlowCallRateThreshold {
			b.transitionLocked(StateOpen)
		}
	}
}

// transitionLocked moves the breaker to a new state, resetting the counters
// that belong to the state being left.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}

	b.state = to
	b.trialSuccess = 0
	b.trialInFlight = false

	switch to {
	case StateOpen:
		b.nextRetry = b.cfg.Now().Add(b.cfg.RecoveryTimeout)
	case StateClosed:
		b.consecFails = 0
		b.history.reset()
	case StateHalfOpen:
	}

	breakerState.WithLabelValues(b.cfg.Name).Set(float64(to))
	transitionsTotal.WithLabelValues(b.cfg.Name, to.String()).Inc()

	b.log.Info("circuit breaker state change",
		"breaker", b.cfg.Name,
		"from", from.String(),
		"to", to.String(),
	)

	if b.cfg.OnStateChange != nil {
		// Callback runs under the breaker lock; it must not call back in.
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// ForceState is an administrative override for an operations dashboard.
func (b *Breaker) ForceState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked(s)
}

// Reset restores the breaker to a pristine closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked(StateClosed)
	b.consecFails = 0
	b.totalCalls = 0
	b.rejectedCalls = 0
	b.nextRetry = time.Time{}
	b.history.reset()
}

// Stats is a point-in-time snapshot for introspection and alerting.
type Stats struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	TotalCalls    uint64    `json:"total_calls"`
	RejectedCalls uint64    `json:"rejected_calls"`
	FailureRate   float64   `json:"failure_rate"`
	SlowCallRate  float64   `json:"slow_call_rate"`
	ConsecFails   int       `json:"consecutive_failures"`
	NextRetry     time.Time `json:"next_retry,omitzero"`
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()
	total, failures, slow := b.history.windowCounts(now, b.cfg.MonitoringWindow)

	var failureRate, slowRate float64
	if total > 0 {
		failureRate = float64(failures) / float64(total)
		slowRate = float64(slow) / float64(total)
	}

	stats := Stats{
		Name:          b.cfg.Name,
		State:         b.state.String(),
		TotalCalls:    b.totalCalls,
		RejectedCalls: b.rejectedCalls,
		FailureRate:   failureRate,
		SlowCallRate:  slowRate,
		ConsecFails:   b.consecFails,
	}

	if b.state == StateOpen {
		stats.NextRetry = b.nextRetry
	}

	return stats
}
