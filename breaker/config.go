package breaker

import (
	"log/slog"
	"time"
)

const (
	defaultFailureThreshold      = 0.5
	defaultMinimumCalls          = 10
	defaultSuccessThreshold      = 3
	defaultRecoveryTimeout       = 30 * time.Second
	defaultMonitoringWindow      = time.Minute
	defaultHistorySize           = 100
	defaultSlowCallThreshold     = 5 * time.Second
	defaultSlowCallRateThreshold = 0.5
)

// Config configures a single breaker. The zero value of every field other
// than Name is replaced with a sensible default.
type Config struct {
	// Name is the unique key of the protected resource.
	Name string `yaml:"name"`

	// FailureThreshold is the window failure rate (0..1) that trips the
	// breaker open.
	FailureThreshold float64 `yaml:"failure_threshold"`

	// MinimumCalls is the minimum number of calls inside the monitoring
	// window before rates are evaluated at all.
	MinimumCalls int `yaml:"minimum_calls"`

	// SuccessThreshold is the number of consecutive half-open trial
	// successes required to close the breaker.
	SuccessThreshold int `yaml:"success_threshold"`

	// RecoveryTimeout is how long an open breaker rejects calls before
	// admitting a trial.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// MonitoringWindow bounds the call history considered by rate
	// computations.
	MonitoringWindow time.Duration `yaml:"monitoring_window"`

	// HistorySize is the fixed capacity of the call-history ring buffer.
	HistorySize int `yaml:"history_size"`

	// SlowCallDetection enables the slow-call rate as an independent trip
	// condition.
	SlowCallDetection bool `yaml:"slow_call_detection"`

	// SlowCallThreshold is the duration beyond which a call counts as slow.
	SlowCallThreshold time.Duration `yaml:"slow_call_threshold"`

	// SlowCallRateThreshold is the window slow-call rate (0..1) that trips
	// the breaker when slow-call detection is enabled.
	SlowCallRateThreshold float64 `yaml:"slow_call_rate_threshold"`

	// OnStateChange, when set, is invoked on every transition. It runs
	// under the breaker's lock and must not call back into the breaker.
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// Logger receives state-change logs. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`

	// Now is the clock, overridable in tests.
	Now func() time.Time `yaml:"-"`
}

// DefaultConfig returns the default configuration for a named breaker.
func DefaultConfig(name string) Config {
	return Config{Name: name}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}

	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		c.FailureThreshold = defaultFailureThreshold
	}

	if c.MinimumCalls <= 0 {
		c.MinimumCalls = defaultMinimumCalls
	}

	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaultSuccessThreshold
	}

	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = defaultRecoveryTimeout
	}

	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = defaultMonitoringWindow
	}

	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}

	if c.SlowCallThreshold <= 0 {
		c.SlowCallThreshold = defaultSlowCallThreshold
	}

	if c.SlowCallRateThreshold <= 0 || c.SlowCallRateThreshold > 1 {
		c.SlowCallRateThreshold = defaultSlowCallRateThreshold
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	return c
}
