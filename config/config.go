// Package config loads the resilience stack's declarative configuration:
// retry policies, circuit breakers, dead letter queues, and the recovery
// chain, from a single YAML document.
//
//	policies:
//	  - name: database
//	    categories: [database]
//	    strategy: exponential
//	    max_attempts: 5
//	    base_delay: 1s
//	    max_delay: 30s
//	breakers:
//	  - name: database
//	    failure_threshold: 0.5
//	queues:
//	  - name: billing
//	    sweep_interval: 5s
//	recovery:
//	  strategies: [immediate_retry, exponential_backoff, fallback_value]
//	  max_attempts: 3
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/amp-labs/amp-resilience/breaker"
	"github.com/amp-labs/amp-resilience/classify"
	"github.com/amp-labs/amp-resilience/dlq"
	"github.com/amp-labs/amp-resilience/recovery"
	"github.com/amp-labs/amp-resilience/retry"
)

// EnvConfigPath is consulted by Load when no explicit path is given.
const EnvConfigPath = "AMP_RESILIENCE_CONFIG"

var (
	// ErrNoConfigPath - Load was called with no path and the environment
	// variable is unset.
	ErrNoConfigPath = errors.New("no config path given and " + EnvConfigPath + " is unset")
	// ErrUnknownBackoff - a policy names a backoff strategy that does not
	// exist.
	ErrUnknownBackoff = errors.New("unknown backoff strategy")
	// ErrUnknownStrategy - the recovery section names a strategy kind that
	// does not exist.
	ErrUnknownStrategy = errors.New("unknown recovery strategy")
)

// File is the root of the YAML document.
type File struct {
	// Policies configure the retry orchestrator.
	Policies []Policy `yaml:"policies"`
	// Breakers pre-registers named circuit breakers.
	Breakers []Breaker `yaml:"breakers"`
	// Queues pre-registers named dead letter queues.
	Queues []Queue `yaml:"queues"`
	// Recovery configures the default recovery chain.
	Recovery *Recovery `yaml:"recovery"`
}

// Policy is one retry policy.
type Policy struct {
	Name        string   `yaml:"name"`
	Categories  []string `yaml:"categories"`
	Priority    int      `yaml:"priority"`
	Strategy    string   `yaml:"strategy"` // exponential, linear, fixed, fibonacci
	MaxAttempts uint     `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Multiplier  float64  `yaml:"multiplier"`
	JitterMax   Duration `yaml:"jitter_max"`
}

// Breaker is one circuit breaker. Zero fields fall back to the breaker
// package defaults.
type Breaker struct {
	Name                  string   `yaml:"name"`
	FailureThreshold      float64  `yaml:"failure_threshold"`
	MinimumCalls          int      `yaml:"minimum_calls"`
	SuccessThreshold      int      `yaml:"success_threshold"`
	RecoveryTimeout       Duration `yaml:"recovery_timeout"`
	MonitoringWindow      Duration `yaml:"monitoring_window"`
	HistorySize           int      `yaml:"history_size"`
	SlowCallDetection     bool     `yaml:"slow_call_detection"`
	SlowCallThreshold     Duration `yaml:"slow_call_threshold"`
	SlowCallRateThreshold float64  `yaml:"slow_call_rate_threshold"`
}

// Queue is one dead letter queue. Zero fields fall back to the dlq package
// defaults.
type Queue struct {
	Name                 string   `yaml:"name"`
	MaxAttempts          int      `yaml:"max_attempts"`
	RetryDelay           Duration `yaml:"retry_delay"`
	BackoffMultiplier    float64  `yaml:"backoff_multiplier"`
	MaxDelay             Duration `yaml:"max_delay"`
	PoisonThreshold      int      `yaml:"poison_threshold"`
	SweepInterval        Duration `yaml:"sweep_interval"`
	SweepBatch           int      `yaml:"sweep_batch"`
	CleanupInterval      Duration `yaml:"cleanup_interval"`
	ResolvedRetention    Duration `yaml:"resolved_retention"`
	MaxRetention         Duration `yaml:"max_retention"`
	MaxQueueSize         int      `yaml:"max_queue_size"`
	CompressionThreshold int      `yaml:"compression_threshold"`
	Workers              int      `yaml:"workers"`
}

// Recovery configures the default recovery chain.
type Recovery struct {
	Strategies  []string `yaml:"strategies"`
	MaxAttempts int      `yaml:"max_attempts"`
	QueueName   string   `yaml:"queue_name"`
	CacheTTL    Duration `yaml:"cache_ttl"`
}

// Load reads the file at path. An empty path falls back to the
// AMP_RESILIENCE_CONFIG environment variable.
func Load(path string) (*File, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	if path == "" {
		return nil, ErrNoConfigPath
	}

	f, err := os.Open(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	file, err := LoadReader(f)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}

	return file, nil
}

// LoadReader decodes a YAML document. Unknown fields are rejected so typos
// fail loudly at startup instead of silently configuring nothing.
func LoadReader(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &file, nil
}

// PolicySet builds the retry policies. With no policies section it returns
// the stock defaults.
func (f *File) PolicySet() (*retry.PolicySet, error) {
	if len(f.Policies) == 0 {
		return retry.DefaultPolicies(), nil
	}

	set := retry.NewPolicySet()

	for _, p := range f.Policies {
		backoff, err := p.backoff()
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", p.Name, err)
		}

		categories := make([]classify.Category, 0, len(p.Categories))
		for _, c := range p.Categories {
			categories = append(categories, classify.Category(c))
		}

		err = set.Register(retry.Policy{
			Name:       p.Name,
			Categories: categories,
			Priority:   p.Priority,
			Attempts:   retry.Attempts(p.MaxAttempts),
			Backoff:    backoff,
			JitterMax:  p.JitterMax.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", p.Name, err)
		}
	}

	return set, nil
}

func (p Policy) backoff() (retry.Backoff, error) { //nolint:ireturn
	switch p.Strategy {
	case "exponential", "":
		return retry.ExpBackoff{
			Base:   p.BaseDelay.Std(),
			Max:    p.MaxDelay.Std(),
			Factor: p.Multiplier,
		}, nil
	case "linear":
		return retry.LinearBackoff{
			Base: p.BaseDelay.Std(),
			Max:  p.MaxDelay.Std(),
		}, nil
	case "fixed":
		return retry.FixedBackoff{Base: p.BaseDelay.Std()}, nil
	case "fibonacci":
		return retry.FibBackoff{
			Base: p.BaseDelay.Std(),
			Max:  p.MaxDelay.Std(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackoff, p.Strategy)
	}
}

// BreakerRegistry builds a registry with every configured breaker
// pre-registered.
func (f *File) BreakerRegistry() *breaker.Registry {
	registry := breaker.NewRegistry()

	for _, b := range f.Breakers {
		registry.GetOrCreate(breaker.Config{
			Name:                  b.Name,
			FailureThreshold:      b.FailureThreshold,
			MinimumCalls:          b.MinimumCalls,
			SuccessThreshold:      b.SuccessThreshold,
			RecoveryTimeout:       b.RecoveryTimeout.Std(),
			MonitoringWindow:      b.MonitoringWindow.Std(),
			HistorySize:           b.HistorySize,
			SlowCallDetection:     b.SlowCallDetection,
			SlowCallThreshold:     b.SlowCallThreshold.Std(),
			SlowCallRateThreshold: b.SlowCallRateThreshold,
		})
	}

	return registry
}

// QueueRegistry builds a registry with every configured queue
// pre-registered.
func (f *File) QueueRegistry() *dlq.Registry {
	registry := dlq.NewRegistry()

	for _, q := range f.Queues {
		registry.GetOrCreate(dlq.Config{
			Name:                 q.Name,
			MaxAttempts:          q.MaxAttempts,
			RetryDelay:           q.RetryDelay.Std(),
			BackoffMultiplier:    q.BackoffMultiplier,
			MaxDelay:             q.MaxDelay.Std(),
			PoisonThreshold:      q.PoisonThreshold,
			SweepInterval:        q.SweepInterval.Std(),
			SweepBatch:           q.SweepBatch,
			CleanupInterval:      q.CleanupInterval.Std(),
			ResolvedRetention:    q.ResolvedRetention.Std(),
			MaxRetention:         q.MaxRetention.Std(),
			MaxQueueSize:         q.MaxQueueSize,
			CompressionThreshold: q.CompressionThreshold,
			Workers:              q.Workers,
		})
	}

	return registry
}

// RecoveryConfig builds the recovery orchestrator config, wiring in the
// registries and policies declared by the same file.
func (f *File) RecoveryConfig() (recovery.Config, error) {
	policies, err := f.PolicySet()
	if err != nil {
		return recovery.Config{}, err
	}

	cfg := recovery.Config{
		Breakers: f.BreakerRegistry(),
		Queues:   f.QueueRegistry(),
		Retrier:  retry.NewOrchestrator(retry.OrchestratorConfig{Policies: policies}),
	}

	if f.Recovery == nil {
		return cfg, nil
	}

	for _, name := range f.Recovery.Strategies {
		kind := recovery.StrategyKind(name)
		if !kind.Valid() {
			return recovery.Config{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
		}

		cfg.Strategies = append(cfg.Strategies, kind)
	}

	cfg.MaxRecoveryAttempts = f.Recovery.MaxAttempts
	cfg.QueueName = f.Recovery.QueueName
	cfg.CacheTTL = f.Recovery.CacheTTL.Std()

	return cfg, nil
}
