package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recoveryRuns = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "recovery_runs_total",
		Help: "The total number of recovery runs, by outcome",
	}, []string{"operation", "status"})

	recoveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name:    "recovery_run_duration_seconds",
		Help:    "How long whole recovery runs took",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	strategyAttempts = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "recovery_strategy_attempts_total",
		Help: "The total number of strategy executions, by strategy and outcome",
	}, []string{"strategy", "outcome"})

	strategyPanics = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "recovery_strategy_panics_total",
		Help: "The total number of panics recovered from strategies",
	}, []string{"strategy"})
)
