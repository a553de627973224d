package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "circuit_breaker_state",
		Help: "Current breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"breaker"})

	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "circuit_breaker_calls_total",
		Help: "The total number of calls seen by the breaker, by result",
	}, []string{"breaker", "result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "circuit_breaker_transitions_total",
		Help: "The total number of state transitions, by destination state",
	}, []string{"breaker", "to"})
)
