package dlq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "dead_letter_queue_depth",
		Help: "The number of records currently in the queue, by status",
	}, []string{"queue", "status"})

	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "dead_letter_enqueued_total",
		Help: "The total number of operations dead-lettered",
	}, []string{"queue"})

	dedupedTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "dead_letter_deduped_total",
		Help: "The total number of enqueues folded into an existing record",
	}, []string{"queue"})

	resolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "dead_letter_resolved_total",
		Help: "The total number of records resolved",
	}, []string{"queue"})

	poisonedTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "dead_letter_poisoned_total",
		Help: "The total number of records quarantined as poison",
	}, []string{"queue"})

	evictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "dead_letter_evicted_total",
		Help: "The total number of records evicted by capacity or retention",
	}, []string{"queue"})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name:    "dead_letter_sweep_duration_seconds",
		Help:    "How long one sweep of due records took",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
)
