package recovery

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/amp-labs/amp-resilience/classify"
)

// RequestMetric is one recovery run surfaced as a synthetic request, the
// shape an external request-metrics pipeline already understands.
type RequestMetric struct {
	// ID uniquely identifies the run.
	ID string
	// Endpoint is the operation name.
	Endpoint string
	// Method distinguishes recovery traffic from real requests.
	Method string
	// StatusCode is the category-mapped status of the outcome.
	StatusCode int
	// Duration covers the whole recovery run.
	Duration time.Duration
	// Timestamp is when the run finished.
	Timestamp time.Time
	// Error is the surfaced failure message, empty on success.
	Error string
}

// MetricsCollector receives one RequestMetric per recovery run. Implementations
// must be non-blocking and must never panic back into the caller.
type MetricsCollector interface {
	RecordRequest(metric RequestMetric)
}

// newRequestMetric builds the synthetic request for a finished run.
func newRequestMetric(req *Request, result Result) RequestMetric {
	metric := RequestMetric{
		ID:        uuid.NewString(),
		Endpoint:  req.Name,
		Method:    "RECOVERY",
		Duration:  result.TotalDuration,
		Timestamp: time.Now(),
	}

	if result.Success {
		metric.StatusCode = 200

		return metric
	}

	metric.StatusCode = 500

	var ce classify.ClassifiedError
	if errors.As(result.Err, &ce) {
		metric.StatusCode = ce.Category.HTTPStatus()
	}

	if result.Err != nil {
		metric.Error = result.Err.Error()
	}

	return metric
}

// promCollector exports recovery runs to the package prometheus metrics.
type promCollector struct{}

// NewPromCollector returns a MetricsCollector backed by the package's
// prometheus metrics.
func NewPromCollector() MetricsCollector {
	return promCollector{}
}

func (promCollector) RecordRequest(metric RequestMetric) {
	status := "success"
	if metric.Error != "" {
		status = "failure"
	}

	recoveryRuns.WithLabelValues(metric.Endpoint, status).Inc()
	recoveryDuration.WithLabelValues(metric.Endpoint).Observe(metric.Duration.Seconds())
}
