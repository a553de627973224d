package retry

import (
	"math/rand"
	"time"
)

// Jitter randomizes backoff delays to prevent synchronized retry storms. The
// value is the proportion of the delay that is randomized:
//
//   - 0.0 or negative: no jitter, the exact delay is used
//   - 0.5: equal jitter, half deterministic and half random
//   - 1.0: full jitter, uniformly random in [0, delay]
type Jitter float64

// EqualJitter randomizes half of the delay: delay/2 + random(0, delay/2).
const EqualJitter Jitter = 0.5

// FullJitter makes the delay uniformly random in [0, delay], the strongest
// protection against thundering herds.
const FullJitter Jitter = 1.0

// WithoutJitter keeps the exact calculated delay. Useful in tests and when
// deterministic timing is required.
const WithoutJitter Jitter = -1.0

// jitter applies the strategy to a delay.
func (j Jitter) jitter(d time.Duration) time.Duration {
	if j <= 0.0 {
		return d
	}

	//nolint:gosec // G404: math/rand is sufficient for jitter
	r := rand.Float64() * float64(d)

	if j < 1.0 {
		// Blend: jitter * random + (1 - jitter) * delay.
		r = float64(j)*r + float64(1.0-j)*float64(d)
	}

	return time.Duration(r)
}

// additiveJitter returns a uniformly random duration in [0, max], added on
// top of a capped backoff delay by the policy orchestrator so the final delay
// stays within [delay, delay+max].
func additiveJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	//nolint:gosec // G404: math/rand is sufficient for jitter
	return time.Duration(rand.Int63n(int64(max) + 1))
}
