package retry

import (
	"math"
	"time"
)

// Backoff calculates the delay before the next retry attempt. The attempt
// parameter is zero-indexed (0 for the first retry). Every implementation in
// this package produces a monotonically non-decreasing sequence capped at its
// Max.
type Backoff interface {
	Delay(attempt uint) time.Duration
}

// ExpBackoff grows the delay exponentially: Base * Factor^attempt, clamped
// between Base and Max.
//
//	ExpBackoff{Base: 100ms, Max: 10s, Factor: 2}
//	// 100ms, 200ms, 400ms, 800ms, 1.6s, ..., 10s, 10s
type ExpBackoff struct {
	// Base is the initial delay duration.
	Base time.Duration
	// Max caps the delay.
	Max time.Duration
	// Factor is the multiplier applied to each successive delay.
	Factor float64
}

func (b ExpBackoff) Delay(attempt uint) time.Duration {
	// Clamp in float space so large attempt numbers cannot overflow the
	// Duration conversion.
	f := float64(b.Base) * math.Pow(b.Factor, float64(attempt))
	if f >= float64(b.Max) {
		return b.Max
	}

	if f < float64(b.Base) {
		return b.Base
	}

	return time.Duration(f)
}

// LinearBackoff grows the delay linearly: Base * (attempt+1), capped at Max.
//
//	LinearBackoff{Base: 1s, Max: 5s}
//	// 1s, 2s, 3s, 4s, 5s, 5s
type LinearBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b LinearBackoff) Delay(attempt uint) time.Duration {
	d := b.Base * time.Duration(attempt+1)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}

	return d
}

// FixedBackoff waits the same Base delay between every attempt.
type FixedBackoff struct {
	Base time.Duration
}

func (b FixedBackoff) Delay(uint) time.Duration {
	return b.Base
}

// FibBackoff scales the delay by the Fibonacci sequence: fib(attempt+1) * Base,
// capped at Max. It ramps up faster than linear but slower than exponential,
// which suits timeout-category failures where the resource usually recovers
// quickly.
//
//	FibBackoff{Base: 500ms, Max: 10s}
//	// 500ms, 500ms, 1s, 1.5s, 2.5s, 4s, 6.5s, 10s
type FibBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b FibBackoff) Delay(attempt uint) time.Duration {
	d := time.Duration(fib(attempt+1)) * b.Base
	if b.Max > 0 && d > b.Max {
		return b.Max
	}

	return d
}

// fib returns the nth Fibonacci number iteratively (fib(1) == fib(2) == 1).
// Inputs are small in practice; the value is clamped once it would overflow
// a duration multiplier anyway via the Max cap.
func fib(n uint) uint64 {
	if n == 0 {
		return 0
	}

	var a, b uint64 = 0, 1
	for i := uint(1); i < n; i++ {
		a, b = b, a+b
	}

	return b
}
