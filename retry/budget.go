package retry

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const defaultBucketCount = 60

// Budget implements the retry-budget pattern: it tracks the rates of initial
// and retried calls over a sliding window and refuses retries once they would
// exceed a configured fraction of the initial traffic. This keeps retries
// from amplifying load during an outage.
//
//	budget := &retry.Budget{
//	    Rate:  10.0, // enforce only when initial traffic exceeds 10 req/s
//	    Ratio: 0.1,  // allow up to 10% of traffic to be retries
//	}
type Budget struct {
	// Rate is the minimum initial request rate (req/sec) before enforcement
	// begins. Below it retries are always allowed.
	Rate float64
	// Ratio is the maximum allowed ratio of retried to initial requests.
	Ratio float64

	mu           sync.Mutex
	initialCalls *rateWindow
	retriedCalls *rateWindow
}

// sendOK reports whether an attempt may proceed. Initial calls are always
// allowed and count toward the budget; retries are allowed while the initial
// rate is under Rate or the retry ratio is under Ratio.
func (b *Budget) sendOK(isRetry bool) bool {
	if b == nil {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialCalls == nil {
		b.initialCalls = newRateWindow()
	}

	if b.retriedCalls == nil {
		b.retriedCalls = newRateWindow()
	}

	now := time.Now()

	if !isRetry {
		b.initialCalls.Add(now, 1)

		return true
	}

	initialRate := b.initialCalls.Rate(now)
	retriedRate := b.retriedCalls.Rate(now)

	if initialRate > b.Rate && retriedRate/initialRate > b.Ratio {
		return false
	}

	b.retriedCalls.Add(now, 1)

	return true
}

// rateWindow tracks an event rate over a sliding time window using a circular
// buffer of per-interval buckets. The oldest and newest buckets are partially
// weighted so the window length stays constant as time advances.
type rateWindow struct {
	bucketLength time.Duration
	bucketNum    int

	buckets    []int
	lastUpdate time.Time
}

// newRateWindow returns a window of 60 one-second buckets.
func newRateWindow() *rateWindow {
	return &rateWindow{
		bucketLength: time.Second,
		bucketNum:    defaultBucketCount,
	}
}

// Add records n events at time t. Events before the last update are dropped;
// time does not move backward in this structure.
func (rw *rateWindow) Add(t time.Time, n int) {
	if t.Before(rw.lastUpdate) {
		return
	}

	rw.forward(t)
	rw.buckets[len(rw.buckets)-1] += n
}

// Rate computes the events-per-second rate at time t. Returns NaN for
// timestamps before the last update.
func (rw *rateWindow) Rate(t time.Time) float64 {
	if t.Before(rw.lastUpdate) {
		return math.NaN()
	}

	rw.forward(t)

	return rw.count() / rw.seconds()
}

// count sums the window's events. Until the history fills, every bucket
// counts fully; afterwards the oldest bucket is weighted by the fraction of
// it still inside the window.
func (rw *rateWindow) count() float64 {
	if len(rw.buckets) <= rw.bucketNum {
		var s float64
		for _, c := range rw.buckets {
			s += float64(c)
		}

		return s
	}

	oldestFraction := 1.0 -
		float64(rw.lastUpdate.Sub(roundDown(rw.lastUpdate, rw.bucketLength)))/
			float64(rw.bucketLength)

	s := oldestFraction * float64(rw.buckets[0])
	for i := 1; i < len(rw.buckets); i++ {
		s += float64(rw.buckets[i])
	}

	return s
}

// seconds is the time span currently covered by the window.
func (rw *rateWindow) seconds() float64 {
	if len(rw.buckets) == 0 {
		return 0.0
	}

	if len(rw.buckets) <= rw.bucketNum {
		d := time.Duration(len(rw.buckets)-1) * rw.bucketLength
		d += rw.lastUpdate.Sub(roundDown(rw.lastUpdate, rw.bucketLength))

		return d.Seconds()
	}

	return (time.Duration(rw.bucketNum) * rw.bucketLength).Seconds()
}

// shift appends n empty buckets, discarding the oldest beyond bucketNum+1.
// The extra bucket lets both window edges be partially weighted.
func (rw *rateWindow) shift(n int) {
	if n > rw.bucketNum+1 {
		n = rw.bucketNum + 1
	}

	rw.buckets = append(rw.buckets, make([]int, n)...)

	if del := len(rw.buckets) - (rw.bucketNum + 1); del > 0 {
		rw.buckets = rw.buckets[del:]
	}

	rw.lastUpdate = roundDown(rw.lastUpdate, rw.bucketLength).
		Add(time.Duration(n) * rw.bucketLength)
}

// forward advances the window to time t, shifting buckets across every
// boundary crossed since the last update.
func (rw *rateWindow) forward(t time.Time) {
	defer func() {
		rw.lastUpdate = t
	}()

	if rw.lastUpdate.IsZero() {
		rw.buckets = []int{0}

		return
	}

	rt := roundDown(t, rw.bucketLength)
	if !rt.After(rw.lastUpdate) {
		return
	}

	n := int(rt.Sub(roundDown(rw.lastUpdate, rw.bucketLength)) / rw.bucketLength)
	if n <= 0 {
		panic(fmt.Sprintf("assertion failure: n = %d, want >0; rt = %v, lastUpdate = %v",
			n, rt, rw.lastUpdate))
	}

	rw.shift(n)
}

// roundDown rounds t down to the nearest multiple of d.
func roundDown(t time.Time, d time.Duration) time.Time {
	rt := t.Round(d)
	if rt.After(t) {
		rt = rt.Add(-d)
	}

	return rt
}
