package breaker

import "time"

// callRecord is one completed call outcome.
type callRecord struct {
	at      time.Time
	failed  bool
	slow    bool
	elapsed time.Duration
}

// history is a fixed-capacity ring buffer of call outcomes. The buffer is
// pre-sized once and the oldest slot is overwritten on wrap; it never
// reallocates. Callers provide their own synchronization.
type history struct {
	records []callRecord
	next    int
	filled  bool
}

func newHistory(capacity int) *history {
	return &history{
		records: make([]callRecord, capacity),
	}
}

func (h *history) append(rec callRecord) {
	h.records[h.next] = rec

	h.next++
	if h.next == len(h.records) {
		h.next = 0
		h.filled = true
	}
}

// windowCounts returns the number of calls, failures and slow calls recorded
// within the window ending at now.
func (h *history) windowCounts(now time.Time, window time.Duration) (total, failures, slow int) {
	cutoff := now.Add(-window)

	n := h.next
	if h.filled {
		n = len(h.records)
	}

	for i := 0; i < n; i++ {
		rec := h.records[i]
		if rec.at.Before(cutoff) {
			continue
		}

		total++

		if rec.failed {
			failures++
		}

		if rec.slow {
			slow++
		}
	}

	return total, failures, slow
}

func (h *history) reset() {
	h.next = 0
	h.filled = false
}
