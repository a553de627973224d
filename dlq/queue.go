// Package dlq implements dead letter queues for failed operations. A queue
// captures operations that have exhausted their retries, periodically sweeps
// them back through registered handlers, and quarantines records that keep
// failing as poison.
//
// Basic usage:
//
//	queue := dlq.New(dlq.Config{Name: "billing"})
//	queue.RegisterHandler("charge-card", retryCharge)
//
//	if err := queue.Start(ctx); err != nil {
//	    return err
//	}
//	defer queue.Stop()
//
//	id, err := queue.Enqueue(ctx, dlq.Failure{
//	    OperationName: "charge-card",
//	    Payload:       body,
//	    Err:           chargeErr,
//	})
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/amp-labs/amp-resilience/classify"
	"github.com/amp-labs/amp-resilience/logger"
)

var (
	// ErrMissingOperation - Failure.OperationName is empty.
	ErrMissingOperation = errors.New("operation name is required")
	// ErrUnknownRecord - no record exists with the given id.
	ErrUnknownRecord = errors.New("unknown record")
	// ErrPoisoned - the record is quarantined and cannot be retried.
	ErrPoisoned = errors.New("record is poisoned")
	// ErrAlreadyRunning - Start was called on a running queue.
	ErrAlreadyRunning = errors.New("queue already running")
)

// Handler retries a dead-lettered operation. The record's payload arrives
// decompressed. A nil return resolves the record; an error schedules the next
// automatic retry or, past the attempt limit, quarantines it.
type Handler func(ctx context.Context, op FailedOperation) error

// Failure describes one operation to dead-letter.
type Failure struct {
	// OperationName selects the retry handler. Required.
	OperationName string
	// Payload is the operation input, stored with the record.
	Payload []byte
	// Err is the failure that exhausted the operation's retries.
	Err error
	// Priority orders sweep processing; higher goes first.
	Priority int
	// Tags carry caller-defined labels for filtering.
	Tags []string
	// MaxAttempts overrides the queue's attempt cap for this record.
	MaxAttempts int
}

// Stats is a point-in-time snapshot of a queue.
type Stats struct {
	Name          string
	Total         int
	ByStatus      map[Status]int
	OldestPending time.Time
	Enqueued      int64
	Deduped       int64
	Resolved      int64
	Poisoned      int64
	Evicted       int64
}

// Queue is a bounded in-memory dead letter queue. Safe for concurrent use.
type Queue struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	records  map[string]*FailedOperation
	handlers map[string]Handler

	pool     pond.Pool
	running  atomic.Bool
	sweeping atomic.Bool
	stop     chan struct{}
	done     chan struct{}

	enqueued atomic.Int64
	deduped  atomic.Int64
	resolved atomic.Int64
	poisoned atomic.Int64
	evicted  atomic.Int64
}

// New creates a stopped queue. Call Start to begin sweeping.
func New(cfg Config) *Queue {
	cfg = cfg.withDefaults()

	return &Queue{
		cfg:      cfg,
		log:      cfg.Logger.With("queue", cfg.Name),
		now:      cfg.Now,
		records:  make(map[string]*FailedOperation),
		handlers: make(map[string]Handler),
		pool:     pond.NewPool(cfg.Workers),
	}
}

// RegisterHandler binds a retry handler to an operation name, replacing any
// previous handler. Records already marked failed for lack of a handler stay
// failed until retried manually.
func (q *Queue) RegisterHandler(operationName string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[operationName] = handler
}

// Enqueue dead-letters an operation and returns the record id. A pending or
// failed record with the same operation name and payload is folded into
// instead of duplicated: its attempt count, error, and retry schedule are
// refreshed and its id returned.
func (q *Queue) Enqueue(ctx context.Context, failure Failure) (string, error) {
	if failure.OperationName == "" {
		return "", ErrMissingOperation
	}

	ce := classify.Classify(failure.Err, classify.Context{Operation: failure.OperationName})
	fp := fingerprint(failure.OperationName, failure.Payload)
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing := q.findDuplicateLocked(fp); existing != nil {
		existing.Attempts++
		existing.LastAttempt = now
		existing.NextRetry = now.Add(q.retryDelay(existing.Attempts))
		q.applyErrorLocked(existing, ce)
		q.deduped.Inc()
		dedupedTotal.WithLabelValues(q.cfg.Name).Inc()

		q.log.Debug("dead letter deduplicated",
			"operation", failure.OperationName,
			"id", existing.ID,
			"attempts", existing.Attempts,
		)

		return existing.ID, nil
	}

	if len(q.records) >= q.cfg.MaxQueueSize {
		q.evictOldestLocked()
	}

	payload, compressed := encodePayload(failure.Payload, q.cfg.CompressionThreshold)

	op := &FailedOperation{
		ID:            uuid.NewString(),
		OperationName: failure.OperationName,
		Payload:       payload,
		Compressed:    compressed,
		Fingerprint:   fp,
		Attempts:      1,
		MaxAttempts:   failure.MaxAttempts,
		FirstFailure:  now,
		LastAttempt:   now,
		NextRetry:     now.Add(q.cfg.RetryDelay),
		Status:        StatusPending,
		Priority:      failure.Priority,
		Tags:          append([]string(nil), failure.Tags...),
	}
	q.applyErrorLocked(op, ce)

	q.records[op.ID] = op
	q.enqueued.Inc()
	enqueuedTotal.WithLabelValues(q.cfg.Name).Inc()
	q.updateDepthLocked()

	q.log.Info("operation dead-lettered",
		"operation", failure.OperationName,
		"id", op.ID,
		"category", string(op.Category),
		"priority", op.Priority,
	)

	return op.ID, nil
}

// Start launches the sweep and cleanup loops. The queue stops when ctx ends
// or Stop is called. A queue cannot be restarted after Stop.
func (q *Queue) Start(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %q", ErrAlreadyRunning, q.cfg.Name)
	}

	q.stop = make(chan struct{})
	q.done = make(chan struct{})

	go q.loop(ctx)

	q.log.Info("dead letter queue started",
		"sweep_interval", q.cfg.SweepInterval,
		"workers", q.cfg.Workers,
	)

	return nil
}

// Stop halts the loops and waits for in-flight handlers to finish. Stop is
// idempotent and final.
func (q *Queue) Stop() {
	if !q.running.CompareAndSwap(true, false) {
		return
	}

	close(q.stop)
	<-q.done
	q.pool.StopAndWait()

	q.log.Info("dead letter queue stopped")
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.cfg.Name
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)

	sweepTick := time.NewTicker(q.cfg.SweepInterval)
	defer sweepTick.Stop()

	cleanupTick := time.NewTicker(q.cfg.CleanupInterval)
	defer cleanupTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-sweepTick.C:
			q.sweep(ctx)
		case <-cleanupTick.C:
			q.cleanup()
		}
	}
}

// sweep runs due pending records through their handlers. Concurrent sweeps
// collapse into one.
func (q *Queue) sweep(ctx context.Context) {
	if !q.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer q.sweeping.Store(false)

	start := time.Now()
	batch := q.claimDue()

	if len(batch) == 0 {
		return
	}

	group := q.pool.NewGroup()

	for _, op := range batch {
		group.Submit(func() {
			q.process(ctx, op)
		})
	}

	_ = group.Wait()

	sweepDuration.WithLabelValues(q.cfg.Name).Observe(time.Since(start).Seconds())

	q.log.Debug("sweep finished", "records", len(batch), "elapsed", time.Since(start))
}

// claimDue selects up to SweepBatch due pending records, highest priority
// first and oldest first within a priority, and marks them processing.
func (q *Queue) claimDue() []FailedOperation {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]*FailedOperation, 0, q.cfg.SweepBatch)

	for _, op := range q.records {
		if op.Status == StatusPending && !op.NextRetry.After(now) {
			due = append(due, op)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}

		return due[i].FirstFailure.Before(due[j].FirstFailure)
	})

	if len(due) > q.cfg.SweepBatch {
		due = due[:q.cfg.SweepBatch]
	}

	batch := make([]FailedOperation, 0, len(due))

	for _, op := range due {
		op.Status = StatusProcessing
		batch = append(batch, op.clone())
	}

	q.updateDepthLocked()

	return batch
}

// process runs one claimed record through its handler and settles the
// outcome.
func (q *Queue) process(ctx context.Context, op FailedOperation) {
	q.mu.Lock()
	handler := q.handlers[op.OperationName]
	q.mu.Unlock()

	if handler == nil {
		q.settle(op.ID, func(rec *FailedOperation) {
			rec.Status = StatusFailed
		})

		q.log.Warn("no handler registered, record parked",
			"operation", op.OperationName,
			"id", op.ID,
		)

		return
	}

	payload, err := decodePayload(op.Payload, op.Compressed)
	if err == nil {
		op.Payload = payload
		op.Compressed = false

		err = q.runHandler(ctx, handler, op)
	}

	if err == nil {
		q.settle(op.ID, func(rec *FailedOperation) {
			rec.Status = StatusResolved
			rec.LastAttempt = q.now()
			q.resolved.Inc()
			resolvedTotal.WithLabelValues(q.cfg.Name).Inc()
		})

		q.log.Info("dead letter resolved", "operation", op.OperationName, "id", op.ID)

		return
	}

	ce := classify.Classify(err, classify.Context{Operation: op.OperationName})

	q.settle(op.ID, func(rec *FailedOperation) {
		rec.Attempts++
		rec.LastAttempt = q.now()
		q.applyErrorLocked(rec, ce)

		if rec.Attempts >= rec.maxAttempts(q.cfg.MaxAttempts) || rec.Attempts >= q.cfg.PoisonThreshold {
			rec.Status = StatusPoison
			q.poisoned.Inc()
			poisonedTotal.WithLabelValues(q.cfg.Name).Inc()

			q.log.Warn("record quarantined as poison",
				"operation", op.OperationName,
				"id", op.ID,
				"attempts", rec.Attempts,
			)

			return
		}

		rec.Status = StatusPending
		rec.NextRetry = q.now().Add(q.retryDelay(rec.Attempts))

		q.log.Debug("redelivery failed, rescheduled",
			"operation", op.OperationName,
			"id", op.ID,
			"error", logger.AnnotateError(err,
				"category", string(ce.Category),
				"attempt", rec.Attempts,
			),
		)
	})
}

// runHandler isolates handler panics so one bad handler cannot take down the
// sweep pool.
func (q *Queue) runHandler(ctx context.Context, handler Handler, op FailedOperation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r) //nolint:err113 // Panic payload is dynamic
		}
	}()

	return handler(ctx, op)
}

// settle applies a mutation to a record if it is still in processing state.
// A record resolved or retried manually mid-flight wins over the handler
// outcome.
func (q *Queue) settle(id string, mutate func(rec *FailedOperation)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[id]
	if !ok || rec.Status != StatusProcessing {
		return
	}

	mutate(rec)
	q.updateDepthLocked()
}

// cleanup enforces retention: resolved records past ResolvedRetention and any
// record past MaxRetention are dropped.
func (q *Queue) cleanup() {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0

	for id, rec := range q.records {
		expired := rec.Status == StatusResolved && now.Sub(rec.LastAttempt) >= q.cfg.ResolvedRetention
		expired = expired || now.Sub(rec.FirstFailure) >= q.cfg.MaxRetention

		if expired {
			delete(q.records, id)

			removed++

			q.evicted.Inc()
			evictedTotal.WithLabelValues(q.cfg.Name).Inc()
		}
	}

	if removed > 0 {
		q.updateDepthLocked()
		q.log.Debug("retention cleanup", "removed", removed)
	}
}

// Resolve closes a record out manually. It reports whether the record
// transitioned; resolving an already-resolved record is a no-op, resolving a
// poison record is refused.
func (q *Queue) Resolve(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[id]
	if !ok || rec.Status == StatusResolved || rec.Status.Terminal() {
		return false
	}

	rec.Status = StatusResolved
	rec.LastAttempt = q.now()
	q.resolved.Inc()
	resolvedTotal.WithLabelValues(q.cfg.Name).Inc()
	q.updateDepthLocked()

	return true
}

// Retry schedules a record for the next sweep regardless of its backoff,
// including records parked as failed. Poison records are refused.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRecord, id)
	}

	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %q", ErrPoisoned, id)
	}

	rec.Status = StatusPending
	rec.NextRetry = q.now()
	q.updateDepthLocked()

	return nil
}

// MarkPoison quarantines a record manually.
func (q *Queue) MarkPoison(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRecord, id)
	}

	if rec.Status.Terminal() {
		return nil
	}

	rec.Status = StatusPoison
	q.poisoned.Inc()
	poisonedTotal.WithLabelValues(q.cfg.Name).Inc()
	q.updateDepthLocked()

	return nil
}

// Get returns a copy of a record.
func (q *Queue) Get(id string) (FailedOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[id]
	if !ok {
		return FailedOperation{}, false
	}

	return rec.clone(), true
}

// Filter selects records in List. Zero fields match everything.
type Filter struct {
	// Status matches records in need of this lifecycle state.
	Status Status
	// OperationName matches records of this operation.
	OperationName string
	// Tag matches records carrying this tag.
	Tag string
}

// List returns copies of matching records, highest priority first and oldest
// first within a priority.
func (q *Queue) List(filter Filter) []FailedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]FailedOperation, 0, len(q.records))

	for _, rec := range q.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}

		if filter.OperationName != "" && rec.OperationName != filter.OperationName {
			continue
		}

		if filter.Tag != "" && !hasTag(rec.Tags, filter.Tag) {
			continue
		}

		out = append(out, rec.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}

		return out[i].FirstFailure.Before(out[j].FirstFailure)
	})

	return out
}

// Stats returns a point-in-time snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Name:     q.cfg.Name,
		Total:    len(q.records),
		ByStatus: make(map[Status]int),
		Enqueued: q.enqueued.Load(),
		Deduped:  q.deduped.Load(),
		Resolved: q.resolved.Load(),
		Poisoned: q.poisoned.Load(),
		Evicted:  q.evicted.Load(),
	}

	for _, rec := range q.records {
		stats.ByStatus[rec.Status]++

		if rec.Status == StatusPending &&
			(stats.OldestPending.IsZero() || rec.FirstFailure.Before(stats.OldestPending)) {
			stats.OldestPending = rec.FirstFailure
		}
	}

	return stats
}

// findDuplicateLocked returns a pending or failed record with the same
// fingerprint, if any.
func (q *Queue) findDuplicateLocked(fp uint64) *FailedOperation {
	for _, rec := range q.records {
		if rec.Fingerprint == fp && (rec.Status == StatusPending || rec.Status == StatusFailed) {
			return rec
		}
	}

	return nil
}

// evictOldestLocked drops the record with the earliest first failure to make
// room for a new one.
func (q *Queue) evictOldestLocked() {
	var oldest *FailedOperation

	for _, rec := range q.records {
		if oldest == nil || rec.FirstFailure.Before(oldest.FirstFailure) {
			oldest = rec
		}
	}

	if oldest == nil {
		return
	}

	delete(q.records, oldest.ID)
	q.evicted.Inc()
	evictedTotal.WithLabelValues(q.cfg.Name).Inc()

	q.log.Warn("queue full, evicted oldest record",
		"operation", oldest.OperationName,
		"id", oldest.ID,
		"status", string(oldest.Status),
	)
}

func (q *Queue) applyErrorLocked(rec *FailedOperation, ce classify.ClassifiedError) {
	rec.Category = ce.Category
	rec.Severity = ce.Severity
	rec.Retryable = ce.Retryable

	if ce.Original != nil {
		rec.ErrorMessage = ce.Original.Error()
	}
}

// retryDelay computes the automatic retry delay after the given number of
// attempts: RetryDelay * BackoffMultiplier^(attempts-1), capped at MaxDelay.
func (q *Queue) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	f := float64(q.cfg.RetryDelay) * math.Pow(q.cfg.BackoffMultiplier, float64(attempts-1))
	if f >= float64(q.cfg.MaxDelay) {
		return q.cfg.MaxDelay
	}

	return time.Duration(f)
}

func (q *Queue) updateDepthLocked() {
	counts := make(map[Status]int)
	for _, rec := range q.records {
		counts[rec.Status]++
	}

	for _, status := range []Status{
		StatusPending, StatusProcessing, StatusFailed, StatusResolved, StatusPoison,
	} {
		queueDepth.WithLabelValues(q.cfg.Name, string(status)).Set(float64(counts[status]))
	}
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}

	return false
}
