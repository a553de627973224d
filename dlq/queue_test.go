package dlq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amp-labs/amp-resilience/classify"
)

var errBoom = errors.New("boom")

// fakeClock is a manually advanced clock so retry-schedule tests never sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, clock *fakeClock, mutate func(*Config)) *Queue {
	t.Helper()

	cfg := Config{
		Name:        "test-" + t.Name(),
		MaxAttempts: 3,
		RetryDelay:  time.Second,
		Logger:      slogt.New(t),
		Now:         clock.Now,
	}

	if mutate != nil {
		mutate(&cfg)
	}

	return New(cfg)
}

func TestQueue_Enqueue(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, nil)

	id, err := q.Enqueue(context.Background(), Failure{
		OperationName: "sync-contacts",
		Payload:       []byte(`{"tenant":"acme"}`),
		Err:           errors.New("sql transaction aborted"), //nolint:err113 // Test error
		Priority:      3,
		Tags:          []string{"tenant:acme"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, classify.CategoryDatabase, rec.Category)
	assert.True(t, rec.Retryable)
	assert.Equal(t, clock.Now().Add(time.Second), rec.NextRetry)
	assert.Equal(t, 3, rec.Priority)
}

func TestQueue_EnqueueRequiresOperationName(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(), nil)

	_, err := q.Enqueue(context.Background(), Failure{Err: errBoom})
	require.ErrorIs(t, err, ErrMissingOperation)
}

func TestQueue_EnqueueDeduplicates(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, nil)

	failure := Failure{
		OperationName: "sync-contacts",
		Payload:       []byte(`{"tenant":"acme"}`),
		Err:           errBoom,
	}

	first, err := q.Enqueue(context.Background(), failure)
	require.NoError(t, err)

	second, err := q.Enqueue(context.Background(), failure)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical failures fold into one record")

	rec, _ := q.Get(first)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, int64(1), q.Stats().Deduped)
	assert.Equal(t, 1, q.Stats().Total)
}

func TestQueue_EnqueueDistinctPayloadsKept(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(), nil)

	a, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("a"), Err: errBoom})
	b, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("b"), Err: errBoom})

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, q.Stats().Total)
}

func TestQueue_CapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, func(cfg *Config) {
		cfg.MaxQueueSize = 2
	})

	oldest, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("a"), Err: errBoom})

	clock.Advance(time.Second)

	kept, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("b"), Err: errBoom})

	clock.Advance(time.Second)

	last, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("c"), Err: errBoom})

	_, ok := q.Get(oldest)
	assert.False(t, ok, "oldest record is evicted at capacity")

	_, ok = q.Get(kept)
	assert.True(t, ok)

	_, ok = q.Get(last)
	assert.True(t, ok)

	assert.Equal(t, int64(1), q.Stats().Evicted)
}

func TestQueue_CompressesLargePayloads(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(), func(cfg *Config) {
		cfg.CompressionThreshold = 64
	})

	payload := []byte(`{"rows":"` + string(make([]byte, 512)) + `"}`)

	id, err := q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: payload, Err: errBoom})
	require.NoError(t, err)

	rec, _ := q.Get(id)
	assert.True(t, rec.Compressed)
	assert.Less(t, len(rec.Payload), len(payload))

	decoded, err := decodePayload(rec.Payload, rec.Compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestQueue_SweepResolvesOnHandlerSuccess(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, nil)

	var handled FailedOperation

	q.RegisterHandler("sync-contacts", func(ctx context.Context, op FailedOperation) error {
		handled = op

		return nil
	})

	id, _ := q.Enqueue(context.Background(), Failure{
		OperationName: "sync-contacts",
		Payload:       []byte("payload"),
		Err:           errBoom,
	})

	clock.Advance(2 * time.Second)
	q.sweep(context.Background())

	rec, _ := q.Get(id)
	assert.Equal(t, StatusResolved, rec.Status)
	assert.Equal(t, id, handled.ID)
	assert.Equal(t, []byte("payload"), handled.Payload, "handler sees the decoded payload")
	assert.Equal(t, int64(1), q.Stats().Resolved)
}

func TestQueue_SweepSkipsRecordsNotYetDue(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, nil)

	called := false

	q.RegisterHandler("op", func(ctx context.Context, op FailedOperation) error {
		called = true

		return nil
	})

	q.Enqueue(context.Background(), Failure{OperationName: "op", Err: errBoom}) //nolint:errcheck // Test setup

	// RetryDelay has not elapsed.
	q.sweep(context.Background())

	assert.False(t, called)
}

func TestQueue_SweepReschedulesOnHandlerFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, func(cfg *Config) {
		cfg.BackoffMultiplier = 2
	})

	q.RegisterHandler("op", func(ctx context.Context, op FailedOperation) error {
		return errBoom
	})

	id, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Err: errBoom})

	clock.Advance(2 * time.Second)
	q.sweep(context.Background())

	rec, _ := q.Get(id)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, clock.Now().Add(2*time.Second), rec.NextRetry, "delay doubles on the second attempt")
}

func TestQueue_PoisonAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, func(cfg *Config) {
		cfg.MaxAttempts = 3
	})

	q.RegisterHandler("op", func(ctx context.Context, op FailedOperation) error {
		return errBoom
	})

	id, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Err: errBoom})

	// Two failed sweeps push attempts from 1 to 3.
	for i := 0; i < 2; i++ {
		clock.Advance(time.Hour)
		q.sweep(context.Background())
	}

	rec, _ := q.Get(id)
	assert.Equal(t, StatusPoison, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, int64(1), q.Stats().Poisoned)

	// Poison records never sweep again.
	clock.Advance(time.Hour)
	q.sweep(context.Background())

	rec, _ = q.Get(id)
	assert.Equal(t, 3, rec.Attempts)
}

func TestQueue_NoHandlerParksRecord(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, nil)

	id, _ := q.Enqueue(context.Background(), Failure{OperationName: "orphan", Err: errBoom})

	clock.Advance(2 * time.Second)
	q.sweep(context.Background())

	rec, _ := q.Get(id)
	assert.Equal(t, StatusFailed, rec.Status)

	// Parked records are excluded from later sweeps.
	clock.Advance(time.Hour)
	q.sweep(context.Background())

	rec, _ = q.Get(id)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	// A manual retry re-enters the rotation once a handler exists.
	q.RegisterHandler("orphan", func(ctx context.Context, op FailedOperation) error {
		return nil
	})
	require.NoError(t, q.Retry(id))
	q.sweep(context.Background())

	rec, _ = q.Get(id)
	assert.Equal(t, StatusResolved, rec.Status)
}

func TestQueue_HandlerPanicCountsAsFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, nil)

	q.RegisterHandler("op", func(ctx context.Context, op FailedOperation) error {
		panic("handler bug")
	})

	id, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Err: errBoom})

	clock.Advance(2 * time.Second)
	q.sweep(context.Background())

	rec, _ := q.Get(id)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
}

func TestQueue_SweepPriorityOrder(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, func(cfg *Config) {
		cfg.Workers = 1
		cfg.SweepBatch = 1
	})

	var order []int

	q.RegisterHandler("op", func(ctx context.Context, op FailedOperation) error {
		order = append(order, op.Priority)

		return nil
	})

	q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("low"), Err: errBoom, Priority: 1})   //nolint:errcheck // Test setup
	q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("high"), Err: errBoom, Priority: 10}) //nolint:errcheck // Test setup

	clock.Advance(2 * time.Second)
	q.sweep(context.Background())
	q.sweep(context.Background())

	assert.Equal(t, []int{10, 1}, order, "higher priority sweeps first")
}

func TestQueue_Resolve(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(), nil)

	id, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Err: errBoom})

	assert.True(t, q.Resolve(id))
	assert.False(t, q.Resolve(id), "second resolve is a no-op")
	assert.False(t, q.Resolve("no-such-id"))

	rec, _ := q.Get(id)
	assert.Equal(t, StatusResolved, rec.Status)
}

func TestQueue_RetryRejectsPoison(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(), nil)

	id, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Err: errBoom})

	require.NoError(t, q.MarkPoison(id))
	require.ErrorIs(t, q.Retry(id), ErrPoisoned)
	assert.False(t, q.Resolve(id), "poison is terminal")
}

func TestQueue_RetryUnknownRecord(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(), nil)

	require.ErrorIs(t, q.Retry("missing"), ErrUnknownRecord)
	require.ErrorIs(t, q.MarkPoison("missing"), ErrUnknownRecord)
}

func TestQueue_CleanupRetention(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, func(cfg *Config) {
		cfg.ResolvedRetention = time.Hour
		cfg.MaxRetention = 24 * time.Hour
	})

	resolvedID, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("a"), Err: errBoom})
	q.Resolve(resolvedID)

	staleID, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("b"), Err: errBoom})

	clock.Advance(2 * time.Hour)
	q.cleanup()

	_, ok := q.Get(resolvedID)
	assert.False(t, ok, "resolved records expire after ResolvedRetention")

	_, ok = q.Get(staleID)
	assert.True(t, ok, "pending records outlive ResolvedRetention")

	clock.Advance(23 * time.Hour)
	q.cleanup()

	_, ok = q.Get(staleID)
	assert.False(t, ok, "every record expires after MaxRetention")
}

func TestQueue_List(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(t, clock, nil)

	q.Enqueue(context.Background(), Failure{OperationName: "a", Payload: []byte("1"), Err: errBoom, Priority: 1, Tags: []string{"red"}}) //nolint:errcheck // Test setup
	q.Enqueue(context.Background(), Failure{OperationName: "b", Payload: []byte("2"), Err: errBoom, Priority: 5})                        //nolint:errcheck // Test setup

	all := q.List(Filter{})
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].OperationName, "highest priority first")

	byOp := q.List(Filter{OperationName: "a"})
	require.Len(t, byOp, 1)

	byTag := q.List(Filter{Tag: "red"})
	require.Len(t, byTag, 1)
	assert.Equal(t, "a", byTag[0].OperationName)

	byStatus := q.List(Filter{Status: StatusResolved})
	assert.Empty(t, byStatus)
}

func TestQueue_Stats(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(), nil)

	a, _ := q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("a"), Err: errBoom})
	q.Enqueue(context.Background(), Failure{OperationName: "op", Payload: []byte("b"), Err: errBoom}) //nolint:errcheck // Test setup
	q.Resolve(a)

	stats := q.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, int64(2), stats.Enqueued)
	assert.Equal(t, 1, stats.ByStatus[StatusPending])
	assert.Equal(t, 1, stats.ByStatus[StatusResolved])
	assert.False(t, stats.OldestPending.IsZero())
}

func TestQueue_StartStop(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(), func(cfg *Config) {
		cfg.SweepInterval = 10 * time.Millisecond
	})

	require.NoError(t, q.Start(context.Background()))
	require.ErrorIs(t, q.Start(context.Background()), ErrAlreadyRunning)

	q.Stop()
	q.Stop() // idempotent
}

func TestQueue_StartSweepsInBackground(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(), func(cfg *Config) {
		cfg.SweepInterval = 5 * time.Millisecond
		cfg.RetryDelay = time.Nanosecond
		cfg.Now = nil // background loops need the real clock
	})

	var mu sync.Mutex

	handled := false

	q.RegisterHandler("op", func(ctx context.Context, op FailedOperation) error {
		mu.Lock()
		defer mu.Unlock()

		handled = true

		return nil
	})

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()

	_, err := q.Enqueue(context.Background(), Failure{OperationName: "op", Err: errBoom})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return handled
	}, 2*time.Second, 10*time.Millisecond)
}
