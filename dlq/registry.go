package dlq

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/amp-labs/amp-resilience/errors"
)

// Registry holds one queue per name for the lifetime of the process.
// Construct one at startup and inject it into callers.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*Queue
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		queues: make(map[string]*Queue),
	}
}

// GetOrCreate returns the queue for cfg.Name, creating it on first use. The
// call is idempotent per name: a later call with a different config for the
// same name returns the existing queue unchanged.
func (r *Registry) GetOrCreate(cfg Config) *Queue {
	cfg = cfg.withDefaults()

	r.mu.RLock()
	q, ok := r.queues[cfg.Name]
	r.mu.RUnlock()

	if ok {
		return q
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check after acquiring the write lock.
	if q, ok = r.queues[cfg.Name]; ok {
		return q
	}

	q = New(cfg)
	r.queues[cfg.Name] = q

	return q
}

// Get returns the named queue, or false if none exists.
func (r *Registry) Get(name string) (*Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[name]

	return q, ok
}

// Names returns the registered queue names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// StartAll starts every registered queue, aggregating failures. Queues that
// are already running are skipped.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs errors.Collection

	for name, q := range r.queues {
		if err := q.Start(ctx); err != nil && !stderrors.Is(err, ErrAlreadyRunning) {
			errs.Add(fmt.Errorf("start queue %q: %w", name, err))
		}
	}

	return errs.GetError()
}

// StopAll stops every registered queue, waiting for in-flight handlers.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, q := range r.queues {
		q.Stop()
	}
}

// AllStats snapshots every registered queue, keyed by name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.queues))
	for name, q := range r.queues {
		stats[name] = q.Stats()
	}

	return stats
}
