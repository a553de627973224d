package breaker

import (
	"sort"
	"sync"
)

// Registry holds one breaker per protected resource name for the lifetime of
// the process. Construct one at startup and inject it into callers; the
// registry itself carries no implicit global state.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate returns the breaker for cfg.Name, creating it on first use.
// The call is idempotent per name: a later call with a different config for
// the same name returns the existing breaker unchanged.
func (r *Registry) GetOrCreate(cfg Config) *Breaker {
	cfg = cfg.withDefaults()

	r.mu.RLock()
	b, ok := r.breakers[cfg.Name]
	r.mu.RUnlock()

	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check after acquiring the write lock.
	if b, ok = r.breakers[cfg.Name]; ok {
		return b
	}

	b = New(cfg)
	r.breakers[cfg.Name] = b

	return b
}

// Get returns the named breaker, or false if none exists.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.breakers[name]

	return b, ok
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// AllStats snapshots every registered breaker, keyed by name. Intended for an
// alerting collaborator that polls health state on its own schedule.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		stats[name] = b.Stats()
	}

	return stats
}

// ResetAll resets every registered breaker to the closed state.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}
