package retry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amp-labs/amp-resilience/classify"
)

// Policy binds a backoff schedule to a set of error categories. Policies are
// configuration: build them at startup, register them in a PolicySet, and
// treat them as read-only afterwards.
type Policy struct {
	// Name identifies the policy in results and logs.
	Name string
	// Categories are the error categories this policy applies to.
	Categories []classify.Category
	// Priority breaks ties when several policies match a category; the
	// highest priority wins.
	Priority int
	// Attempts is the maximum number of attempts (initial call included).
	Attempts Attempts
	// Backoff computes the delay after each failed attempt.
	Backoff Backoff
	// JitterMax adds a uniformly random duration in [0, JitterMax] on top
	// of each capped backoff delay.
	JitterMax time.Duration
}

func (p Policy) matches(category classify.Category) bool {
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}

	return false
}

// PolicySet is a registry of named retry policies. Safe for concurrent use;
// registration normally happens once at startup.
type PolicySet struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewPolicySet creates an empty policy set.
func NewPolicySet() *PolicySet {
	return &PolicySet{
		policies: make(map[string]Policy),
	}
}

// Register adds or replaces a policy by name.
func (s *PolicySet) Register(p Policy) error {
	if p.Name == "" {
		return fmt.Errorf("retry policy: %w", errMissingName)
	}

	if p.Attempts == 0 {
		return fmt.Errorf("retry policy %q: %w", p.Name, errUnlimitedPolicy)
	}

	if p.Backoff == nil {
		return fmt.Errorf("retry policy %q: %w", p.Name, errMissingBackoff)
	}

	for _, c := range p.Categories {
		if !c.Valid() {
			return fmt.Errorf("retry policy %q: %w: %q", p.Name, errUnknownCategory, c)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[p.Name] = p

	return nil
}

// Get returns a policy by name.
func (s *PolicySet) Get(name string) (Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[name]

	return p, ok
}

// Match returns the highest-priority policy covering the category. Ties are
// broken by name so selection stays deterministic.
func (s *PolicySet) Match(category classify.Category) (Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  Policy
		found bool
	)

	for _, name := range s.sortedNamesLocked() {
		p := s.policies[name]
		if !p.matches(category) {
			continue
		}

		if !found || p.Priority > best.Priority {
			best = p
			found = true
		}
	}

	return best, found
}

// Names returns the registered policy names in sorted order.
func (s *PolicySet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedNamesLocked()
}

func (s *PolicySet) sortedNamesLocked() []string {
	names := make([]string, 0, len(s.policies))
	for name := range s.policies {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// DefaultPolicies returns the policy set shipped with the library: aggressive
// exponential backoff for databases, moderate jittered exponential for
// upstream APIs and the network, fast fibonacci for timeouts, conservative
// linear for system failures, and a minimal fixed delay for business logic
// (which is rarely retryable at all, but covered for message-based
// overrides).
func DefaultPolicies() *PolicySet {
	set := NewPolicySet()

	defaults := []Policy{
		{
			Name:       "database",
			Categories: []classify.Category{classify.CategoryDatabase},
			Priority:   10,
			Attempts:   5,
			Backoff:    ExpBackoff{Base: time.Second, Max: 30 * time.Second, Factor: 2},
			JitterMax:  100 * time.Millisecond,
		},
		{
			Name: "external",
			Categories: []classify.Category{
				classify.CategoryExternalAPI,
				classify.CategoryNetwork,
			},
			Priority:  10,
			Attempts:  4,
			Backoff:   ExpBackoff{Base: time.Second, Max: time.Minute, Factor: 2},
			JitterMax: 500 * time.Millisecond,
		},
		{
			Name:       "timeout",
			Categories: []classify.Category{classify.CategoryTimeout},
			Priority:   10,
			Attempts:   5,
			Backoff:    FibBackoff{Base: 250 * time.Millisecond, Max: 5 * time.Second},
			JitterMax:  100 * time.Millisecond,
		},
		{
			Name:       "system",
			Categories: []classify.Category{classify.CategorySystem},
			Priority:   10,
			Attempts:   2,
			Backoff:    LinearBackoff{Base: 2 * time.Second, Max: 10 * time.Second},
		},
		{
			Name:       "business",
			Categories: []classify.Category{classify.CategoryBusinessLogic},
			Priority:   10,
			Attempts:   2,
			Backoff:    FixedBackoff{Base: 500 * time.Millisecond},
		},
	}

	for _, p := range defaults {
		// Defaults are well-formed; Register only fails on invalid input.
		if err := set.Register(p); err != nil {
			panic(err)
		}
	}

	return set
}
