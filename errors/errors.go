// Package errors holds the shared error helpers used across the resilience
// packages.
package errors

import "errors"

// ErrWrongType is returned by typed wrappers (such as the generic recovery
// helpers) when a recovered value does not match the requested type.
var ErrWrongType = errors.New("wrong type")

// Collection accumulates errors from a batch of operations so they can be
// returned together. It is not safe for concurrent use.
type Collection struct {
	errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (c *Collection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// Clear resets the collection to an empty state.
func (c *Collection) Clear() {
	c.errors = nil
}

// HasError reports whether the collection contains at least one error.
func (c *Collection) HasError() bool {
	return len(c.errors) > 0
}

// GetError returns nil for an empty collection, the single error when there
// is exactly one, and an errors.Join of all of them otherwise.
func (c *Collection) GetError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return errors.Join(c.errors...)
	}
}
