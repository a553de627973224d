package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_Add(t *testing.T) {
	t.Parallel()

	c := &Collection{}

	c.Add(nil)
	assert.False(t, c.HasError())

	c.Add(errors.New("boom")) //nolint:err113 // Test error.
	c.Add(nil)
	c.Add(errors.New("bang")) //nolint:err113 // Test error.

	assert.True(t, c.HasError())
	assert.Len(t, c.errors, 2)
}

func TestCollection_Clear(t *testing.T) {
	t.Parallel()

	c := &Collection{}
	c.Clear() // Safe on an empty collection.

	c.Add(errors.New("boom")) //nolint:err113 // Test error.
	c.Clear()

	assert.False(t, c.HasError())
	assert.NoError(t, c.GetError())
}

func TestCollection_GetError(t *testing.T) {
	t.Parallel()

	t.Run("empty returns nil", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}

		assert.NoError(t, c.GetError())
	})

	t.Run("single error returned as-is", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom") //nolint:err113 // Test error.

		c := &Collection{}
		c.Add(boom)

		assert.Equal(t, boom, c.GetError())
	})

	t.Run("multiple errors joined", func(t *testing.T) {
		t.Parallel()

		errA := errors.New("queue a stop") //nolint:err113 // Test error.
		errB := errors.New("queue b stop") //nolint:err113 // Test error.

		c := &Collection{}
		c.Add(errA)
		c.Add(errB)

		err := c.GetError()
		require.Error(t, err)
		require.ErrorIs(t, err, errA)
		require.ErrorIs(t, err, errB)
	})
}

// Mirrors the registry pattern: start a batch of components, collect every
// failure, report them as one error.
func TestCollection_BatchStartup(t *testing.T) {
	t.Parallel()

	errBroken := errors.New("broken") //nolint:err113 // Test error.

	start := func(name string, ok bool) error {
		if ok {
			return nil
		}

		return fmt.Errorf("start %s: %w", name, errBroken)
	}

	c := &Collection{}
	c.Add(start("orders", true))
	c.Add(start("payments", false))
	c.Add(start("webhooks", false))

	err := c.GetError()
	require.ErrorIs(t, err, errBroken)
	assert.Contains(t, err.Error(), "payments")
	assert.Contains(t, err.Error(), "webhooks")
}
