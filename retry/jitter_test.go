package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitter_Without(t *testing.T) {
	t.Parallel()

	d := 10 * time.Second

	for i := 0; i < 20; i++ {
		assert.Equal(t, d, WithoutJitter.jitter(d))
	}
}

func TestJitter_Equal(t *testing.T) {
	t.Parallel()

	d := 10 * time.Second

	for i := 0; i < 100; i++ {
		got := EqualJitter.jitter(d)
		assert.GreaterOrEqual(t, got, 5*time.Second)
		assert.LessOrEqual(t, got, d)
	}
}

func TestJitter_Full(t *testing.T) {
	t.Parallel()

	d := 10 * time.Second

	for i := 0; i < 100; i++ {
		got := FullJitter.jitter(d)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.LessOrEqual(t, got, d)
	}
}

func TestJitter_ZeroDelay(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), EqualJitter.jitter(0))
	assert.Equal(t, time.Duration(0), FullJitter.jitter(0))
}

func TestAdditiveJitter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), additiveJitter(0))

	for i := 0; i < 100; i++ {
		got := additiveJitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.LessOrEqual(t, got, 100*time.Millisecond)
	}
}
