package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldown(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCooldown(5 * time.Minute)
	c.now = func() time.Time { return clock }

	_, ok := c.Try(1)
	require.True(t, ok, "first attempt must be allowed")

	clock = clock.Add(2 * time.Minute)
	remaining, ok := c.Try(1)
	require.False(t, ok, "attempt inside the period must be denied")
	assert.Equal(t, 3*time.Minute, remaining)

	// A different caller is unaffected.
	_, ok = c.Try(2)
	assert.True(t, ok, "cooldown must be per caller")

	// The denied attempt must not have reset the window.
	clock = clock.Add(3 * time.Minute)
	_, ok = c.Try(1)
	require.True(t, ok, "attempt after the period must be allowed")

	// The successful attempt starts a fresh window.
	remaining, ok = c.Try(1)
	require.False(t, ok, "immediate retry must be denied")
	assert.Equal(t, 5*time.Minute, remaining, "window must restart in full")
}

func TestCooldownZeroPeriod(t *testing.T) {
	c := NewCooldown(0)
	for i := 0; i < 3; i++ {
		_, ok := c.Try(1)
		assert.True(t, ok, "zero period must never deny")
	}
}
