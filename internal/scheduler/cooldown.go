package scheduler

import (
	"sync"
	"time"
)

// Cooldown rate-limits manual syncs per caller. It is process-local and
// best-effort: running several replicas only widens the effective cooldown.
type Cooldown struct {
	mu       sync.Mutex
	period   time.Duration
	lastSeen map[int64]time.Time
	now      func() time.Time
}

// NewCooldown creates a per-caller cooldown with the given period.
func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{
		period:   period,
		lastSeen: make(map[int64]time.Time),
		now:      time.Now,
	}
}

// Try records an attempt by the caller. It returns (0, true) when the call
// is allowed, or the remaining wait and false while cooling down.
func (c *Cooldown) Try(callerID int64) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.lastSeen[callerID]; ok {
		elapsed := now.Sub(last)
		if elapsed < c.period {
			return c.period - elapsed, false
		}
	}
	c.lastSeen[callerID] = now
	return 0, true
}
