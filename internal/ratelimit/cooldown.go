package ratelimit

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// sweepThreshold is the map size above which Mark drops expired keys.
const sweepThreshold = 4096

// Cooldown enforces a minimum interval between events for the same key.
// A key can additionally be held until a fixed instant with Extend.
type Cooldown struct {
	mu sync.Mutex

	interval time.Duration

	last  map[string]time.Time
	until map[string]time.Time

	clock clock.Clock
}

// NewCooldown creates a cooldown with the given minimum interval.
func NewCooldown(interval time.Duration, clk clock.Clock) *Cooldown {
	return &Cooldown{
		interval: interval,
		last:     make(map[string]time.Time),
		until:    make(map[string]time.Time),
		clock:    clk,
	}
}

// remainingLocked returns how long key must still wait.
func (c *Cooldown) remainingLocked(key string, now time.Time) time.Duration {
	var wait time.Duration

	if ts, ok := c.last[key]; ok {
		if elapsed := now.Sub(ts); elapsed < c.interval {
			wait = c.interval - elapsed
		}
	}
	if held, ok := c.until[key]; ok && now.Before(held) {
		wait = max(wait, held.Sub(now))
	}

	return wait
}

// Can reports whether key is off cooldown.
func (c *Cooldown) Can(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remainingLocked(key, c.clock.Now()) == 0
}

// Remaining returns the time left before key is usable again.
func (c *Cooldown) Remaining(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remainingLocked(key, c.clock.Now())
}

// Mark records an event for key at the current time.
func (c *Cooldown) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.last[key] = now

	if len(c.last) > sweepThreshold {
		c.sweepLocked(now)
	}
}

// MarkAt records a past event for key. An event older than the one
// already recorded is ignored.
func (c *Cooldown) MarkAt(key string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.last[key]; ok && !at.After(cur) {
		return
	}
	c.last[key] = at
}

// Extend holds key until now+d, independent of the regular interval.
func (c *Cooldown) Extend(key string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	held := c.clock.Now().Add(d)
	if cur, ok := c.until[key]; ok && cur.After(held) {
		return
	}
	c.until[key] = held
}

// sweepLocked removes keys that no longer constrain anything.
func (c *Cooldown) sweepLocked(now time.Time) {
	for key, ts := range c.last {
		if now.Sub(ts) >= c.interval {
			delete(c.last, key)
		}
	}
	for key, held := range c.until {
		if !now.Before(held) {
			delete(c.until, key)
		}
	}
}

// Interval returns the configured minimum interval.
func (c *Cooldown) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.interval
}

// SetInterval changes the minimum interval. Recorded events and holds are
// kept and measured against the new interval.
func (c *Cooldown) SetInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.interval = d
}
