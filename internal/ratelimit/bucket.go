package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// TokenBucket is a burst limiter with fractional tokens. Tokens refill lazily
// at capacity/refill per second on every access and never exceed capacity.
type TokenBucket struct {
	mu sync.Mutex

	capacity float64
	refill   time.Duration

	tokens float64
	last   time.Time

	clock clock.Clock
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(capacity int, refill time.Duration,
	clk clock.Clock) *TokenBucket {

	return &TokenBucket{
		capacity: float64(capacity),
		refill:   refill,
		tokens:   float64(capacity),
		last:     clk.Now(),
		clock:    clk,
	}
}

// rate returns the refill rate in tokens per second.
func (b *TokenBucket) rate() float64 {
	if b.refill <= 0 {
		return math.Inf(1)
	}

	return b.capacity / b.refill.Seconds()
}

// refillLocked credits tokens for the time elapsed since the last access.
// A clock that moved backwards credits nothing.
func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}

	if b.refill <= 0 {
		b.tokens = b.capacity
	} else {
		b.tokens = math.Min(
			b.capacity, b.tokens+elapsed.Seconds()*b.rate(),
		)
	}
	b.last = now
}

// retryAfterLocked estimates how long until one whole token is available.
func (b *TokenBucket) retryAfterLocked() time.Duration {
	if b.tokens >= 1 {
		return 0
	}

	// A bucket that can never hold a token never frees up. Report the
	// refill interval so callers back off by a sane amount.
	if b.capacity < 1 {
		return b.refill
	}

	need := 1 - b.tokens
	secs := need / b.rate()

	return time.Duration(secs * float64(time.Second))
}

// Acquire takes one token if available. When it is not, the second return
// value hints how long to wait.
func (b *TokenBucket) Acquire() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	return false, b.retryAfterLocked()
}

// Peek reports whether Acquire would succeed without consuming a token.
func (b *TokenBucket) Peek() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())

	if b.tokens >= 1 {
		return true, 0
	}

	return false, b.retryAfterLocked()
}

// Drain empties the bucket. Used when the platform signals rate limiting.
func (b *TokenBucket) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	b.tokens = 0
}

// Resize changes capacity and refill period. Tokens already earned are
// kept up to the new capacity.
func (b *TokenBucket) Resize(capacity int, refill time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())

	b.capacity = float64(capacity)
	b.refill = refill
	b.tokens = math.Min(b.tokens, b.capacity)
}

// Available returns the current (fractional) token count.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())

	return b.tokens
}

// Capacity returns the bucket's maximum token count.
func (b *TokenBucket) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return int(b.capacity)
}
