package executor

import (
	"math"
	"math/rand/v2"
	"time"
)

// DefaultJitter is the relative spread applied to backoff delays.
const DefaultJitter = 0.25

// Backoff returns base*2^(attempts-1) spread by ±jitter and capped at
// maxDelay. attempts below 1 count as 1.
func Backoff(attempts int, base, maxDelay time.Duration,
	jitter float64) time.Duration {

	return backoff(attempts, base, maxDelay, jitter, rand.Float64)
}

// backoff is Backoff with an injectable source of uniform [0, 1) values.
func backoff(attempts int, base, maxDelay time.Duration, jitter float64,
	uniform func() float64) time.Duration {

	if base <= 0 {
		return 0
	}
	attempts = max(attempts, 1)

	// Cap the exponent so the float never overflows a duration.
	exp := math.Min(float64(attempts-1), 40)
	delay := float64(base) * math.Pow(2, exp)

	if jitter > 0 {
		delay *= 1 + jitter*(2*uniform()-1)
	}

	if maxDelay > 0 && delay > float64(maxDelay) {
		return maxDelay
	}

	return time.Duration(delay)
}
