package ratelimit

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/domain"
)

// DefaultMonthlyLimit is the default number of API calls per month.
const DefaultMonthlyLimit = 1500

// MonthlyBudget counts API-backed calls for the current calendar month and
// rolls over to zero when the month changes.
type MonthlyBudget struct {
	mu sync.Mutex

	limit int
	used  int
	month string

	loc   *time.Location
	clock clock.Clock
}

// NewMonthlyBudget creates a budget for the month containing now.
func NewMonthlyBudget(limit int, loc *time.Location,
	clk clock.Clock) *MonthlyBudget {

	return &MonthlyBudget{
		limit: limit,
		month: domain.MonthKey(clk.Now(), loc),
		loc:   loc,
		clock: clk,
	}
}

// rolloverLocked resets usage when the calendar month changed.
func (b *MonthlyBudget) rolloverLocked() {
	month := domain.MonthKey(b.clock.Now(), b.loc)
	if month != b.month {
		log.Infof("Monthly budget rolled over from %s to %s "+
			"(used %d/%d)", b.month, month, b.used, b.limit)

		b.month = month
		b.used = 0
	}
}

// Use adds n calls and returns the month key and new usage, which callers
// persist.
func (b *MonthlyBudget) Use(n int) (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()
	b.used += n

	return b.month, b.used
}

// Restore loads persisted usage. Usage for another month is ignored.
func (b *MonthlyBudget) Restore(month string, used int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()
	if month == b.month {
		b.used = max(0, used)
	}
}

// Used returns calls made this month.
func (b *MonthlyBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()

	return b.used
}

// Remaining returns max(0, limit-used).
func (b *MonthlyBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()

	return max(0, b.limit-b.used)
}

// Limit returns the monthly limit.
func (b *MonthlyBudget) Limit() int {
	return b.limit
}

// Month returns the current month key.
func (b *MonthlyBudget) Month() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()

	return b.month
}

// UsageRatio returns used/limit. A zero limit counts as exhausted.
func (b *MonthlyBudget) UsageRatio() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()

	if b.limit <= 0 {
		return 1.0
	}

	return float64(b.used) / float64(b.limit)
}
