package account

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/ratelimit"
)

const (
	// DefaultMaxWarnings bounds the per-account warning history.
	DefaultMaxWarnings = 16

	// DefaultCrawlCooldown is the minimum gap between two uses of a
	// crawl account.
	DefaultCrawlCooldown = 5 * time.Minute

	// DefaultOutreachCooldown is the minimum gap between two uses of an
	// outreach account.
	DefaultOutreachCooldown = 20 * time.Minute
)

// PoolConfig configures the account pool.
type PoolConfig struct {
	// Caps are the daily caps by maturity.
	Caps CapTable

	// RoleCooldown is the minimum gap between uses per role.
	RoleCooldown map[Role]time.Duration

	// MaxWarnings bounds Account.Warnings.
	MaxWarnings int

	// Location is the timezone of the daily boundary.
	Location *time.Location
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Caps: DefaultCapTable(),
		RoleCooldown: map[Role]time.Duration{
			RoleCrawl:    DefaultCrawlCooldown,
			RoleOutreach: DefaultOutreachCooldown,
		},
		MaxWarnings: DefaultMaxWarnings,
		Location:    time.UTC,
	}
}

// Pool holds the accounts of one process and rotates through them in
// least-recently-used order.
type Pool struct {
	mu sync.Mutex

	cfg   PoolConfig
	clock clock.Clock

	accounts map[string]*Account
	order    map[string]int
	seq      int

	capMultiplier float64
	day           string
}

// NewPool creates an empty pool.
func NewPool(cfg PoolConfig, clk clock.Clock) *Pool {
	if cfg.Caps == nil {
		cfg.Caps = DefaultCapTable()
	}
	if cfg.MaxWarnings <= 0 {
		cfg.MaxWarnings = DefaultMaxWarnings
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Pool{
		cfg:           cfg,
		clock:         clk,
		accounts:      make(map[string]*Account),
		order:         make(map[string]int),
		capMultiplier: 1.0,
		day:           domain.DayKey(clk.Now(), cfg.Location),
	}
}

// Add inserts or replaces an account. Counters recorded for a different
// day are dropped.
func (p *Pool) Add(a Account) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := a.Clone()
	if c.CounterDay != p.day {
		c.Counters = make(map[Counter]int)
		c.CounterDay = p.day
	}

	if _, ok := p.order[c.ID]; !ok {
		p.order[c.ID] = p.seq
		p.seq++
	}
	p.accounts[c.ID] = &c
}

// Get returns a copy of the account.
func (p *Pool) Get(id string) fn.Option[Account] {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.accounts[id]
	if !ok {
		return fn.None[Account]()
	}

	return fn.Some(a.Clone())
}

// All returns copies of every account in insertion order.
func (p *Pool) All() []Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return p.order[out[i].ID] < p.order[out[j].ID]
	})

	return out
}

// Reconfigure swaps the caps, role cooldowns and warning bound. The day
// boundary keeps its timezone: counters are keyed by day, so moving it
// needs a restart.
func (p *Pool) Reconfigure(cfg PoolConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cfg.Caps == nil {
		cfg.Caps = DefaultCapTable()
	}
	if cfg.MaxWarnings <= 0 {
		cfg.MaxWarnings = DefaultMaxWarnings
	}
	cfg.Location = p.cfg.Location

	p.cfg = cfg
}

// SetCapMultiplier applies a volume multiplier (the warmup ramp) to every
// maturity cap.
func (p *Pool) SetCapMultiplier(m float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.capMultiplier = m
}

// EffectiveCap returns the cap in force for maturity and kind.
func (p *Pool) EffectiveCap(m Maturity, kind domain.ActionKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.effectiveCapLocked(m, kind)
}

// BaseCap returns the configured cap before the warmup multiplier.
func (p *Pool) BaseCap(m Maturity, kind domain.ActionKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cfg.Caps.Cap(m, CounterFor(kind))
}

func (p *Pool) effectiveCapLocked(m Maturity, kind domain.ActionKind) int {
	return ratelimit.ScaleCap(
		p.cfg.Caps.Cap(m, CounterFor(kind)), p.capMultiplier,
	)
}

// wakeLocked returns resting accounts whose rest period elapsed to active.
func (p *Pool) wakeLocked(a *Account, now time.Time) {
	if a.Status != StatusResting || a.RestingUntil == nil {
		return
	}
	if now.Before(*a.RestingUntil) {
		return
	}

	log.InfoS(context.Background(), "Account rest period over",
		"account_id", a.ID)

	a.Status = StatusActive
	a.RestingUntil = nil
}

// eligibleLocked applies the pick filter to one account.
func (p *Pool) eligibleLocked(a *Account, platform string,
	kind domain.ActionKind, now time.Time) bool {

	switch {
	case a.Platform != platform:
		return false

	case a.Role != RoleFor(kind):
		return false

	case a.Status != StatusActive, a.BannedAt != nil:
		return false
	}

	if a.LastUsedAt != nil {
		cooldown := p.cfg.RoleCooldown[a.Role]
		if now.Sub(*a.LastUsedAt) < cooldown {
			return false
		}
	}

	return a.Count(kind) < p.effectiveCapLocked(a.Maturity, kind)
}

// Pick returns the least recently used account able to perform kind on
// platform. Never-used accounts come first.
func (p *Pool) Pick(platform string, kind domain.ActionKind) fn.Option[Account] {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()

	var candidates []*Account
	for _, a := range p.accounts {
		p.wakeLocked(a, now)

		if p.eligibleLocked(a, platform, kind, now) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return fn.None[Account]()
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.LastUsedAt == nil && b.LastUsedAt == nil:
			return p.order[a.ID] < p.order[b.ID]

		case a.LastUsedAt == nil:
			return true

		case b.LastUsedAt == nil:
			return false

		case !a.LastUsedAt.Equal(*b.LastUsedAt):
			return a.LastUsedAt.Before(*b.LastUsedAt)

		default:
			return p.order[a.ID] < p.order[b.ID]
		}
	})

	return fn.Some(candidates[0].Clone())
}

// withAccount runs f on the live account under the pool lock.
func (p *Pool) withAccount(id string, f func(a *Account) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return f(a)
}

// MarkUsed stamps the account as used at the given instant.
func (p *Pool) MarkUsed(id string, at time.Time) error {
	return p.withAccount(id, func(a *Account) error {
		ts := at
		a.LastUsedAt = &ts

		return nil
	})
}

// RecordSent increments today's counter for kind.
func (p *Pool) RecordSent(id string, kind domain.ActionKind) error {
	return p.withAccount(id, func(a *Account) error {
		if a.Status == StatusBanned {
			return ErrBanned
		}

		if a.Counters == nil {
			a.Counters = make(map[Counter]int)
		}
		a.Counters[CounterFor(kind)]++

		return nil
	})
}

// RecordWarning appends a warning at the given instant and returns the
// number of warnings inside the trailing window.
func (p *Pool) RecordWarning(id string, at time.Time,
	window time.Duration) (int, error) {

	var count int
	err := p.withAccount(id, func(a *Account) error {
		cutoff := at.Add(-window)

		kept := a.Warnings[:0]
		for _, w := range a.Warnings {
			if !w.Before(cutoff) {
				kept = append(kept, w)
			}
		}
		kept = append(kept, at)
		if len(kept) > p.cfg.MaxWarnings {
			kept = kept[len(kept)-p.cfg.MaxWarnings:]
		}

		ts := at
		a.Warnings = kept
		a.LastWarningAt = &ts
		count = len(kept)

		return nil
	})

	return count, err
}

// ClearWarnings forgets the warning history after a clean dispatch.
func (p *Pool) ClearWarnings(id string) error {
	return p.withAccount(id, func(a *Account) error {
		a.Warnings = nil
		return nil
	})
}

// Promote advances maturity by one step. Status follows maturity.
func (p *Pool) Promote(id string) (Maturity, error) {
	var next Maturity
	err := p.withAccount(id, func(a *Account) error {
		if a.Status == StatusBanned {
			return ErrBanned
		}

		switch a.Maturity {
		case MaturityNew:
			next, a.Status = MaturityNurturing, StatusNurturing

		case MaturityNurturing:
			next, a.Status = MaturityActive, StatusActive

		case MaturityActive:
			next, a.Status = MaturityResting, StatusResting

		case MaturityResting:
			next, a.Status = MaturityActive, StatusActive

		default:
			return fmt.Errorf("%w: unknown maturity %q",
				ErrInvalidTransition, a.Maturity)
		}

		log.InfoS(context.Background(), "Account promoted",
			"account_id", id, "from", a.Maturity, "to", next)

		a.Maturity = next
		a.RestingUntil = nil

		return nil
	})

	return next, err
}

// Rest takes the account out of rotation until the given instant.
func (p *Pool) Rest(id string, until time.Time) error {
	return p.withAccount(id, func(a *Account) error {
		if a.Status == StatusBanned {
			return ErrBanned
		}

		ts := until
		a.Status = StatusResting
		a.RestingUntil = &ts

		return nil
	})
}

// Activate puts a resting or nurturing account back into rotation.
func (p *Pool) Activate(id string) error {
	return p.withAccount(id, func(a *Account) error {
		if a.Status == StatusBanned {
			return ErrBanned
		}

		a.Status = StatusActive
		a.RestingUntil = nil

		return nil
	})
}

// Ban permanently retires the account.
func (p *Pool) Ban(id string, at time.Time) error {
	return p.withAccount(id, func(a *Account) error {
		if a.Status == StatusBanned {
			return nil
		}

		ts := at
		a.Status = StatusBanned
		a.BannedAt = &ts
		a.RestingUntil = nil

		log.WarnS(context.Background(), "Account banned", nil,
			"account_id", id, "platform", a.Platform)

		return nil
	})
}

// Day returns the day the counters belong to.
func (p *Pool) Day() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.day
}

// ResetDaily zeroes every counter when day differs from the current day.
// It returns true if a reset happened; repeated calls are no-ops.
func (p *Pool) ResetDaily(day string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if day == p.day {
		return false
	}

	for _, a := range p.accounts {
		a.Counters = make(map[Counter]int)
		a.CounterDay = day
	}

	log.InfoS(context.Background(), "Daily counters reset",
		"from", p.day, "to", day, "accounts", len(p.accounts))

	p.day = day

	return true
}

// RestoreCounters overwrites today's counters from a replay of persisted
// records.
func (p *Pool) RestoreCounters(day string,
	counts map[string]map[domain.ActionKind]int) {

	p.mu.Lock()
	defer p.mu.Unlock()

	if day != p.day {
		return
	}

	for id, kinds := range counts {
		a, ok := p.accounts[id]
		if !ok {
			continue
		}

		a.Counters = make(map[Counter]int)
		for kind, n := range kinds {
			a.Counters[CounterFor(kind)] += n
		}
		a.CounterDay = day
	}
}
