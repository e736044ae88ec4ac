package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/domain"
)

// Limiter names one component of the composite check.
type Limiter string

const (
	// LimiterNone is reported when every limiter passed.
	LimiterNone Limiter = ""

	// LimiterTargetCooldown is the per-target cooldown.
	LimiterTargetCooldown Limiter = "per_target_cooldown"

	// LimiterAccountCooldown is the per-account, per-kind cooldown.
	LimiterAccountCooldown Limiter = "per_account_cooldown"

	// LimiterDailyWindow is the per-kind 24h sliding window.
	LimiterDailyWindow Limiter = "daily_window"

	// LimiterHourlyBucket is the per-kind burst bucket.
	LimiterHourlyBucket Limiter = "hourly_bucket"

	// LimiterMaturityCap is the account's maturity daily cap.
	LimiterMaturityCap Limiter = "maturity_daily_cap"

	// LimiterCycleQuota is the per-cycle kind budget.
	LimiterCycleQuota Limiter = "cycle_quota"
)

// BucketConfig configures one token bucket.
type BucketConfig struct {
	Capacity int
	Refill   time.Duration
}

// PolicyConfig is the configuration of a Policy. Kinds missing
// from a map are unconstrained by that limiter.
type PolicyConfig struct {
	// TargetCooldown is the minimum interval between two dispatches to
	// the same target key.
	TargetCooldown time.Duration

	// AccountCooldown is the minimum interval between two dispatches of
	// the same kind by the same account.
	AccountCooldown map[domain.ActionKind]time.Duration

	// HourlyBuckets are the burst limits per kind.
	HourlyBuckets map[domain.ActionKind]BucketConfig

	// DailyWindows are the per-kind caps over DailyWindowLength.
	DailyWindows map[domain.ActionKind]int

	// DailyWindowLength is the length of the daily sliding window.
	DailyWindowLength time.Duration
}

// DefaultPolicyConfig returns conservative defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		TargetCooldown: 24 * time.Hour,
		AccountCooldown: map[domain.ActionKind]time.Duration{
			domain.KindReply:  20 * time.Minute,
			domain.KindDM:     20 * time.Minute,
			domain.KindFollow: 5 * time.Minute,
			domain.KindLike:   2 * time.Minute,
			domain.KindPost:   time.Hour,
		},
		HourlyBuckets: map[domain.ActionKind]BucketConfig{
			domain.KindReply:  {Capacity: 5, Refill: time.Hour},
			domain.KindDM:     {Capacity: 3, Refill: time.Hour},
			domain.KindFollow: {Capacity: 10, Refill: time.Hour},
			domain.KindLike:   {Capacity: 20, Refill: time.Hour},
			domain.KindPost:   {Capacity: 1, Refill: time.Hour},
		},
		DailyWindows: map[domain.ActionKind]int{
			domain.KindReply:  20,
			domain.KindDM:     10,
			domain.KindFollow: 40,
			domain.KindLike:   100,
			domain.KindPost:   3,
		},
		DailyWindowLength: 24 * time.Hour,
	}
}

// Candidate describes one prospective dispatch. The maturity cap and cycle
// quota live outside the policy, so the caller supplies their current values.
type Candidate struct {
	AccountID string
	Kind      domain.ActionKind
	TargetKey string

	// DailyUsed and DailyCap are the account's counter for Kind and its
	// effective maturity cap.
	DailyUsed int
	DailyCap  int

	// CycleUsed and CycleQuota are this cycle's grants for Kind.
	CycleUsed  int
	CycleQuota int
}

// Decision is the result of a composite check. Binding names the first
// limiter that failed.
type Decision struct {
	Allowed    bool
	Binding    Limiter
	RetryAfter time.Duration
}

// Policy is the composite rate policy. Admit checks every limiter and, only
// if all pass, records into all of them under one lock.
type Policy struct {
	mu sync.Mutex

	cfg   PolicyConfig
	clock clock.Clock

	targets  *Cooldown
	accounts map[domain.ActionKind]*Cooldown
	windows  map[domain.ActionKind]*SlidingWindow
	buckets  map[domain.ActionKind]*TokenBucket

	// windowMult is the last multiplier given to SetWindowMultiplier.
	windowMult float64
}

// NewPolicy builds the limiters described by cfg.
func NewPolicy(cfg PolicyConfig, clk clock.Clock) *Policy {
	if cfg.DailyWindowLength <= 0 {
		cfg.DailyWindowLength = 24 * time.Hour
	}

	p := &Policy{
		cfg:        cfg,
		clock:      clk,
		targets:    NewCooldown(cfg.TargetCooldown, clk),
		accounts:   make(map[domain.ActionKind]*Cooldown),
		windows:    make(map[domain.ActionKind]*SlidingWindow),
		buckets:    make(map[domain.ActionKind]*TokenBucket),
		windowMult: 1,
	}

	for kind, interval := range cfg.AccountCooldown {
		p.accounts[kind] = NewCooldown(interval, clk)
	}
	for kind, limit := range cfg.DailyWindows {
		p.windows[kind] = NewSlidingWindow(
			limit, cfg.DailyWindowLength, clk,
		)
	}
	for kind, bc := range cfg.HourlyBuckets {
		p.buckets[kind] = NewTokenBucket(bc.Capacity, bc.Refill, clk)
	}

	return p
}

// checkLocked evaluates the limiters in order, stopping at the first
// failure. Nothing is mutated.
func (p *Policy) checkLocked(c Candidate) Decision {
	if wait := p.targets.Remaining(c.TargetKey); wait > 0 {
		return Decision{
			Binding: LimiterTargetCooldown, RetryAfter: wait,
		}
	}

	if cd, ok := p.accounts[c.Kind]; ok {
		if wait := cd.Remaining(c.AccountID); wait > 0 {
			return Decision{
				Binding:    LimiterAccountCooldown,
				RetryAfter: wait,
			}
		}
	}

	if w, ok := p.windows[c.Kind]; ok && !w.CanAct() {
		return Decision{Binding: LimiterDailyWindow}
	}

	if b, ok := p.buckets[c.Kind]; ok {
		if ok, wait := b.Peek(); !ok {
			return Decision{
				Binding: LimiterHourlyBucket, RetryAfter: wait,
			}
		}
	}

	if c.DailyUsed >= c.DailyCap {
		return Decision{Binding: LimiterMaturityCap}
	}

	if c.CycleUsed >= c.CycleQuota {
		return Decision{Binding: LimiterCycleQuota}
	}

	return Decision{Allowed: true}
}

// Check runs the composite check without recording anything.
func (p *Policy) Check(c Candidate) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.checkLocked(c)
}

// Admit runs the composite check and, if it passes, records the dispatch in
// every limiter and runs commit before releasing the lock. No caller can
// observe the state between the check and the records.
func (p *Policy) Admit(c Candidate, commit func()) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := p.checkLocked(c)
	if !d.Allowed {
		log.DebugS(context.Background(), "Composite check refused",
			"account_id", c.AccountID,
			"kind", c.Kind,
			"target_key", c.TargetKey,
			"binding", d.Binding,
			"retry_after", d.RetryAfter)

		return d
	}

	p.targets.Mark(c.TargetKey)
	if cd, ok := p.accounts[c.Kind]; ok {
		cd.Mark(c.AccountID)
	}
	if w, ok := p.windows[c.Kind]; ok {
		w.Record()
	}
	if b, ok := p.buckets[c.Kind]; ok {
		if ok, _ := b.Acquire(); !ok {
			log.Warnf("Bucket for %s empty after successful "+
				"peek", c.Kind)
		}
	}

	if commit != nil {
		commit()
	}

	return d
}

// ForceCooldown reacts to a platform rate-limit signal: the kind's bucket
// is drained and the account is held for d on that kind.
func (p *Policy) ForceCooldown(kind domain.ActionKind, accountID string,
	d time.Duration) {

	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.buckets[kind]; ok {
		b.Drain()
	}

	cd, ok := p.accounts[kind]
	if !ok {
		cd = NewCooldown(0, p.clock)
		p.accounts[kind] = cd
	}
	cd.Extend(accountID, d)
}

// TargetCooldownRemaining returns how long key stays on its per-target
// cooldown.
func (p *Policy) TargetCooldownRemaining(key string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.targets.Remaining(key)
}

// SetWindowMultiplier rescales every daily window from its configured cap.
// Used to apply the warmup ramp.
func (p *Policy) SetWindowMultiplier(m float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.windowMult = m
	for kind, w := range p.windows {
		w.SetCapacity(ScaleCap(p.cfg.DailyWindows[kind], m))
	}
}

// DailyCap returns the configured (unscaled) daily window for kind and
// whether one exists.
func (p *Policy) DailyCap(kind domain.ActionKind) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	limit, ok := p.cfg.DailyWindows[kind]
	return limit, ok
}

// Reconfigure swaps in new limits without forgetting what was already
// spent: cooldown marks, window events and bucket tokens carry over. A
// kind dropped from a map stops being constrained by that limiter, except
// that rate-limit holds from ForceCooldown stay in force.
func (p *Policy) Reconfigure(cfg PolicyConfig) {
	if cfg.DailyWindowLength <= 0 {
		cfg.DailyWindowLength = 24 * time.Hour
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.targets.SetInterval(cfg.TargetCooldown)

	for kind, cd := range p.accounts {
		cd.SetInterval(cfg.AccountCooldown[kind])
	}
	for kind, interval := range cfg.AccountCooldown {
		if _, ok := p.accounts[kind]; !ok {
			p.accounts[kind] = NewCooldown(interval, p.clock)
		}
	}

	for kind := range p.windows {
		if _, ok := cfg.DailyWindows[kind]; !ok {
			delete(p.windows, kind)
		}
	}
	for kind, limit := range cfg.DailyWindows {
		w, ok := p.windows[kind]
		if !ok {
			w = NewSlidingWindow(0, cfg.DailyWindowLength, p.clock)
			p.windows[kind] = w
		}
		w.SetWindow(cfg.DailyWindowLength)
		w.SetCapacity(ScaleCap(limit, p.windowMult))
	}

	for kind := range p.buckets {
		if _, ok := cfg.HourlyBuckets[kind]; !ok {
			delete(p.buckets, kind)
		}
	}
	for kind, bc := range cfg.HourlyBuckets {
		if b, ok := p.buckets[kind]; ok {
			b.Resize(bc.Capacity, bc.Refill)
			continue
		}
		p.buckets[kind] = NewTokenBucket(bc.Capacity, bc.Refill, p.clock)
	}

	p.cfg = cfg

	log.InfoS(context.Background(), "Rate policy reconfigured",
		"target_cooldown", cfg.TargetCooldown,
		"daily_windows", cfg.DailyWindows,
		"window_length", cfg.DailyWindowLength)
}

// SeedHorizon is how far back Seed needs history: the longest of the
// daily window and the cooldowns.
func (p *Policy) SeedHorizon() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	horizon := max(p.cfg.DailyWindowLength, p.cfg.TargetCooldown)
	for _, d := range p.cfg.AccountCooldown {
		horizon = max(horizon, d)
	}

	return horizon
}

// Seed replays sent records into the daily windows and the target and
// account cooldowns, so a restart does not reopen limits already spent.
// Records that did not end in a send are skipped. It returns how many
// records landed in a daily window.
func (p *Policy) Seed(records []domain.OutreachRecord) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	seeded := 0
	for _, r := range records {
		if r.Outcome != domain.OutcomeSent {
			continue
		}

		p.targets.MarkAt(r.TargetKey, r.StartedAt)
		if cd, ok := p.accounts[r.Kind]; ok {
			cd.MarkAt(r.AccountID, r.StartedAt)
		}
		if w, ok := p.windows[r.Kind]; ok && w.RecordAt(r.StartedAt) {
			seeded++
		}
	}

	return seeded
}

// KindStats is a point-in-time view of the limiters for one kind.
type KindStats struct {
	WindowUsed     int     `json:"window_used"`
	WindowCapacity int     `json:"window_capacity"`
	BucketTokens   float64 `json:"bucket_tokens"`
	BucketCapacity int     `json:"bucket_capacity"`
}

// Stats returns limiter usage for every configured kind.
func (p *Policy) Stats() map[domain.ActionKind]KindStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[domain.ActionKind]KindStats)
	for kind, w := range p.windows {
		s := stats[kind]
		s.WindowUsed = w.Used()
		s.WindowCapacity = w.Capacity()
		stats[kind] = s
	}
	for kind, b := range p.buckets {
		s := stats[kind]
		s.BucketTokens = b.Available()
		s.BucketCapacity = b.Capacity()
		stats[kind] = s
	}

	return stats
}
