package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/domain"
)

var (
	knownMaturities = map[account.Maturity]bool{
		account.MaturityNew:       true,
		account.MaturityNurturing: true,
		account.MaturityActive:    true,
		account.MaturityResting:   true,
	}

	knownCounters = map[account.Counter]bool{
		account.CounterSearch:  true,
		account.CounterComment: true,
		account.CounterDM:      true,
		account.CounterFollow:  true,
		account.CounterLike:    true,
		account.CounterPost:    true,
	}
)

// validator collects every problem so one run reports them all.
type validator struct {
	errs []error
}

func (v *validator) check(ok bool, format string, args ...any) {
	if !ok {
		v.errs = append(v.errs, fmt.Errorf("%w: "+format,
			append([]any{ErrInvalid}, args...)...))
	}
}

func (v *validator) err() error {
	return errors.Join(v.errs...)
}

func (v *validator) kinds(field string, kinds []domain.ActionKind,
	allowEmpty bool) {

	v.check(allowEmpty || len(kinds) > 0, "%s is empty", field)

	seen := make(map[domain.ActionKind]bool, len(kinds))
	for _, kind := range kinds {
		v.check(kind.Valid() && kind != domain.KindSearch,
			"%s: %q is not an outreach kind", field, kind)
		v.check(!seen[kind], "%s: %q listed twice", field, kind)
		seen[kind] = true
	}
}

func (v *validator) durations(field string,
	m map[domain.ActionKind]time.Duration) {

	for kind, d := range m {
		v.check(kind.Valid(), "%s: unknown kind %q", field, kind)
		v.check(d >= 0, "%s.%s is negative", field, kind)
	}
}

// Validate checks the configuration. Every failure wraps ErrInvalid.
func (c *Config) Validate() error {
	var v validator

	v.check(strings.TrimSpace(c.Platform) != "", "platform is empty")

	_, err := time.LoadLocation(c.Timezone)
	v.check(err == nil, "timezone %q: %v", c.Timezone, err)

	v.check(c.WarmupDays >= 0, "warmup_days is negative")
	v.check(c.ActiveHours.Start >= 0 && c.ActiveHours.Start <= 23,
		"active_hours.start %d outside 0-23", c.ActiveHours.Start)
	v.check(c.ActiveHours.End >= 0 && c.ActiveHours.End <= 23,
		"active_hours.end %d outside 0-23", c.ActiveHours.End)

	v.check(c.CycleInterval.Min > 0, "cycle_interval.min must be positive")
	v.check(c.CycleInterval.Max >= c.CycleInterval.Min,
		"cycle_interval.max below min")

	v.kinds("kind_priority", c.KindPriority, false)
	v.kinds("api_backed_kinds", c.APIBackedKinds, true)

	seenKeywords := make(map[string]bool, len(c.Keywords))
	for _, kw := range c.Keywords {
		kw = strings.TrimSpace(kw)
		v.check(kw != "", "keywords: empty keyword")
		v.check(!seenKeywords[kw], "keywords: %q listed twice", kw)
		seenKeywords[kw] = true
	}

	for maturity, row := range c.DailyCapsByMaturity {
		v.check(knownMaturities[maturity],
			"daily_caps_by_maturity: unknown maturity %q", maturity)
		for counter, n := range row {
			v.check(knownCounters[counter],
				"daily_caps_by_maturity.%s: unknown counter %q",
				maturity, counter)
			v.check(n >= 0, "daily_caps_by_maturity.%s.%s is "+
				"negative", maturity, counter)
		}
	}

	v.check(c.PerTargetCooldown >= 0, "per_target_cooldown is negative")
	v.durations("per_account_cooldown", c.PerAccountCooldown)
	for role, d := range c.RoleCooldown {
		v.check(role == account.RoleCrawl ||
			role == account.RoleOutreach,
			"role_cooldown: unknown role %q", role)
		v.check(d >= 0, "role_cooldown.%s is negative", role)
	}
	for kind, b := range c.HourlyBucket {
		v.check(kind.Valid(), "hourly_bucket: unknown kind %q", kind)
		v.check(b.Capacity > 0 && b.Refill > 0,
			"hourly_bucket.%s needs a positive capacity and "+
				"refill", kind)
	}
	for kind, n := range c.DailyWindow {
		v.check(kind.Valid(), "daily_window: unknown kind %q", kind)
		v.check(n >= 0, "daily_window.%s is negative", kind)
	}

	b := c.MonthlyBudget
	v.check(b.Limit >= 0, "monthly_budget.limit is negative")
	v.check(b.Conservation > 0 && b.Conservation < b.HardStop &&
		b.HardStop <= 1, "monthly_budget thresholds must satisfy "+
		"0 < conservation < hard_stop <= 1")

	h := c.Health
	v.check(h.WarningWindow > 0, "health.warning_window must be positive")
	v.check(h.Cooldown >= 0, "health.cooldown is negative")
	v.check(h.BanThreshold >= 2, "health.ban_threshold must be at least 2")
	v.check(h.ResumeCycles >= 0, "health.resume_cycles is negative")

	e := c.Executor
	v.check(e.BackoffBase > 0, "executor.backoff_base must be positive")
	v.check(e.BackoffMax >= e.BackoffBase,
		"executor.backoff_max below backoff_base")
	v.check(e.MaxAttempts >= 1, "executor.max_attempts must be at least 1")
	v.check(e.DriverTimeout > 0, "executor.driver_timeout must be "+
		"positive")
	v.check(e.WallTimeout >= e.DriverTimeout,
		"executor.wall_timeout below driver_timeout")
	v.check(e.RateLimitCooldown >= 0,
		"executor.rate_limit_cooldown is negative")

	v.check(c.Queue.Capacity > 0, "queue.capacity must be positive")
	v.check(c.Queue.IntakeSize >= 0, "queue.intake_size is negative")
	v.check(c.Recorder.MailboxSize > 0,
		"recorder.mailbox_size must be positive")

	v.check(strings.TrimSpace(c.HaltSentinelPath) != "",
		"halt_sentinel_path is empty")
	v.check(strings.TrimSpace(c.DBPath) != "", "db_path is empty")

	_, ok := btclog.LevelFromString(c.Log.Level)
	v.check(ok, "log.level %q unknown", c.Log.Level)
	v.check(c.Log.MaxFiles >= 0, "log.max_files is negative")
	v.check(c.Log.MaxSizeMB >= 0, "log.max_size_mb is negative")

	switch c.Driver.Kind {
	case DriverDryRun:
	case DriverHTTP:
		v.check(c.Driver.Endpoint != "",
			"driver.endpoint is required for the http driver")
	default:
		v.check(false, "driver.kind %q is not %q or %q",
			c.Driver.Kind, DriverDryRun, DriverHTTP)
	}
	v.check(c.Driver.Timeout >= 0, "driver.timeout is negative")

	return v.err()
}
