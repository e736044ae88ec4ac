package config

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/build"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/driver"
	"github.com/roasbeef/outreach/internal/executor"
	"github.com/roasbeef/outreach/internal/gate"
	"github.com/roasbeef/outreach/internal/health"
	"github.com/roasbeef/outreach/internal/ratelimit"
	"github.com/roasbeef/outreach/internal/recorder"
	"github.com/roasbeef/outreach/internal/scheduler"
	"github.com/roasbeef/outreach/internal/target"
)

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalid,
			c.Timezone, err)
	}

	return loc, nil
}

// ExpandedPath expands a leading "~/" in one of the path settings.
func ExpandedPath(path string) (string, error) {
	return health.ExpandHome(path)
}

// PoolConfig converts the account settings.
func (c *Config) PoolConfig(loc *time.Location) account.PoolConfig {
	cfg := account.DefaultPoolConfig()

	cfg.Caps = make(account.CapTable, len(c.DailyCapsByMaturity))
	for maturity, row := range c.DailyCapsByMaturity {
		cfg.Caps[maturity] = make(map[account.Counter]int, len(row))
		for counter, n := range row {
			cfg.Caps[maturity][counter] = n
		}
	}
	cfg.RoleCooldown = copyMap(c.RoleCooldown)
	cfg.Location = loc

	return cfg
}

// PolicyConfig converts the rate limiter settings.
func (c *Config) PolicyConfig() ratelimit.PolicyConfig {
	buckets := make(map[domain.ActionKind]ratelimit.BucketConfig,
		len(c.HourlyBucket))
	for kind, b := range c.HourlyBucket {
		buckets[kind] = ratelimit.BucketConfig{
			Capacity: b.Capacity,
			Refill:   b.Refill,
		}
	}

	return ratelimit.PolicyConfig{
		TargetCooldown:    c.PerTargetCooldown,
		AccountCooldown:   copyMap(c.PerAccountCooldown),
		HourlyBuckets:     buckets,
		DailyWindows:      copyMap(c.DailyWindow),
		DailyWindowLength: 24 * time.Hour,
	}
}

// GateConfig converts the window and budget settings.
func (c *Config) GateConfig(loc *time.Location) gate.Config {
	return gate.Config{
		ActiveStartHour:   c.ActiveHours.Start,
		ActiveEndHour:     c.ActiveHours.End,
		Location:          loc,
		WarmupDays:        c.WarmupDays,
		ConservationRatio: c.MonthlyBudget.Conservation,
		HardStopRatio:     c.MonthlyBudget.HardStop,
		APIBackedKinds:    c.APIBackedKinds,
		EnabledKinds:      c.KindPriority,
		Keywords:          append([]string(nil), c.Keywords...),
	}
}

// NewMonthlyBudget creates the API budget tracker.
func (c *Config) NewMonthlyBudget(loc *time.Location,
	clk clock.Clock) *ratelimit.MonthlyBudget {

	return ratelimit.NewMonthlyBudget(c.MonthlyBudget.Limit, loc, clk)
}

// HealthConfig converts the supervisor settings.
func (c *Config) HealthConfig() health.Config {
	return health.Config{
		WarningWindow: c.Health.WarningWindow,
		Cooldown:      c.Health.Cooldown,
		BanThreshold:  c.Health.BanThreshold,
		ResumeCycles:  c.Health.ResumeCycles,
	}
}

// ExecutorConfig converts the executor settings.
func (c *Config) ExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.BackoffBase = c.Executor.BackoffBase
	cfg.BackoffMax = c.Executor.BackoffMax
	cfg.MaxAttempts = c.Executor.MaxAttempts
	cfg.DriverTimeout = c.Executor.DriverTimeout
	cfg.WallTimeout = c.Executor.WallTimeout
	cfg.RateLimitCooldown = c.Executor.RateLimitCooldown
	cfg.APIBackedKinds = c.APIBackedKinds

	return cfg
}

// QueueConfig converts the target queue settings.
func (c *Config) QueueConfig() target.QueueConfig {
	cfg := target.DefaultQueueConfig()
	cfg.MaxPending = c.Queue.Capacity
	if c.Queue.IntakeSize > 0 {
		cfg.IntakeSize = c.Queue.IntakeSize
	}

	return cfg
}

// RecorderConfig converts the recorder settings.
func (c *Config) RecorderConfig(loc *time.Location) recorder.Config {
	return recorder.Config{
		MailboxSize: c.Recorder.MailboxSize,
		Location:    loc,
	}
}

// SchedulerConfig converts the loop settings.
func (c *Config) SchedulerConfig(loc *time.Location) scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.Platform = c.Platform
	cfg.KindPriority = c.KindPriority
	cfg.MinInterval = c.CycleInterval.Min
	cfg.MaxInterval = c.CycleInterval.Max
	cfg.Location = loc
	cfg.ActiveStartHour = c.ActiveHours.Start
	cfg.ActiveEndHour = c.ActiveHours.End

	return cfg
}

// LogRotatorConfig converts the log settings, expanding the directory.
func (c *Config) LogRotatorConfig() (build.LogRotatorConfig, error) {
	dir, err := ExpandedPath(c.Log.Dir)
	if err != nil {
		return build.LogRotatorConfig{}, err
	}

	cfg := build.DefaultLogRotatorConfig(dir)
	cfg.MaxLogFiles = c.Log.MaxFiles
	if c.Log.MaxSizeMB > 0 {
		cfg.MaxLogFileSize = c.Log.MaxSizeMB
	}

	return cfg, nil
}

// NewDriver builds the configured action driver.
func (c *Config) NewDriver(clk clock.Clock) (executor.ActionDriver, error) {
	switch c.Driver.Kind {
	case DriverHTTP:
		return driver.NewHTTP(driver.HTTPConfig{
			Endpoint: c.Driver.Endpoint,
			Timeout:  c.Driver.Timeout,
		})

	case DriverDryRun, "":
		return driver.NewDryRun(0, clk), nil

	default:
		return nil, fmt.Errorf("%w: driver.kind %q", ErrInvalid,
			c.Driver.Kind)
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
