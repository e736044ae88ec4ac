// Package config loads the outreach YAML configuration and converts it
// into the configuration structs of the individual packages.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/executor"
	"github.com/roasbeef/outreach/internal/gate"
	"github.com/roasbeef/outreach/internal/health"
	"github.com/roasbeef/outreach/internal/ratelimit"
	"github.com/roasbeef/outreach/internal/recorder"
	"github.com/roasbeef/outreach/internal/scheduler"
	"github.com/roasbeef/outreach/internal/target"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDir holds the database, halt sentinel and logs.
	DefaultDir = "~/.outreach"

	// DefaultFilename is the config file looked up in DefaultDir.
	DefaultFilename = "config.yaml"

	// DriverDryRun accepts every action without contacting a platform.
	DriverDryRun = "dry-run"

	// DriverHTTP forwards actions to an automation bridge.
	DriverHTTP = "http"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete outreach configuration. Maps given in the file
// are merged key by key into the defaults; a maturity row in
// daily_caps_by_maturity replaces the default row.
type Config struct {
	Platform string `yaml:"platform"`

	// Timezone names the single zone used for active hours, day
	// boundaries and warmup.
	Timezone string `yaml:"timezone"`

	WarmupDays    int          `yaml:"warmup_days"`
	ActiveHours   HourRange    `yaml:"active_hours"`
	CycleInterval IntervalSpan `yaml:"cycle_interval"`

	KindPriority   []domain.ActionKind `yaml:"kind_priority"`
	APIBackedKinds []domain.ActionKind `yaml:"api_backed_kinds"`

	// Keywords are the search terms producers crawl with. During
	// warmup only the first half is active.
	Keywords []string `yaml:"keywords"`

	DailyCapsByMaturity map[account.Maturity]map[account.Counter]int `yaml:"daily_caps_by_maturity"`

	PerTargetCooldown  time.Duration                        `yaml:"per_target_cooldown"`
	PerAccountCooldown map[domain.ActionKind]time.Duration  `yaml:"per_account_cooldown"`
	RoleCooldown       map[account.Role]time.Duration       `yaml:"role_cooldown"`
	HourlyBucket       map[domain.ActionKind]BucketSettings `yaml:"hourly_bucket"`
	DailyWindow        map[domain.ActionKind]int            `yaml:"daily_window"`

	MonthlyBudget BudgetSettings   `yaml:"monthly_budget"`
	Health        HealthSettings   `yaml:"health"`
	Executor      ExecutorSettings `yaml:"executor"`
	Queue         QueueSettings    `yaml:"queue"`
	Recorder      RecorderSettings `yaml:"recorder"`

	// HaltSentinelPath is a file path or "repo:<key>".
	HaltSentinelPath string `yaml:"halt_sentinel_path"`

	DBPath string      `yaml:"db_path"`
	Log    LogSettings `yaml:"log"`

	// AdminAddr is the daemon's admin API address. Empty disables it.
	AdminAddr string `yaml:"admin_addr"`

	Driver DriverSettings `yaml:"driver"`
}

// HourRange is an inclusive range of local hours.
type HourRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// IntervalSpan bounds the sleep between cycles.
type IntervalSpan struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

type BucketSettings struct {
	Capacity int           `yaml:"capacity"`
	Refill   time.Duration `yaml:"refill"`
}

type BudgetSettings struct {
	Limit        int     `yaml:"limit"`
	Conservation float64 `yaml:"conservation"`
	HardStop     float64 `yaml:"hard_stop"`
}

type HealthSettings struct {
	WarningWindow time.Duration `yaml:"warning_window"`
	Cooldown      time.Duration `yaml:"cooldown"`
	BanThreshold  int           `yaml:"ban_threshold"`
	ResumeCycles  int           `yaml:"resume_cycles"`
}

type ExecutorSettings struct {
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	MaxAttempts       int           `yaml:"max_attempts"`
	DriverTimeout     time.Duration `yaml:"driver_timeout"`
	WallTimeout       time.Duration `yaml:"wall_timeout"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
}

type QueueSettings struct {
	Capacity   int `yaml:"capacity"`
	IntakeSize int `yaml:"intake_size"`
}

type RecorderSettings struct {
	MailboxSize int `yaml:"mailbox_size"`
}

type LogSettings struct {
	Dir       string `yaml:"dir"`
	Level     string `yaml:"level"`
	MaxFiles  int    `yaml:"max_files"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

type DriverSettings struct {
	Kind     string        `yaml:"kind"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the built-in configuration, assembled from each
// package's defaults.
func DefaultConfig() *Config {
	pool := account.DefaultPoolConfig()
	policy := ratelimit.DefaultPolicyConfig()
	g := gate.DefaultConfig()
	h := health.DefaultConfig()
	exec := executor.DefaultConfig()
	sched := scheduler.DefaultConfig()
	queue := target.DefaultQueueConfig()

	buckets := make(map[domain.ActionKind]BucketSettings)
	for kind, b := range policy.HourlyBuckets {
		buckets[kind] = BucketSettings{
			Capacity: b.Capacity,
			Refill:   b.Refill,
		}
	}

	caps := make(map[account.Maturity]map[account.Counter]int)
	for maturity, row := range pool.Caps {
		caps[maturity] = make(map[account.Counter]int, len(row))
		for counter, n := range row {
			caps[maturity][counter] = n
		}
	}

	return &Config{
		Platform:   sched.Platform,
		Timezone:   "UTC",
		WarmupDays: g.WarmupDays,
		ActiveHours: HourRange{
			Start: g.ActiveStartHour,
			End:   g.ActiveEndHour,
		},
		CycleInterval: IntervalSpan{
			Min: sched.MinInterval,
			Max: sched.MaxInterval,
		},
		KindPriority:        sched.KindPriority,
		APIBackedKinds:      g.APIBackedKinds,
		DailyCapsByMaturity: caps,
		PerTargetCooldown:   policy.TargetCooldown,
		PerAccountCooldown:  policy.AccountCooldown,
		RoleCooldown:        pool.RoleCooldown,
		HourlyBucket:        buckets,
		DailyWindow:         policy.DailyWindows,
		MonthlyBudget: BudgetSettings{
			Limit:        1500,
			Conservation: g.ConservationRatio,
			HardStop:     g.HardStopRatio,
		},
		Health: HealthSettings{
			WarningWindow: h.WarningWindow,
			Cooldown:      h.Cooldown,
			BanThreshold:  h.BanThreshold,
			ResumeCycles:  h.ResumeCycles,
		},
		Executor: ExecutorSettings{
			BackoffBase:       exec.BackoffBase,
			BackoffMax:        exec.BackoffMax,
			MaxAttempts:       exec.MaxAttempts,
			DriverTimeout:     exec.DriverTimeout,
			WallTimeout:       exec.WallTimeout,
			RateLimitCooldown: exec.RateLimitCooldown,
		},
		Queue: QueueSettings{
			Capacity:   queue.MaxPending,
			IntakeSize: queue.IntakeSize,
		},
		Recorder: RecorderSettings{
			MailboxSize: recorder.DefaultMailboxSize,
		},
		HaltSentinelPath: DefaultDir + "/.halt",
		DBPath:           DefaultDir + "/outreach.db",
		Log: LogSettings{
			Dir:       DefaultDir + "/logs",
			Level:     "info",
			MaxFiles:  10,
			MaxSizeMB: 20,
		},
		AdminAddr: "127.0.0.1:8719",
		Driver: DriverSettings{
			Kind:    DriverDryRun,
			Timeout: exec.DriverTimeout,
		},
	}
}

// DefaultPath returns the expanded default config location.
func DefaultPath() string {
	dir, err := health.ExpandHome(DefaultDir)
	if err != nil {
		dir = DefaultDir
	}

	return filepath.Join(dir, DefaultFilename)
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):

	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)

	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalid,
				path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// applyEnvOverrides lets deployments relocate state without editing the
// file.
func (c *Config) applyEnvOverrides() {
	overrides := map[string]*string{
		"OUTREACH_DB_PATH":    &c.DBPath,
		"OUTREACH_HALT_PATH":  &c.HaltSentinelPath,
		"OUTREACH_LOG_LEVEL":  &c.Log.Level,
		"OUTREACH_ADMIN_ADDR": &c.AdminAddr,
		"OUTREACH_DRIVER":     &c.Driver.Kind,
		"OUTREACH_ENDPOINT":   &c.Driver.Endpoint,
	}
	for env, field := range overrides {
		if v, ok := os.LookupEnv(env); ok {
			*field = v
		}
	}
}
