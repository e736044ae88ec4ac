package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/config"
	"github.com/roasbeef/outreach/internal/db"
	"github.com/roasbeef/outreach/internal/health"
	"github.com/roasbeef/outreach/internal/ratelimit"
	"github.com/roasbeef/outreach/internal/report"
	"github.com/roasbeef/outreach/internal/store"
)

// env is everything a command needs, opened from the configuration.
type env struct {
	cfg  *config.Config
	loc  *time.Location
	clk  clock.Clock
	repo *store.SqlcStore
}

// loadConfig reads the configuration and applies the flag overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if haltPath != "" {
		cfg.HaltSentinelPath = haltPath
	}

	return cfg, nil
}

// openEnv loads the configuration and opens the database. The caller must
// Close the result.
func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	path, err := config.ExpandedPath(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	clk := clock.NewDefaultClock()

	sqlite, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: path,
	}, db.NewDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &env{
		cfg:  cfg,
		loc:  loc,
		clk:  clk,
		repo: store.NewSqlcStore(sqlite, clk),
	}, nil
}

// Close releases the database.
func (e *env) Close() error {
	return e.repo.Close()
}

// supervisor returns a halt supervisor over the configured sentinel. It
// manages the halt only; the account ladder lives in the daemon.
func (e *env) supervisor() (*health.Supervisor, error) {
	haltStore, err := health.OpenHaltStore(e.cfg.HaltSentinelPath, e.repo)
	if err != nil {
		return nil, fmt.Errorf("%w: halt_sentinel_path: %w",
			config.ErrInvalid, err)
	}

	return health.NewSupervisor(
		e.cfg.HealthConfig(), haltStore, nil, e.clk,
	), nil
}

// budget returns the monthly API budget with this month's persisted
// usage.
func (e *env) budget(ctx context.Context) (*ratelimit.MonthlyBudget,
	error) {

	b := e.cfg.NewMonthlyBudget(e.loc, e.clk)

	month := b.Month()
	stored, err := e.repo.GetConfig(ctx, store.APIUsageKey(month))
	if err != nil {
		return nil, fmt.Errorf("load api usage: %w", err)
	}
	if used, err := strconv.Atoi(stored.UnwrapOr("0")); err == nil {
		b.Restore(month, used)
	}

	return b, nil
}

// buildReport assembles the operator report over the last days days.
func (e *env) buildReport(ctx context.Context, days int) (report.Report,
	error) {

	super, err := e.supervisor()
	if err != nil {
		return report.Report{}, err
	}

	b, err := e.budget(ctx)
	if err != nil {
		return report.Report{}, err
	}

	return report.Build(ctx, report.Sources{
		Records:      e.repo,
		Halt:         super,
		Budget:       b,
		Location:     e.loc,
		Conservation: e.cfg.MonthlyBudget.Conservation,
		HardStop:     e.cfg.MonthlyBudget.HardStop,
	}, e.clk.Now(), days)
}

// outputFormatFlag parses --format.
func outputFormatFlag() (report.Format, error) {
	return report.ParseFormat(outputFormat)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
