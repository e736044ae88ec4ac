package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/actor"
	"github.com/roasbeef/outreach/internal/admin"
	"github.com/roasbeef/outreach/internal/build"
	"github.com/roasbeef/outreach/internal/config"
	"github.com/roasbeef/outreach/internal/db"
	"github.com/roasbeef/outreach/internal/driver"
	"github.com/roasbeef/outreach/internal/executor"
	"github.com/roasbeef/outreach/internal/gate"
	"github.com/roasbeef/outreach/internal/health"
	"github.com/roasbeef/outreach/internal/ratelimit"
	"github.com/roasbeef/outreach/internal/recorder"
	"github.com/roasbeef/outreach/internal/scheduler"
	"github.com/roasbeef/outreach/internal/store"
	"github.com/roasbeef/outreach/internal/target"
	"golang.org/x/sync/errgroup"
)

// Subsystem is the logging tag of the daemon itself.
const Subsystem = "OTRD"

// dbSubsystem tags the database's slog output.
const dbSubsystem = "SQLD"

// shutdownTimeout bounds the admin server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

var log = btclog.Disabled

// subsystemLoggers routes every package's logger through one Logging.
var subsystemLoggers = []struct {
	tag string
	use func(btclog.Logger)
}{
	{Subsystem, func(l btclog.Logger) { log = l }},
	{account.Subsystem, account.UseLogger},
	{actor.Subsystem, actor.UseLogger},
	{admin.Subsystem, admin.UseLogger},
	{config.Subsystem, config.UseLogger},
	{driver.Subsystem, driver.UseLogger},
	{executor.Subsystem, executor.UseLogger},
	{gate.Subsystem, gate.UseLogger},
	{health.Subsystem, health.UseLogger},
	{ratelimit.Subsystem, ratelimit.UseLogger},
	{recorder.Subsystem, recorder.UseLogger},
	{scheduler.Subsystem, scheduler.UseLogger},
	{store.Subsystem, store.UseLogger},
	{target.Subsystem, target.UseLogger},
}

// setupLogging opens the console and, unless noFile is set, the rotating
// log file, and hands a tagged logger to every package.
func setupLogging(cfg *config.Config, console io.Writer,
	noFile bool) (*build.Logging, error) {

	file := fn.None[build.LogRotatorConfig]()
	if !noFile {
		rotCfg, err := cfg.LogRotatorConfig()
		if err != nil {
			return nil, err
		}
		file = fn.Some(rotCfg)
	}

	logging, err := build.NewLogging(console, file)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		logging.Close()
		return nil, fmt.Errorf("%w: log.level: %w", config.ErrInvalid,
			err)
	}

	for _, s := range subsystemLoggers {
		s.use(logging.Logger(s.tag))
	}

	return logging, nil
}

// daemon owns every long-lived component of the outreach pipeline.
type daemon struct {
	cfg *config.Config
	loc *time.Location
	clk clock.Clock

	repo      *store.SqlcStore
	pool      *account.Pool
	queue     *target.Queue
	blocklist *target.Blocklist
	health    *health.Supervisor
	recorder  *recorder.Recorder
	driver    executor.ActionDriver
	sched     *scheduler.Scheduler

	// admin, watcher and cfgWatcher are nil when disabled.
	admin      *admin.Server
	watcher    *health.Watcher
	cfgWatcher *config.Watcher

	// onCycle, if set, observes every cycle report.
	onCycle func(scheduler.CycleReport)
}

// newDaemon opens the database and wires the pipeline. Nothing runs until
// run is called.
func newDaemon(cfg *config.Config, clk clock.Clock,
	dbLog *slog.Logger) (*daemon, error) {

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	dbFile, err := config.ExpandedPath(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	sqlite, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: dbFile,
	}, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	repo := store.NewSqlcStore(sqlite, clk)

	d, err := wire(cfg, loc, clk, repo)
	if err != nil {
		repo.Close()
		return nil, err
	}

	return d, nil
}

func wire(cfg *config.Config, loc *time.Location, clk clock.Clock,
	repo *store.SqlcStore) (*daemon, error) {

	haltStore, err := health.OpenHaltStore(cfg.HaltSentinelPath, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: halt_sentinel_path: %w",
			config.ErrInvalid, err)
	}

	drv, err := cfg.NewDriver(clk)
	if err != nil {
		return nil, err
	}

	pool := account.NewPool(cfg.PoolConfig(loc), clk)
	policy := ratelimit.NewPolicy(cfg.PolicyConfig(), clk)
	blocklist := target.NewBlocklist(repo)
	queue := target.NewQueue(cfg.QueueConfig(), clk, blocklist)
	super := health.NewSupervisor(cfg.HealthConfig(), haltStore, pool, clk)
	budget := cfg.NewMonthlyBudget(loc, clk)
	rec := recorder.New(cfg.RecorderConfig(loc), repo, clk)

	exec := executor.New(cfg.ExecutorConfig(), executor.Deps{
		Driver:    drv,
		Recorder:  rec,
		Targets:   queue,
		Accounts:  pool,
		Health:    super,
		Cooldowns: policy,
		Budget:    budget,
		Usage:     repo,
		Clock:     clk,
	})

	sched := scheduler.New(cfg.SchedulerConfig(loc), scheduler.Deps{
		Gate:      gate.New(cfg.GateConfig(loc), repo, super, budget, clk),
		Pool:      pool,
		Policy:    policy,
		Queue:     queue,
		Health:    super,
		Budget:    budget,
		Executor:  exec,
		Recorder:  rec,
		Repo:      repo,
		Blocklist: blocklist,
		Clock:     clk,
	})

	d := &daemon{
		cfg:       cfg,
		loc:       loc,
		clk:       clk,
		repo:      repo,
		pool:      pool,
		queue:     queue,
		blocklist: blocklist,
		health:    super,
		recorder:  rec,
		driver:    drv,
		sched:     sched,
	}

	// A halt raised or cleared in this process ends the current sleep.
	super.OnChange(func(health.HaltState) {
		sched.Wake()
	})

	// So does one written by the CLI or by hand. Re-reading the state
	// lets the supervisor notice a sentinel deleted with rm.
	if fileStore, ok := haltStore.(*health.FileHaltStore); ok {
		d.watcher, err = health.NewWatcher(fileStore, 0, d.haltChanged)
		if err != nil {
			return nil, fmt.Errorf("watch halt sentinel: %w", err)
		}
	}

	if cfg.AdminAddr != "" {
		adminCfg := admin.DefaultConfig()
		adminCfg.Addr = cfg.AdminAddr
		adminCfg.DefaultRest = cfg.HealthConfig().Cooldown

		d.admin = admin.NewServer(adminCfg, admin.Deps{
			Targets:      queue.Intake(),
			Status:       sched,
			Halt:         super,
			Accounts:     pool,
			AccountStore: repo,
			Clock:        clk,
			Wake:         sched.Wake,
		})
	}

	return d, nil
}

// haltChanged runs on the watcher goroutine after the sentinel or the
// resume token changed on disk.
func (d *daemon) haltChanged() {
	ctx := context.Background()

	state, err := d.health.State(ctx)
	if err != nil {
		log.WarnS(ctx, "Unable to read halt state", err)
	} else {
		log.DebugS(ctx, "Halt sentinel changed",
			"halted", state.Halted,
			"resume_cycles", state.ResumeCyclesRemaining)
	}

	d.sched.Wake()
}

// watchConfig reloads the file at path on every change and hands the
// result to applyConfig. It must be called before run.
func (d *daemon) watchConfig(path string, load config.Loader) error {
	w, err := config.NewWatcher(path, 0, load, d.applyConfig)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	d.cfgWatcher = w

	return nil
}

// applyConfig queues the tunable part of a reloaded configuration. The
// scheduler swaps it in before its next cycle; the current sleep is left
// alone so a reload never adds a cycle.
func (d *daemon) applyConfig(next *config.Config) {
	ctx := context.Background()

	// d.cfg stays the configuration the process started with, so this
	// keeps warning until the file matches it again or we restart.
	if changed := config.RestartRequired(d.cfg, next); len(changed) > 0 {
		log.WarnS(ctx, "Configuration changes need a restart to take "+
			"effect", nil, "settings", changed)
	}

	d.sched.Reload(scheduler.Settings{
		Scheduler: next.SchedulerConfig(d.loc),
		Gate:      next.GateConfig(d.loc),
		Policy:    next.PolicyConfig(),
		Pool:      next.PoolConfig(d.loc),
	})
}

// close releases the watchers and the database.
func (d *daemon) close() error {
	var errs []error
	if d.watcher != nil {
		errs = append(errs, d.watcher.Stop())
	}
	if d.cfgWatcher != nil {
		errs = append(errs, d.cfgWatcher.Stop())
	}
	errs = append(errs, d.repo.Close())

	return errors.Join(errs...)
}

// restore rebuilds the in-memory state from the database.
func (d *daemon) restore(ctx context.Context) error {
	report, err := d.sched.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover state: %w", err)
	}

	log.InfoS(ctx, "State recovered",
		"accounts", report.Accounts,
		"reconciled", report.Reconciled,
		"terminal_targets", report.Terminal,
		"day", report.Day,
		"seeded", report.Seeded,
		"api_used", report.APIUsed)

	if report.Accounts == 0 {
		log.WarnS(ctx, "No accounts registered, nothing will be sent",
			nil, "platform", d.cfg.Platform)
	}

	return nil
}

// runOnce recovers, runs a single cycle and flushes the recorder.
func (d *daemon) runOnce(ctx context.Context) (scheduler.CycleReport, error) {
	d.recorder.Start()
	defer d.recorder.Stop()

	if err := d.restore(ctx); err != nil {
		return scheduler.CycleReport{}, err
	}

	report, err := d.sched.Step(ctx)
	d.logCycle(report)

	if flushErr := d.recorder.Flush(ctx); flushErr != nil {
		err = errors.Join(err, fmt.Errorf("flush records: %w",
			flushErr))
	}

	return report, err
}

// run recovers and then runs the scheduler, the watchers and the admin API
// until ctx is cancelled or one of them fails.
func (d *daemon) run(ctx context.Context) error {
	d.recorder.Start()
	defer d.recorder.Stop()

	if err := d.restore(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if d.watcher != nil {
		if err := d.watcher.Start(gctx); err != nil {
			return fmt.Errorf("watch halt sentinel: %w", err)
		}
	}
	if d.cfgWatcher != nil {
		// Running on defaults with no config directory is fine; only
		// reloads are lost.
		if err := d.cfgWatcher.Start(gctx); err != nil {
			log.WarnS(ctx, "Configuration file not watched, changes "+
				"need a restart", err)
		}
	}

	if d.admin != nil {
		l, err := d.admin.Listen()
		if err != nil {
			return fmt.Errorf("admin api: %w", err)
		}

		g.Go(func() error {
			return d.admin.Serve(l)
		})
		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), shutdownTimeout,
			)
			defer cancel()

			return d.admin.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return d.sched.Run(gctx, d.logCycle)
	})

	return g.Wait()
}

// logCycle logs a cycle report and passes it to the test hook.
func (d *daemon) logCycle(report scheduler.CycleReport) {
	ctx := context.Background()

	sent := report.Sent()
	total := 0
	for _, n := range sent {
		total += n
	}

	switch {
	case report.Skipped != gate.ReasonNone:
		log.InfoS(ctx, "Cycle skipped",
			"cycle_id", report.Cycle.ID,
			"reason", report.Skipped)

	case report.Halted:
		log.WarnS(ctx, "Cycle stopped by emergency halt", nil,
			"cycle_id", report.Cycle.ID,
			"sent", total)

	default:
		log.InfoS(ctx, "Cycle finished",
			"cycle_id", report.Cycle.ID,
			"sent", total,
			"dispatches", len(report.Dispatches),
			"interrupted", report.Interrupted,
			"intake_accepted", report.Intake.Accepted)
	}

	if d.onCycle != nil {
		d.onCycle(report)
	}
}
