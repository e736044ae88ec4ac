package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/executor"
	"github.com/roasbeef/outreach/internal/gate"
	"github.com/roasbeef/outreach/internal/health"
	"github.com/roasbeef/outreach/internal/ratelimit"
	"github.com/roasbeef/outreach/internal/recorder"
	"github.com/roasbeef/outreach/internal/store"
	"github.com/roasbeef/outreach/internal/target"
)

// Dispatcher runs one action. *executor.Executor implements it.
type Dispatcher interface {
	Run(ctx context.Context, acct account.Account,
		t target.Target) (executor.Result, error)
}

// Flusher waits for pending bookkeeping. *recorder.Recorder implements it.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Deps are the components the scheduler owns or drives.
type Deps struct {
	Gate     *gate.Gate
	Pool     *account.Pool
	Policy   *ratelimit.Policy
	Queue    *target.Queue
	Health   *health.Supervisor
	Budget   *ratelimit.MonthlyBudget
	Executor Dispatcher
	Recorder Flusher
	Repo     store.Repository

	// Blocklist is optional. It is reloaded every cycle.
	Blocklist *target.Blocklist

	Clock clock.Clock
}

// Status is a point-in-time view for operators.
type Status struct {
	Day          string                    `json:"day"`
	SentToday    map[domain.ActionKind]int `json:"sent_today"`
	GrantedToday map[domain.ActionKind]int `json:"granted_today"`
	Cycles       uint64                    `json:"cycles"`
	LastReport   *CycleReport              `json:"last_report,omitempty"`
	Queue        target.Stats              `json:"queue"`

	// ActiveKeywords are the search terms producers should crawl with,
	// as of the last cycle.
	ActiveKeywords []string `json:"active_keywords,omitempty"`

	// ConfigReloads counts configuration swaps since start.
	ConfigReloads int `json:"config_reloads"`
}

// Scheduler is the single cooperative loop that decides what to do, with
// which account and when. All mutable scheduling state is owned by the
// goroutine calling Step or Run.
type Scheduler struct {
	cfg  Config
	deps Deps

	wake chan struct{}
	rand func() float64

	day          string
	sentToday    map[domain.ActionKind]int
	grantedToday map[domain.ActionKind]int
	cycles       uint64
	keywords     []string
	reloads      int

	// mu guards the copies published for Status and the pending
	// settings.
	mu         sync.Mutex
	lastReport *CycleReport
	published  Status
	pending    *Settings
}

// New creates a scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	if len(cfg.KindPriority) == 0 {
		cfg.KindPriority = DefaultConfig().KindPriority
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}

	return &Scheduler{
		cfg:          cfg,
		deps:         deps,
		wake:         make(chan struct{}, 1),
		rand:         rand.Float64,
		sentToday:    make(map[domain.ActionKind]int),
		grantedToday: make(map[domain.ActionKind]int),
	}
}

// RecoveryReport describes the state rebuilt by Recover.
type RecoveryReport struct {
	Accounts   int
	Reconciled int
	Terminal   int
	Day        string
	SentToday  map[domain.ActionKind]int
	APIUsed    int

	// Seeded counts sent records replayed into the daily windows.
	Seeded int
}

// Recover rebuilds in-memory state from the repository: accounts, dangling
// dispatches, retired targets, today's counters and the monthly API usage.
// It must run before the first Step.
func (s *Scheduler) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	repo := s.deps.Repo
	now := s.deps.Clock.Now()

	accounts, err := repo.LoadAccounts(ctx, s.cfg.Platform)
	if err != nil {
		return report, fmt.Errorf("load accounts: %w", err)
	}
	for _, a := range accounts {
		s.deps.Pool.Add(a)
	}
	report.Accounts = len(accounts)

	closed, err := executor.Reconcile(ctx, repo, now)
	if err != nil {
		return report, err
	}
	report.Reconciled = len(closed)

	keys, err := repo.TerminalTargetKeys(ctx)
	if err != nil {
		return report, fmt.Errorf("load terminal targets: %w", err)
	}
	for _, key := range keys {
		s.deps.Queue.MarkTerminal(key)
	}
	report.Terminal = len(keys)

	day, perAccount, err := recorder.ReplayDay(
		ctx, repo, now, s.cfg.Location,
	)
	if err != nil {
		return report, err
	}
	s.deps.Pool.ResetDaily(day)
	s.deps.Pool.RestoreCounters(day, perAccount)

	sent, err := repo.DailyCounters(ctx, day)
	if err != nil {
		return report, fmt.Errorf("load daily counters: %w", err)
	}
	s.day = day
	s.sentToday = sent
	s.grantedToday = make(map[domain.ActionKind]int, len(sent))
	for kind, n := range sent {
		s.grantedToday[kind] = n
	}
	report.Day = day
	report.SentToday = sent

	horizon := s.deps.Policy.SeedHorizon()
	recent, err := repo.ListOutreach(
		ctx, now.Add(-horizon), now.Add(time.Second),
	)
	if err != nil {
		return report, fmt.Errorf("load recent records: %w", err)
	}
	report.Seeded = s.deps.Policy.Seed(recent)

	if s.deps.Budget != nil {
		month := s.deps.Budget.Month()
		stored, err := repo.GetConfig(ctx, store.APIUsageKey(month))
		if err != nil {
			return report, fmt.Errorf("load api usage: %w", err)
		}
		if used, err := strconv.Atoi(stored.UnwrapOr("0")); err == nil {
			s.deps.Budget.Restore(month, used)
			report.APIUsed = used
		}
	}

	if s.deps.Blocklist != nil {
		if err := s.deps.Blocklist.Load(ctx); err != nil {
			return report, fmt.Errorf("load blocklist: %w", err)
		}
	}

	s.publish(nil)

	log.InfoS(ctx, "Scheduler state recovered",
		"accounts", report.Accounts,
		"reconciled", report.Reconciled,
		"terminal_targets", report.Terminal,
		"day", day,
		"seeded", report.Seeded,
		"api_used", report.APIUsed)

	return report, nil
}

// Settings is the part of the configuration that can change while the
// loop runs.
type Settings struct {
	Scheduler Config
	Gate      gate.Config
	Policy    ratelimit.PolicyConfig
	Pool      account.PoolConfig
}

// Reload queues new settings. They are applied at the start of the next
// cycle, never in the middle of one. A later call replaces a queued one.
func (s *Scheduler) Reload(set Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = &set
}

// applyPending swaps in queued settings. It runs on the loop goroutine.
func (s *Scheduler) applyPending(ctx context.Context) bool {
	s.mu.Lock()
	set := s.pending
	s.pending = nil
	s.mu.Unlock()

	if set == nil {
		return false
	}

	cfg := set.Scheduler
	if len(cfg.KindPriority) == 0 {
		cfg.KindPriority = s.cfg.KindPriority
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = s.cfg.FlushTimeout
	}

	// The day key and the account filter follow these two, so they
	// only change on restart.
	cfg.Platform = s.cfg.Platform
	cfg.Location = s.cfg.Location
	set.Gate.Location = s.cfg.Location

	s.cfg = cfg
	s.deps.Gate.SetConfig(set.Gate)
	s.deps.Policy.Reconfigure(set.Policy)
	s.deps.Pool.Reconfigure(set.Pool)
	s.reloads++

	log.InfoS(ctx, "Settings applied",
		"kind_priority", cfg.KindPriority,
		"min_interval", cfg.MinInterval,
		"max_interval", cfg.MaxInterval,
		"active_start", cfg.ActiveStartHour,
		"active_end", cfg.ActiveEndHour)

	return true
}

// Wake interrupts the current sleep so the next cycle starts now.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Status returns the state published after the last cycle.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.published
	st.SentToday = copyCounts(st.SentToday)
	st.GrantedToday = copyCounts(st.GrantedToday)
	st.ActiveKeywords = append([]string(nil), st.ActiveKeywords...)
	st.Queue = s.deps.Queue.Stats()

	return st
}

func (s *Scheduler) publish(report *CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if report != nil {
		s.lastReport = report
	}
	s.published = Status{
		Day:            s.day,
		SentToday:      copyCounts(s.sentToday),
		GrantedToday:   copyCounts(s.grantedToday),
		Cycles:         s.cycles,
		LastReport:     s.lastReport,
		ActiveKeywords: append([]string(nil), s.keywords...),
		ConfigReloads:  s.reloads,
	}
}

func copyCounts(m map[domain.ActionKind]int) map[domain.ActionKind]int {
	out := make(map[domain.ActionKind]int, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// rollDay resets daily state when the calendar day changed.
func (s *Scheduler) rollDay(ctx context.Context, now time.Time) bool {
	day := domain.DayKey(now, s.cfg.Location)
	if day == s.day {
		return false
	}

	reset := s.deps.Pool.ResetDaily(day)
	s.sentToday = make(map[domain.ActionKind]int)
	s.grantedToday = make(map[domain.ActionKind]int)

	log.InfoS(ctx, "New scheduling day", "from", s.day, "to", day)

	s.day = day

	return reset
}

// dailyCap is the configured daily window for kind or, without one, the
// combined maturity caps of the accounts that can serve it. Both are taken
// before warmup scaling, which the cycle multiplier already carries.
func (s *Scheduler) dailyCap(kind domain.ActionKind) int {
	if limit, ok := s.deps.Policy.DailyCap(kind); ok {
		return limit
	}

	role := account.RoleFor(kind)
	total := 0
	for _, a := range s.deps.Pool.All() {
		if a.Platform != s.cfg.Platform || a.Role != role ||
			a.Status == account.StatusBanned {

			continue
		}
		total += s.deps.Pool.BaseCap(a.Maturity, kind)
	}

	return total
}

// plan computes the multipliers and budgets of a new cycle.
func (s *Scheduler) plan(ctx context.Context, now time.Time) (Cycle, error) {
	s.cycles++
	cycle := Cycle{
		ID:             s.cycles,
		StartedAt:      now,
		KindMultiplier: make(map[domain.ActionKind]float64),
		Budget:         make(map[domain.ActionKind]int),
	}

	warmup, day, err := s.deps.Gate.WarmupMultiplier(ctx, now)
	if err != nil {
		return cycle, err
	}
	cycle.WarmupDay = day

	s.deps.Pool.SetCapMultiplier(warmup)
	s.deps.Policy.SetWindowMultiplier(warmup)

	resume, err := s.deps.Health.VolumeMultiplier(ctx)
	if err != nil {
		return cycle, err
	}

	cycle.Phase = s.deps.Gate.Phase()
	cycle.VolumeMultiplier = min(warmup, resume)
	cycle.Keywords = s.deps.Gate.Keywords(cycle.VolumeMultiplier)
	s.keywords = cycle.Keywords

	remaining := RemainingActive(
		now, s.cfg.ActiveStartHour, s.cfg.ActiveEndHour,
		s.cfg.Location,
	)
	expected := ExpectedCycles(
		remaining, s.cfg.MinInterval, s.cfg.MaxInterval,
	)

	for _, kind := range s.cfg.KindPriority {
		m := min(cycle.VolumeMultiplier, s.deps.Gate.KindMultiplier(kind))
		cycle.KindMultiplier[kind] = m
		cycle.Budget[kind] = KindBudget(
			s.dailyCap(kind), s.sentToday[kind],
			s.grantedToday[kind], m, expected,
		)
	}

	return cycle, nil
}

// Step runs one cycle.
func (s *Scheduler) Step(ctx context.Context) (CycleReport, error) {
	now := s.deps.Clock.Now()
	report := CycleReport{
		Stops:    make(map[domain.ActionKind]StopReason),
		Bindings: make(map[domain.ActionKind]ratelimit.Limiter),
	}
	defer func() {
		s.publish(&report)
	}()

	report.Reloaded = s.applyPending(ctx)
	report.Intake = s.deps.Queue.DrainIntake(ctx)
	report.DayReset = s.rollDay(ctx, now)

	if s.deps.Blocklist != nil {
		if err := s.deps.Blocklist.Load(ctx); err != nil {
			log.WarnS(ctx, "Unable to reload blocklist", err)
		}
	}

	allowed, reason, err := s.deps.Gate.AllowCycle(ctx, now)
	if err != nil {
		report.Skipped = gate.ReasonHalted
		report.Halted = true
		return report, fmt.Errorf("cycle gate: %w", err)
	}
	if !allowed {
		report.Skipped = reason
		report.Halted = reason == gate.ReasonHalted

		log.InfoS(ctx, "Cycle skipped", "reason", reason)

		return report, nil
	}

	cycle, err := s.plan(ctx, now)
	report.Cycle = cycle
	if err != nil {
		return report, fmt.Errorf("plan cycle: %w", err)
	}

	log.InfoS(ctx, "Cycle started",
		"cycle_id", cycle.ID,
		"warmup_day", cycle.WarmupDay,
		"phase", cycle.Phase,
		"volume_multiplier", cycle.VolumeMultiplier,
		"budget", cycle.Budget)

	var stepErr error
kinds:
	for _, kind := range s.cfg.KindPriority {
		stop, err := s.runKind(ctx, kind, cycle.Budget[kind], &report)
		report.Stops[kind] = stop

		switch {
		case err != nil:
			stepErr = err
			report.Interrupted = true
			break kinds

		case stop == StopHalted:
			report.Halted = true
			break kinds

		case stop == StopCancelled:
			report.Interrupted = true
			break kinds
		}
	}

	s.persistAccounts(ctx)

	if report.Completed() {
		if err := s.deps.Health.CompleteCycle(ctx); err != nil {
			log.WarnS(ctx, "Unable to consume resume cycle", err)
		}
	}

	log.InfoS(ctx, "Cycle finished",
		"cycle_id", cycle.ID,
		"dispatches", len(report.Dispatches),
		"sent", report.Sent(),
		"halted", report.Halted,
		"interrupted", report.Interrupted)

	return report, stepErr
}

// runKind dispatches kind until its budget, targets or accounts run out.
func (s *Scheduler) runKind(ctx context.Context, kind domain.ActionKind,
	budget int, report *CycleReport) (StopReason, error) {

	if budget <= 0 {
		return StopZeroBudget, nil
	}

	granted := 0
	for {
		if granted >= budget {
			return StopBudgetExhausted, nil
		}
		if ctx.Err() != nil {
			return StopCancelled, nil
		}

		halted, err := s.deps.Health.IsHalted(ctx)
		if err != nil || halted {
			if err != nil {
				log.WarnS(ctx, "Halt state unreadable, "+
					"treating as halted", err)
			}
			return StopHalted, nil
		}

		now := s.deps.Clock.Now()
		picked := s.deps.Queue.PickEligible(kind, now)
		if picked.IsNone() {
			return StopNoTarget, nil
		}
		t := picked.UnwrapOr(target.Target{})

		acctOpt := s.deps.Pool.Pick(s.cfg.Platform, kind)
		if acctOpt.IsNone() {
			s.requeue(ctx, t.Key)
			return StopNoAccount, nil
		}
		acct := acctOpt.UnwrapOr(account.Account{})

		decision := s.deps.Policy.Admit(ratelimit.Candidate{
			AccountID:  acct.ID,
			Kind:       kind,
			TargetKey:  t.Key,
			DailyUsed:  acct.Count(kind),
			DailyCap:   s.deps.Pool.EffectiveCap(acct.Maturity, kind),
			CycleUsed:  granted,
			CycleQuota: budget,
		}, func() {
			if err := s.deps.Pool.MarkUsed(acct.ID, now); err != nil {
				log.WarnS(ctx, "Unable to mark account used",
					err, "account_id", acct.ID)
			}
			granted++
			s.grantedToday[kind]++
		})
		if decision.Binding == ratelimit.LimiterTargetCooldown {
			// Only this target has to wait. It goes back without an
			// attempt and the next one of its kind is tried.
			s.deferTarget(ctx, t.Key, now.Add(decision.RetryAfter))
			report.Deferred++

			continue
		}
		if !decision.Allowed {
			s.requeue(ctx, t.Key)
			report.Bindings[kind] = decision.Binding

			log.DebugS(ctx, "Kind stopped by rate policy",
				"kind", kind,
				"binding", decision.Binding,
				"retry_after", decision.RetryAfter)

			return StopRefused, nil
		}

		res, err := s.deps.Executor.Run(ctx, acct, t)
		if err != nil {
			if errors.Is(err, executor.ErrBeginFailed) {
				return StopStorage, err
			}
			return StopStorage, fmt.Errorf("dispatch %s: %w",
				t.Key, err)
		}

		report.Dispatches = append(report.Dispatches, Dispatch{
			Kind:      kind,
			TargetKey: t.Key,
			AccountID: acct.ID,
			Result:    res,
		})
		if res.Outcome == domain.OutcomeSent {
			s.sentToday[kind]++
		}
		if res.Halted {
			return StopHalted, nil
		}
	}
}

func (s *Scheduler) requeue(ctx context.Context, key string) {
	if err := s.deps.Queue.Requeue(key); err != nil {
		log.WarnS(ctx, "Unable to requeue target", err,
			"target_key", key)
	}
}

func (s *Scheduler) deferTarget(ctx context.Context, key string,
	until time.Time) {

	if err := s.deps.Queue.Defer(key, until); err != nil {
		log.WarnS(ctx, "Unable to defer target", err,
			"target_key", key)
	}
}

// persistAccounts writes the pool back so restarts see statuses, warnings
// and counters.
func (s *Scheduler) persistAccounts(ctx context.Context) {
	if s.deps.Repo == nil {
		return
	}

	// Bookkeeping must land even when shutdown is under way.
	ctx = context.WithoutCancel(ctx)
	for _, a := range s.deps.Pool.All() {
		if err := s.deps.Repo.UpsertAccount(ctx, a); err != nil {
			log.WarnS(ctx, "Unable to persist account", err,
				"account_id", a.ID)
		}
	}
}

// nextInterval samples the sleep before the next cycle.
func (s *Scheduler) nextInterval() time.Duration {
	spread := s.cfg.MaxInterval - s.cfg.MinInterval
	if spread <= 0 {
		return s.cfg.MinInterval
	}

	return s.cfg.MinInterval + time.Duration(s.rand()*float64(spread))
}

// Run loops until ctx is cancelled. Cancellation interrupts the sleep but
// never an in-flight dispatch. On exit the recorder is flushed.
func (s *Scheduler) Run(ctx context.Context, onCycle func(CycleReport)) error {
	log.InfoS(ctx, "Scheduler loop started",
		"min_interval", s.cfg.MinInterval,
		"max_interval", s.cfg.MaxInterval)

	defer s.flush(ctx)

	for {
		report, err := s.Step(ctx)
		if err != nil {
			log.ErrorS(ctx, "Cycle failed", err,
				"cycle_id", report.Cycle.ID)
		}
		if onCycle != nil {
			onCycle(report)
		}

		if ctx.Err() != nil {
			log.InfoS(ctx, "Scheduler loop stopping")
			return nil
		}

		delay := s.nextInterval()
		log.DebugS(ctx, "Sleeping until next cycle", "delay", delay)

		select {
		case <-s.deps.Clock.TickAfter(delay):

		case <-s.wake:
			log.DebugS(ctx, "Scheduler woken early")

		case <-ctx.Done():
			log.InfoS(ctx, "Scheduler loop stopping")
			return nil
		}
	}
}

func (s *Scheduler) flush(ctx context.Context) {
	if s.deps.Recorder == nil {
		return
	}

	flushCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), s.cfg.FlushTimeout,
	)
	defer cancel()

	if err := s.deps.Recorder.Flush(flushCtx); err != nil {
		log.ErrorS(ctx, "Recorder flush failed", err)
	}
}
