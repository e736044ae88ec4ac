package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
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
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testNow is two hours before the active window closes, so exactly one
// cycle is expected for the rest of the day.
var testNow = time.Date(2026, 5, 4, 22, 0, 0, 0, time.UTC)

type harnessConfig struct {
	kinds         []domain.ActionKind
	accounts      int
	dmCap         int
	pipelineStart string
	policy        ratelimit.PolicyConfig
}

type harness struct {
	clk    *clock.TestClock
	repo   *store.MockStore
	pool   *account.Pool
	policy *ratelimit.Policy
	queue  *target.Queue
	sup    *health.Supervisor
	budget *ratelimit.MonthlyBudget
	rec    *recorder.Recorder
	sched  *Scheduler

	mu         sync.Mutex
	script     []executor.DriverStatus
	calls      int
	onDispatch func()
}

func newHarness(cfg harnessConfig) *harness {
	ctx := context.Background()

	h := &harness{
		clk:  clock.NewTestClock(testNow),
		repo: store.NewMockStore(),
	}

	if cfg.pipelineStart == "" {
		cfg.pipelineStart = "2026-01-01"
	}
	if err := h.repo.SetConfig(
		ctx, gate.PipelineStartKey, cfg.pipelineStart,
	); err != nil {
		panic(err)
	}

	poolCfg := account.DefaultPoolConfig()
	poolCfg.RoleCooldown = map[account.Role]time.Duration{}
	if cfg.dmCap > 0 {
		poolCfg.Caps = account.DefaultCapTable()
		poolCfg.Caps[account.MaturityActive][account.CounterDM] =
			cfg.dmCap
	}
	h.pool = account.NewPool(poolCfg, h.clk)
	for i := 0; i < max(1, cfg.accounts); i++ {
		id := fmt.Sprintf("acct-%d", i)
		h.pool.Add(account.Account{
			ID:       id,
			Platform: "x",
			Role:     account.RoleOutreach,
			Handle:   "handle-" + id,
			Status:   account.StatusActive,
			Maturity: account.MaturityActive,
		})
	}

	h.policy = ratelimit.NewPolicy(cfg.policy, h.clk)
	h.queue = target.NewQueue(target.DefaultQueueConfig(), h.clk, nil)
	h.budget = ratelimit.NewMonthlyBudget(100, time.UTC, h.clk)

	h.sup = health.NewSupervisor(
		health.DefaultConfig(),
		health.NewRepoHaltStore(h.repo, "halt"),
		h.pool, h.clk,
	)

	gateCfg := gate.DefaultConfig()
	g := gate.New(gateCfg, h.repo, h.sup, h.budget, h.clk)

	h.rec = recorder.New(recorder.DefaultConfig(), h.repo, h.clk)
	h.rec.Start()

	driver := executor.DriverFunc(func(ctx context.Context,
		handle string, payload []byte) (executor.DriverResult, error) {

		h.mu.Lock()
		h.calls++
		status := executor.StatusOK
		if len(h.script) > 0 {
			status, h.script = h.script[0], h.script[1:]
		}
		hook := h.onDispatch
		h.mu.Unlock()

		if hook != nil {
			hook()
		}

		return executor.DriverResult{Status: status}, nil
	})

	exec := executor.New(executor.DefaultConfig(), executor.Deps{
		Driver:    driver,
		Recorder:  h.rec,
		Targets:   h.queue,
		Accounts:  h.pool,
		Health:    h.sup,
		Cooldowns: h.policy,
		Budget:    h.budget,
		Usage:     h.repo,
		Clock:     h.clk,
	})

	schedCfg := DefaultConfig()
	if len(cfg.kinds) > 0 {
		schedCfg.KindPriority = cfg.kinds
	}
	h.sched = New(schedCfg, Deps{
		Gate:     g,
		Pool:     h.pool,
		Policy:   h.policy,
		Queue:    h.queue,
		Health:   h.sup,
		Budget:   h.budget,
		Executor: exec,
		Recorder: h.rec,
		Repo:     h.repo,
		Clock:    h.clk,
	})
	h.sched.rand = func() float64 { return 0.5 }

	return h
}

func (h *harness) stop() {
	h.rec.Stop()
}

func (h *harness) setScript(statuses ...executor.DriverStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.script = statuses
}

func (h *harness) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.calls
}

func (h *harness) enqueue(t *testing.T, kind domain.ActionKind,
	keys ...string) {

	t.Helper()

	for _, key := range keys {
		require.NoError(t, h.queue.Enqueue(target.Target{
			Key:  key,
			Kind: kind,
		}))
	}
}

func (h *harness) records(t *testing.T) []domain.OutreachRecord {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, h.rec.Flush(ctx))

	records, err := h.repo.ListOutreach(
		ctx, time.Time{}, testNow.Add(365*24*time.Hour),
	)
	require.NoError(t, err)

	return records
}

// TestWarmupHalvesDailyCap runs a warmup day against an account whose DM
// cap is 10: only five DMs go out and the maturity cap is what binds next.
func TestWarmupHalvesDailyCap(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds:         []domain.ActionKind{domain.KindDM},
		dmCap:         10,
		pipelineStart: "2026-05-02",
	})
	defer h.stop()

	keys := make([]string, 10)
	for i := range keys {
		keys[i] = fmt.Sprintf("user-%d", i)
	}
	h.enqueue(t, domain.KindDM, keys...)

	report, err := h.sched.Step(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, report.Cycle.WarmupDay)
	require.Equal(t, 0.5, report.Cycle.VolumeMultiplier)
	require.Equal(t, 5, report.Cycle.Budget[domain.KindDM])
	require.Equal(t, 5, report.Sent()[domain.KindDM])
	require.Equal(t, StopBudgetExhausted, report.Stops[domain.KindDM])
	require.True(t, report.Completed())

	acct := mustSome(t, h.pool.Get("acct-0"))
	require.Equal(t, 5, acct.Count(domain.KindDM))
	require.Equal(t, 5, h.queue.LenKind(domain.KindDM))

	decision := h.policy.Check(ratelimit.Candidate{
		AccountID: acct.ID,
		Kind:      domain.KindDM,
		TargetKey: "user-9",
		DailyUsed: acct.Count(domain.KindDM),
		DailyCap: h.pool.EffectiveCap(
			acct.Maturity, domain.KindDM,
		),
	})
	require.False(t, decision.Allowed)
	require.Equal(t, ratelimit.LimiterMaturityCap, decision.Binding)
}

// TestHaltIsSticky injects a restriction signal: the dispatch is recorded,
// the next cycle is a no-op and the cycle after the resume runs at half
// volume.
func TestHaltIsSticky(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds:    []domain.ActionKind{domain.KindReply},
		accounts: 2,
	})
	defer h.stop()

	ctx := context.Background()
	h.enqueue(t, domain.KindReply, "post-1", "post-2", "post-3")
	h.setScript(executor.StatusRestricted)

	report, err := h.sched.Step(ctx)
	require.NoError(t, err)
	require.True(t, report.Halted)
	require.False(t, report.Completed())
	require.Len(t, report.Dispatches, 1)
	require.Equal(t, domain.OutcomeRestriction,
		report.Dispatches[0].Result.Outcome)

	records := h.records(t)
	require.Len(t, records, 1)
	require.Equal(t, domain.OutcomeRestriction, records[0].Outcome)

	halted, err := h.sup.IsHalted(ctx)
	require.NoError(t, err)
	require.True(t, halted)

	report, err = h.sched.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, gate.ReasonHalted, report.Skipped)
	require.Empty(t, report.Dispatches)
	require.Equal(t, 1, h.callCount())

	resumed, err := h.sup.Resume(ctx)
	require.NoError(t, err)
	require.True(t, resumed)

	report, err = h.sched.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.5, report.Cycle.VolumeMultiplier)
	require.Equal(t, 3, report.Sent()[domain.KindReply])
	require.True(t, report.Completed())

	// The resume allowance was a single cycle.
	report, err = h.sched.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, report.Cycle.VolumeMultiplier)
	require.Equal(t, StopNoTarget, report.Stops[domain.KindReply])
}

// TestBudgetHardStop leaves API-backed replies without budget while DMs,
// which go through the UI, still run.
func TestBudgetHardStop(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds: []domain.ActionKind{
			domain.KindReply, domain.KindDM,
		},
	})
	defer h.stop()

	h.budget.Restore(h.budget.Month(), 96)
	h.enqueue(t, domain.KindReply, "post-1", "post-2")
	h.enqueue(t, domain.KindDM, "user-1", "user-2")

	report, err := h.sched.Step(context.Background())
	require.NoError(t, err)

	require.Equal(t, gate.PhaseHardStop, report.Cycle.Phase)
	require.Zero(t, report.Cycle.Budget[domain.KindReply])
	require.Equal(t, StopZeroBudget, report.Stops[domain.KindReply])
	require.Zero(t, report.Sent()[domain.KindReply])
	require.Equal(t, 2, report.Sent()[domain.KindDM])
	require.Equal(t, 2, h.queue.LenKind(domain.KindReply))
}

func TestNoAccountRequeuesTarget(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds: []domain.ActionKind{domain.KindReply},
	})
	defer h.stop()

	require.NoError(t, h.pool.Ban("acct-0", testNow))
	h.enqueue(t, domain.KindReply, "post-1")

	report, err := h.sched.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopZeroBudget, report.Stops[domain.KindReply])

	// A resting account still counts towards the cap but cannot be
	// picked.
	h2 := newHarness(harnessConfig{
		kinds: []domain.ActionKind{domain.KindReply},
	})
	defer h2.stop()

	require.NoError(t, h2.pool.Rest("acct-0", testNow.Add(time.Hour)))
	h2.enqueue(t, domain.KindReply, "post-1")

	report, err = h2.sched.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopNoAccount, report.Stops[domain.KindReply])
	require.Equal(t, 1, h2.queue.LenKind(domain.KindReply))
	require.Zero(t, h2.callCount())
}

func TestOutsideActiveHoursSkips(t *testing.T) {
	h := newHarness(harnessConfig{})
	defer h.stop()

	h.clk.SetTime(time.Date(2026, 5, 5, 3, 0, 0, 0, time.UTC))
	h.enqueue(t, domain.KindReply, "post-1")

	report, err := h.sched.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, gate.ReasonOutsideHours, report.Skipped)
	require.True(t, report.DayReset)
	require.Zero(t, h.callCount())
}

// TestRecoverRebuildsState seeds the repository the way a previous run
// would have left it.
func TestRecoverRebuildsState(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds: []domain.ActionKind{domain.KindReply},
	})
	defer h.stop()

	ctx := context.Background()
	day := domain.DayKey(testNow, time.UTC)

	require.NoError(t, h.repo.UpsertAccount(ctx, account.Account{
		ID:       "acct-9",
		Platform: "x",
		Role:     account.RoleOutreach,
		Handle:   "handle-9",
		Status:   account.StatusActive,
		Maturity: account.MaturityActive,
	}))

	sentAt := testNow.Add(-time.Hour)
	_, err := h.repo.AppendOutreach(ctx, domain.OutreachRecord{
		DispatchID: "d-sent",
		AccountID:  "acct-9",
		TargetKey:  "post-done",
		Kind:       domain.KindReply,
		StartedAt:  sentAt,
	})
	require.NoError(t, err)
	_, err = h.repo.FinishOutreach(ctx, "d-sent", domain.OutcomeSent,
		sentAt.Add(time.Second), domain.ErrClassNone, "")
	require.NoError(t, err)
	_, err = h.repo.IncrementDailyCounter(
		ctx, "d-sent", domain.KindReply, day, 1,
	)
	require.NoError(t, err)

	_, err = h.repo.AppendOutreach(ctx, domain.OutreachRecord{
		DispatchID: "d-dangling",
		AccountID:  "acct-9",
		TargetKey:  "post-crashed",
		Kind:       domain.KindReply,
		StartedAt:  testNow.Add(-time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, h.repo.SetConfig(
		ctx, store.APIUsageKey(h.budget.Month()), "42",
	))

	report, err := h.sched.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Accounts)
	require.Equal(t, 1, report.Reconciled)
	require.Equal(t, 1, report.Terminal)
	require.Equal(t, day, report.Day)
	require.Equal(t, 1, report.SentToday[domain.KindReply])
	require.Equal(t, 42, report.APIUsed)

	require.Equal(t, 42, h.budget.Used())
	require.True(t, h.queue.IsTerminal("post-done"))
	require.ErrorIs(t, h.queue.Enqueue(target.Target{
		Key:  "post-done",
		Kind: domain.KindReply,
	}), target.ErrTerminal)

	acct := mustSome(t, h.pool.Get("acct-9"))
	require.Equal(t, 1, acct.Count(domain.KindReply))

	dangling := mustSome(t, mustNoErr(h.repo.GetOutreach(ctx, "d-dangling")))
	require.Equal(t, domain.OutcomeTransientFail, dangling.Outcome)

	status := h.sched.Status()
	require.Equal(t, day, status.Day)
	require.Equal(t, 1, status.SentToday[domain.KindReply])
}

// TestRunFinishesDispatchOnCancel cancels the loop while the driver is
// working: the action completes, is recorded, and the loop exits.
func TestRunFinishesDispatchOnCancel(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds: []domain.ActionKind{domain.KindReply},
	})
	defer h.stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.onDispatch = cancel
	h.enqueue(t, domain.KindReply, "post-1", "post-2", "post-3")

	var reports []CycleReport
	require.NoError(t, h.sched.Run(ctx, func(r CycleReport) {
		reports = append(reports, r)
	}))

	require.Len(t, reports, 1)
	require.True(t, reports[0].Interrupted)
	require.Equal(t, StopCancelled, reports[0].Stops[domain.KindReply])
	require.Equal(t, 1, h.callCount())

	// Run flushed on exit, so the record is already finished.
	records, err := h.repo.ListOutreach(
		context.Background(), time.Time{}, testNow.Add(time.Hour),
	)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, domain.OutcomeSent, records[0].Outcome)
	require.True(t, records[0].Finished())
	require.Equal(t, 2, h.queue.LenKind(domain.KindReply))
}

func TestWakeInterruptsSleep(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds: []domain.ActionKind{domain.KindReply},
	})
	defer h.stop()

	ctx, cancel := context.WithCancel(context.Background())

	cycles := make(chan CycleReport, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.sched.Run(ctx, func(r CycleReport) {
			cycles <- r
		})
	}()

	first := <-cycles
	require.Equal(t, uint64(1), first.Cycle.ID)

	h.enqueue(t, domain.KindReply, "post-1")
	h.sched.Wake()

	select {
	case second := <-cycles:
		require.Equal(t, uint64(2), second.Cycle.ID)
		require.Equal(t, 1, second.Sent()[domain.KindReply])

	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not wake")
	}

	cancel()
	require.NoError(t, <-done)
}

// TestSentAtMostOncePerTarget drives random cycles with resubmissions and
// mixed driver outcomes and checks no target is ever sent twice.
func TestSentAtMostOncePerTarget(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(harnessConfig{
			kinds: []domain.ActionKind{domain.KindReply},
		})
		defer h.stop()

		ctx := context.Background()
		keys := []string{"k0", "k1", "k2", "k3"}
		statuses := []executor.DriverStatus{
			executor.StatusOK, executor.StatusSoftFail,
			executor.StatusPermanentFail, executor.StatusUnknown,
		}

		steps := rapid.IntRange(1, 8).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			for _, key := range keys {
				if !rapid.Bool().Draw(rt, "submit") {
					continue
				}

				// Retired targets are refused, which is
				// the point.
				_ = h.queue.Enqueue(target.Target{
					Key:  key,
					Kind: domain.KindReply,
				})
			}

			script := rapid.SliceOfN(
				rapid.SampledFrom(statuses), 0, 6,
			).Draw(rt, "script")
			h.setScript(script...)

			if _, err := h.sched.Step(ctx); err != nil {
				rt.Fatalf("step: %v", err)
			}

			h.clk.SetTime(h.clk.Now().Add(10 * time.Minute))
		}

		if err := h.rec.Flush(ctx); err != nil {
			rt.Fatalf("flush: %v", err)
		}
		records, err := h.repo.ListOutreach(
			ctx, time.Time{}, testNow.Add(24*time.Hour),
		)
		if err != nil {
			rt.Fatalf("list: %v", err)
		}

		sent := make(map[string]int)
		for _, rec := range records {
			if rec.Outcome == domain.OutcomeSent {
				sent[rec.TargetKey]++
			}
		}
		for key, n := range sent {
			if n > 1 {
				rt.Fatalf("target %s sent %d times", key, n)
			}
		}
	})
}

// TestTargetCooldownIsTargetLocal runs with a real per-target cooldown. A
// target that failed or is still cooling down must wait on its own while
// the rest of its kind keeps flowing.
func TestTargetCooldownIsTargetLocal(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds: []domain.ActionKind{domain.KindReply},
		policy: ratelimit.PolicyConfig{
			TargetCooldown: 24 * time.Hour,
		},
	})
	defer h.stop()

	ctx := context.Background()
	h.enqueue(t, domain.KindReply, "post-1", "post-2")
	h.setScript(executor.StatusSoftFail, executor.StatusOK)

	report, err := h.sched.Step(ctx)
	require.NoError(t, err)
	require.Len(t, report.Dispatches, 2)
	require.Equal(t, domain.OutcomeTransientFail,
		report.Dispatches[0].Result.Outcome)
	require.Equal(t, testNow.Add(24*time.Hour),
		report.Dispatches[0].Result.NextEligibleAt)
	require.Equal(t, 1, report.Sent()[domain.KindReply])

	// Fresh targets are not starved by the retried one.
	h.enqueue(t, domain.KindReply, "post-3", "post-4")
	h.clk.SetTime(testNow.Add(15 * time.Minute))

	report, err = h.sched.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Sent()[domain.KindReply])
	require.Equal(t, StopNoTarget, report.Stops[domain.KindReply])
	require.Empty(t, report.Bindings)

	// A queued target that is eligible but still inside its cooldown is
	// deferred without an attempt, and the next one goes out.
	h.enqueue(t, domain.KindReply, "post-5", "post-6")
	decision := h.policy.Admit(ratelimit.Candidate{
		AccountID: "elsewhere", Kind: domain.KindReply,
		TargetKey: "post-5", DailyCap: 1, CycleQuota: 1,
	}, nil)
	require.True(t, decision.Allowed)

	report, err = h.sched.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)
	require.Len(t, report.Dispatches, 1)
	require.Equal(t, "post-6", report.Dispatches[0].TargetKey)

	var deferred target.Target
	for _, tgt := range h.queue.Snapshot(domain.KindReply) {
		if tgt.Key == "post-5" {
			deferred = tgt
		}
	}
	require.Equal(t, "post-5", deferred.Key)
	require.Zero(t, deferred.Attempts)
	require.Equal(t, h.clk.Now().Add(24*time.Hour),
		deferred.NextEligibleAt)
	require.Equal(t, 2, h.queue.LenKind(domain.KindReply))
}

// TestRecoverSeedsDailyWindows restarts with a reply already sent an hour
// ago: the rebuilt window is full, and the old target stays cooling down.
func TestRecoverSeedsDailyWindows(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds: []domain.ActionKind{domain.KindReply},
		policy: ratelimit.PolicyConfig{
			TargetCooldown: 24 * time.Hour,
			DailyWindows: map[domain.ActionKind]int{
				domain.KindReply: 1,
			},
			DailyWindowLength: 24 * time.Hour,
		},
	})
	defer h.stop()

	ctx := context.Background()
	sentAt := testNow.Add(-time.Hour)
	_, err := h.repo.AppendOutreach(ctx, domain.OutreachRecord{
		DispatchID: "d-earlier",
		AccountID:  "acct-0",
		TargetKey:  "post-earlier",
		Kind:       domain.KindReply,
		StartedAt:  sentAt,
	})
	require.NoError(t, err)
	_, err = h.repo.FinishOutreach(ctx, "d-earlier", domain.OutcomeSent,
		sentAt.Add(time.Second), domain.ErrClassNone, "")
	require.NoError(t, err)

	report, err := h.sched.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Seeded)
	require.Equal(t, 1, h.policy.Stats()[domain.KindReply].WindowUsed)

	decision := h.policy.Check(ratelimit.Candidate{
		AccountID: "acct-0", Kind: domain.KindReply,
		TargetKey: "post-earlier", DailyCap: 10, CycleQuota: 10,
	})
	require.Equal(t, ratelimit.LimiterTargetCooldown, decision.Binding)
	require.Equal(t, 23*time.Hour, decision.RetryAfter)

	h.enqueue(t, domain.KindReply, "post-new")
	cycle, err := h.sched.Step(ctx)
	require.NoError(t, err)
	require.Empty(t, cycle.Dispatches)
	require.Equal(t, StopRefused, cycle.Stops[domain.KindReply])
	require.Equal(t, ratelimit.LimiterDailyWindow,
		cycle.Bindings[domain.KindReply])
	require.Zero(t, h.callCount())
}

// TestReloadAppliesNextCycle queues new settings while the loop is idle:
// nothing changes until the next cycle starts, which then runs entirely
// under the new caps and keywords.
func TestReloadAppliesNextCycle(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds: []domain.ActionKind{domain.KindReply},
		policy: ratelimit.PolicyConfig{
			DailyWindows: map[domain.ActionKind]int{
				domain.KindReply: 10,
			},
			DailyWindowLength: 24 * time.Hour,
		},
	})
	defer h.stop()

	ctx := context.Background()

	gateCfg := gate.DefaultConfig()
	gateCfg.Keywords = []string{"golang", "sqlite"}
	gateCfg.Location = nil

	poolCfg := account.DefaultPoolConfig()
	poolCfg.RoleCooldown = map[account.Role]time.Duration{}

	schedCfg := DefaultConfig()
	schedCfg.KindPriority = []domain.ActionKind{domain.KindReply}
	schedCfg.MinInterval = time.Minute
	schedCfg.MaxInterval = 2 * time.Minute
	schedCfg.Platform = "other"
	schedCfg.Location = nil

	h.sched.Reload(Settings{
		Scheduler: schedCfg,
		Gate:      gateCfg,
		Policy: ratelimit.PolicyConfig{
			DailyWindows: map[domain.ActionKind]int{
				domain.KindReply: 1,
			},
			DailyWindowLength: 24 * time.Hour,
		},
		Pool: poolCfg,
	})
	require.Equal(t, 10, h.policy.Stats()[domain.KindReply].WindowCapacity)
	require.Zero(t, h.sched.Status().ConfigReloads)

	h.enqueue(t, domain.KindReply, "post-1", "post-2")
	report, err := h.sched.Step(ctx)
	require.NoError(t, err)
	require.True(t, report.Reloaded)
	require.Equal(t, 1, report.Cycle.Budget[domain.KindReply])
	require.Equal(t, 1, report.Sent()[domain.KindReply])
	require.Equal(t, []string{"golang", "sqlite"}, report.Cycle.Keywords)

	stats := h.policy.Stats()[domain.KindReply]
	require.Equal(t, 1, stats.WindowCapacity)
	require.Equal(t, 1, stats.WindowUsed)

	status := h.sched.Status()
	require.Equal(t, 1, status.ConfigReloads)
	require.Equal(t, []string{"golang", "sqlite"}, status.ActiveKeywords)

	// Identity settings stay as they were at start.
	require.Equal(t, "x", h.sched.cfg.Platform)
	require.Equal(t, time.UTC, h.sched.cfg.Location)
	require.Equal(t, time.Minute, h.sched.cfg.MinInterval)

	// A queued reload is consumed once.
	report, err = h.sched.Step(ctx)
	require.NoError(t, err)
	require.False(t, report.Reloaded)
	require.Equal(t, 1, h.sched.Status().ConfigReloads)
}

// TestKeywordsFollowVolume publishes half the keywords while the pipeline
// is still warming up.
func TestKeywordsFollowVolume(t *testing.T) {
	h := newHarness(harnessConfig{
		kinds:         []domain.ActionKind{domain.KindReply},
		pipelineStart: "2026-05-02",
	})
	defer h.stop()

	gateCfg := gate.DefaultConfig()
	gateCfg.Keywords = []string{"a", "b", "c", "d"}
	h.sched.Reload(Settings{
		Scheduler: DefaultConfig(),
		Gate:      gateCfg,
		Pool:      account.DefaultPoolConfig(),
	})

	report, err := h.sched.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.5, report.Cycle.VolumeMultiplier)
	require.Equal(t, []string{"a", "b"}, report.Cycle.Keywords)
	require.Equal(t, []string{"a", "b"},
		h.sched.Status().ActiveKeywords)
}
