package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/health"
	"github.com/roasbeef/outreach/internal/store"
	"github.com/roasbeef/outreach/internal/target"
)

const (
	// DefaultDriverTimeout bounds a single driver call.
	DefaultDriverTimeout = 60 * time.Second

	// DefaultWallTimeout bounds the whole dispatch, bookkeeping included.
	DefaultWallTimeout = 90 * time.Second

	// DefaultBackoffBase is the first retry delay.
	DefaultBackoffBase = 5 * time.Minute

	// DefaultBackoffMax caps retry delays.
	DefaultBackoffMax = 6 * time.Hour

	// DefaultMaxAttempts is the number of failed attempts after which a
	// target is retired.
	DefaultMaxAttempts = 3

	// DefaultRateLimitCooldown is how long an account rests on a kind
	// after the platform pushed back.
	DefaultRateLimitCooldown = time.Hour

	// haltSource tags halts raised by the executor.
	haltSource = "executor"
)

// ErrBeginFailed is returned when the dispatch could not be recorded
// before reaching the driver. Nothing was sent.
var ErrBeginFailed = errors.New("unable to record dispatch start")

// Config tunes the executor.
type Config struct {
	DriverTimeout     time.Duration
	WallTimeout       time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	Jitter            float64
	MaxAttempts       int
	RateLimitCooldown time.Duration

	// APIBackedKinds consume the monthly API budget when sent.
	APIBackedKinds []domain.ActionKind
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		DriverTimeout:     DefaultDriverTimeout,
		WallTimeout:       DefaultWallTimeout,
		BackoffBase:       DefaultBackoffBase,
		BackoffMax:        DefaultBackoffMax,
		Jitter:            DefaultJitter,
		MaxAttempts:       DefaultMaxAttempts,
		RateLimitCooldown: DefaultRateLimitCooldown,
		APIBackedKinds: []domain.ActionKind{
			domain.KindReply, domain.KindPost,
		},
	}
}

// Recorder is the bookkeeping the executor writes to.
type Recorder interface {
	// Begin durably stores the unfinished record.
	Begin(ctx context.Context, rec domain.OutreachRecord) error

	// Finish stamps the outcome. It may return before the write lands.
	Finish(ctx context.Context, rec domain.OutreachRecord) error
}

// Targets is the part of the target queue the executor settles.
type Targets interface {
	Defer(key string, until time.Time) error
	Reschedule(key string, next time.Time) (target.Target, error)
	MarkTerminal(key string)
}

// Accounts receives sent counts.
type Accounts interface {
	RecordSent(id string, kind domain.ActionKind) error
}

// Health is the part of the supervisor the executor escalates to.
type Health interface {
	RecordWarning(ctx context.Context, accountID,
		reason string) (health.Escalation, error)
	RecordSuccess(accountID string) error
	Halt(ctx context.Context, reason, source string) (health.HaltState,
		error)
}

// Cooldowns applies forced cool-downs after rate limiting and reports the
// per-target cooldown a retry has to wait out.
type Cooldowns interface {
	ForceCooldown(kind domain.ActionKind, accountID string,
		d time.Duration)
	TargetCooldownRemaining(key string) time.Duration
}

// Budget counts API-backed calls.
type Budget interface {
	Use(n int) (string, int)
}

// UsageStore persists monthly API usage.
type UsageStore interface {
	SetConfig(ctx context.Context, key, value string) error
}

// Deps groups the collaborators of an Executor.
type Deps struct {
	Driver    ActionDriver
	Recorder  Recorder
	Targets   Targets
	Accounts  Accounts
	Health    Health
	Cooldowns Cooldowns

	// Budget and Usage are optional.
	Budget Budget
	Usage  UsageStore

	Clock clock.Clock
}

// Result describes one settled dispatch.
type Result struct {
	DispatchID string
	Outcome    domain.Outcome
	ErrorClass domain.ErrorClass
	Detail     string

	// Attempts is the target's failed attempt count after this dispatch.
	Attempts int

	// NextEligibleAt is set when the target was rescheduled.
	NextEligibleAt time.Time

	// Escalation is set for rate-limited dispatches.
	Escalation health.Escalation

	// Halted is true when this dispatch raised the emergency halt.
	Halted bool

	Duration time.Duration
}

// Executor runs one action at a time through the driver and applies the
// side effects of its outcome.
type Executor struct {
	cfg  Config
	deps Deps

	newID func() string
	rand  func() float64
}

// New creates an executor.
func New(cfg Config, deps Deps) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.DriverTimeout <= 0 {
		cfg.DriverTimeout = DefaultDriverTimeout
	}
	if cfg.WallTimeout < cfg.DriverTimeout {
		cfg.WallTimeout = cfg.DriverTimeout + 30*time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}

	return &Executor{
		cfg:   cfg,
		deps:  deps,
		newID: NewDispatchID,
		rand:  rand.Float64,
	}
}

// NewDispatchID returns a time-ordered UUIDv7 string.
func NewDispatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

func (e *Executor) isAPIBacked(kind domain.ActionKind) bool {
	for _, k := range e.cfg.APIBackedKinds {
		if k == kind {
			return true
		}
	}

	return false
}

// Run dispatches t with acct. The target must be in flight in the queue.
//
// Once the start record is stored the dispatch runs to completion even if
// ctx is cancelled, bounded by the wall timeout. Only a failure to store
// the start record returns an error; the target is then requeued.
func (e *Executor) Run(ctx context.Context, acct account.Account,
	t target.Target) (Result, error) {

	// Shutdown must not interrupt a dispatch that was already started.
	wallCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), e.cfg.WallTimeout,
	)
	defer cancel()

	start := e.deps.Clock.Now()
	rec := domain.OutreachRecord{
		DispatchID: e.newID(),
		AccountID:  acct.ID,
		TargetKey:  t.Key,
		Kind:       t.Kind,
		StartedAt:  start,
	}

	if err := e.deps.Recorder.Begin(wallCtx, rec); err != nil {
		log.ErrorS(ctx, "Dispatch not started", err,
			"dispatch_id", rec.DispatchID,
			"target_key", t.Key)

		e.requeue(ctx, t.Key)

		return Result{
			DispatchID: rec.DispatchID,
			Outcome:    domain.OutcomeSkipped,
			Attempts:   t.Attempts,
		}, fmt.Errorf("%w: %w", ErrBeginFailed, err)
	}

	log.DebugS(ctx, "Dispatching",
		"dispatch_id", rec.DispatchID,
		"account_id", acct.ID,
		"kind", t.Kind,
		"target_key", t.Key)

	dr := e.dispatch(wallCtx, acct.Handle, t.Payload)

	res := e.settle(wallCtx, acct, t, dr)
	res.DispatchID = rec.DispatchID

	finishedAt := e.deps.Clock.Now()
	res.Duration = finishedAt.Sub(start)

	rec.Outcome = res.Outcome
	rec.ErrorClass = res.ErrorClass
	rec.Detail = res.Detail
	rec.FinishedAt = &finishedAt
	if err := e.deps.Recorder.Finish(wallCtx, rec); err != nil {
		log.ErrorS(ctx, "Unable to record dispatch outcome", err,
			"dispatch_id", rec.DispatchID,
			"outcome", rec.Outcome)
	}

	log.InfoS(ctx, "Dispatch finished",
		"dispatch_id", rec.DispatchID,
		"account_id", acct.ID,
		"kind", t.Kind,
		"target_key", t.Key,
		"outcome", res.Outcome,
		"error_class", res.ErrorClass,
		"duration", res.Duration)

	return res, nil
}

// dispatch calls the driver on its own goroutine so a driver that ignores
// its context cannot hold the caller past the wall deadline.
func (e *Executor) dispatch(wallCtx context.Context, handle string,
	payload []byte) DriverResult {

	driverCtx, cancel := context.WithTimeout(wallCtx, e.cfg.DriverTimeout)
	defer cancel()

	type reply struct {
		res DriverResult
		err error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := e.deps.Driver.Dispatch(driverCtx, handle, payload)
		done <- reply{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.res
		}

		if errors.Is(r.err, context.DeadlineExceeded) {
			return DriverResult{
				Status: StatusSoftFail,
				Detail: "driver timeout: " + r.err.Error(),
			}
		}

		detail := r.err.Error()
		if r.res.Detail != "" {
			detail = r.res.Detail + ": " + detail
		}
		status := r.res.Status
		if status == "" || status == StatusOK {
			status = StatusUnknown
		}

		return DriverResult{Status: status, Detail: detail}

	case <-wallCtx.Done():
		return DriverResult{
			Status: StatusSoftFail,
			Detail: "wall deadline exceeded",
		}
	}
}

// settle applies the side effects of a driver result.
func (e *Executor) settle(ctx context.Context, acct account.Account,
	t target.Target, dr DriverResult) Result {

	outcome, class := Classify(dr.Status)
	res := Result{
		Outcome:    outcome,
		ErrorClass: class,
		Detail:     dr.Detail,
		Attempts:   t.Attempts,
	}

	switch outcome {
	case domain.OutcomeSent:
		e.deps.Targets.MarkTerminal(t.Key)

		if err := e.deps.Accounts.RecordSent(acct.ID, t.Kind); err != nil {
			log.WarnS(ctx, "Unable to count sent action", err,
				"account_id", acct.ID)
		}
		if err := e.deps.Health.RecordSuccess(acct.ID); err != nil {
			log.WarnS(ctx, "Unable to clear warnings", err,
				"account_id", acct.ID)
		}
		if e.isAPIBacked(t.Kind) {
			e.useBudget(ctx)
		}

	case domain.OutcomeTransientFail:
		// A retry is another dispatch to the same target, so it also
		// waits out the per-target cooldown taken at admission.
		wait := max(
			e.backoff(t.Attempts+1),
			e.deps.Cooldowns.TargetCooldownRemaining(t.Key),
		)
		next := e.deps.Clock.Now().Add(wait)
		updated, err := e.deps.Targets.Reschedule(t.Key, next)
		if err != nil {
			log.WarnS(ctx, "Unable to reschedule target", err,
				"target_key", t.Key)
			break
		}
		res.Attempts = updated.Attempts

		if updated.Attempts >= e.cfg.MaxAttempts {
			e.deps.Targets.MarkTerminal(t.Key)

			res.Outcome = domain.OutcomePermanentFail
			res.Detail = fmt.Sprintf("gave up after %d attempts: "+
				"%s", updated.Attempts, dr.Detail)

			log.WarnS(ctx, "Target retired after repeated failures",
				nil, "target_key", t.Key,
				"attempts", updated.Attempts)

			break
		}
		res.NextEligibleAt = updated.NextEligibleAt

	case domain.OutcomeRateLimited:
		e.deps.Cooldowns.ForceCooldown(
			t.Kind, acct.ID, e.cfg.RateLimitCooldown,
		)

		esc, err := e.deps.Health.RecordWarning(
			ctx, acct.ID, "rate limited: "+dr.Detail,
		)
		if err != nil {
			log.WarnS(ctx, "Unable to record warning", err,
				"account_id", acct.ID)
		}
		res.Escalation = esc

		e.requeue(ctx, t.Key)

	case domain.OutcomeRestriction:
		reason := fmt.Sprintf("%s on account %s: %s", class, acct.ID,
			dr.Detail)
		if _, err := e.deps.Health.Halt(
			ctx, reason, haltSource,
		); err != nil {
			log.ErrorS(ctx, "Unable to write halt sentinel", err,
				"reason", reason)
		}
		res.Halted = true

		e.requeue(ctx, t.Key)

	case domain.OutcomePermanentFail:
		e.deps.Targets.MarkTerminal(t.Key)
	}

	return res
}

// requeue returns key to the queue without counting an attempt. It becomes
// eligible once its per-target cooldown has elapsed.
func (e *Executor) requeue(ctx context.Context, key string) {
	until := e.deps.Clock.Now().Add(
		e.deps.Cooldowns.TargetCooldownRemaining(key),
	)
	if err := e.deps.Targets.Defer(key, until); err != nil {
		log.WarnS(ctx, "Unable to requeue target", err,
			"target_key", key)
	}
}

func (e *Executor) backoff(attempts int) time.Duration {
	return backoff(
		attempts, e.cfg.BackoffBase, e.cfg.BackoffMax, e.cfg.Jitter,
		e.rand,
	)
}

func (e *Executor) useBudget(ctx context.Context) {
	if e.deps.Budget == nil {
		return
	}

	month, used := e.deps.Budget.Use(1)
	if e.deps.Usage == nil {
		return
	}

	err := e.deps.Usage.SetConfig(
		ctx, store.APIUsageKey(month), strconv.Itoa(used),
	)
	if err != nil {
		log.WarnS(ctx, "Unable to persist API usage", err,
			"month", month, "used", used)
	}
}
