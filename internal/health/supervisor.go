package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// Escalation is the action taken after a health warning.
type Escalation string

const (
	// EscalateContinue logs the warning and keeps the account in rotation.
	EscalateContinue Escalation = "continue"

	// EscalatePause rests the account for the configured cooldown.
	EscalatePause Escalation = "pause"

	// EscalateBan bans the account permanently.
	EscalateBan Escalation = "ban"
)

// ResumeMultiplier is the volume applied while resume cycles remain.
const ResumeMultiplier = 0.5

// Config configures the supervisor.
type Config struct {
	// WarningWindow is the rolling window warnings are counted in.
	WarningWindow time.Duration

	// Cooldown is how long a paused account rests.
	Cooldown time.Duration

	// BanThreshold is the warning count that bans an account.
	BanThreshold int

	// ResumeCycles is how many cycles run at reduced volume after a
	// resume.
	ResumeCycles int
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		WarningWindow: 24 * time.Hour,
		Cooldown:      4 * time.Hour,
		BanThreshold:  3,
		ResumeCycles:  1,
	}
}

// AccountHealth is the part of the account pool the supervisor drives.
type AccountHealth interface {
	RecordWarning(id string, at time.Time, window time.Duration) (int,
		error)
	ClearWarnings(id string) error
	Rest(id string, until time.Time) error
	Ban(id string, at time.Time) error
}

// HaltState is the observable halt status.
type HaltState struct {
	Halted                bool
	Reason                string
	Source                string
	Since                 time.Time
	ResumeCyclesRemaining int
	Location              string
}

// Supervisor runs the warning ladder and owns the emergency halt.
type Supervisor struct {
	cfg      Config
	store    HaltStore
	accounts AccountHealth
	clk      clock.Clock

	mu        sync.Mutex
	listeners []func(HaltState)

	// seenHalted is the halt status of the last successful read.
	seenHalted bool
}

// NewSupervisor creates a supervisor. accounts may be nil for processes
// that only manage the halt, like the CLI.
func NewSupervisor(cfg Config, store HaltStore, accounts AccountHealth,
	clk clock.Clock) *Supervisor {

	if cfg.BanThreshold < 2 {
		cfg.BanThreshold = 2
	}
	if cfg.ResumeCycles < 1 {
		cfg.ResumeCycles = 1
	}

	return &Supervisor{
		cfg:      cfg,
		store:    store,
		accounts: accounts,
		clk:      clk,
	}
}

// Store returns the underlying halt store.
func (s *Supervisor) Store() HaltStore {
	return s.store
}

// OnChange registers f to be called after every halt or resume made
// through this supervisor.
func (s *Supervisor) OnChange(f func(HaltState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, f)
}

func (s *Supervisor) notify(state HaltState) {
	s.mu.Lock()
	listeners := append([]func(HaltState){}, s.listeners...)
	s.mu.Unlock()

	for _, f := range listeners {
		f(state)
	}
}

// RecordWarning records a health warning for the account and applies the
// escalation ladder.
func (s *Supervisor) RecordWarning(ctx context.Context, accountID,
	reason string) (Escalation, error) {

	if s.accounts == nil {
		return EscalateContinue, fmt.Errorf("no account pool")
	}

	now := s.clk.Now()
	count, err := s.accounts.RecordWarning(
		accountID, now, s.cfg.WarningWindow,
	)
	if err != nil {
		return EscalateContinue, err
	}

	switch {
	case count >= s.cfg.BanThreshold:
		if err := s.accounts.Ban(accountID, now); err != nil {
			return EscalateBan, err
		}

		log.WarnS(ctx, "Account banned after repeated warnings", nil,
			"account_id", accountID,
			"warnings", count,
			"reason", reason)

		return EscalateBan, nil

	case count >= 2:
		until := now.Add(s.cfg.Cooldown)
		if err := s.accounts.Rest(accountID, until); err != nil {
			return EscalatePause, err
		}

		log.WarnS(ctx, "Account paused after warning", nil,
			"account_id", accountID,
			"warnings", count,
			"resting_until", until,
			"reason", reason)

		return EscalatePause, nil

	default:
		log.InfoS(ctx, "Health warning recorded",
			"account_id", accountID,
			"warnings", count,
			"reason", reason)

		return EscalateContinue, nil
	}
}

// RecordSuccess resets the account's warning history.
func (s *Supervisor) RecordSuccess(accountID string) error {
	if s.accounts == nil {
		return nil
	}

	return s.accounts.ClearWarnings(accountID)
}

// Halt writes the sentinel. Halting while already halted keeps the
// original sentinel. Any pending resume token is discarded.
func (s *Supervisor) Halt(ctx context.Context, reason,
	source string) (HaltState, error) {

	if err := s.store.SetResumeCycles(ctx, 0, time.Time{}); err != nil {
		return HaltState{}, fmt.Errorf("clear resume token: %w", err)
	}

	current, err := s.store.Load(ctx)
	if err != nil {
		return HaltState{}, err
	}

	if current.IsSome() {
		log.DebugS(ctx, "Halt already active",
			"reason", current.UnwrapOr(Sentinel{}).Reason,
			"new_reason", reason)

		return s.State(ctx)
	}

	sentinel := Sentinel{
		Reason:    reason,
		Source:    source,
		Timestamp: s.clk.Now().UTC(),
	}
	if err := s.store.Save(ctx, sentinel); err != nil {
		return HaltState{}, fmt.Errorf("write halt sentinel: %w", err)
	}

	log.ErrorS(ctx, "Emergency halt triggered", nil,
		"reason", reason,
		"source", source,
		"location", s.store.Location())

	state, err := s.State(ctx)
	if err != nil {
		return HaltState{}, err
	}
	s.notify(state)

	return state, nil
}

// Resume clears the sentinel and grants the configured reduced-volume
// cycles. It reports false when there was nothing to resume.
func (s *Supervisor) Resume(ctx context.Context) (bool, error) {
	halted, err := s.IsHalted(ctx)
	if err != nil {
		return false, err
	}
	if !halted {
		return false, nil
	}

	if err := s.store.Clear(ctx); err != nil {
		return false, fmt.Errorf("clear halt sentinel: %w", err)
	}
	err = s.store.SetResumeCycles(ctx, s.cfg.ResumeCycles, s.clk.Now())
	if err != nil {
		return false, fmt.Errorf("write resume token: %w", err)
	}

	log.InfoS(ctx, "Halt cleared",
		"location", s.store.Location(),
		"reduced_cycles", s.cfg.ResumeCycles)

	state, err := s.State(ctx)
	if err != nil {
		return true, err
	}
	s.notify(state)

	return true, nil
}

// IsHalted reports whether a sentinel is present.
func (s *Supervisor) IsHalted(ctx context.Context) (bool, error) {
	sentinel, err := s.store.Load(ctx)
	if err != nil {
		// An unreadable store is treated as halted.
		return true, err
	}

	s.observe(ctx, sentinel.IsSome())

	return sentinel.IsSome(), nil
}

// observe records the halt status just read. A sentinel that was seen and
// is now gone without a resume token was removed by hand, e.g. with rm,
// and earns the same reduced-volume cycles as Resume.
func (s *Supervisor) observe(ctx context.Context, halted bool) {
	s.mu.Lock()
	was := s.seenHalted
	s.seenHalted = halted
	s.mu.Unlock()

	if !was || halted {
		return
	}

	n, err := s.store.ResumeCycles(ctx)
	if err != nil {
		log.WarnS(ctx, "Unable to read resume token", err,
			"location", s.store.Location())
		return
	}
	if n > 0 {
		return
	}

	err = s.store.SetResumeCycles(ctx, s.cfg.ResumeCycles, s.clk.Now())
	if err != nil {
		log.WarnS(ctx, "Unable to write resume token", err,
			"location", s.store.Location())
		return
	}

	log.InfoS(ctx, "Halt sentinel removed externally",
		"location", s.store.Location(),
		"reduced_cycles", s.cfg.ResumeCycles)
}

// State returns the current halt state.
func (s *Supervisor) State(ctx context.Context) (HaltState, error) {
	state := HaltState{Location: s.store.Location()}

	sentinel, err := s.store.Load(ctx)
	if err != nil {
		state.Halted = true
		return state, err
	}
	s.observe(ctx, sentinel.IsSome())
	sentinel.WhenSome(func(sn Sentinel) {
		state.Halted = true
		state.Reason = sn.Reason
		state.Source = sn.Source
		state.Since = sn.Timestamp
	})

	state.ResumeCyclesRemaining, err = s.store.ResumeCycles(ctx)
	if err != nil {
		return state, err
	}

	return state, nil
}

// VolumeMultiplier returns ResumeMultiplier while resume cycles remain and
// 1 otherwise. It does not consume the token.
func (s *Supervisor) VolumeMultiplier(ctx context.Context) (float64, error) {
	n, err := s.store.ResumeCycles(ctx)
	if err != nil {
		return ResumeMultiplier, err
	}
	if n > 0 {
		return ResumeMultiplier, nil
	}

	return 1, nil
}

// CompleteCycle consumes one resume cycle. It is called once per cycle
// that ran to completion while not halted.
func (s *Supervisor) CompleteCycle(ctx context.Context) error {
	n, err := s.store.ResumeCycles(ctx)
	if err != nil || n == 0 {
		return err
	}

	if err := s.store.SetResumeCycles(ctx, n-1, s.clk.Now()); err != nil {
		return err
	}

	log.InfoS(ctx, "Reduced-volume cycle consumed",
		"remaining", n-1)

	return nil
}
