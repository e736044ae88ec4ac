package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/ratelimit"
)

// PipelineStartKey is the repository key holding the warmup start date.
const PipelineStartKey = "pipeline_start_date"

// Reason explains why a cycle was refused.
type Reason string

const (
	// ReasonNone means the cycle may run.
	ReasonNone Reason = ""

	// ReasonOutsideHours means now is outside the active window.
	ReasonOutsideHours Reason = "outside_active_hours"

	// ReasonHalted means the emergency halt sentinel is present.
	ReasonHalted Reason = "halted"

	// ReasonBudgetExhausted means every enabled kind is API-backed and
	// the monthly budget is in hard stop.
	ReasonBudgetExhausted Reason = "budget_hard_stop"
)

// ConfigStore is the subset of the repository the gate needs.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (fn.Option[string], error)
	SetConfig(ctx context.Context, key, value string) error
}

// HaltChecker reports whether the emergency halt is active.
type HaltChecker interface {
	IsHalted(ctx context.Context) (bool, error)
}

// Config configures the gate.
type Config struct {
	// ActiveStartHour and ActiveEndHour bound the active window,
	// inclusive on both ends. A start after the end wraps midnight.
	ActiveStartHour int
	ActiveEndHour   int

	// Location is the single timezone for hours and day boundaries.
	Location *time.Location

	// WarmupDays is the length of the half-volume ramp.
	WarmupDays int

	// ConservationRatio and HardStopRatio are the budget thresholds.
	ConservationRatio float64
	HardStopRatio     float64

	// APIBackedKinds consume the monthly budget.
	APIBackedKinds []domain.ActionKind

	// EnabledKinds are the kinds the scheduler runs.
	EnabledKinds []domain.ActionKind

	// Keywords are the configured search terms, in priority order.
	Keywords []string
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		ActiveStartHour:   8,
		ActiveEndHour:     23,
		Location:          time.UTC,
		WarmupDays:        14,
		ConservationRatio: 0.80,
		HardStopRatio:     0.95,
		APIBackedKinds: []domain.ActionKind{
			domain.KindReply, domain.KindPost,
		},
		EnabledKinds: domain.OutreachKinds,
	}
}

// Gate decides whether a cycle may run and how much volume it gets.
type Gate struct {
	cfg    Config
	store  ConfigStore
	halt   HaltChecker
	budget *ratelimit.MonthlyBudget
	clock  clock.Clock
}

// New creates a gate.
func New(cfg Config, store ConfigStore, halt HaltChecker,
	budget *ratelimit.MonthlyBudget, clk clock.Clock) *Gate {

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Gate{
		cfg:    cfg,
		store:  store,
		halt:   halt,
		budget: budget,
		clock:  clk,
	}
}

// SetConfig replaces the configuration. The gate is not synchronized: call
// it between cycles from the goroutine that runs them.
func (g *Gate) SetConfig(cfg Config) {
	if cfg.Location == nil {
		cfg.Location = g.cfg.Location
	}

	g.cfg = cfg
}

// Keywords returns the search terms active under volume multiplier m.
func (g *Gate) Keywords(m float64) []string {
	return append([]string(nil), ActiveKeywords(g.cfg.Keywords, m)...)
}

// Location returns the configured timezone.
func (g *Gate) Location() *time.Location {
	return g.cfg.Location
}

// InActiveHours reports whether now falls in the active window.
func (g *Gate) InActiveHours(now time.Time) bool {
	return InWindow(
		now.In(g.cfg.Location).Hour(),
		g.cfg.ActiveStartHour, g.cfg.ActiveEndHour,
	)
}

// InWindow reports whether hour lies in [start, end], wrapping midnight
// when start > end.
func InWindow(hour, start, end int) bool {
	if start <= end {
		return start <= hour && hour <= end
	}

	return hour >= start || hour <= end
}

// AllowCycle gates a scheduler cycle.
func (g *Gate) AllowCycle(ctx context.Context,
	now time.Time) (bool, Reason, error) {

	if !g.InActiveHours(now) {
		return false, ReasonOutsideHours, nil
	}

	halted, err := g.halt.IsHalted(ctx)
	if err != nil {
		return false, ReasonNone, fmt.Errorf("unable to read halt "+
			"state: %w", err)
	}
	if halted {
		return false, ReasonHalted, nil
	}

	if g.Phase() == PhaseHardStop && g.allKindsAPIBacked() {
		return false, ReasonBudgetExhausted, nil
	}

	return true, ReasonNone, nil
}

// allKindsAPIBacked reports whether no UI-driven kind is enabled.
func (g *Gate) allKindsAPIBacked() bool {
	for _, kind := range g.cfg.EnabledKinds {
		if !g.IsAPIBacked(kind) {
			return false
		}
	}

	return true
}

// IsAPIBacked reports whether kind consumes the monthly API budget.
func (g *Gate) IsAPIBacked(kind domain.ActionKind) bool {
	for _, k := range g.cfg.APIBackedKinds {
		if k == kind {
			return true
		}
	}

	return false
}

// Phase returns the current monthly budget phase.
func (g *Gate) Phase() BudgetPhase {
	return PhaseFor(
		g.budget.UsageRatio(), g.cfg.ConservationRatio,
		g.cfg.HardStopRatio,
	)
}

// KindMultiplier returns the budget phase multiplier for kind.
func (g *Gate) KindMultiplier(kind domain.ActionKind) float64 {
	return PhaseMultiplier(g.Phase(), g.IsAPIBacked(kind))
}

// WarmupDay returns the 1-based day since the recorded pipeline start. The
// first call records today as the start date.
func (g *Gate) WarmupDay(ctx context.Context, now time.Time) (int, error) {
	today := domain.DayKey(now, g.cfg.Location)

	stored, err := g.store.GetConfig(ctx, PipelineStartKey)
	if err != nil {
		return 0, fmt.Errorf("unable to read pipeline start: %w", err)
	}

	start := stored.UnwrapOr("")
	if start == "" {
		if err := g.store.SetConfig(
			ctx, PipelineStartKey, today,
		); err != nil {
			return 0, fmt.Errorf("unable to record pipeline "+
				"start: %w", err)
		}

		log.InfoS(ctx, "Recorded pipeline start date", "date", today)

		start = today
	}

	return DaysBetween(start, today)
}

// WarmupMultiplier returns the warmup multiplier and the current day.
func (g *Gate) WarmupMultiplier(ctx context.Context,
	now time.Time) (float64, int, error) {

	day, err := g.WarmupDay(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	return WarmupFactor(day, g.cfg.WarmupDays), day, nil
}

// DaysBetween returns the 1-based day number of today counted from start.
// Both are day keys. Days before start count as day 1.
func DaysBetween(start, today string) (int, error) {
	s, err := time.Parse(domain.DayLayout, start)
	if err != nil {
		return 0, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	t, err := time.Parse(domain.DayLayout, today)
	if err != nil {
		return 0, fmt.Errorf("invalid day %q: %w", today, err)
	}

	days := int(t.Sub(s).Hours()/24) + 1

	return max(1, days), nil
}

// WarmupFactor is 0.5 while day <= warmupDays, else 1.
func WarmupFactor(day, warmupDays int) float64 {
	if day <= warmupDays {
		return 0.5
	}

	return 1.0
}

// ActiveKeywords returns the deterministic prefix of keywords active under
// multiplier m: half of them (at least one) while below full volume.
func ActiveKeywords(keywords []string, m float64) []string {
	if m >= 1 || len(keywords) == 0 {
		return keywords
	}

	n := max(1, len(keywords)/2)

	return keywords[:n]
}
