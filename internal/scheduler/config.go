package scheduler

import (
	"time"

	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/executor"
	"github.com/roasbeef/outreach/internal/gate"
	"github.com/roasbeef/outreach/internal/ratelimit"
	"github.com/roasbeef/outreach/internal/target"
)

const (
	// DefaultMinInterval is the shortest sleep between cycles.
	DefaultMinInterval = 2 * time.Hour

	// DefaultMaxInterval is the longest sleep between cycles.
	DefaultMaxInterval = 4 * time.Hour

	// DefaultFlushTimeout bounds the final recorder flush on shutdown.
	DefaultFlushTimeout = 10 * time.Second
)

// Config configures the scheduler loop.
type Config struct {
	// Platform is the platform accounts are picked for.
	Platform string

	// KindPriority is the order kinds are served in each cycle.
	KindPriority []domain.ActionKind

	// MinInterval and MaxInterval bound the uniform sleep between
	// cycles.
	MinInterval time.Duration
	MaxInterval time.Duration

	// Location, ActiveStartHour and ActiveEndHour describe the active
	// window used to spread the daily cap over the remaining cycles.
	Location        *time.Location
	ActiveStartHour int
	ActiveEndHour   int

	FlushTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Platform: "x",
		KindPriority: []domain.ActionKind{
			domain.KindReply, domain.KindLike, domain.KindFollow,
			domain.KindDM, domain.KindPost,
		},
		MinInterval:     DefaultMinInterval,
		MaxInterval:     DefaultMaxInterval,
		Location:        time.UTC,
		ActiveStartHour: 8,
		ActiveEndHour:   23,
		FlushTimeout:    DefaultFlushTimeout,
	}
}

// Cycle is the plan of one scheduler cycle.
type Cycle struct {
	ID        uint64    `json:"id"`
	StartedAt time.Time `json:"started_at"`

	WarmupDay        int                           `json:"warmup_day"`
	Phase            gate.BudgetPhase              `json:"budget_phase"`
	VolumeMultiplier float64                       `json:"volume_multiplier"`
	KindMultiplier   map[domain.ActionKind]float64 `json:"kind_multiplier"`
	Budget           map[domain.ActionKind]int     `json:"budget"`

	// Keywords are the search terms active at this cycle's volume.
	Keywords []string `json:"keywords,omitempty"`
}

// StopReason says why a kind stopped dispatching within a cycle.
type StopReason string

const (
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopZeroBudget      StopReason = "zero_budget"
	StopNoTarget        StopReason = "no_target"
	StopNoAccount       StopReason = "no_account"
	StopRefused         StopReason = "admission_refused"
	StopHalted          StopReason = "halted"
	StopCancelled       StopReason = "cancelled"
	StopStorage         StopReason = "storage_error"
)

// Dispatch is one executed action.
type Dispatch struct {
	Kind      domain.ActionKind `json:"kind"`
	TargetKey string            `json:"target_key"`
	AccountID string            `json:"account_id"`
	Result    executor.Result   `json:"result"`
}

// CycleReport describes what one call to Step did.
type CycleReport struct {
	Cycle Cycle `json:"cycle"`

	// Skipped is set when the gate refused the cycle.
	Skipped gate.Reason `json:"skipped,omitempty"`

	// Halted is true when the halt was observed during the cycle.
	Halted bool `json:"halted"`

	// Interrupted is true when the context ended mid-cycle.
	Interrupted bool `json:"interrupted"`

	DayReset   bool               `json:"day_reset"`

	// Reloaded is true when new settings took effect with this cycle.
	Reloaded bool `json:"reloaded,omitempty"`

	Intake     target.DrainResult `json:"intake"`
	Dispatches []Dispatch         `json:"dispatches"`

	// Deferred counts targets put back because their per-target
	// cooldown had not elapsed.
	Deferred int `json:"deferred,omitempty"`

	Stops    map[domain.ActionKind]StopReason        `json:"stops"`
	Bindings map[domain.ActionKind]ratelimit.Limiter `json:"bindings,omitempty"`
}

// Completed reports whether the cycle ran to its end.
func (r CycleReport) Completed() bool {
	return r.Skipped == gate.ReasonNone && !r.Halted && !r.Interrupted
}

// Sent returns the number of sent dispatches per kind.
func (r CycleReport) Sent() map[domain.ActionKind]int {
	out := make(map[domain.ActionKind]int)
	for _, d := range r.Dispatches {
		if d.Result.Outcome == domain.OutcomeSent {
			out[d.Kind]++
		}
	}

	return out
}
