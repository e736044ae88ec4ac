// Package report renders operator reports: the halt state, the monthly API
// budget and an outreach summary over a window of days.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roasbeef/outreach/internal/gate"
	"github.com/roasbeef/outreach/internal/health"
	"github.com/roasbeef/outreach/internal/ratelimit"
	"github.com/roasbeef/outreach/internal/recorder"
)

// Format selects a renderer.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat accepts a format name. "md" is short for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatMarkdown, FormatHTML:
		return f, nil

	case "md":
		return FormatMarkdown, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Halt is the halt state as shown to operators.
type Halt struct {
	Halted                bool      `json:"halted"`
	Reason                string    `json:"reason,omitempty"`
	Source                string    `json:"source,omitempty"`
	Since                 time.Time `json:"since,omitempty"`
	ResumeCyclesRemaining int       `json:"resume_cycles_remaining"`
	Location              string    `json:"location"`
}

// Budget is the monthly API budget as shown to operators.
type Budget struct {
	Month     string           `json:"month"`
	Used      int              `json:"used"`
	Limit     int              `json:"limit"`
	Remaining int              `json:"remaining"`
	Phase     gate.BudgetPhase `json:"phase"`
}

// Report is everything one rendering shows.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Days        int              `json:"days"`
	Halt        Halt             `json:"halt"`
	Budget      Budget           `json:"budget"`
	Summary     recorder.Summary `json:"summary"`
}

// HaltReader exposes the halt state.
type HaltReader interface {
	State(ctx context.Context) (health.HaltState, error)
}

// Sources are the components a report is assembled from.
type Sources struct {
	Records  recorder.RecordLister
	Halt     HaltReader
	Budget   *ratelimit.MonthlyBudget
	Location *time.Location

	// Conservation and HardStop are the budget phase thresholds.
	Conservation float64
	HardStop     float64
}

// Build assembles a report covering the last days calendar days, today
// included.
func Build(ctx context.Context, src Sources, now time.Time,
	days int) (Report, error) {

	loc := src.Location
	if loc == nil {
		loc = time.UTC
	}
	days = max(1, days)

	r := Report{
		GeneratedAt: now,
		Days:        days,
	}

	state, err := src.Halt.State(ctx)
	if err != nil {
		return r, fmt.Errorf("read halt state: %w", err)
	}
	r.Halt = Halt{
		Halted:                state.Halted,
		Reason:                state.Reason,
		Source:                state.Source,
		Since:                 state.Since,
		ResumeCyclesRemaining: state.ResumeCyclesRemaining,
		Location:              state.Location,
	}

	if b := src.Budget; b != nil {
		r.Budget = Budget{
			Month:     b.Month(),
			Used:      b.Used(),
			Limit:     b.Limit(),
			Remaining: b.Remaining(),
			Phase: gate.PhaseFor(
				b.UsageRatio(), src.Conservation, src.HardStop,
			),
		}
	}

	_, end := recorder.DayBounds(now, loc)
	start, _ := recorder.DayBounds(now.AddDate(0, 0, -(days - 1)), loc)

	records, err := src.Records.ListOutreach(ctx, start, end)
	if err != nil {
		return r, fmt.Errorf("list records: %w", err)
	}
	r.Summary = recorder.Summarize(records, start, end, loc)

	return r, nil
}
