package recorder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/roasbeef/outreach/internal/domain"
)

// DayCount is the activity of one calendar day.
type DayCount struct {
	Day   string `json:"day"`
	Total int    `json:"total"`
	Sent  int    `json:"sent"`
}

// Summary aggregates the records started in [From, To).
type Summary struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Total      int `json:"total"`
	Unfinished int `json:"unfinished"`

	Outcomes      map[domain.Outcome]int    `json:"outcomes"`
	SentByKind    map[domain.ActionKind]int `json:"sent_by_kind"`
	SentByAccount map[string]int            `json:"sent_by_account"`
	ErrorClasses  map[domain.ErrorClass]int `json:"error_classes,omitempty"`

	// Days lists every day in the range that saw activity, oldest first.
	Days []DayCount `json:"days"`
}

// Sent returns the number of sent dispatches.
func (s Summary) Sent() int {
	return s.Outcomes[domain.OutcomeSent]
}

// SuccessRate is sent over finished attempts that reached the driver.
func (s Summary) SuccessRate() float64 {
	attempted := s.Total - s.Unfinished - s.Outcomes[domain.OutcomeSkipped]
	if attempted <= 0 {
		return 0
	}

	return float64(s.Sent()) / float64(attempted)
}

// Summarize builds a Summary from records. Days are keyed in loc.
func Summarize(records []domain.OutreachRecord, from, to time.Time,
	loc *time.Location) Summary {

	s := Summary{
		From:          from,
		To:            to,
		Outcomes:      make(map[domain.Outcome]int),
		SentByKind:    make(map[domain.ActionKind]int),
		SentByAccount: make(map[string]int),
		ErrorClasses:  make(map[domain.ErrorClass]int),
	}

	days := make(map[string]*DayCount)
	for _, rec := range records {
		s.Total++

		day := domain.DayKey(rec.StartedAt, loc)
		dc, ok := days[day]
		if !ok {
			dc = &DayCount{Day: day}
			days[day] = dc
		}
		dc.Total++

		if !rec.Finished() {
			s.Unfinished++
			continue
		}

		s.Outcomes[rec.Outcome]++
		if rec.ErrorClass != domain.ErrClassNone {
			s.ErrorClasses[rec.ErrorClass]++
		}
		if rec.Outcome == domain.OutcomeSent {
			s.SentByKind[rec.Kind]++
			s.SentByAccount[rec.AccountID]++
			dc.Sent++
		}
	}

	for _, dc := range days {
		s.Days = append(s.Days, *dc)
	}
	sort.Slice(s.Days, func(i, j int) bool {
		return s.Days[i].Day < s.Days[j].Day
	})

	return s
}

// ReplayCounters recovers per-account sent counts for day from persisted
// records. Only sent records started on day (in loc) count.
func ReplayCounters(records []domain.OutreachRecord, day string,
	loc *time.Location) map[string]map[domain.ActionKind]int {

	out := make(map[string]map[domain.ActionKind]int)
	for _, rec := range records {
		if rec.Outcome != domain.OutcomeSent {
			continue
		}
		if domain.DayKey(rec.StartedAt, loc) != day {
			continue
		}

		if out[rec.AccountID] == nil {
			out[rec.AccountID] = make(map[domain.ActionKind]int)
		}
		out[rec.AccountID][rec.Kind]++
	}

	return out
}

// DayBounds returns the start of the day containing now in loc and the
// start of the next one.
func DayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}

	local := now.In(loc)
	start := time.Date(
		local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc,
	)

	return start, start.AddDate(0, 0, 1)
}

// RecordLister is the read side ReplayDay needs.
type RecordLister interface {
	ListOutreach(ctx context.Context, from,
		to time.Time) ([]domain.OutreachRecord, error)
}

// ReplayDay loads today's records and returns the day key and the
// per-account sent counts.
func ReplayDay(ctx context.Context, repo RecordLister, now time.Time,
	loc *time.Location) (string, map[string]map[domain.ActionKind]int,
	error) {

	start, end := DayBounds(now, loc)
	day := domain.DayKey(now, loc)

	records, err := repo.ListOutreach(ctx, start, end)
	if err != nil {
		return day, nil, fmt.Errorf("list records for %s: %w", day,
			err)
	}

	return day, ReplayCounters(records, day, loc), nil
}
