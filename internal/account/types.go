package account

import (
	"errors"
	"time"

	"github.com/roasbeef/outreach/internal/domain"
)

var (
	// ErrNotFound is returned for unknown account ids.
	ErrNotFound = errors.New("account not found")

	// ErrBanned is returned when mutating a banned account.
	ErrBanned = errors.New("account is banned")

	// ErrInvalidTransition is returned when a lifecycle step is not
	// allowed from the current maturity.
	ErrInvalidTransition = errors.New("invalid maturity transition")
)

// Role says which pipelines an account serves.
type Role string

const (
	// RoleCrawl accounts search and read.
	RoleCrawl Role = "crawl"

	// RoleOutreach accounts reply, like, follow, DM and post.
	RoleOutreach Role = "outreach"
)

// RoleFor returns the role that may perform kind.
func RoleFor(kind domain.ActionKind) Role {
	if kind == domain.KindSearch {
		return RoleCrawl
	}

	return RoleOutreach
}

// Status is the operational state of an account.
type Status string

const (
	StatusNurturing Status = "nurturing"
	StatusActive    Status = "active"
	StatusResting   Status = "resting"
	StatusBanned    Status = "banned"
)

// Maturity is the age tier that selects daily caps.
type Maturity string

const (
	MaturityNew       Maturity = "new"
	MaturityNurturing Maturity = "nurturing"
	MaturityActive    Maturity = "active"
	MaturityResting   Maturity = "resting"
)

// Counter is one of the per-day activity counters.
type Counter string

const (
	CounterSearch  Counter = "search"
	CounterComment Counter = "comment"
	CounterDM      Counter = "dm"
	CounterFollow  Counter = "follow"
	CounterLike    Counter = "like"
	CounterPost    Counter = "post"
)

// CounterFor maps an action kind onto the daily counter it increments.
func CounterFor(kind domain.ActionKind) Counter {
	switch kind {
	case domain.KindReply:
		return CounterComment
	case domain.KindDM:
		return CounterDM
	case domain.KindFollow:
		return CounterFollow
	case domain.KindLike:
		return CounterLike
	case domain.KindPost:
		return CounterPost
	default:
		return CounterSearch
	}
}

// Account is an authenticated identity usable by drivers.
type Account struct {
	ID       string   `json:"account_id"`
	Platform string   `json:"platform"`
	Role     Role     `json:"role"`
	Handle   string   `json:"handle"`
	Status   Status   `json:"status"`
	Maturity Maturity `json:"maturity"`

	// Counters are today's activity counts; CounterDay names the day
	// they belong to.
	Counters   map[Counter]int `json:"counters"`
	CounterDay string          `json:"counter_day,omitempty"`

	LastUsedAt    *time.Time  `json:"last_used_at,omitempty"`
	LastWarningAt *time.Time  `json:"last_warning_at,omitempty"`
	Warnings      []time.Time `json:"warnings,omitempty"`
	BannedAt      *time.Time  `json:"banned_at,omitempty"`
	RestingUntil  *time.Time  `json:"resting_until,omitempty"`
}

// Count returns today's counter for kind.
func (a Account) Count(kind domain.ActionKind) int {
	return a.Counters[CounterFor(kind)]
}

// Clone returns a deep copy so callers never alias pool state.
func (a Account) Clone() Account {
	c := a

	c.Counters = make(map[Counter]int, len(a.Counters))
	for k, v := range a.Counters {
		c.Counters[k] = v
	}
	if a.Warnings != nil {
		c.Warnings = append([]time.Time(nil), a.Warnings...)
	}

	c.LastUsedAt = cloneTime(a.LastUsedAt)
	c.LastWarningAt = cloneTime(a.LastWarningAt)
	c.BannedAt = cloneTime(a.BannedAt)
	c.RestingUntil = cloneTime(a.RestingUntil)

	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t

	return &v
}

// CapTable holds daily caps per maturity and counter.
type CapTable map[Maturity]map[Counter]int

// DefaultCapTable returns the default caps. The search, comment and dm
// columns follow the platform guidance; follow, like and post are the
// nurture extensions.
func DefaultCapTable() CapTable {
	return CapTable{
		MaturityNew: {
			CounterSearch: 5, CounterComment: 0, CounterDM: 0,
			CounterFollow: 5, CounterLike: 10, CounterPost: 0,
		},
		MaturityNurturing: {
			CounterSearch: 15, CounterComment: 3, CounterDM: 0,
			CounterFollow: 10, CounterLike: 20, CounterPost: 1,
		},
		MaturityActive: {
			CounterSearch: 50, CounterComment: 10, CounterDM: 5,
			CounterFollow: 20, CounterLike: 50, CounterPost: 3,
		},
		MaturityResting: {},
	}
}

// Cap returns the configured cap; missing entries are zero.
func (c CapTable) Cap(m Maturity, counter Counter) int {
	return c[m][counter]
}
