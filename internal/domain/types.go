package domain

import (
	"fmt"
	"time"
)

// ActionKind is one of the closed set of actions the core can schedule.
type ActionKind string

const (
	// KindReply replies to a post.
	KindReply ActionKind = "reply"

	// KindLike likes a post.
	KindLike ActionKind = "like"

	// KindFollow follows a user.
	KindFollow ActionKind = "follow"

	// KindDM sends a direct message.
	KindDM ActionKind = "dm"

	// KindPost publishes an original post.
	KindPost ActionKind = "post"

	// KindSearch is a crawl-side search. It is never dispatched by the
	// scheduler, but crawl accounts are picked and capped with it.
	KindSearch ActionKind = "search"
)

// OutreachKinds is the default kind priority order used by the scheduler.
var OutreachKinds = []ActionKind{
	KindReply, KindLike, KindFollow, KindDM, KindPost,
}

// AllKinds lists every known kind, including crawl-only ones.
var AllKinds = []ActionKind{
	KindReply, KindLike, KindFollow, KindDM, KindPost, KindSearch,
}

// Valid reports whether the kind is a member of the closed set.
func (k ActionKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}

	return false
}

// String returns the kind name.
func (k ActionKind) String() string {
	return string(k)
}

// ParseKind converts a config or wire string into an ActionKind.
func ParseKind(s string) (ActionKind, error) {
	k := ActionKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown action kind %q", s)
	}

	return k, nil
}

// Outcome is the classified result of a single dispatch attempt.
type Outcome string

const (
	// OutcomeSent means the driver reported success.
	OutcomeSent Outcome = "sent"

	// OutcomeSkipped means the attempt was abandoned before reaching the
	// driver.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeTransientFail covers soft and unknown driver failures.
	OutcomeTransientFail Outcome = "transient_fail"

	// OutcomeRateLimited means the platform pushed back on volume.
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomePermanentFail means the target can never succeed.
	OutcomePermanentFail Outcome = "permanent_fail"

	// OutcomeRestriction means the platform flagged the account.
	OutcomeRestriction Outcome = "restriction_signal"
)

// ErrorClass is the error taxonomy stored alongside each record.
type ErrorClass string

const (
	// ErrClassNone is used for successful dispatches.
	ErrClassNone ErrorClass = ""

	// ErrClassTransient is a network blip, timeout or similar.
	ErrClassTransient ErrorClass = "transient"

	// ErrClassRateLimited is a rate-limit indicator from the platform.
	ErrClassRateLimited ErrorClass = "rate_limited"

	// ErrClassRestricted is a 403 or suspicious body.
	ErrClassRestricted ErrorClass = "restricted"

	// ErrClassBlockedPage is a challenge or lockout page.
	ErrClassBlockedPage ErrorClass = "blocked_page"

	// ErrClassPermanent is a target-level permanent failure.
	ErrClassPermanent ErrorClass = "permanent"

	// ErrClassUnknown is anything the driver could not classify.
	ErrClassUnknown ErrorClass = "unknown"
)

// OutreachRecord is the append-only audit entry for one dispatch attempt.
type OutreachRecord struct {
	DispatchID string     `json:"dispatch_id"`
	AccountID  string     `json:"account_id"`
	TargetKey  string     `json:"target_key"`
	Kind       ActionKind `json:"action_kind"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// Finished reports whether the attempt has a terminal stamp.
func (r OutreachRecord) Finished() bool {
	return r.FinishedAt != nil
}

// DayLayout is the layout used for day keys.
const DayLayout = "2006-01-02"

// DayKey returns the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	return t.In(loc).Format(DayLayout)
}

// MonthKey returns the calendar month of t in loc.
func MonthKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	return t.In(loc).Format("2006-01")
}
