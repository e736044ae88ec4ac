package executor

import (
	"context"

	"github.com/roasbeef/outreach/internal/domain"
)

// DriverStatus is the coarse result a driver reports for one dispatch.
type DriverStatus string

const (
	StatusOK            DriverStatus = "ok"
	StatusSoftFail      DriverStatus = "soft_fail"
	StatusRateLimited   DriverStatus = "rate_limited"
	StatusRestricted    DriverStatus = "restricted"
	StatusBlockedPage   DriverStatus = "blocked_page"
	StatusPermanentFail DriverStatus = "permanent_fail"
	StatusUnknown       DriverStatus = "unknown"
)

// DriverResult is what a driver returns. Detail is recorded verbatim.
type DriverResult struct {
	Status DriverStatus
	Detail string
}

// ActionDriver performs one platform action. Implementations attempt the
// action at most once and must honour ctx.
type ActionDriver interface {
	Dispatch(ctx context.Context, handle string,
		payload []byte) (DriverResult, error)
}

// DriverFunc adapts a function to ActionDriver.
type DriverFunc func(ctx context.Context, handle string,
	payload []byte) (DriverResult, error)

// Dispatch calls f.
func (f DriverFunc) Dispatch(ctx context.Context, handle string,
	payload []byte) (DriverResult, error) {

	return f(ctx, handle, payload)
}

// Classify maps a driver status onto the recorded outcome and error class.
// Unknown statuses are treated like soft failures.
func Classify(status DriverStatus) (domain.Outcome, domain.ErrorClass) {
	switch status {
	case StatusOK:
		return domain.OutcomeSent, domain.ErrClassNone

	case StatusSoftFail:
		return domain.OutcomeTransientFail, domain.ErrClassTransient

	case StatusRateLimited:
		return domain.OutcomeRateLimited, domain.ErrClassRateLimited

	case StatusRestricted:
		return domain.OutcomeRestriction, domain.ErrClassRestricted

	case StatusBlockedPage:
		return domain.OutcomeRestriction, domain.ErrClassBlockedPage

	case StatusPermanentFail:
		return domain.OutcomePermanentFail, domain.ErrClassPermanent

	default:
		return domain.OutcomeTransientFail, domain.ErrClassUnknown
	}
}
