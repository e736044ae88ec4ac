package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/roasbeef/outreach/internal/domain"
)

// reconcileDetail marks records closed after a restart.
const reconcileDetail = "interrupted before completion; reconciled on " +
	"startup"

// UnfinishedStore lists and closes dangling records.
type UnfinishedStore interface {
	ListUnfinished(ctx context.Context) ([]domain.OutreachRecord, error)
	FinishOutreach(ctx context.Context, dispatchID string,
		outcome domain.Outcome, finishedAt time.Time,
		class domain.ErrorClass, detail string) (bool, error)
}

// Reconcile finishes every record that has a start but no finish as a
// transient failure. It returns the records it closed. finished_at is never
// earlier than started_at.
func Reconcile(ctx context.Context, repo UnfinishedStore,
	now time.Time) ([]domain.OutreachRecord, error) {

	dangling, err := repo.ListUnfinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unfinished records: %w", err)
	}

	closed := make([]domain.OutreachRecord, 0, len(dangling))
	for _, rec := range dangling {
		finishedAt := now
		if finishedAt.Before(rec.StartedAt) {
			finishedAt = rec.StartedAt
		}

		ok, err := repo.FinishOutreach(
			ctx, rec.DispatchID, domain.OutcomeTransientFail,
			finishedAt, domain.ErrClassTransient, reconcileDetail,
		)
		if err != nil {
			return closed, fmt.Errorf("reconcile %s: %w",
				rec.DispatchID, err)
		}
		if !ok {
			continue
		}

		rec.Outcome = domain.OutcomeTransientFail
		rec.ErrorClass = domain.ErrClassTransient
		rec.Detail = reconcileDetail
		rec.FinishedAt = &finishedAt
		closed = append(closed, rec)

		log.WarnS(ctx, "Reconciled interrupted dispatch", nil,
			"dispatch_id", rec.DispatchID,
			"account_id", rec.AccountID,
			"target_key", rec.TargetKey)
	}

	return closed, nil
}
