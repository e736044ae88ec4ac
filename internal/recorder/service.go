package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/actor"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/store"
)

// Service is the recorder actor's behavior. It is only ever called from
// the actor goroutine, so its fields need no locking.
type Service struct {
	repo store.Repository
	loc  *time.Location

	// lastFinished is the latest finished_at written per account.
	lastFinished map[string]time.Time

	// flushErr is the first write failure since the last flush.
	flushErr error
}

// NewService creates the recorder behavior.
func NewService(repo store.Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}

	return &Service{
		repo:         repo,
		loc:          loc,
		lastFinished: make(map[string]time.Time),
	}
}

// Receive implements actor.ActorBehavior.
func (s *Service) Receive(ctx context.Context,
	msg Request) fn.Result[Response] {

	switch m := msg.(type) {
	case BeginRequest:
		inserted, err := s.repo.AppendOutreach(ctx, m.Record)
		if err != nil {
			return fn.Err[Response](err)
		}

		return fn.Ok(Response{Inserted: inserted})

	case FinishRequest:
		if err := s.handleFinish(ctx, m.Record); err != nil {
			log.ErrorS(ctx, "Unable to record outcome", err,
				"dispatch_id", m.Record.DispatchID,
				"outcome", m.Record.Outcome)

			if s.flushErr == nil {
				s.flushErr = err
			}

			return fn.Err[Response](err)
		}

		return fn.Ok(Response{})

	case FlushRequest:
		err := s.flushErr
		s.flushErr = nil
		if err != nil {
			return fn.Err[Response](err)
		}

		return fn.Ok(Response{})

	case SummaryRequest:
		records, err := s.repo.ListOutreach(ctx, m.From, m.To)
		if err != nil {
			return fn.Err[Response](err)
		}

		return fn.Ok(Response{
			Summary: Summarize(records, m.From, m.To, s.loc),
		})

	default:
		return fn.Err[Response](fmt.Errorf(
			"unknown message type: %T", msg,
		))
	}
}

// clampFinished returns finishedAt moved forward to the account's latest
// finish if it would otherwise go backwards.
func (s *Service) clampFinished(ctx context.Context, accountID string,
	finishedAt time.Time) (time.Time, error) {

	last, ok := s.lastFinished[accountID]
	if !ok {
		stored, err := s.repo.LastFinishedAt(ctx, accountID)
		if err != nil {
			return finishedAt, err
		}
		last = stored.UnwrapOr(time.Time{})
	}

	if finishedAt.Before(last) {
		log.DebugS(ctx, "Clamped finished_at",
			"account_id", accountID,
			"finished_at", finishedAt,
			"clamped_to", last)

		finishedAt = last
	}

	return finishedAt, nil
}

// handleFinish stamps the record and, for sent outcomes, bumps the daily
// aggregate in the same transaction. Repeated finishes are no-ops.
func (s *Service) handleFinish(ctx context.Context,
	rec domain.OutreachRecord) error {

	finishedAt := rec.StartedAt
	if rec.FinishedAt != nil {
		finishedAt = *rec.FinishedAt
	}
	finishedAt, err := s.clampFinished(ctx, rec.AccountID, finishedAt)
	if err != nil {
		return err
	}
	rec.FinishedAt = &finishedAt

	err = s.repo.WithTx(ctx, func(ctx context.Context,
		tx store.Repository) error {

		updated, err := tx.FinishOutreach(
			ctx, rec.DispatchID, rec.Outcome, finishedAt,
			rec.ErrorClass, rec.Detail,
		)
		if err != nil {
			return err
		}

		// A finish without a begin still gets its single record.
		if !updated {
			existing, err := tx.GetOutreach(ctx, rec.DispatchID)
			if err != nil {
				return err
			}
			if existing.IsSome() {
				return nil
			}
			if _, err := tx.AppendOutreach(ctx, rec); err != nil {
				return err
			}
		}

		if rec.Outcome != domain.OutcomeSent {
			return nil
		}

		_, err = tx.IncrementDailyCounter(
			ctx, rec.DispatchID, rec.Kind,
			domain.DayKey(rec.StartedAt, s.loc), 1,
		)

		return err
	})
	if err != nil {
		return err
	}

	s.lastFinished[rec.AccountID] = finishedAt

	return nil
}

// OnStop runs after the mailbox has drained.
func (s *Service) OnStop(ctx context.Context) error {
	if s.flushErr != nil {
		return fmt.Errorf("unflushed write failure: %w", s.flushErr)
	}

	return nil
}

var (
	_ actor.ActorBehavior[Request, Response] = (*Service)(nil)
	_ actor.Stoppable                        = (*Service)(nil)
)
