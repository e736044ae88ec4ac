package target

import (
	"context"
	"errors"
	"fmt"
)

// Enqueuer is the restricted interface handed to target producers.
type Enqueuer interface {
	// Submit hands t to the scheduler. It blocks while the intake is
	// full, until ctx is done.
	Submit(ctx context.Context, t Target) error
}

// intakeRef submits into a queue's intake channel.
type intakeRef struct {
	q *Queue
}

// Intake returns the producer side of the queue. It is safe for
// concurrent use.
func (q *Queue) Intake() Enqueuer {
	return intakeRef{q: q}
}

// Submit implements Enqueuer. Obvious rejections are reported right away;
// everything else surfaces when the scheduler drains the intake.
func (r intakeRef) Submit(ctx context.Context, t Target) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if r.q.isBlocked(t) {
		return fmt.Errorf("%w: %s", ErrBlocked, t.Recipient)
	}
	if r.q.IsTerminal(t.Key) {
		return fmt.Errorf("%w: %s", ErrTerminal, t.Key)
	}

	select {
	case r.q.intake <- t:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainResult counts what DrainIntake did.
type DrainResult struct {
	Accepted int
	Rejected int
}

// DrainIntake moves every pending submission into the queue. It never
// blocks and is called from the scheduler goroutine.
func (q *Queue) DrainIntake(ctx context.Context) DrainResult {
	var res DrainResult
	for {
		select {
		case t := <-q.intake:
			err := q.Enqueue(t)
			switch {
			case err == nil:
				res.Accepted++

			case errors.Is(err, ErrTerminal),
				errors.Is(err, ErrBlocked):

				res.Rejected++
				log.DebugS(ctx, "Submission ignored",
					"key", t.Key, "reason", err.Error())

			default:
				res.Rejected++
				log.WarnS(ctx, "Submission rejected", err,
					"key", t.Key, "kind", t.Kind)
			}

		default:
			return res
		}
	}
}

// Pending returns the number of submissions waiting in the intake.
func (q *Queue) Pending() int {
	return len(q.intake)
}
