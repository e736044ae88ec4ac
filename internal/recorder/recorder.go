package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/actor"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/store"
)

// DefaultMailboxSize bounds the recorder mailbox.
const DefaultMailboxSize = 256

// ErrStopped is returned when the recorder no longer accepts messages.
var ErrStopped = errors.New("recorder stopped")

// Config configures the recorder.
type Config struct {
	// MailboxSize bounds pending writes. Callers block when it is full.
	MailboxSize int

	// Location is the timezone day aggregates are keyed in.
	Location *time.Location
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() Config {
	return Config{
		MailboxSize: DefaultMailboxSize,
		Location:    time.UTC,
	}
}

// Recorder serialises every write to the outreach log through one actor.
type Recorder struct {
	actor *actor.Actor[Request, Response]
	ref   actor.ActorRef[Request, Response]
	loc   *time.Location
	clock clock.Clock
}

// New creates a recorder over repo. Start must be called before use.
func New(cfg Config, repo store.Repository, clk clock.Clock) *Recorder {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	a := actor.NewActor(actor.ActorConfig[Request, Response]{
		ID:          "recorder",
		Behavior:    NewService(repo, cfg.Location),
		MailboxSize: cfg.MailboxSize,
	})

	return &Recorder{
		actor: a,
		ref:   a.Ref(),
		loc:   cfg.Location,
		clock: clk,
	}
}

// Start launches the actor.
func (r *Recorder) Start() {
	r.actor.Start()
}

// Stop applies every queued write and stops the actor.
func (r *Recorder) Stop() {
	r.actor.Stop()
}

// Pending returns the number of queued messages.
func (r *Recorder) Pending() int {
	return r.actor.Pending()
}

// Begin durably stores the unfinished record. It returns once the write
// has been applied.
func (r *Recorder) Begin(ctx context.Context, rec domain.OutreachRecord) error {
	resp, err := actor.AskAwait(ctx, r.ref, Request(BeginRequest{
		Record: rec,
	}))
	if err != nil {
		return err
	}
	if !resp.Inserted {
		log.DebugS(ctx, "Dispatch already recorded",
			"dispatch_id", rec.DispatchID)
	}

	return nil
}

// Finish queues the outcome. It blocks only while the mailbox is full.
func (r *Recorder) Finish(ctx context.Context, rec domain.OutreachRecord) error {
	if !r.ref.Tell(ctx, FinishRequest{Record: rec}) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return ErrStopped
	}

	return nil
}

// Flush waits until every earlier write has been applied and reports the
// first failure among them.
func (r *Recorder) Flush(ctx context.Context) error {
	_, err := actor.AskAwait(ctx, r.ref, Request(FlushRequest{}))
	return err
}

// Summary returns the aggregate of records started in [from, to).
func (r *Recorder) Summary(ctx context.Context, from,
	to time.Time) (Summary, error) {

	resp, err := actor.AskAwait(ctx, r.ref, Request(SummaryRequest{
		From: from,
		To:   to,
	}))
	if err != nil {
		return Summary{}, err
	}

	return resp.Summary, nil
}

// TodaySummary summarises the current day.
func (r *Recorder) TodaySummary(ctx context.Context) (Summary, error) {
	from, to := DayBounds(r.clock.Now(), r.loc)
	return r.Summary(ctx, from, to)
}

// WindowSummary summarises the last days days, today included.
func (r *Recorder) WindowSummary(ctx context.Context,
	days int) (Summary, error) {

	days = max(days, 1)
	_, to := DayBounds(r.clock.Now(), r.loc)

	return r.Summary(ctx, to.AddDate(0, 0, -days), to)
}
