package actor

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultCleanupTimeout bounds the OnStop hook.
const DefaultCleanupTimeout = 5 * time.Second

// mergeContexts returns a context that is cancelled as soon as either the
// caller or the actor context is done. The caller's deadline is kept.
func mergeContexts(caller, actorCtx context.Context) (context.Context,
	context.CancelFunc) {

	merged, cancel := context.WithCancel(caller)
	stop := context.AfterFunc(actorCtx, cancel)

	return merged, func() {
		stop()
		cancel()
	}
}

// ActorConfig holds the parameters for creating an Actor.
type ActorConfig[M Message, R any] struct {
	// ID is the unique identifier for the actor.
	ID string

	// Behavior defines how the actor responds to messages.
	Behavior ActorBehavior[M, R]

	// MailboxSize bounds the mailbox. Senders block when it is full.
	MailboxSize int

	// CleanupTimeout bounds the OnStop hook. Defaults to
	// DefaultCleanupTimeout.
	CleanupTimeout fn.Option[time.Duration]
}

// envelope carries a message, the promise for asks (nil for tells) and the
// caller's context.
type envelope[M Message, R any] struct {
	message   M
	promise   Promise[R]
	callerCtx context.Context
}

// Actor processes messages from its mailbox sequentially on one goroutine.
//
// Stopping an actor does not lose accepted messages: once new sends are
// refused, everything already queued is still handed to the behavior
// before OnStop runs.
type Actor[M Message, R any] struct {
	id       string
	behavior ActorBehavior[M, R]
	mailbox  Mailbox[M, R]

	// ctx governs the receive loop; cancelling it begins shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// workCtx is used for tells and drained messages. It carries ctx's
	// values but is never cancelled, so in-flight writes finish.
	workCtx context.Context

	cleanupTimeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	ref *actorRef[M, R]
}

// NewActor creates an actor. Start must be called before messages are
// processed.
func NewActor[M Message, R any](cfg ActorConfig[M, R]) *Actor[M, R] {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Actor[M, R]{
		id:             cfg.ID,
		behavior:       cfg.Behavior,
		mailbox:        NewChannelMailbox[M, R](ctx, cfg.MailboxSize),
		ctx:            ctx,
		cancel:         cancel,
		workCtx:        context.WithoutCancel(ctx),
		cleanupTimeout: cfg.CleanupTimeout.UnwrapOr(DefaultCleanupTimeout),
		done:           make(chan struct{}),
	}
	a.ref = &actorRef[M, R]{actor: a}

	return a
}

// Start launches the processing goroutine. Repeated calls are no-ops.
func (a *Actor[M, R]) Start() {
	a.startOnce.Do(func() {
		log.DebugS(a.ctx, "Starting actor", "actor_id", a.id)

		go a.process()
	})
}

// deliver hands one envelope to the behavior and completes its promise.
func (a *Actor[M, R]) deliver(env envelope[M, R], base context.Context) {
	ctx, cancel := base, context.CancelFunc(func() {})
	if env.promise != nil {
		ctx, cancel = mergeContexts(env.callerCtx, base)
	}
	defer cancel()

	log.TraceS(ctx, "Actor processing message",
		"actor_id", a.id,
		"msg_type", env.message.MessageType(),
		"is_ask", env.promise != nil)

	result := a.behavior.Receive(ctx, env.message)
	if env.promise != nil {
		env.promise.Complete(result)
	}
}

// process is the actor's main loop.
func (a *Actor[M, R]) process() {
	defer close(a.done)

	for env := range a.mailbox.Receive(a.ctx) {
		// Asks are bounded by the caller and by actor shutdown;
		// tells run to completion once accepted.
		base := a.workCtx
		if env.promise != nil {
			base = a.ctx
		}
		a.deliver(env, base)
	}

	a.mailbox.Close()

	drained := 0
	for env := range a.mailbox.Drain() {
		drained++
		a.deliver(env, a.workCtx)
	}

	if stoppable, ok := a.behavior.(Stoppable); ok {
		cleanupCtx, cancel := context.WithTimeout(
			context.Background(), a.cleanupTimeout,
		)
		defer cancel()

		if err := stoppable.OnStop(cleanupCtx); err != nil {
			log.WarnS(a.workCtx, "Actor cleanup failed", err,
				"actor_id", a.id)
		}
	}

	log.DebugS(a.workCtx, "Actor terminated",
		"actor_id", a.id,
		"drained_messages", drained)
}

// Stop refuses new messages, processes whatever is queued, runs OnStop and
// returns once the goroutine has exited. It must not be called from inside
// the behavior.
func (a *Actor[M, R]) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
	})

	// An actor that was never started has nothing to wait for.
	started := true
	a.startOnce.Do(func() {
		started = false
	})
	if !started {
		a.mailbox.Close()
		return
	}

	<-a.done
}

// Ref returns a reference supporting tell and ask.
func (a *Actor[M, R]) Ref() ActorRef[M, R] {
	return a.ref
}

// TellRef returns a tell-only reference.
func (a *Actor[M, R]) TellRef() TellOnlyRef[M] {
	return a.ref
}

// Pending returns the number of queued messages.
func (a *Actor[M, R]) Pending() int {
	return a.mailbox.Len()
}

// actorRef implements ActorRef for a local actor.
type actorRef[M Message, R any] struct {
	actor *Actor[M, R]
}

// ID returns the actor's identifier.
func (r *actorRef[M, R]) ID() string {
	return r.actor.id
}

// Tell enqueues msg, blocking while the mailbox is full.
func (r *actorRef[M, R]) Tell(ctx context.Context, msg M) bool {
	ok := r.actor.mailbox.Send(ctx, envelope[M, R]{
		message:   msg,
		callerCtx: ctx,
	})
	if !ok {
		log.DebugS(ctx, "Tell dropped",
			"actor_id", r.actor.id,
			"msg_type", msg.MessageType())
	}

	return ok
}

// Ask enqueues msg and returns a Future for the reply.
func (r *actorRef[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	p := NewPromise[R]()

	if r.actor.ctx.Err() != nil {
		p.Complete(fn.Err[R](ErrActorTerminated))
		return p.Future()
	}

	ok := r.actor.mailbox.Send(ctx, envelope[M, R]{
		message:   msg,
		promise:   p,
		callerCtx: ctx,
	})
	if !ok {
		err := ErrActorTerminated
		if r.actor.ctx.Err() == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		p.Complete(fn.Err[R](err))
	}

	return p.Future()
}
