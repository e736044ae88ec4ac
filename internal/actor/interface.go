package actor

import (
	"context"
	"errors"
	"iter"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrActorTerminated indicates that an operation failed because the target
// actor was terminated or in the process of shutting down.
var ErrActorTerminated = errors.New("actor terminated")

// BaseMessage can be embedded by message types defined outside this package
// to satisfy the sealed Message interface.
type BaseMessage struct{}

// messageMarker implements the unexported method of Message.
func (BaseMessage) messageMarker() {}

// Message is a sealed interface for actor messages.
type Message interface {
	messageMarker()

	// MessageType returns the type name of the message for logging.
	MessageType() string
}

// Future is the read side of an asynchronous result.
type Future[T any] interface {
	// Await blocks until the result is available or ctx is done.
	Await(ctx context.Context) fn.Result[T]

	// OnComplete runs f once the result is ready, or with ctx's error if
	// ctx finishes first.
	OnComplete(ctx context.Context, f func(fn.Result[T]))
}

// Promise is the write side of a Future.
type Promise[T any] interface {
	// Future returns the associated Future.
	Future() Future[T]

	// Complete sets the result. Only the first call has an effect; it
	// reports whether this call won.
	Complete(result fn.Result[T]) bool
}

// TellOnlyRef is a reference that can only send fire-and-forget messages.
type TellOnlyRef[M Message] interface {
	// ID returns the actor's identifier.
	ID() string

	// Tell enqueues msg without waiting for it to be processed. It
	// returns false if the message could not be enqueued.
	Tell(ctx context.Context, msg M) bool
}

// ActorRef is a reference that supports both tell and ask.
type ActorRef[M Message, R any] interface {
	TellOnlyRef[M]

	// Ask enqueues msg and returns a Future for the behavior's reply.
	Ask(ctx context.Context, msg M) Future[R]
}

// ActorBehavior is the message handling logic of an actor. Messages are
// delivered one at a time from the actor's goroutine.
type ActorBehavior[M Message, R any] interface {
	// Receive processes one message. For asks the context is cancelled
	// when either the actor stops or the caller gives up.
	Receive(ctx context.Context, msg M) fn.Result[R]
}

// Stoppable behaviors get a chance to release resources after the last
// message has been processed.
type Stoppable interface {
	OnStop(ctx context.Context) error
}

// Mailbox is an actor's bounded message queue.
//
// Send and TrySend may be called concurrently. Receive and Drain are only
// called from the actor goroutine. Close is idempotent.
type Mailbox[M Message, R any] interface {
	// Send blocks until the envelope is accepted, ctx is done or the
	// mailbox is closed.
	Send(ctx context.Context, env envelope[M, R]) bool

	// TrySend enqueues without blocking.
	TrySend(env envelope[M, R]) bool

	// Receive yields envelopes until ctx is done or the mailbox closes.
	Receive(ctx context.Context) iter.Seq[envelope[M, R]]

	// Close rejects further sends.
	Close()

	// IsClosed reports whether Close was called.
	IsClosed() bool

	// Drain yields whatever is left after Close.
	Drain() iter.Seq[envelope[M, R]]

	// Len returns the number of queued envelopes.
	Len() int
}
