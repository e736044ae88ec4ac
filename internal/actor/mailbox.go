package actor

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// ChannelMailbox is a bounded Mailbox backed by a buffered channel. A full
// mailbox makes Send block, which is how backpressure reaches producers.
type ChannelMailbox[M Message, R any] struct {
	ch chan envelope[M, R]

	closed    atomic.Bool
	closeOnce sync.Once

	// mu is held for reading by senders and for writing by Close, so a
	// send can never race the channel close.
	mu sync.RWMutex

	// actorCtx releases blocked senders once the owning actor stops.
	actorCtx context.Context
}

// NewChannelMailbox creates a mailbox holding at most capacity envelopes.
// Non-positive capacities are raised to 1.
func NewChannelMailbox[M Message, R any](actorCtx context.Context,
	capacity int) *ChannelMailbox[M, R] {

	if capacity <= 0 {
		capacity = 1
	}

	return &ChannelMailbox[M, R]{
		ch:       make(chan envelope[M, R], capacity),
		actorCtx: actorCtx,
	}
}

// Send blocks until the envelope is queued, ctx is done or the mailbox is
// closed.
func (m *ChannelMailbox[M, R]) Send(ctx context.Context,
	env envelope[M, R]) bool {

	if ctx.Err() != nil || m.actorCtx.Err() != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return false
	}

	select {
	case m.ch <- env:
		return true

	case <-ctx.Done():
		log.TraceS(ctx, "Mailbox send abandoned",
			"msg_type", env.message.MessageType())

		return false

	case <-m.actorCtx.Done():
		return false
	}
}

// TrySend queues the envelope only if there is room right now.
func (m *ChannelMailbox[M, R]) TrySend(env envelope[M, R]) bool {
	if m.actorCtx.Err() != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return false
	}

	select {
	case m.ch <- env:
		return true
	default:
		return false
	}
}

// Receive yields envelopes as they arrive.
func (m *ChannelMailbox[M, R]) Receive(
	ctx context.Context) iter.Seq[envelope[M, R]] {

	return func(yield func(envelope[M, R]) bool) {
		for {
			// Checking first keeps shutdown deterministic when
			// both the channel and ctx are ready.
			if ctx.Err() != nil {
				return
			}

			select {
			case env, ok := <-m.ch:
				if !ok || !yield(env) {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}
}

// Close stops accepting envelopes. The actor cancels its context before
// calling Close, which releases any sender blocked on a full channel.
func (m *ChannelMailbox[M, R]) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)

		m.mu.Lock()
		defer m.mu.Unlock()

		close(m.ch)
	})
}

// IsClosed reports whether Close has been called.
func (m *ChannelMailbox[M, R]) IsClosed() bool {
	return m.closed.Load()
}

// Drain yields the envelopes left after Close.
func (m *ChannelMailbox[M, R]) Drain() iter.Seq[envelope[M, R]] {
	return func(yield func(envelope[M, R]) bool) {
		if !m.IsClosed() {
			return
		}

		for env := range m.ch {
			if !yield(env) {
				return
			}
		}
	}
}

// Len returns the number of queued envelopes.
func (m *ChannelMailbox[M, R]) Len() int {
	return len(m.ch)
}
