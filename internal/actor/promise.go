package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// promise is a single-assignment result cell.
type promise[T any] struct {
	once   sync.Once
	done   chan struct{}
	result fn.Result[T]
}

// NewPromise returns an uncompleted promise.
func NewPromise[T any]() Promise[T] {
	return &promise[T]{
		done: make(chan struct{}),
	}
}

// Future returns the promise itself, viewed as a Future.
func (p *promise[T]) Future() Future[T] {
	return p
}

// Complete stores result if no result was stored yet.
func (p *promise[T]) Complete(result fn.Result[T]) bool {
	won := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		won = true
	})

	return won
}

// Await blocks for the result or ctx.
func (p *promise[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// OnComplete runs f in a new goroutine once the result is known.
func (p *promise[T]) OnComplete(ctx context.Context, f func(fn.Result[T])) {
	go func() {
		f(p.Await(ctx))
	}()
}
