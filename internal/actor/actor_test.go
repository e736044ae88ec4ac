package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type addMsg struct {
	BaseMessage

	n     int
	block chan struct{}
}

func (addMsg) MessageType() string { return "addMsg" }

// summer adds every message's n to a running total and replies with it.
type summer struct {
	mu      sync.Mutex
	total   int
	seen    []int
	stopped bool
}

func (s *summer) Receive(_ context.Context, msg addMsg) fn.Result[int] {
	if msg.block != nil {
		<-msg.block
	}

	if msg.n < 0 {
		return fn.Err[int](errors.New("negative"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total += msg.n
	s.seen = append(s.seen, msg.n)

	return fn.Ok(s.total)
}

func (s *summer) OnStop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	return nil
}

func (s *summer) snapshot() (int, []int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.total, append([]int(nil), s.seen...), s.stopped
}

func newSummer(t *testing.T, size int) (*Actor[addMsg, int], *summer) {
	t.Helper()

	behavior := &summer{}
	a := NewActor(ActorConfig[addMsg, int]{
		ID:          "summer",
		Behavior:    behavior,
		MailboxSize: size,
	})
	a.Start()

	return a, behavior
}

func TestAskReturnsReply(t *testing.T) {
	a, _ := newSummer(t, 4)
	defer a.Stop()

	ctx := context.Background()

	got, err := AskAwait(ctx, a.Ref(), addMsg{n: 2})
	require.NoError(t, err)
	require.Equal(t, 2, got)

	got, err = AskAwait(ctx, a.Ref(), addMsg{n: 3})
	require.NoError(t, err)
	require.Equal(t, 5, got)

	_, err = AskAwait(ctx, a.Ref(), addMsg{n: -1})
	require.ErrorContains(t, err, "negative")
}

func TestTellPreservesOrder(t *testing.T) {
	a, behavior := newSummer(t, 16)

	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		require.True(t, a.TellRef().Tell(ctx, addMsg{n: i}))
	}

	a.Stop()

	total, seen, stopped := behavior.snapshot()
	require.Equal(t, 55, total)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)
	require.True(t, stopped)
}

// TestStopDrainsQueuedMessages checks that messages accepted before Stop
// are still handed to the behavior.
func TestStopDrainsQueuedMessages(t *testing.T) {
	a, behavior := newSummer(t, 8)

	ctx := context.Background()
	release := make(chan struct{})
	require.True(t, a.Ref().Tell(ctx, addMsg{n: 1, block: release}))
	for i := 0; i < 5; i++ {
		require.True(t, a.Ref().Tell(ctx, addMsg{n: 10}))
	}

	stopped := make(chan struct{})
	go func() {
		a.Stop()
		close(stopped)
	}()

	// Give Stop a moment to cancel before the first message finishes.
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}

	total, seen, done := behavior.snapshot()
	require.Equal(t, 51, total)
	require.Len(t, seen, 6)
	require.True(t, done)
}

func TestSendAfterStop(t *testing.T) {
	a, _ := newSummer(t, 2)
	a.Stop()

	ctx := context.Background()
	require.False(t, a.Ref().Tell(ctx, addMsg{n: 1}))

	_, err := AskAwait(ctx, a.Ref(), addMsg{n: 1})
	require.ErrorIs(t, err, ErrActorTerminated)

	// Stop is idempotent.
	a.Stop()
}

// TestFullMailboxBlocksSender checks backpressure: a sender blocks while
// the mailbox is full and gives up when its context ends.
func TestFullMailboxBlocksSender(t *testing.T) {
	a, _ := newSummer(t, 1)

	ctx := context.Background()
	release := make(chan struct{})

	// The first message occupies the actor, the second the mailbox.
	require.True(t, a.Ref().Tell(ctx, addMsg{n: 1, block: release}))
	require.Eventually(t, func() bool {
		return a.Pending() == 0
	}, time.Second, time.Millisecond)
	require.True(t, a.Ref().Tell(ctx, addMsg{n: 1}))

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.False(t, a.Ref().Tell(shortCtx, addMsg{n: 1}))

	close(release)
	a.Stop()
}

func TestAskCallerCancel(t *testing.T) {
	a, _ := newSummer(t, 2)
	defer a.Stop()

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	future := a.Ref().Ask(ctx, addMsg{n: 1, block: release})
	cancel()

	result := future.Await(ctx)
	_, err := result.Unpack()
	require.ErrorIs(t, err, context.Canceled)
}

func TestPromiseCompletesOnce(t *testing.T) {
	p := NewPromise[int]()
	require.True(t, p.Complete(fn.Ok(1)))
	require.False(t, p.Complete(fn.Ok(2)))

	got, err := p.Future().Await(context.Background()).Unpack()
	require.NoError(t, err)
	require.Equal(t, 1, got)

	done := make(chan int, 1)
	p.Future().OnComplete(context.Background(), func(r fn.Result[int]) {
		v, _ := r.Unpack()
		done <- v
	})
	require.Equal(t, 1, <-done)
}
