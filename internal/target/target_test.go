package target

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type memConfig struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemConfig() *memConfig {
	return &memConfig{data: make(map[string]string)}
}

func (m *memConfig) GetConfig(_ context.Context,
	key string) (fn.Option[string], error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok {
		return fn.None[string](), nil
	}

	return fn.Some(v), nil
}

func (m *memConfig) SetConfig(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value

	return nil
}

func mustPick(t *testing.T, q *Queue, kind domain.ActionKind,
	now time.Time) Target {

	t.Helper()

	picked := q.PickEligible(kind, now)
	require.True(t, picked.IsSome(), "expected an eligible %s", kind)

	return picked.UnwrapOr(Target{})
}

func reply(key string, priority int, created time.Time) Target {
	return Target{
		Key:       key,
		Kind:      domain.KindReply,
		Payload:   []byte("payload-" + key),
		Priority:  priority,
		CreatedAt: created,
	}
}

// TestEnqueueDedup enqueues the same key twice with different payloads:
// the queue keeps one target carrying the second payload.
func TestEnqueueDedup(t *testing.T) {
	q := NewQueue(DefaultQueueConfig(), clock.NewTestClock(testNow), nil)

	first := reply("post-1", 5, testNow)
	second := first
	second.Payload = []byte("updated")
	second.Priority = 1

	require.NoError(t, q.Enqueue(first))
	require.NoError(t, q.Enqueue(second))
	require.Equal(t, 1, q.Len())

	got := mustPick(t, q, domain.KindReply, testNow)
	require.Equal(t, []byte("updated"), got.Payload)
	require.Equal(t, 1, got.Priority)
	require.True(t, q.PickEligible(domain.KindReply, testNow).IsNone())
}

func TestPickOrder(t *testing.T) {
	q := NewQueue(DefaultQueueConfig(), clock.NewTestClock(testNow), nil)

	require.NoError(t, q.Enqueue(reply("late-low", 1, testNow.Add(time.Hour))))
	require.NoError(t, q.Enqueue(reply("high", 9, testNow)))
	require.NoError(t, q.Enqueue(reply("early-low", 1, testNow)))

	var order []string
	for i := 0; i < 3; i++ {
		order = append(order,
			mustPick(t, q, domain.KindReply, testNow).Key)
	}
	require.Equal(t, []string{"early-low", "late-low", "high"}, order)
}

func TestIneligibleTargetsStayQueued(t *testing.T) {
	q := NewQueue(DefaultQueueConfig(), clock.NewTestClock(testNow), nil)

	cooling := reply("cooling", 0, testNow)
	cooling.NextEligibleAt = testNow.Add(time.Hour)
	require.NoError(t, q.Enqueue(cooling))
	require.NoError(t, q.Enqueue(reply("ready", 5, testNow)))

	got := mustPick(t, q, domain.KindReply, testNow)
	require.Equal(t, "ready", got.Key)

	require.True(t, q.PickEligible(domain.KindReply, testNow).IsNone())
	require.Equal(t, 1, q.LenKind(domain.KindReply))

	got = mustPick(t, q, domain.KindReply, testNow.Add(time.Hour))
	require.Equal(t, "cooling", got.Key)
	require.Zero(t, got.Attempts)
}

func TestInFlightLifecycle(t *testing.T) {
	q := NewQueue(DefaultQueueConfig(), clock.NewTestClock(testNow), nil)
	require.NoError(t, q.Enqueue(reply("a", 0, testNow)))

	got := mustPick(t, q, domain.KindReply, testNow)

	// Still counted and still deduplicated while in flight.
	require.Equal(t, 1, q.Len())
	require.NoError(t, q.Enqueue(reply("a", 3, testNow)))
	require.Equal(t, 1, q.Len())

	next := testNow.Add(10 * time.Minute)
	rescheduled, err := q.Reschedule(got.Key, next)
	require.NoError(t, err)
	require.Equal(t, 1, rescheduled.Attempts)
	require.Equal(t, 3, rescheduled.Priority)

	require.True(t, q.PickEligible(domain.KindReply, testNow).IsNone())
	got = mustPick(t, q, domain.KindReply, next)
	require.Equal(t, 1, got.Attempts)

	require.NoError(t, q.Requeue(got.Key))
	got = mustPick(t, q, domain.KindReply, next)
	require.Equal(t, 1, got.Attempts)

	q.MarkTerminal(got.Key)
	require.Zero(t, q.Len())
	require.ErrorIs(t, q.Enqueue(reply("a", 0, testNow)), ErrTerminal)
	require.ErrorIs(t, q.Requeue("a"), ErrNotFound)

	// Marking a queued target terminal removes it from its heap.
	require.NoError(t, q.Enqueue(reply("b", 0, testNow)))
	q.MarkTerminal("b")
	require.True(t, q.PickEligible(domain.KindReply, testNow).IsNone())
}

// TestDeferKeepsAttempts checks that a deferred target waits without being
// charged an attempt and that a later deferral never moves it earlier.
func TestDeferKeepsAttempts(t *testing.T) {
	q := NewQueue(DefaultQueueConfig(), clock.NewTestClock(testNow), nil)
	require.NoError(t, q.Enqueue(reply("a", 0, testNow)))
	require.NoError(t, q.Enqueue(reply("b", 0, testNow.Add(time.Second))))

	got := mustPick(t, q, domain.KindReply, testNow)
	require.Equal(t, "a", got.Key)

	until := testNow.Add(24 * time.Hour)
	require.NoError(t, q.Defer(got.Key, until))

	// The deferred head no longer shadows the next target.
	next := mustPick(t, q, domain.KindReply, testNow)
	require.Equal(t, "b", next.Key)
	require.NoError(t, q.Defer(next.Key, testNow))

	got = mustPick(t, q, domain.KindReply, testNow)
	require.Equal(t, "b", got.Key)
	require.NoError(t, q.Requeue(got.Key))

	got = mustPick(t, q, domain.KindReply, until)
	require.Equal(t, "a", got.Key)
	require.Zero(t, got.Attempts)
	require.Equal(t, until, got.NextEligibleAt)

	require.NoError(t, q.Defer(got.Key, testNow))
	snap := q.Snapshot(domain.KindReply)
	for _, tgt := range snap {
		if tgt.Key == "a" {
			require.Equal(t, until, tgt.NextEligibleAt)
		}
	}

	require.ErrorIs(t, q.Defer("missing", until), ErrNotFound)
}

func TestQueueFullAndValidation(t *testing.T) {
	q := NewQueue(QueueConfig{MaxPending: 2},
		clock.NewTestClock(testNow), nil)

	require.NoError(t, q.Enqueue(reply("a", 0, testNow)))
	require.NoError(t, q.Enqueue(reply("b", 0, testNow)))
	require.ErrorIs(t, q.Enqueue(reply("c", 0, testNow)), ErrQueueFull)

	// Updates of existing keys are still accepted when full.
	require.NoError(t, q.Enqueue(reply("a", 2, testNow)))

	require.ErrorIs(t, q.Enqueue(Target{Kind: domain.KindReply}),
		ErrInvalidTarget)
	require.ErrorIs(t, q.Enqueue(Target{Key: "s", Kind: domain.KindSearch}),
		ErrInvalidTarget)

	// Zero creation time is stamped from the clock.
	q2 := NewQueue(DefaultQueueConfig(), clock.NewTestClock(testNow), nil)
	require.NoError(t, q2.Enqueue(Target{Key: "k", Kind: domain.KindLike}))
	require.Equal(t, testNow, mustPick(t, q2, domain.KindLike,
		testNow).CreatedAt)
}

func TestBlocklist(t *testing.T) {
	ctx := context.Background()
	store := newMemConfig()
	bl := NewBlocklist(store)

	added, err := bl.Add(ctx, "@Spammer")
	require.NoError(t, err)
	require.True(t, added)

	added, err = bl.Add(ctx, "spammer")
	require.NoError(t, err)
	require.False(t, added)

	require.True(t, bl.Contains("@SPAMMER"))
	require.Equal(t, `["spammer"]`, store.data[BlocklistKey])

	// Another process edits the list; Load picks it up.
	other := NewBlocklist(store)
	_, err = other.Add(ctx, "bot")
	require.NoError(t, err)
	require.False(t, bl.Contains("bot"))
	require.NoError(t, bl.Load(ctx))
	require.Equal(t, []string{"spammer", "bot"}, bl.List())

	removed, err := bl.Remove(ctx, "@spammer")
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = bl.Remove(ctx, "spammer")
	require.NoError(t, err)
	require.False(t, removed)
	require.Equal(t, []string{"bot"}, bl.List())

	store.data[BlocklistKey] = "not json"
	require.NoError(t, bl.Load(ctx))
	require.Empty(t, bl.List())
}

func TestBlockedRecipients(t *testing.T) {
	ctx := context.Background()
	bl := NewBlocklist(newMemConfig())
	q := NewQueue(DefaultQueueConfig(), clock.NewTestClock(testNow), bl)

	dm := Target{Key: "u1", Kind: domain.KindDM, Recipient: "@Alice"}
	require.NoError(t, q.Enqueue(dm))

	// Blocking after enqueue drops the target at pick time.
	_, err := bl.Add(ctx, "alice")
	require.NoError(t, err)
	require.True(t, q.PickEligible(domain.KindDM, testNow).IsNone())
	require.Zero(t, q.Len())

	require.ErrorIs(t, q.Enqueue(dm), ErrBlocked)
	require.ErrorIs(t, q.Intake().Submit(ctx, dm), ErrBlocked)
}

func TestIntake(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(QueueConfig{MaxPending: 10, IntakeSize: 4},
		clock.NewTestClock(testNow), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			key := fmt.Sprintf("t-%d", i%2)
			errs <- q.Intake().Submit(ctx, reply(key, i, testNow))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 4, q.Pending())
	res := q.DrainIntake(ctx)
	require.Equal(t, 4, res.Accepted)
	require.Equal(t, 2, q.Len())

	// A full intake blocks until the context ends.
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Intake().Submit(ctx,
			reply(fmt.Sprintf("x-%d", i), 0, testNow)))
	}
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := q.Intake().Submit(short, reply("overflow", 0, testNow))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	q.MarkTerminal("t-0")
	require.ErrorIs(t, q.Intake().Submit(ctx, reply("t-0", 0, testNow)),
		ErrTerminal)
}

// TestQueueInvariants drives random enqueues, picks and outcomes and checks
// that a key is never live twice and terminal keys never come back.
func TestQueueInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clk := clock.NewTestClock(testNow)
		q := NewQueue(QueueConfig{MaxPending: 64}, clk, nil)

		kinds := []domain.ActionKind{
			domain.KindReply, domain.KindLike, domain.KindDM,
		}
		keys := rapid.SliceOfNDistinct(
			rapid.StringMatching(`k[0-9]{1,2}`), 1, 12,
			rapid.ID[string],
		).Draw(rt, "keys")

		kindOf := make(map[string]domain.ActionKind)
		for _, k := range keys {
			kindOf[k] = rapid.SampledFrom(kinds).Draw(rt, "kind")
		}

		terminal := make(map[string]bool)
		attempts := make(map[string]int)

		steps := rapid.IntRange(1, 100).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			key := rapid.SampledFrom(keys).Draw(rt, "key")
			op := rapid.IntRange(0, 2).Draw(rt, "op")

			switch op {
			case 0:
				before := q.Len()
				live := !terminal[key] && q.hasKey(key)

				err := q.Enqueue(Target{
					Key:      key,
					Kind:     kindOf[key],
					Priority: rapid.IntRange(0, 3).Draw(rt, "prio"),
				})

				// PROPERTY: re-enqueueing a live key leaves
				// the length unchanged.
				if live && q.Len() != before {
					rt.Fatalf("duplicate key %s", key)
				}
				if terminal[key] && err == nil {
					rt.Fatalf("terminal key %s re-entered", key)
				}

			case 1:
				kind := kindOf[key]
				picked := q.PickEligible(kind, clk.Now())
				if picked.IsNone() {
					continue
				}
				tgt := picked.UnwrapOr(Target{})

				if tgt.Attempts < attempts[tgt.Key] {
					rt.Fatalf("attempts went backwards")
				}
				attempts[tgt.Key] = tgt.Attempts

				switch rapid.IntRange(0, 2).Draw(rt, "outcome") {
				case 0:
					q.MarkTerminal(tgt.Key)
					terminal[tgt.Key] = true

				case 1:
					_, err := q.Reschedule(
						tgt.Key, clk.Now(),
					)
					if err != nil {
						rt.Fatal(err)
					}
					attempts[tgt.Key]++

				default:
					if err := q.Requeue(tgt.Key); err != nil {
						rt.Fatal(err)
					}
				}

			case 2:
				clk.SetTime(clk.Now().Add(time.Minute))
			}

			// PROPERTY: the index and the heaps agree.
			q.mu.Lock()
			heaped := 0
			for _, h := range q.heaps {
				heaped += h.Len()
			}
			if heaped != len(q.index) {
				q.mu.Unlock()
				rt.Fatalf("heap holds %d, index %d", heaped,
					len(q.index))
			}
			q.mu.Unlock()
		}
	})
}

func (q *Queue) hasKey(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, queued := q.index[key]
	_, flying := q.inFlight[key]

	return queued || flying
}
