package target

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/domain"
)

// BlockChecker reports whether a recipient may not be contacted.
type BlockChecker interface {
	Contains(handle string) bool
}

// Queue is a bounded priority queue of targets keyed by Key. Each kind
// has its own heap. A picked target stays indexed as in flight until the
// caller requeues it or marks it terminal, so a key is never live twice.
type Queue struct {
	cfg     QueueConfig
	clk     clock.Clock
	blocked BlockChecker

	mu       sync.Mutex
	heaps    map[domain.ActionKind]*targetHeap
	index    map[string]*entry
	inFlight map[string]*entry
	terminal map[string]struct{}
	seq      uint64

	intake chan Target
}

// NewQueue creates an empty queue. blocked may be nil.
func NewQueue(cfg QueueConfig, clk clock.Clock, blocked BlockChecker) *Queue {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultQueueConfig().MaxPending
	}
	if cfg.IntakeSize <= 0 {
		cfg.IntakeSize = DefaultQueueConfig().IntakeSize
	}

	return &Queue{
		cfg:      cfg,
		clk:      clk,
		blocked:  blocked,
		heaps:    make(map[domain.ActionKind]*targetHeap),
		index:    make(map[string]*entry),
		inFlight: make(map[string]*entry),
		terminal: make(map[string]struct{}),
		intake:   make(chan Target, cfg.IntakeSize),
	}
}

func (q *Queue) heapFor(kind domain.ActionKind) *targetHeap {
	h, ok := q.heaps[kind]
	if !ok {
		h = &targetHeap{}
		q.heaps[kind] = h
	}

	return h
}

func (q *Queue) isBlocked(t Target) bool {
	return q.blocked != nil && t.Recipient != "" &&
		q.blocked.Contains(t.Recipient)
}

// Enqueue adds t, or updates the payload, priority and recipient of the
// live target with the same key. Attempts and eligibility of a live target
// are kept.
func (q *Queue) Enqueue(t Target) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if q.isBlocked(t) {
		return fmt.Errorf("%w: %s", ErrBlocked, t.Recipient)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.terminal[t.Key]; ok || t.Terminal {
		return fmt.Errorf("%w: %s", ErrTerminal, t.Key)
	}

	if e, ok := q.index[t.Key]; ok {
		e.target.Payload = t.Payload
		e.target.Priority = t.Priority
		e.target.Recipient = t.Recipient
		heap.Fix(q.heapFor(e.target.Kind), e.index)

		return nil
	}
	if e, ok := q.inFlight[t.Key]; ok {
		e.target.Payload = t.Payload
		e.target.Priority = t.Priority
		e.target.Recipient = t.Recipient

		return nil
	}

	if len(q.index)+len(q.inFlight) >= q.cfg.MaxPending {
		return ErrQueueFull
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = q.clk.Now()
	}

	q.pushLocked(t)

	return nil
}

func (q *Queue) pushLocked(t Target) {
	q.seq++
	e := &entry{target: t, seq: q.seq}
	heap.Push(q.heapFor(t.Kind), e)
	q.index[t.Key] = e
}

// PickEligible removes and returns the first target of kind whose
// NextEligibleAt has passed. Ineligible targets stay queued untouched.
// Targets whose recipient became blocklisted are dropped. The returned
// target is in flight until Requeue, Reschedule or MarkTerminal.
func (q *Queue) PickEligible(kind domain.ActionKind,
	now time.Time) fn.Option[Target] {

	q.mu.Lock()
	defer q.mu.Unlock()

	h := q.heapFor(kind)

	var (
		deferred []*entry
		picked   *entry
	)
	for h.Len() > 0 {
		e := heap.Pop(h).(*entry)

		if q.isBlocked(e.target) {
			delete(q.index, e.target.Key)
			log.InfoS(context.Background(),
				"Dropping target for blocklisted recipient",
				"key", e.target.Key,
				"recipient", e.target.Recipient)

			continue
		}

		if !e.target.Eligible(now) {
			deferred = append(deferred, e)
			continue
		}

		picked = e
		break
	}

	for _, e := range deferred {
		heap.Push(h, e)
	}

	if picked == nil {
		return fn.None[Target]()
	}

	delete(q.index, picked.target.Key)
	q.inFlight[picked.target.Key] = picked

	return fn.Some(picked.target)
}

// Requeue returns an in-flight target to the queue unchanged.
func (q *Queue) Requeue(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.inFlight[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(q.inFlight, key)

	heap.Push(q.heapFor(e.target.Kind), e)
	q.index[key] = e

	return nil
}

// Defer returns an in-flight target to the queue, not eligible before
// until. Unlike Reschedule it does not count an attempt.
func (q *Queue) Defer(key string, until time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.inFlight[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(q.inFlight, key)

	if until.After(e.target.NextEligibleAt) {
		e.target.NextEligibleAt = until
	}

	heap.Push(q.heapFor(e.target.Kind), e)
	q.index[key] = e

	return nil
}

// Reschedule records a failed attempt on an in-flight target and queues it
// again, not eligible before next.
func (q *Queue) Reschedule(key string, next time.Time) (Target, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.inFlight[key]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(q.inFlight, key)

	e.target.Attempts++
	if next.After(e.target.NextEligibleAt) {
		e.target.NextEligibleAt = next
	}

	heap.Push(q.heapFor(e.target.Kind), e)
	q.index[key] = e

	return e.target, nil
}

// MarkTerminal retires key for good, whether it is queued, in flight or
// unknown.
func (q *Queue) MarkTerminal(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.index[key]; ok {
		heap.Remove(q.heapFor(e.target.Kind), e.index)
		delete(q.index, key)
	}
	delete(q.inFlight, key)

	q.terminal[key] = struct{}{}
}

// IsTerminal reports whether key was retired.
func (q *Queue) IsTerminal(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.terminal[key]

	return ok
}

// Len returns the number of live targets, queued or in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.index) + len(q.inFlight)
}

// LenKind returns the number of queued targets of kind.
func (q *Queue) LenKind(kind domain.ActionKind) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.heapFor(kind).Len()
}

// Stats returns per-kind pending counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Pending:  make(map[domain.ActionKind]int),
		InFlight: len(q.inFlight),
		Terminal: len(q.terminal),
	}
	for kind, h := range q.heaps {
		if h.Len() > 0 {
			s.Pending[kind] = h.Len()
		}
	}

	return s
}

// Snapshot returns copies of the queued targets of kind in no particular
// order.
func (q *Queue) Snapshot(kind domain.ActionKind) []Target {
	q.mu.Lock()
	defer q.mu.Unlock()

	h := q.heapFor(kind)
	out := make([]Target, 0, h.Len())
	for _, e := range *h {
		out = append(out, e.target)
	}

	return out
}
