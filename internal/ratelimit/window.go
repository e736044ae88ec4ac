package ratelimit

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// SlidingWindow allows at most max events within any trailing window.
type SlidingWindow struct {
	mu sync.Mutex

	max    int
	window time.Duration

	// events is ordered oldest first.
	events []time.Time

	clock clock.Clock
}

// NewSlidingWindow creates an empty window.
func NewSlidingWindow(max int, window time.Duration,
	clk clock.Clock) *SlidingWindow {

	return &SlidingWindow{
		max:    max,
		window: window,
		clock:  clk,
	}
}

// pruneLocked drops events older than now-window. It always runs before a
// capacity test.
func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)

	i := 0
	for i < len(w.events) && w.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// CanAct reports whether another event fits in the window.
func (w *SlidingWindow) CanAct() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(w.clock.Now())

	return len(w.events) < w.max
}

// Record appends an event at the current time. A full window refuses the
// event and returns false, so used never exceeds capacity.
func (w *SlidingWindow) Record() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.pruneLocked(now)

	if len(w.events) >= w.max {
		return false
	}
	w.events = append(w.events, now)

	return true
}

// RecordAt replays an event that happened at ts, e.g. when rebuilding the
// window after a restart. Events already outside the window are dropped.
// Unlike Record it does not refuse a full window: the event happened.
func (w *SlidingWindow) RecordAt(ts time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.pruneLocked(now)

	if ts.Before(now.Add(-w.window)) || ts.After(now) {
		return false
	}

	i := sort.Search(len(w.events), func(i int) bool {
		return w.events[i].After(ts)
	})
	w.events = slices.Insert(w.events, i, ts)

	return true
}

// Remaining returns max(0, capacity - used).
func (w *SlidingWindow) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(w.clock.Now())

	return max(0, w.max-len(w.events))
}

// Used returns the number of events inside the window.
func (w *SlidingWindow) Used() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(w.clock.Now())

	return len(w.events)
}

// Capacity returns the current maximum.
func (w *SlidingWindow) Capacity() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.max
}

// SetCapacity changes the maximum. Events already recorded are kept, so a
// lowered capacity simply blocks until enough of them age out.
func (w *SlidingWindow) SetCapacity(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.max = max(0, n)
}

// SetWindow changes the window length.
func (w *SlidingWindow) SetWindow(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.window = d
}

// ScaleCap applies a volume multiplier to a daily cap: ceil(cap*m), with a
// floor of 1 whenever the original cap is at least 1 and m is positive.
func ScaleCap(limit int, m float64) int {
	if limit <= 0 || m <= 0 {
		return 0
	}
	if m >= 1 {
		return limit
	}

	scaled := int(math.Ceil(float64(limit) * m))

	return max(1, scaled)
}
