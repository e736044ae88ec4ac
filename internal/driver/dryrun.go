package driver

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/executor"
)

// maxDryRunHistory bounds the dispatches a DryRun keeps for inspection.
const maxDryRunHistory = 1000

// Dispatched is one action accepted by the dry-run driver.
type Dispatched struct {
	Handle  string
	Payload []byte
	At      time.Time
}

// DryRun accepts every action without contacting a platform. It is the
// default driver so a fresh install cannot reach real accounts.
type DryRun struct {
	delay time.Duration
	clock clock.Clock

	mu      sync.Mutex
	history []Dispatched
}

// NewDryRun creates a dry-run driver that takes delay per action.
func NewDryRun(delay time.Duration, clk clock.Clock) *DryRun {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &DryRun{
		delay: delay,
		clock: clk,
	}
}

// Dispatch implements executor.ActionDriver.
func (d *DryRun) Dispatch(ctx context.Context, handle string,
	payload []byte) (executor.DriverResult, error) {

	if d.delay > 0 {
		select {
		case <-d.clock.TickAfter(d.delay):
		case <-ctx.Done():
			return executor.DriverResult{}, ctx.Err()
		}
	}

	d.mu.Lock()
	d.history = append(d.history, Dispatched{
		Handle:  handle,
		Payload: append([]byte(nil), payload...),
		At:      d.clock.Now(),
	})
	if len(d.history) > maxDryRunHistory {
		d.history = d.history[len(d.history)-maxDryRunHistory:]
	}
	d.mu.Unlock()

	log.InfoS(ctx, "Dry-run dispatch",
		"handle", handle,
		"payload_bytes", len(payload))

	return executor.DriverResult{
		Status: executor.StatusOK,
		Detail: "dry run",
	}, nil
}

// History returns the accepted actions, oldest first.
func (d *DryRun) History() []Dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Dispatched(nil), d.history...)
}

var _ executor.ActionDriver = (*DryRun)(nil)
