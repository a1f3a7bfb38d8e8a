package web3

import (
	"context"
	"sync"
	"time"
)

// Clock supplies the current timestamp in seconds. Implementations are
// expected to be sourced from the ordering substrate; callers must not assume
// more than second precision.
type Clock interface {
	Now(ctx context.Context) (uint64, error)
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return uint64(time.Now().Unix()), nil
}

// ManualClock is a settable clock used by tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

// NewManualClock returns a clock pinned at start.
func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, nil
}

// Set moves the clock to ts. Moving backwards is allowed here; the ledger
// clamps readings so that time never decreases across operations.
func (c *ManualClock) Set(ts uint64) {
	c.mu.Lock()
	c.now = ts
	c.mu.Unlock()
}

// Advance moves the clock forward by the given number of seconds and returns
// the new reading.
func (c *ManualClock) Advance(seconds uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
	return c.now
}
