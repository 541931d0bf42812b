// Package ktimer implements the deadline facility tasks suspend on: a
// table of wake callbacks ordered by expiry, driven by whoever owns
// the tick source (a ticker goroutine here, a timer interrupt on real
// hardware).
package ktimer

import (
	"context"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"fairsched/internal/clock"
	"fairsched/internal/coop"
)

// Timer holds pending deadlines. Safe for concurrent use.
type Timer struct {
	mu     sync.Mutex
	clk    clock.Clock
	events *treemap.Map // deadline ns (uint64) -> func()
}

// New creates an empty timer using clk for DelayFor deadlines.
func New(clk clock.Clock) *Timer {
	return &Timer{
		clk:    clk,
		events: treemap.NewWith(utils.UInt64Comparator),
	}
}

// Add registers wake to fire once deadline (ns) has passed. Colliding
// deadlines are nudged forward a nanosecond at a time so every entry
// keeps its own slot.
func (t *Timer) Add(deadline uint64, wake func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if _, found := t.events.Get(deadline); !found {
			break
		}
		deadline++
	}
	t.events.Put(deadline, wake)
}

// Expire fires and removes every entry with a deadline at or before
// now. Wakes run outside the timer lock: they re-enter the scheduler.
func (t *Timer) Expire(now uint64) {
	var due []func()
	t.mu.Lock()
	for {
		k, v := t.events.Min()
		if k == nil || k.(uint64) > now {
			break
		}
		t.events.Remove(k)
		due = append(due, v.(func()))
	}
	t.mu.Unlock()

	for _, wake := range due {
		wake()
	}
}

// Len returns the number of pending deadlines.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events.Size()
}

// Drive expires deadlines from a ticker until ctx is done. This stands
// in for the hardware timer interrupt.
func (t *Timer) Drive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Expire(t.clk.NowNanos())
		}
	}
}

// DelayFor suspends the calling task until d has elapsed on t's clock.
func DelayFor(y *coop.Yield, t *Timer, d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := t.clk.NowNanos() + uint64(d)
	y.Suspend(func(wake func()) {
		t.Add(deadline, wake)
	})
}
