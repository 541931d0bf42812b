// internal/clock/clock.go

package clock

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic nanosecond time source. Implementations must
// never regress.
type Clock interface {
	NowNanos() uint64
}

// Monotonic reads wall time relative to a fixed base, so readings ride
// on Go's monotonic clock and cannot jump backwards.
type Monotonic struct {
	base time.Time
}

// NewMonotonic creates a monotonic clock anchored at the current time.
func NewMonotonic() *Monotonic {
	return &Monotonic{base: time.Now()}
}

func (m *Monotonic) NowNanos() uint64 {
	return uint64(time.Since(m.base))
}

// Manual is a clock advanced explicitly by the caller. Used by tests to
// drive scheduling accounting deterministically.
type Manual struct {
	now atomic.Uint64
}

// NewManual creates a manual clock starting at zero.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) NowNanos() uint64 {
	return m.now.Load()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.now.Add(uint64(d))
}

// AdvanceNanos moves the clock forward by ns nanoseconds.
func (m *Manual) AdvanceNanos(ns uint64) {
	m.now.Add(ns)
}
