package job

import (
	"time"

	"fairsched/internal/clock"
	"fairsched/internal/coop"
	"fairsched/internal/ktimer"
)

// Sleep returns a body that suspends on the timer for the given
// duration and exits.
func Sleep(t *ktimer.Timer, d time.Duration) coop.Body {
	return func(y *coop.Yield) {
		ktimer.DelayFor(y, t, d)
	}
}

// Burn returns a body that consumes roughly cpuTime of CPU, yielding
// back to the scheduler after every quantum of busy work.
func Burn(clk clock.Clock, cpuTime, quantum time.Duration) coop.Body {
	return func(y *coop.Yield) {
		deadline := clk.NowNanos() + uint64(cpuTime)
		for clk.NowNanos() < deadline {
			burstEnd := clk.NowNanos() + uint64(quantum)
			for clk.NowNanos() < burstEnd && clk.NowNanos() < deadline {
				// busy
			}
			y.Now()
		}
	}
}

// Periodic returns a body that performs work every interval, count
// times. A canceled task stops at its next wake.
func Periodic(t *ktimer.Timer, interval time.Duration, count int, work func(i int)) coop.Body {
	return func(y *coop.Yield) {
		for i := 0; i < count; i++ {
			ktimer.DelayFor(y, t, interval)
			work(i)
		}
	}
}
