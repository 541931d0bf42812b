// internal/sched/vruntime.go

package sched

// VRuntime is a task's weight-normalized virtual clock, the single
// fairness currency. Arithmetic wraps; ordering is always taken
// through the signed difference so comparisons stay correct across
// wraparound after very long uptimes.
type VRuntime uint64

// Delta returns the signed distance v - other.
func (v VRuntime) Delta(other VRuntime) int64 {
	return int64(v - other)
}

// Less reports whether v orders before other under signed-delta
// comparison.
func (v VRuntime) Less(other VRuntime) bool {
	return int64(v-other) < 0
}

// Add advances the clock by ns nanoseconds of virtual time.
func (v VRuntime) Add(ns uint64) VRuntime {
	return v + VRuntime(ns)
}

// Sub moves the clock back by ns nanoseconds of virtual time.
func (v VRuntime) Sub(ns uint64) VRuntime {
	return v - VRuntime(ns)
}

func maxVruntime(a, b VRuntime) VRuntime {
	if a.Less(b) {
		return b
	}
	return a
}
