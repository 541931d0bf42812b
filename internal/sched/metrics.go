// internal/sched/metrics.go

package sched

// Metrics receives scheduler counters. Implementations must be safe
// for concurrent use and must not block; they are called with run
// queue locks held.
type Metrics interface {
	// TaskSpawned is called when a task is spawned onto cpu.
	TaskSpawned(cpu int)

	// TaskFinished is called when a task completes and is reclaimed.
	TaskFinished(cpu int)

	// TaskDispatched is called on every scheduling decision.
	TaskDispatched(cpu int)

	// TaskPreempted is called when the running task is set aside for a
	// lower-vruntime one.
	TaskPreempted(cpu int)

	// TasksStolen is called after a successful work-stealing pass.
	TasksStolen(fromCPU, toCPU, count int)

	// QueueDepth reports the runnable count of a CPU's queue after a
	// change.
	QueueDepth(cpu, depth int)
}

// NopMetrics discards all metrics. Useful when observability is not
// wired up.
type NopMetrics struct{}

func (NopMetrics) TaskSpawned(int)         {}
func (NopMetrics) TaskFinished(int)        {}
func (NopMetrics) TaskDispatched(int)      {}
func (NopMetrics) TaskPreempted(int)       {}
func (NopMetrics) TasksStolen(_, _, _ int) {}
func (NopMetrics) QueueDepth(_, _ int)     {}
