package sched

import (
	"sync"

	"fairsched/internal/coop"
)

// SchedTask is one scheduling entity: the per-task record the fairness
// machinery reads and writes. It is shared between the owning run
// queue, the executor and the wake path; all mutable fields are
// guarded by mu.
//
// Lock discipline: a task lock is only taken while holding the lock of
// a run queue (any run queue), or with no run queue lock at all. Task
// locks are never nested except under a single run queue lock.
type SchedTask struct {
	mu sync.Mutex

	tid    Tid
	nice   int
	load   LoadWeight
	isIdle bool

	// onRq is true iff the task is accounted in its run queue's load
	// and nr_running (present in the ready set or running).
	onRq bool

	// runQueue is the owning queue. Work stealing retargets it.
	runQueue *RunQueue

	execStart          uint64 // ns timestamp of the current run burst
	sumExecRuntime     uint64 // total CPU time consumed, ns
	prevSumExecRuntime uint64 // snapshot of sumExecRuntime at last pick
	vruntime           VRuntime

	coopTask *coop.Task
	done     chan struct{} // closed when the task completes
}

func newSchedTask(nice int, rq *RunQueue) *SchedTask {
	return &SchedTask{
		nice:     nice,
		load:     NewLoadWeight(niceToWeight(nice)),
		runQueue: rq,
		done:     make(chan struct{}),
	}
}

// Tid returns the task's stable identity.
func (t *SchedTask) Tid() Tid { return t.tid }

// Nice returns the task's immutable nice value.
func (t *SchedTask) Nice() int { return t.nice }

// SumExecRuntime returns the total CPU time the task has been charged.
func (t *SchedTask) SumExecRuntime() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sumExecRuntime
}

// Vruntime returns the task's current virtual runtime.
func (t *SchedTask) Vruntime() VRuntime {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vruntime
}

// deltaFair converts delta_exec into vruntime units: delta / weight,
// normalized so a nice-0 task's virtual clock runs at wall speed.
func (t *SchedTask) deltaFair(deltaExec uint64) uint64 {
	if t.load.Weight == NiceZeroWeight {
		return deltaExec
	}
	return CalcDelta(deltaExec, NiceZeroWeight, t.load)
}

// tickAt charges the time since execStart to the task. Callers hold
// t.mu. A now earlier than execStart (another CPU already started a
// newer burst) charges nothing.
func (t *SchedTask) tickAt(now uint64) {
	var delta uint64
	if now > t.execStart {
		delta = now - t.execStart
	}
	t.execStart = now
	t.sumExecRuntime += delta
	t.vruntime = t.vruntime.Add(t.deltaFair(delta))
}
