package sched

import (
	"testing"

	"fairsched/internal/clock"
	"fairsched/internal/coop"
)

func newTestSystem(t *testing.T, cpus int) (*System, *clock.Manual) {
	t.Helper()
	return newTestSystemCfg(t, cpus, DefaultConfig())
}

func newTestSystemCfg(t *testing.T, cpus int, cfg Config) (*System, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual()
	sys, err := newSystem(cfg, cpus, clk)
	if err != nil {
		t.Fatalf("newSystem: %v", err)
	}
	t.Cleanup(sys.Close)
	return sys, clk
}

// newRealtimeSystem builds a system on the monotonic clock, for tests
// that drive real Run loops end to end. A frozen manual clock would
// never accumulate deltaExec there.
func newRealtimeSystem(t *testing.T, cpus int) *System {
	t.Helper()
	sys, err := newSystem(DefaultConfig(), cpus, clock.NewMonotonic())
	if err != nil {
		t.Fatalf("newSystem: %v", err)
	}
	t.Cleanup(sys.Close)
	return sys
}

// spawnSpinner spawns a task that yields forever, so it stays runnable
// for the duration of a test.
func spawnSpinner(t *testing.T, sys *System, cpu, nice int) (*Handle, *SchedTask) {
	t.Helper()
	h, task, err := sys.Spawn(cpu, func(y *coop.Yield) {
		for {
			y.Now()
		}
	}, nice, SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return h, task
}

// simulateYield re-readies a dispatched task the way a real yield
// would, without resuming its goroutine.
func simulateYield(sys *System, task *SchedTask) {
	sys.wakeTask(task, task.coopTask.Runnable())
}

// cycleOnce emulates one executor cycle on cpu: pick a task, let it
// "run" for runNs, re-ready it and charge the burst.
func cycleOnce(sys *System, clk *clock.Manual, cpu int, runNs uint64) (Tid, *SchedTask) {
	e := sys.executors[cpu]
	tid, task, _ := e.rq.popTaskToRun()
	clk.AdvanceNanos(runNs)
	simulateYield(sys, task)
	e.rq.mu.Lock()
	e.rq.taskTickLocked(task)
	e.rq.mu.Unlock()
	return tid, task
}

// setVruntime forces a task's virtual clock, keeping any ready entry
// sorted.
func setVruntime(rq *RunQueue, task *SchedTask, vr VRuntime) {
	rq.mu.Lock()
	task.mu.Lock()
	task.vruntime = vr
	tid := task.tid
	task.mu.Unlock()
	rq.requeueLocked(tid, vr)
	rq.mu.Unlock()
}

// suspendTask emulates a task blocking on an external event: it leaves
// the runnable population until woken.
func suspendTask(rq *RunQueue, task *SchedTask) {
	rq.mu.Lock()
	task.mu.Lock()
	if key, ok := rq.keys[task.tid]; ok {
		rq.ready.Remove(key)
		delete(rq.keys, task.tid)
	}
	if rq.current == task {
		rq.current = nil
	}
	if task.onRq {
		task.onRq = false
		rq.nrRunning--
		rq.load = rq.load.Sub(task.load)
	}
	task.mu.Unlock()
	rq.updateMinVruntimeLocked()
	rq.mu.Unlock()
}

// residency counts, for each tid, how many queues hold it in their
// ready-or-current set.
func residency(sys *System) map[Tid]int {
	counts := make(map[Tid]int)
	for _, e := range sys.executors {
		e.rq.mu.Lock()
		for tid := range e.rq.keys {
			counts[tid]++
		}
		if cur := e.rq.current; cur != nil {
			if _, queued := e.rq.keys[cur.tid]; !queued {
				counts[cur.tid]++
			}
		}
		e.rq.mu.Unlock()
	}
	return counts
}

func nrRunningOf(rq *RunQueue) int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.nrRunning
}

func minVruntimeOf(rq *RunQueue) VRuntime {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.minVruntime
}
