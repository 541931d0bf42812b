// internal/sched/executor.go

package sched

import (
	"context"
	"errors"
	"time"

	"fairsched/internal/coop"
)

var (
	// ErrNiceRange is returned by Spawn for a nice value outside
	// [MinNice, MaxNice]. Out-of-range values are rejected, not
	// clamped, so caller bugs surface instead of silently reweighting.
	ErrNiceRange = errors.New("sched: nice value outside [-20, 19]")

	// ErrSystemClosed is returned by Spawn after Close.
	ErrSystemClosed = errors.New("sched: system closed")
)

// SpawnOptions carries optional spawn parameters.
type SpawnOptions struct {
	// Parent marks the spawn as a fork: the child's vruntime is seeded
	// from the parent's instead of the queue floor.
	Parent *SchedTask
}

// Handle represents a spawned task. Dropping the handle detaches the
// task; completion cleans up through the executor either way.
type Handle struct {
	tid  Tid
	task *SchedTask
	coop *coop.Task
	done chan struct{}
}

// Tid returns the task's identity.
func (h *Handle) Tid() Tid { return h.tid }

// Task returns the scheduling entity, usable as SpawnOptions.Parent.
func (h *Handle) Task() *SchedTask { return h.task }

// Join blocks until the task completes or ctx is done.
func (h *Handle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests lazy cancellation: the task unwinds and is reclaimed
// the next time the scheduler dispatches it. A task canceled before
// its body ever ran completes without running it, so it has no cleanup
// to unwind through. A task that is never woken again is never
// reclaimed.
func (h *Handle) Cancel() {
	h.coop.Cancel()
}

// Executor drives one CPU's run queue: it pops the fairest task, runs
// it to its next suspension point and charges the elapsed time.
type Executor struct {
	sys     *System
	cpu     int
	rq      *RunQueue
	idleTid Tid
}

func newExecutor(sys *System, cpu int) (*Executor, error) {
	e := &Executor{sys: sys, cpu: cpu, rq: newRunQueue(sys, cpu)}

	// The idle task keeps pop_task_to_run total: it is always ready
	// and, at MaxNice, always last in line.
	idle, _, err := e.spawn(idleBody, MaxNice, SpawnOptions{}, true)
	if err != nil {
		return nil, err
	}
	e.idleTid = idle.tid
	return e, nil
}

func idleBody(y *coop.Yield) {
	for {
		y.Now()
	}
}

// CPU returns the executor's CPU index.
func (e *Executor) CPU() int { return e.cpu }

// Spawn hosts body as a new task on this CPU's queue.
//
// The new task's vruntime is seeded from the queue floor (or the
// parent's vruntime on fork). Under StartDebit it is clamped to at
// least min_vruntime plus one fair vslice: the current period is
// already promised to the current tasks, so the newcomer fits into the
// slot that stays open at the end instead of jumping the queue. Under
// ChildRunsFirst a fork child ending up behind its parent swaps
// vruntimes with it, provided the parent lives on this CPU's queue;
// the wake path never consults fork state, so the sleeper bonus
// cannot double-adjust.
func (e *Executor) Spawn(body coop.Body, nice int, opts SpawnOptions) (*Handle, *SchedTask, error) {
	return e.spawn(body, nice, opts, false)
}

func (e *Executor) spawn(body coop.Body, nice int, opts SpawnOptions, idle bool) (*Handle, *SchedTask, error) {
	if nice < MinNice || nice > MaxNice {
		return nil, nil, ErrNiceRange
	}
	sys := e.sys
	if sys.closed.Load() {
		return nil, nil, ErrSystemClosed
	}

	t := newSchedTask(nice, e.rq)
	t.isIdle = idle
	tid := sys.tasks.add(t)

	ct, err := coop.NewTask(sys.host, body, func(r *coop.Runnable) { sys.wakeTask(t, r) })
	if err != nil {
		sys.tasks.remove(tid)
		return nil, nil, ErrSystemClosed
	}
	t.coopTask = ct
	first := ct.Runnable()

	rq := e.rq
	rq.mu.Lock()
	t.mu.Lock()

	if opts.Parent != nil {
		parent := opts.Parent
		parent.mu.Lock()
		t.vruntime = parent.vruntime
		parent.mu.Unlock()
	} else {
		t.vruntime = rq.minVruntime
	}

	if sys.features.Has(StartDebit) {
		debited := rq.minVruntime.Add(rq.schedVsliceLocked(t))
		t.vruntime = maxVruntime(t.vruntime, debited)
	}

	if sys.features.Has(ChildRunsFirst) && opts.Parent != nil {
		parent := opts.Parent
		parent.mu.Lock()
		// The swap is only meaningful inside one queue's vruntime base,
		// and resorting a parent on another CPU would need that queue's
		// lock. A remote parent keeps its placement.
		if parent.runQueue == rq && parent.vruntime.Less(t.vruntime) {
			parent.vruntime, t.vruntime = t.vruntime, parent.vruntime
			rq.requeueLocked(parent.tid, parent.vruntime)
		}
		parent.mu.Unlock()
	}

	t.onRq = true
	vruntime := t.vruntime
	rq.insertTaskLocked(tid, vruntime, first, t.load)
	t.mu.Unlock()
	rq.mu.Unlock()

	sys.metrics.TaskSpawned(e.cpu)
	sys.emit(Event{Kind: EventSpawn, Tid: tid, CPU: e.cpu, Vruntime: vruntime})

	return &Handle{tid: tid, task: t, coop: ct, done: t.done}, t, nil
}

// Run loops the executor until ctx is done. The idle task stands in
// for the halt instruction: when nothing else is runnable the loop
// parks until a wake arrives or a latency period elapses, the latter
// so stealing is retried periodically.
func (e *Executor) Run(ctx context.Context) error {
	latency := time.Duration(e.sys.cfg.LatencyNS)
	for {
		if ctx.Err() != nil {
			return nil
		}
		ranIdle := e.tickOnce()
		if ranIdle && e.rq.idleOnly() {
			e.waitForWork(ctx, latency)
		}
	}
}

// tickOnce runs one scheduling cycle: pick, run to suspension, then
// account. Returns whether the dispatched task was the idle task.
func (e *Executor) tickOnce() bool {
	tid, task, runnable := e.rq.popTaskToRun()
	result := runnable.Run()

	rq := e.rq
	rq.mu.Lock()
	if result == coop.Completed {
		task.mu.Lock()
		rq.removeTaskLocked(task)
		task.mu.Unlock()
		e.sys.finishTask(task, e.cpu)
	} else {
		// A yield re-readied the task already. No ready entry means it
		// blocked on an external event: it leaves the runnable
		// population until its wake fires.
		task.mu.Lock()
		if _, queued := rq.keys[tid]; !queued && rq.current == task {
			task.onRq = false
			rq.nrRunning--
			rq.load = rq.load.Sub(task.load)
			rq.current = nil
			rq.sys.metrics.QueueDepth(rq.cpu, rq.nrRunning)
		}
		task.mu.Unlock()
	}
	rq.taskTickLocked(task)
	rq.mu.Unlock()

	return tid == e.idleTid
}

func (e *Executor) waitForWork(ctx context.Context, latency time.Duration) {
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-e.rq.notify:
	case <-timer.C:
	}
}
