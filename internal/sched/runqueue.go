// internal/sched/runqueue.go

package sched

import (
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"

	"fairsched/internal/coop"
)

// nodeKey orders the ready tree: ascending vruntime first (signed
// comparison, wraparound safe), tid as the tie break.
type nodeKey struct {
	vruntime VRuntime
	tid      Tid
}

func compareNodeKeys(a, b interface{}) int {
	ka, kb := a.(nodeKey), b.(nodeKey)
	if d := ka.vruntime.Delta(kb.vruntime); d != 0 {
		if d < 0 {
			return -1
		}
		return 1
	}
	switch {
	case ka.tid < kb.tid:
		return -1
	case ka.tid > kb.tid:
		return 1
	default:
		return 0
	}
}

// RunQueue holds one CPU's runnable task population: a ready set
// ordered by vruntime, the currently running task, aggregate load and
// the monotonic min-vruntime floor.
//
// Lock discipline: rq.mu before task locks. A second run queue lock
// (a steal victim's) is only ever acquired with TryLock, so stealers
// never block and lock order between queues cannot deadlock.
type RunQueue struct {
	mu  sync.Mutex
	cpu int
	sys *System

	ready *redblacktree.Tree // nodeKey -> *coop.Runnable
	keys  map[Tid]nodeKey    // locate a queued task's tree entry

	current     *SchedTask
	load        LoadWeight
	minVruntime VRuntime
	nrRunning   int

	notify chan struct{} // pulsed on insert; the idle wait parks on it
}

func newRunQueue(sys *System, cpu int) *RunQueue {
	return &RunQueue{
		cpu:    cpu,
		sys:    sys,
		ready:  redblacktree.NewWith(compareNodeKeys),
		keys:   make(map[Tid]nodeKey),
		notify: make(chan struct{}, 1),
	}
}

// schedPeriod is the period in which each runnable task runs once.
//
// When there are too many tasks (nr_latency) we have to stretch this
// period because otherwise the slices get too small.
//
// p = (nr <= nl) ? l : l*nr/nl
func (rq *RunQueue) schedPeriod(nrRunning int) uint64 {
	if nrRunning > rq.sys.cfg.NrLatency {
		return uint64(nrRunning) * rq.sys.cfg.MinGranularityNS
	}
	return rq.sys.cfg.LatencyNS
}

// schedSliceLocked is the wall-time slice owed to t this period,
// proportional to its weight share: s = p * w/rw. A task not yet on
// the queue contributes its own weight to the total. Callers hold
// rq.mu and t.mu.
func (rq *RunQueue) schedSliceLocked(t *SchedTask) uint64 {
	nr := rq.nrRunning
	load := rq.load
	if !t.onRq {
		nr++
		load = load.Add(t.load)
	}
	return CalcDelta(rq.schedPeriod(nr), t.load.Weight, load)
}

// schedVsliceLocked is the slice of a to-be-inserted task expressed in
// vruntime units: vs = s/w.
func (rq *RunQueue) schedVsliceLocked(t *SchedTask) uint64 {
	return t.deltaFair(rq.schedSliceLocked(t))
}

// insertTaskLocked adds a ready entry. The currently running task is
// already accounted, so re-readying it (a yield) leaves the counters
// alone. Callers hold rq.mu.
func (rq *RunQueue) insertTaskLocked(tid Tid, vruntime VRuntime, r *coop.Runnable, load LoadWeight) {
	if rq.current == nil || rq.current.tid != tid {
		rq.nrRunning++
		rq.load = rq.load.Add(load)
	}
	if old, ok := rq.keys[tid]; ok {
		// a duplicate ready entry would double-run the task
		rq.ready.Remove(old)
	}
	key := nodeKey{vruntime: vruntime, tid: tid}
	rq.ready.Put(key, r)
	rq.keys[tid] = key

	rq.sys.metrics.QueueDepth(rq.cpu, rq.nrRunning)
	select {
	case rq.notify <- struct{}{}:
	default:
	}
}

// removeTaskLocked takes t out of the runnable population, whether it
// sits in the ready set or is the current task. Callers hold rq.mu
// and t.mu.
func (rq *RunQueue) removeTaskLocked(t *SchedTask) {
	t.onRq = false

	queued := false
	if key, ok := rq.keys[t.tid]; ok {
		rq.ready.Remove(key)
		delete(rq.keys, t.tid)
		queued = true
	}
	isCurrent := rq.current != nil && rq.current.tid == t.tid
	if queued || isCurrent {
		rq.nrRunning--
		rq.load = rq.load.Sub(t.load)
		rq.sys.metrics.QueueDepth(rq.cpu, rq.nrRunning)
	}
	if isCurrent {
		rq.current = nil
	}
	rq.updateMinVruntimeLocked()
}

// requeueLocked re-sorts a queued task under its current vruntime.
func (rq *RunQueue) requeueLocked(tid Tid, vruntime VRuntime) {
	key, ok := rq.keys[tid]
	if !ok {
		return
	}
	r, _ := rq.ready.Get(key)
	rq.ready.Remove(key)
	newKey := nodeKey{vruntime: vruntime, tid: tid}
	rq.ready.Put(newKey, r)
	rq.keys[tid] = newKey
}

// peekKeyLocked returns the lowest-vruntime ready entry. The idle task
// invariant guarantees the ready set is never empty between dispatches.
func (rq *RunQueue) peekKeyLocked() nodeKey {
	left := rq.ready.Left()
	if left == nil {
		panic("sched: run queue empty, idle task invariant violated")
	}
	return left.Key.(nodeKey)
}

// peekSkippingLocked returns the lowest-vruntime ready entry whose tid
// differs from skip.
func (rq *RunQueue) peekSkippingLocked(skip Tid) nodeKey {
	it := rq.ready.Iterator()
	for it.Next() {
		key := it.Key().(nodeKey)
		if key.tid != skip {
			return key
		}
	}
	panic("sched: no ready task besides current")
}

// popTaskToRun makes the scheduling decision and dequeues the winner.
//
// Preemption of the current task happens when it is no longer
// runnable, has overrun its fair slice, or leads the next ready task's
// vruntime by more than that slice. A task that has run for less than
// the minimum granularity is never preempted: a task that missed
// wakeup preemption by a narrow margin shouldn't have to wait for a
// full slice, and the floor keeps heavy load from thrashing. The
// granularity check is against the time since the task was last
// switched to, not since its last yield: re-picking the current task
// does not reset the burst snapshot, so a task yielding in short
// bursts cannot shelter behind the floor indefinitely. An idle
// current is a fallback, not a contender: it never holds the CPU
// while real work is ready.
func (rq *RunQueue) popTaskToRun() (Tid, *SchedTask, *coop.Runnable) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.nrRunning < 2 {
		rq.tryStealTasksLocked()
	}

	var nextTid Tid
	preempted := false
	if rq.nrRunning < 2 || rq.current == nil {
		nextTid = rq.peekKeyLocked().tid
	} else {
		cur := rq.current
		cur.mu.Lock()
		ideal := rq.schedSliceLocked(cur)
		deltaExec := cur.sumExecRuntime - cur.prevSumExecRuntime
		curTid := cur.tid
		curVruntime := cur.vruntime
		curOnRq := cur.onRq
		curIsIdle := cur.isIdle
		cur.mu.Unlock()

		var preempt bool
		switch {
		case curIsIdle || !curOnRq || deltaExec > ideal:
			preempt = true
		case deltaExec < rq.sys.cfg.MinGranularityNS:
			preempt = false
		default:
			next := rq.peekKeyLocked()
			preempt = curVruntime.Delta(next.vruntime) > int64(ideal)
		}
		if preempt {
			nextTid = rq.peekSkippingLocked(curTid).tid
			preempted = curOnRq && !curIsIdle
		} else {
			nextTid = curTid
		}
	}

	key, ok := rq.keys[nextTid]
	if !ok {
		panic("sched: picked task has no ready entry")
	}
	value, _ := rq.ready.Get(key)
	rq.ready.Remove(key)
	delete(rq.keys, nextTid)

	task := rq.sys.tasks.get(nextTid)
	if task == nil {
		panic("sched: picked task missing from registry")
	}

	now := rq.sys.clock.NowNanos()
	switching := rq.current == nil || rq.current.tid != nextTid
	task.mu.Lock()
	task.execStart = now
	if switching {
		// the snapshot marks the start of the task's reign, not of one
		// burst; it survives re-picks so deltaExec accumulates
		task.prevSumExecRuntime = task.sumExecRuntime
	}
	vruntime := task.vruntime
	task.mu.Unlock()
	rq.current = task

	rq.sys.metrics.TaskDispatched(rq.cpu)
	rq.sys.emit(Event{Kind: EventDispatch, Tid: nextTid, CPU: rq.cpu, Vruntime: vruntime})
	if preempted {
		rq.sys.metrics.TaskPreempted(rq.cpu)
		rq.sys.emit(Event{Kind: EventPreempt, Tid: nextTid, CPU: rq.cpu, Vruntime: vruntime})
	}

	return nextTid, task, value.(*coop.Runnable)
}

// taskTickLocked charges t's elapsed burst, re-sorts its ready entry
// if queued and refreshes the floor. Callers hold rq.mu only.
func (rq *RunQueue) taskTickLocked(t *SchedTask) {
	now := rq.sys.clock.NowNanos()
	t.mu.Lock()
	t.tickAt(now)
	tid := t.tid
	vruntime := t.vruntime
	t.mu.Unlock()

	rq.requeueLocked(tid, vruntime)
	rq.updateMinVruntimeLocked()
}

// updateMinVruntimeLocked advances the floor towards the minimum of
// the current task's vruntime and the leftmost ready entry. The floor
// never regresses: tasks must not gain time by the queue being placed
// backwards.
func (rq *RunQueue) updateMinVruntimeLocked() {
	vruntime := rq.minVruntime
	if cur := rq.current; cur != nil {
		cur.mu.Lock()
		if cur.onRq {
			vruntime = cur.vruntime
		}
		cur.mu.Unlock()
	}
	if left := rq.ready.Left(); left != nil {
		next := left.Key.(nodeKey).vruntime
		if rq.current == nil {
			vruntime = next
		} else if next.Less(vruntime) {
			vruntime = next
		}
	}
	rq.minVruntime = maxVruntime(rq.minVruntime, vruntime)
}

// idleOnly reports whether the queue holds nothing but the idle task.
func (rq *RunQueue) idleOnly() bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.nrRunning <= 1
}

// tryStealTasksLocked scans the other run queues round-robin, starting
// after this CPU, for a victim with more than two runnable tasks.
// Lock contention is not an error: a victim whose lock is busy is
// skipped. At most one victim is robbed per attempt.
func (rq *RunQueue) tryStealTasksLocked() {
	for _, victim := range rq.sys.otherRunQueues(rq.cpu) {
		if !victim.mu.TryLock() {
			continue
		}
		if victim.nrRunning <= 2 {
			victim.mu.Unlock()
			continue
		}
		moved := rq.stealFromLocked(victim)
		victim.mu.Unlock()
		if moved > 0 {
			rq.sys.metrics.TasksStolen(victim.cpu, rq.cpu, moved)
			rq.sys.emit(Event{Kind: EventSteal, CPU: rq.cpu, Stolen: moved})
		}
		return
	}
}

// stealFromLocked migrates up to half of victim's ready entries here.
// The victim's current task is never in its ready set (only a
// re-readied yield entry is, which is skipped by tid), and idle tasks
// never migrate. Each stolen task's vruntime is rebased from the
// victim's floor onto ours: vruntime is only meaningful relative to
// its own queue's min_vruntime. Callers hold rq.mu and victim.mu.
func (rq *RunQueue) stealFromLocked(victim *RunQueue) int {
	budget := victim.ready.Size() / 2
	candidates := make([]nodeKey, 0, budget)
	it := victim.ready.Iterator()
	for it.Next() {
		if len(candidates) == budget {
			break
		}
		key := it.Key().(nodeKey)
		if victim.current != nil && victim.current.tid == key.tid {
			continue
		}
		candidates = append(candidates, key)
	}

	rebase := uint64(rq.minVruntime) - uint64(victim.minVruntime)
	moved := 0
	for _, key := range candidates {
		task := rq.sys.tasks.get(key.tid)
		if task == nil {
			continue
		}
		if !task.mu.TryLock() {
			continue
		}
		if task.isIdle || task.runQueue != victim {
			task.mu.Unlock()
			continue
		}

		value, _ := victim.ready.Get(key)
		victim.ready.Remove(key)
		delete(victim.keys, key.tid)
		victim.nrRunning--
		victim.load = victim.load.Sub(task.load)

		task.vruntime = task.vruntime.Add(rebase)
		task.runQueue = rq
		newKey := nodeKey{vruntime: task.vruntime, tid: key.tid}
		rq.ready.Put(newKey, value)
		rq.keys[key.tid] = newKey
		rq.nrRunning++
		rq.load = rq.load.Add(task.load)

		task.mu.Unlock()
		moved++
	}

	if moved > 0 {
		victim.updateMinVruntimeLocked()
		rq.updateMinVruntimeLocked()
		rq.sys.metrics.QueueDepth(victim.cpu, victim.nrRunning)
		rq.sys.metrics.QueueDepth(rq.cpu, rq.nrRunning)
	}
	return moved
}
