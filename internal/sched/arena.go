// internal/sched/arena.go

package sched

import "sync"

// Tid is a stable handle to an active scheduling entity: a slot index
// in the low 32 bits and a generation counter in the high 32 bits.
// The generation catches lookups of recycled slots.
type Tid uint64

func makeTid(index, gen uint32) Tid {
	return Tid(uint64(gen)<<32 | uint64(index))
}

func (t Tid) index() uint32 { return uint32(t) }
func (t Tid) gen() uint32   { return uint32(t >> 32) }

type arenaSlot struct {
	task *SchedTask
	gen  uint32
}

// taskArena is the process-wide table of active scheduling entities.
// Read-mostly: lookups happen on every steal and remote wake, writes
// only on spawn and completion.
//
// Lock discipline: the arena lock is a leaf. It is never held while
// acquiring a run queue or task lock.
type taskArena struct {
	mu    sync.RWMutex
	slots []arenaSlot
	free  []uint32
}

// add registers t, assigns its Tid and returns it.
func (a *taskArena) add(t *SchedTask) Tid {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{})
		idx = uint32(len(a.slots) - 1)
	}
	a.slots[idx].task = t
	tid := makeTid(idx, a.slots[idx].gen)
	t.tid = tid
	return tid
}

// get returns the task for tid, or nil if the tid is stale or unknown.
func (a *taskArena) get(tid Tid) *SchedTask {
	a.mu.RLock()
	defer a.mu.RUnlock()

	idx := tid.index()
	if int(idx) >= len(a.slots) {
		return nil
	}
	slot := a.slots[idx]
	if slot.gen != tid.gen() {
		return nil
	}
	return slot.task
}

// remove frees tid's slot, bumping its generation so stale handles
// stop resolving. Returns the removed task, or nil if already gone.
func (a *taskArena) remove(tid Tid) *SchedTask {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := tid.index()
	if int(idx) >= len(a.slots) {
		return nil
	}
	slot := &a.slots[idx]
	if slot.gen != tid.gen() || slot.task == nil {
		return nil
	}
	t := slot.task
	slot.task = nil
	slot.gen++
	a.free = append(a.free, idx)
	return t
}

// size returns the number of live entries.
func (a *taskArena) size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}
