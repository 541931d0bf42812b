// internal/sched/event.go

package sched

import (
	"time"
)

// EventKind represents the type of scheduler event.
type EventKind int

const (
	EventSpawn EventKind = iota
	EventDispatch
	EventPreempt
	EventWake
	EventSteal
	EventFinish
)

// Event is emitted on key scheduling actions. Emission never blocks;
// events are dropped when the buffer is full.
type Event struct {
	Time     time.Time
	Kind     EventKind
	Tid      Tid
	CPU      int
	Vruntime VRuntime
	Stolen   int // number of tasks moved, EventSteal only
}

func (k EventKind) String() string {
	switch k {
	case EventSpawn:
		return "Spawn"
	case EventDispatch:
		return "Dispatch"
	case EventPreempt:
		return "Preempt"
	case EventWake:
		return "Wake"
	case EventSteal:
		return "Steal"
	case EventFinish:
		return "Finish"
	default:
		return "Unknown"
	}
}
