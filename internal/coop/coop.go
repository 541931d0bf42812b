// Package coop provides the cooperative execution substrate the
// scheduler multiplexes: a task is a plain function hosted on its own
// goroutine that only gives up the CPU at explicit suspension points.
// Each time a task is ready to run, the scheduler receives a Runnable
// that resumes it exactly once, up to the next suspension or to
// completion.
package coop

import (
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// Result reports how a dispatch of a task ended.
type Result int

const (
	// Yielded means the task suspended and will be handed back to the
	// scheduler through its schedule callback once it is ready again.
	Yielded Result = iota
	// Completed means the task body returned (or unwound after a
	// cancel) and will never run again.
	Completed
)

// Body is a cooperative computation. It must only block through the
// Yield it is given.
type Body func(*Yield)

// ScheduleFunc is invoked whenever a suspended task becomes ready to
// run again. The scheduler wires this to its wake path.
type ScheduleFunc func(*Runnable)

// Host owns the goroutines that back task bodies. Bodies park between
// dispatches, so the pool capacity must not bound the number of live
// tasks; the pool is created with infinite capacity and only serves to
// recycle goroutines across short-lived tasks.
type Host struct {
	pool *ants.Pool
}

// NewHost creates a host backed by an unbounded goroutine pool.
func NewHost() (*Host, error) {
	pool, err := ants.NewPool(-1)
	if err != nil {
		return nil, err
	}
	return &Host{pool: pool}, nil
}

// Close releases the pool. Tasks already hosted keep running.
func (h *Host) Close() {
	h.pool.Release()
}

// Task is one cooperative computation. The zero value is not usable;
// create tasks with NewTask.
type Task struct {
	resume   chan struct{}
	parked   chan Result
	schedule ScheduleFunc
	canceled atomic.Bool
}

// canceledUnwind is the panic payload used to unwind a canceled body
// from its suspension point.
type canceledUnwind struct{}

// NewTask hosts body on a goroutine from h. The task does not run
// until its first Runnable is dispatched; obtain it with Runnable and
// hand it to the scheduler. schedule is called on every later wake.
func NewTask(h *Host, body Body, schedule ScheduleFunc) (*Task, error) {
	t := &Task{
		resume:   make(chan struct{}),
		parked:   make(chan Result),
		schedule: schedule,
	}
	if err := h.pool.Submit(func() { t.main(body) }); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Task) main(body Body) {
	<-t.resume
	t.invoke(body)
	t.parked <- Completed
}

func (t *Task) invoke(body Body) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(canceledUnwind); ok {
				return
			}
			panic(r)
		}
	}()
	if t.canceled.Load() {
		return
	}
	body(&Yield{task: t})
}

// Cancel requests lazy cancellation. A body that already started
// unwinds at its next dispatch, running its deferred cleanup; a body
// canceled before its first dispatch never starts, so it has no
// cleanup to run. A task that is never dispatched again is never
// reclaimed, which mirrors drop-on-next-poll semantics.
func (t *Task) Cancel() {
	t.canceled.Store(true)
}

// Canceled reports whether Cancel has been called.
func (t *Task) Canceled() bool {
	return t.canceled.Load()
}

// Runnable returns a fresh one-shot resumption handle for the task.
// The scheduler must call Run at most once per handle.
func (t *Task) Runnable() *Runnable {
	return &Runnable{task: t}
}

// Runnable resumes a task exactly once.
type Runnable struct {
	task *Task
	ran  atomic.Bool
}

// Run resumes the task until its next suspension point or completion.
func (r *Runnable) Run() Result {
	if !r.ran.CompareAndSwap(false, true) {
		panic("coop: runnable run twice")
	}
	t := r.task
	t.resume <- struct{}{}
	return <-t.parked
}

// Yield is the suspension interface handed to a task body.
type Yield struct {
	task *Task
}

// park hands control back to the dispatching Runnable and blocks until
// the next dispatch. Cancellation is observed on resume.
func (y *Yield) park() {
	t := y.task
	t.parked <- Yielded
	<-t.resume
	if t.canceled.Load() {
		panic(canceledUnwind{})
	}
}

// Now suspends the task and immediately marks it ready again.
func (y *Yield) Now() {
	t := y.task
	t.schedule(t.Runnable())
	y.park()
}

// Suspend parks the task until the wake callback fires. register must
// arrange for wake to be invoked exactly once; the wake may fire from
// any goroutine, including before the task has finished parking.
func (y *Yield) Suspend(register func(wake func())) {
	t := y.task
	register(func() { t.schedule(t.Runnable()) })
	y.park()
}

// Canceled lets long-running bodies poll for cancellation between
// suspension points.
func (y *Yield) Canceled() bool {
	return y.task.canceled.Load()
}
