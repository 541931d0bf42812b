package coop

import (
	"sync/atomic"
	"testing"
	"time"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, err := NewHost()
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

func TestRunToCompletion(t *testing.T) {
	h := newTestHost(t)
	var ran atomic.Bool
	task, err := NewTask(h, func(y *Yield) {
		ran.Store(true)
	}, func(r *Runnable) {
		t.Error("schedule called for a body that never suspends")
	})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if got := task.Runnable().Run(); got != Completed {
		t.Fatalf("Run = %v, want Completed", got)
	}
	if !ran.Load() {
		t.Fatal("body did not run")
	}
}

func TestYieldHandsBackRunnable(t *testing.T) {
	h := newTestHost(t)
	ready := make(chan *Runnable, 1)
	var stage atomic.Int32
	task, err := NewTask(h, func(y *Yield) {
		stage.Store(1)
		y.Now()
		stage.Store(2)
	}, func(r *Runnable) { ready <- r })
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}

	if got := task.Runnable().Run(); got != Yielded {
		t.Fatalf("first Run = %v, want Yielded", got)
	}
	if stage.Load() != 1 {
		t.Fatalf("stage = %d after yield, want 1", stage.Load())
	}

	next := <-ready
	if got := next.Run(); got != Completed {
		t.Fatalf("second Run = %v, want Completed", got)
	}
	if stage.Load() != 2 {
		t.Fatalf("stage = %d after completion, want 2", stage.Load())
	}
}

func TestSuspendParksUntilWake(t *testing.T) {
	h := newTestHost(t)
	ready := make(chan *Runnable, 1)
	wakes := make(chan func(), 1)
	task, err := NewTask(h, func(y *Yield) {
		y.Suspend(func(wake func()) { wakes <- wake })
	}, func(r *Runnable) { ready <- r })
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}

	if got := task.Runnable().Run(); got != Yielded {
		t.Fatalf("Run = %v, want Yielded", got)
	}
	select {
	case <-ready:
		t.Fatal("task rescheduled before its wake fired")
	case <-time.After(10 * time.Millisecond):
	}

	wake := <-wakes
	wake()
	next := <-ready
	if got := next.Run(); got != Completed {
		t.Fatalf("Run after wake = %v, want Completed", got)
	}
}

func TestRunnableRunTwicePanics(t *testing.T) {
	h := newTestHost(t)
	task, err := NewTask(h, func(y *Yield) {}, func(r *Runnable) {})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	r := task.Runnable()
	r.Run()

	defer func() {
		if recover() == nil {
			t.Fatal("second Run did not panic")
		}
	}()
	r.Run()
}

func TestCancelBeforeFirstDispatch(t *testing.T) {
	h := newTestHost(t)
	var ran atomic.Bool
	task, err := NewTask(h, func(y *Yield) {
		ran.Store(true)
	}, func(r *Runnable) {})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	task.Cancel()
	if !task.Canceled() {
		t.Fatal("Canceled() = false after Cancel")
	}
	if got := task.Runnable().Run(); got != Completed {
		t.Fatalf("Run = %v, want Completed", got)
	}
	if ran.Load() {
		t.Fatal("canceled body still ran")
	}
}

func TestCancelUnwindsAtSuspension(t *testing.T) {
	h := newTestHost(t)
	ready := make(chan *Runnable, 1)
	var stage atomic.Int32
	var cleaned atomic.Bool
	task, err := NewTask(h, func(y *Yield) {
		defer cleaned.Store(true)
		stage.Store(1)
		y.Now()
		stage.Store(2)
	}, func(r *Runnable) { ready <- r })
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}

	if got := task.Runnable().Run(); got != Yielded {
		t.Fatalf("first Run = %v, want Yielded", got)
	}
	task.Cancel()

	next := <-ready
	if got := next.Run(); got != Completed {
		t.Fatalf("Run after Cancel = %v, want Completed", got)
	}
	if stage.Load() != 1 {
		t.Fatal("body advanced past its suspension point after Cancel")
	}
	if !cleaned.Load() {
		t.Fatal("deferred cleanup skipped on unwind")
	}
}

func TestCanceledPoll(t *testing.T) {
	h := newTestHost(t)
	ready := make(chan *Runnable, 1)
	polled := make(chan bool, 2)
	task, err := NewTask(h, func(y *Yield) {
		polled <- y.Canceled()
	}, func(r *Runnable) { ready <- r })
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	task.Runnable().Run()
	if <-polled {
		t.Fatal("Canceled() = true before Cancel")
	}
}
