// internal/sched/system.go

package sched

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fairsched/internal/clock"
	"fairsched/internal/coop"
)

// ErrCPUCount is returned by New for a non-positive CPU count.
var ErrCPUCount = errors.New("sched: cpu count must be positive")

// System owns the whole scheduler: the registry of active scheduling
// entities and one executor per CPU. It is constructed once at boot
// and passed by reference; there is no lazily initialized global.
type System struct {
	cfg       Config
	features  Features
	clock     clock.Clock
	host      *coop.Host
	tasks     taskArena
	executors []*Executor
	metrics   Metrics
	closed    atomic.Bool

	events chan Event
	sink   func(Event)

	csvFile   *os.File
	csvWriter *csv.Writer
}

// New builds a scheduler system with cpuCount executors, each with its
// own run queue and idle task.
func New(cfg Config, cpuCount int) (*System, error) {
	return newSystem(cfg, cpuCount, clock.NewMonotonic())
}

func newSystem(cfg Config, cpuCount int, clk clock.Clock) (*System, error) {
	if cpuCount <= 0 {
		return nil, ErrCPUCount
	}
	host, err := coop.NewHost()
	if err != nil {
		return nil, err
	}
	s := &System{
		cfg:      cfg,
		features: cfg.features(),
		clock:    clk,
		host:     host,
		metrics:  NopMetrics{},
		events:   make(chan Event, cfg.EventBuffer),
	}
	s.executors = make([]*Executor, cpuCount)
	for i := range s.executors {
		e, err := newExecutor(s, i)
		if err != nil {
			host.Close()
			return nil, err
		}
		s.executors[i] = e
	}
	return s, nil
}

// Executor returns the executor for a CPU index.
func (s *System) Executor(cpu int) *Executor {
	return s.executors[cpu]
}

// CPUCount returns the number of executors.
func (s *System) CPUCount() int {
	return len(s.executors)
}

// Spawn hosts body on the given CPU's executor.
func (s *System) Spawn(cpu int, body coop.Body, nice int, opts SpawnOptions) (*Handle, *SchedTask, error) {
	return s.Executor(cpu).Spawn(body, nice, opts)
}

// SetMetrics installs a metrics sink. Must be called before Run.
func (s *System) SetMetrics(m Metrics) {
	if m == nil {
		m = NopMetrics{}
	}
	s.metrics = m
}

// SetEventSink installs a callback for trace events. Must be called
// before Run. The callback runs on the event drain goroutine.
func (s *System) SetEventSink(fn func(Event)) {
	s.sink = fn
}

// EnableCSVLogging opens the given file path for CSV logging of
// events. Must be called before Run.
func (s *System) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)

	// write header
	w.Write([]string{"timestamp", "event", "cpu", "tid", "vruntime", "stolen"})
	w.Flush()
	s.csvFile = f
	s.csvWriter = w
	return nil
}

// Run drives every executor loop plus the event drain until ctx is
// done.
func (s *System) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.drainEvents(ctx)
		return nil
	})
	for _, e := range s.executors {
		e := e
		g.Go(func() error { return e.Run(ctx) })
	}
	return g.Wait()
}

// Close releases the coop host and the CSV log. It does not stop
// in-flight tasks; cancel Run's context first.
func (s *System) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.host.Close()
	if s.csvFile != nil {
		s.csvWriter.Flush()
		s.csvFile.Close()
	}
}

// emit queues a trace event, dropping it if the buffer is full: the
// scheduling paths must never stall on observability.
func (s *System) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case s.events <- ev:
	default:
	}
}

func (s *System) drainEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if s.csvWriter != nil {
				s.csvWriter.Flush()
			}
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *System) handleEvent(ev Event) {
	if s.csvWriter != nil {
		rec := []string{
			ev.Time.Format(time.RFC3339Nano),
			ev.Kind.String(),
			strconv.Itoa(ev.CPU),
			strconv.FormatUint(uint64(ev.Tid), 10),
			fmt.Sprintf("%d", uint64(ev.Vruntime)),
			strconv.Itoa(ev.Stolen),
		}
		s.csvWriter.Write(rec)
		s.csvWriter.Flush()
	}
	if s.sink != nil {
		s.sink(ev)
	}
}

// finishTask reclaims a completed task. Called by the executor with
// the run queue already updated.
func (s *System) finishTask(t *SchedTask, cpu int) {
	s.tasks.remove(t.tid)
	close(t.done)
	s.metrics.TaskFinished(cpu)
	s.emit(Event{Kind: EventFinish, Tid: t.tid, CPU: cpu})
}

// wakeTask is the schedule callback: it re-inserts a previously
// suspended task into its owning queue, granting the sleeper bonus.
// Sleeps up to a single latency period (half, under gentle fair
// sleepers) don't count against the task, but the credit is capped
// there and the vruntime never moves backwards, so sleepers cannot
// hoard credit.
//
// The owning queue can change concurrently (work stealing), so the
// queue reference is re-checked under both locks.
func (s *System) wakeTask(t *SchedTask, r *coop.Runnable) {
	for {
		t.mu.Lock()
		rq := t.runQueue
		t.mu.Unlock()

		rq.mu.Lock()
		t.mu.Lock()
		if t.runQueue != rq {
			t.mu.Unlock()
			rq.mu.Unlock()
			continue
		}

		thresh := s.cfg.LatencyNS
		if s.features.Has(GentleFairSleepers) {
			// Halve the sleep time's effect for a gentler spread.
			thresh >>= 1
		}
		floor := rq.minVruntime.Sub(thresh)
		t.vruntime = maxVruntime(t.vruntime, floor)
		t.onRq = true

		tid := t.tid
		vruntime := t.vruntime
		rq.insertTaskLocked(tid, vruntime, r, t.load)
		cpu := rq.cpu
		t.mu.Unlock()
		rq.mu.Unlock()

		s.emit(Event{Kind: EventWake, Tid: tid, CPU: cpu, Vruntime: vruntime})
		return
	}
}

// otherRunQueues returns the other CPUs' queues in round-robin order
// starting after cpu, the stealing scan order.
func (s *System) otherRunQueues(cpu int) []*RunQueue {
	n := len(s.executors)
	queues := make([]*RunQueue, 0, n-1)
	for i := cpu + 1; i < n; i++ {
		queues = append(queues, s.executors[i].rq)
	}
	for i := 0; i < cpu; i++ {
		queues = append(queues, s.executors[i].rq)
	}
	return queues
}

// ActiveTasks returns the number of live scheduling entities,
// including the per-CPU idle tasks.
func (s *System) ActiveTasks() int {
	return s.tasks.size()
}
