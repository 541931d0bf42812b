package prometheus

import (
	"errors"
	"fmt"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	"fairsched/internal/sched"
)

// MetricsExporter adapts sched.Metrics to Prometheus collectors.
type MetricsExporter struct {
	spawnTotal    *prom.CounterVec
	finishTotal   *prom.CounterVec
	dispatchTotal *prom.CounterVec
	preemptTotal  *prom.CounterVec
	stealTotal    *prom.CounterVec
	nrRunning     *prom.GaugeVec
}

var _ sched.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for
// sched.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "fairsched"
	}
	if reg == nil {
		return nil, errors.New("prometheus registerer must not be nil")
	}

	e := &MetricsExporter{
		spawnTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_spawned_total",
			Help:      "Tasks spawned, by CPU.",
		}, []string{"cpu"}),
		finishTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks completed and reclaimed, by CPU.",
		}, []string{"cpu"}),
		dispatchTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Scheduling decisions, by CPU.",
		}, []string{"cpu"}),
		preemptTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "preemptions_total",
			Help:      "Times a running task was set aside for a fairer one, by CPU.",
		}, []string{"cpu"}),
		stealTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_stolen_total",
			Help:      "Tasks migrated by work stealing, by donor and thief CPU.",
		}, []string{"from", "to"}),
		nrRunning: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "nr_running",
			Help:      "Runnable tasks on a CPU's queue, idle task included.",
		}, []string{"cpu"}),
	}

	collectors := []prom.Collector{
		e.spawnTotal, e.finishTotal, e.dispatchTotal,
		e.preemptTotal, e.stealTotal, e.nrRunning,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return e, nil
}

func cpuLabel(cpu int) string { return strconv.Itoa(cpu) }

func (e *MetricsExporter) TaskSpawned(cpu int) {
	e.spawnTotal.WithLabelValues(cpuLabel(cpu)).Inc()
}

func (e *MetricsExporter) TaskFinished(cpu int) {
	e.finishTotal.WithLabelValues(cpuLabel(cpu)).Inc()
}

func (e *MetricsExporter) TaskDispatched(cpu int) {
	e.dispatchTotal.WithLabelValues(cpuLabel(cpu)).Inc()
}

func (e *MetricsExporter) TaskPreempted(cpu int) {
	e.preemptTotal.WithLabelValues(cpuLabel(cpu)).Inc()
}

func (e *MetricsExporter) TasksStolen(fromCPU, toCPU, count int) {
	e.stealTotal.WithLabelValues(cpuLabel(fromCPU), cpuLabel(toCPU)).Add(float64(count))
}

func (e *MetricsExporter) QueueDepth(cpu, depth int) {
	e.nrRunning.WithLabelValues(cpuLabel(cpu)).Set(float64(depth))
}
