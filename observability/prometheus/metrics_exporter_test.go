package prometheus

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExporterRecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("fairsched", reg)
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.TaskSpawned(0)
	exporter.TaskFinished(0)
	exporter.TaskDispatched(0)
	exporter.TaskDispatched(0)
	exporter.TaskPreempted(1)
	exporter.TasksStolen(0, 1, 3)
	exporter.QueueDepth(0, 4)

	if got := testutil.ToFloat64(exporter.spawnTotal.WithLabelValues("0")); got != 1 {
		t.Fatalf("spawn total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.finishTotal.WithLabelValues("0")); got != 1 {
		t.Fatalf("finish total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.dispatchTotal.WithLabelValues("0")); got != 2 {
		t.Fatalf("dispatch total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(exporter.preemptTotal.WithLabelValues("1")); got != 1 {
		t.Fatalf("preempt total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.stealTotal.WithLabelValues("0", "1")); got != 3 {
		t.Fatalf("steal total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(exporter.nrRunning.WithLabelValues("0")); got != 4 {
		t.Fatalf("nr_running = %v, want 4", got)
	}
}

func TestMetricsExporterDefaultNamespace(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg)
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}
	exporter.TaskSpawned(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "fairsched_tasks_spawned_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("empty namespace did not fall back to fairsched")
	}
}

func TestMetricsExporterDuplicateRegistration(t *testing.T) {
	reg := prom.NewRegistry()
	if _, err := NewMetricsExporter("fairsched", reg); err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	if _, err := NewMetricsExporter("fairsched", reg); err == nil {
		t.Fatal("second registration on the same registry should fail")
	}
}

func TestMetricsExporterNilRegisterer(t *testing.T) {
	if _, err := NewMetricsExporter("fairsched", nil); err == nil {
		t.Fatal("nil registerer should fail")
	}
}
