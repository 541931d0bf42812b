package sched

import (
	"math"
	"testing"
)

func TestNiceToWeightTable(t *testing.T) {
	if got := niceToWeight(0); got != 1024 {
		t.Fatalf("weight(0) = %d, want 1024", got)
	}
	if got := niceToWeight(MinNice); got != 88761 {
		t.Fatalf("weight(-20) = %d, want 88761", got)
	}
	if got := niceToWeight(MaxNice); got != 15 {
		t.Fatalf("weight(19) = %d, want 15", got)
	}

	// lower nice always means strictly larger weight
	for nice := MinNice; nice < MaxNice; nice++ {
		if niceToWeight(nice) <= niceToWeight(nice + 1) {
			t.Fatalf("weight(%d) = %d not greater than weight(%d) = %d",
				nice, niceToWeight(nice), nice+1, niceToWeight(nice+1))
		}
	}
}

func TestNiceToWeightPanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nice = -21")
		}
	}()
	niceToWeight(-21)
}

func TestDeltaFairNiceZeroIdentity(t *testing.T) {
	task := newSchedTask(0, nil)
	if got := task.deltaFair(123_456_789); got != 123_456_789 {
		t.Fatalf("deltaFair at nice 0 = %d, want identity", got)
	}
}

func TestCalcDeltaApproximatesDivision(t *testing.T) {
	cases := []struct {
		delta  uint64
		weight uint64
		lw     uint64
	}{
		{6_000_000, 1024, 335},
		{6_000_000, 1024, 2063},
		{750_000, 1024, 88761},
		{1_000_000_000, 335, 4111},
	}
	for _, c := range cases {
		got := CalcDelta(c.delta, c.weight, NewLoadWeight(c.lw))
		want := float64(c.delta) * float64(c.weight) / float64(c.lw)
		if math.Abs(float64(got)-want) > want*0.001+1 {
			t.Errorf("CalcDelta(%d, %d, %d) = %d, want ~%.0f",
				c.delta, c.weight, c.lw, got, want)
		}
	}
}

func TestDeltaFairWeightRatio(t *testing.T) {
	// under equal wall time, a nice-5 task's virtual clock runs
	// weight(0)/weight(5) times faster than a nice-0 task's
	t5 := newSchedTask(5, nil)
	const wall = 1_000_000
	got := t5.deltaFair(wall)
	want := float64(wall) * 1024 / 335
	if math.Abs(float64(got)-want) > want*0.01 {
		t.Fatalf("deltaFair(1ms) at nice 5 = %d, want ~%.0f", got, want)
	}
}

func TestInvWeightEdges(t *testing.T) {
	if got := NewLoadWeight(0).InvWeight(); got != ^uint32(0) {
		t.Fatalf("InvWeight(0) = %d, want 2^32-1", got)
	}
	if got := NewLoadWeight(1 << 40).InvWeight(); got != 1 {
		t.Fatalf("InvWeight(2^40) = %d, want 1", got)
	}
	if got := NewLoadWeight(1024).InvWeight(); got != ^uint32(0)/1024 {
		t.Fatalf("InvWeight(1024) = %d, want %d", got, ^uint32(0)/1024)
	}
}

func TestLoadWeightAddSub(t *testing.T) {
	lw := NewLoadWeight(1024).Add(NewLoadWeight(335))
	if lw.Weight != 1359 {
		t.Fatalf("Add: weight = %d, want 1359", lw.Weight)
	}
	lw = lw.Sub(NewLoadWeight(335))
	if lw.Weight != 1024 {
		t.Fatalf("Sub: weight = %d, want 1024", lw.Weight)
	}
}
