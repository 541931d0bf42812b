package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"fairsched/internal/clock"
	"fairsched/internal/job"
	"fairsched/internal/ktimer"
	"fairsched/internal/sched"
)

func main() {
	path := "config.yml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg := sched.Load(path)
	fmt.Printf("Loaded config: %+v\n", cfg)

	sys, err := sched.New(cfg, runtime.NumCPU())
	if err != nil {
		fmt.Fprintln(os.Stderr, "init:", err)
		os.Exit(1)
	}
	defer sys.Close()

	if csvPath := os.Getenv("FAIRSCHED_CSV"); csvPath != "" {
		if err := sys.EnableCSVLogging(csvPath); err != nil {
			fmt.Fprintln(os.Stderr, "csv:", err)
			os.Exit(1)
		}
	}
	sys.SetEventSink(func(ev sched.Event) {
		fmt.Printf("%s [%8s] cpu=%d tid=%d vruntime=%d\n",
			ev.Time.Format("Jan 02 15:04:05.000"),
			ev.Kind, ev.CPU, ev.Tid, uint64(ev.Vruntime))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	clk := clock.NewMonotonic()
	timer := ktimer.New(clk)
	go timer.Drive(ctx, time.Millisecond)

	// A mix of CPU hogs at different priorities plus some sleepers,
	// spread over the CPUs.
	var handles []*sched.Handle
	for i := 0; i < sys.CPUCount(); i++ {
		for _, nice := range []int{-5, 0, 5} {
			h, _, err := sys.Spawn(i, job.Burn(clk, 200*time.Millisecond, 2*time.Millisecond), nice, sched.SpawnOptions{})
			if err != nil {
				fmt.Fprintln(os.Stderr, "spawn:", err)
				os.Exit(1)
			}
			handles = append(handles, h)
		}
		h, _, err := sys.Spawn(i, job.Sleep(timer, 500*time.Millisecond), 0, sched.SpawnOptions{})
		if err != nil {
			fmt.Fprintln(os.Stderr, "spawn:", err)
			os.Exit(1)
		}
		handles = append(handles, h)
	}

	go func() {
		for _, h := range handles {
			if err := h.Join(ctx); err != nil {
				return
			}
		}
		cancel()
	}()

	if err := sys.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		os.Exit(1)
	}
}
