package sched

import (
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml. All durations are nanoseconds.
type Config struct {
	// LatencyNS is the targeted preemption latency for CPU-bound tasks:
	// the period within which every runnable task should get one turn.
	//
	// NOTE: this is not a timeslice length - slices here are of
	// variable length and have no persistent notion like in
	// traditional, time-slice based scheduling.
	LatencyNS uint64 `yaml:"latency_ns"` // 6_000_000 (by default)

	// MinGranularityNS is the minimal preemption granularity for
	// CPU-bound tasks. A task that has run for less than this is never
	// preempted, regardless of vruntime spread.
	MinGranularityNS uint64 `yaml:"min_granularity_ns"` // 750_000 (by default)

	// NrLatency is latency_ns / min_granularity_ns: above this many
	// runnable tasks the period stretches instead of the slices
	// shrinking below the granularity floor.
	NrLatency int `yaml:"nr_latency"` // 8 (by default)

	GentleFairSleepers bool `yaml:"gentle_fair_sleepers"` // true (by default)
	StartDebit         bool `yaml:"start_debit"`          // true (by default)
	ChildRunsFirst     bool `yaml:"child_runs_first"`     // false (by default)

	// EventBuffer is the capacity of the trace event channel.
	EventBuffer int `yaml:"event_buffer"` // 256 (by default)
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		LatencyNS:          6_000_000,
		MinGranularityNS:   750_000,
		NrLatency:          8,
		GentleFairSleepers: true,
		StartDebit:         true,
		ChildRunsFirst:     false,
		EventBuffer:        256,
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only.
// A missing or unreadable file also falls back to the defaults.
func Load(path string) Config {
	cfg := DefaultConfig()

	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, &cfg)

	// sanity clamps
	if cfg.LatencyNS == 0 {
		cfg.LatencyNS = 6_000_000
	}
	if cfg.MinGranularityNS == 0 {
		cfg.MinGranularityNS = 750_000
	}
	if cfg.MinGranularityNS > cfg.LatencyNS {
		cfg.MinGranularityNS = cfg.LatencyNS
	}
	if cfg.NrLatency <= 0 {
		cfg.NrLatency = 8
	}
	if cfg.EventBuffer < 0 {
		cfg.EventBuffer = 256
	}

	return cfg
}

// features derives the policy bitset from the config toggles.
func (c Config) features() Features {
	var f Features
	if c.GentleFairSleepers {
		f |= GentleFairSleepers
	}
	if c.StartDebit {
		f |= StartDebit
	}
	if c.ChildRunsFirst {
		f |= ChildRunsFirst
	}
	return f
}
