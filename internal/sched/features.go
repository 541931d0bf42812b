// internal/sched/features.go

package sched

// Features is a bitset of scheduler policy toggles.
type Features uint32

const (
	// GentleFairSleepers halves the sleeper bonus, letting sleepers run
	// sooner without tons of them ripping the spread apart.
	GentleFairSleepers Features = 1 << iota
	// StartDebit places new tasks one fair slice behind the queue floor
	// so they do not starve already running tasks.
	StartDebit
	// ChildRunsFirst swaps parent and child vruntimes at fork when the
	// child would otherwise be placed behind the parent.
	ChildRunsFirst
)

// DefaultFeatures matches the stock policy: bounded sleeper bonus and
// start debit on, parent runs first after fork.
func DefaultFeatures() Features {
	return GentleFairSleepers | StartDebit
}

// Has reports whether all bits of f2 are set.
func (f Features) Has(f2 Features) bool {
	return f&f2 == f2
}
