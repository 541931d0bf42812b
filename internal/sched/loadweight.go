// internal/sched/loadweight.go

package sched

import "math/bits"

// Nice levels are multiplicative, with a gentle 10% change for every
// nice level changed. I.e. when a CPU-bound task goes from nice 0 to
// nice 1, it will get ~10% less CPU time than another CPU-bound task
// that remained on nice 0.
//
// The "10% effect" is relative and cumulative: from _any_ nice level,
// if you go up 1 level, it's -10% CPU usage, if you go down 1 level
// it's +10% CPU usage. (to achieve that we use a multiplier of 1.25.
// If a task goes up by ~10% and another task goes down by ~10% then
// the relative distance between them is ~25%.)
var niceToWeightTable = [40]uint64{
	/* -20 */ 88761, 71755, 56483, 46273, 36291,
	/* -15 */ 29154, 23254, 18705, 14949, 11916,
	/* -10 */ 9548, 7620, 6100, 4904, 3906,
	/*  -5 */ 3121, 2501, 1991, 1586, 1277,
	/*   0 */ 1024, 820, 655, 526, 423,
	/*   5 */ 335, 272, 215, 172, 137,
	/*  10 */ 110, 87, 70, 56, 45,
	/*  15 */ 36, 29, 23, 18, 15,
}

const (
	// MinNice is the highest priority a task can be spawned at.
	MinNice = -20
	// MaxNice is the lowest priority; the idle task runs at this level.
	MaxNice = 19

	// NiceZeroWeight is the weight of a nice-0 task. Weight-normalized
	// virtual time is expressed in units of this weight.
	NiceZeroWeight uint64 = 1024
)

// niceToWeight maps a nice value in [MinNice, MaxNice] to its table
// weight. Spawn validates the range; an out-of-range value here is a
// scheduler bug.
func niceToWeight(nice int) uint64 {
	if nice < MinNice || nice > MaxNice {
		panic("sched: nice value out of range")
	}
	return niceToWeightTable[nice+20]
}

const (
	wmultConst uint32 = ^uint32(0)
	wmultShift uint   = 32
)

// LoadWeight is a task's (or queue's) CPU entitlement, with a cached
// inverse used to turn the per-tick division in CalcDelta into a
// multiply and shift.
type LoadWeight struct {
	Weight    uint64
	invWeight uint32
}

// NewLoadWeight builds a LoadWeight; the inverse is computed lazily.
func NewLoadWeight(weight uint64) LoadWeight {
	return LoadWeight{Weight: weight}
}

// InvWeight returns floor(2^32 / Weight), saturating to 2^32-1 for a
// zero weight and to 1 for weights that do not fit 32 bits.
func (lw LoadWeight) InvWeight() uint32 {
	switch {
	case lw.invWeight != 0:
		return lw.invWeight
	case lw.Weight == 0:
		return wmultConst
	case lw.Weight <= uint64(wmultConst):
		return wmultConst / uint32(lw.Weight)
	default:
		return 1
	}
}

// Add returns the sum of two weights. The cached inverse is dropped.
func (lw LoadWeight) Add(other LoadWeight) LoadWeight {
	return NewLoadWeight(lw.Weight + other.Weight)
}

// Sub returns the difference of two weights.
func (lw LoadWeight) Sub(other LoadWeight) LoadWeight {
	return NewLoadWeight(lw.Weight - other.Weight)
}

// CalcDelta computes delta_exec * weight / lw.Weight as
//
//	(delta_exec * (weight * lw.inv_weight)) >> wmultShift
//
// normalizing the factor to fit 32 bits and compensating through the
// shift. Either weight is NiceZeroWeight and the inverse fits 32 bits,
// giving shift >= 22, or weight <= lw.Weight (lw being a queue total),
// so the quotient is <= 1 and the shift stays positive.
func CalcDelta(deltaExec uint64, weight uint64, lw LoadWeight) uint64 {
	fact := weight
	shift := wmultShift

	for fact>>32 != 0 {
		fact >>= 1
		shift--
	}

	fact *= uint64(lw.InvWeight())

	for fact>>32 != 0 {
		fact >>= 1
		shift--
	}

	hi, lo := bits.Mul64(deltaExec, fact)
	return hi<<(64-shift) | lo>>shift
}
