package planner

import (
	"math"
)

/*
 * Ramp synthesis ("zoid") - head/body/tail contouring for one block.
 *
 * Acceleration between two velocities follows a constant-jerk S-curve:
 * the quintic v(t) = v0 + (v1-v0) * t^3 * (10 - 15t + 6t^2) for t in [0,1],
 * which has zero acceleration and zero jerk at both endpoints. Its mean
 * velocity over the ramp is (v0+v1)/2, so ramp time is 2L/(v0+v1).
 *
 * The length needed to move between v0 and v1 at jerk J is
 *
 *     L(v0, v1, J) = (v0 + v1) * sqrt(|v1 - v0| / J)
 *
 * obtained by integrating a triangular acceleration profile peaking at
 * a = sqrt(J * |v1 - v0|).
 */

// maximum iterations for the monotonic searches. Recorded per block for
// diagnostics; the searches converge long before the cap in practice.
const maxVelocityIterations = 48

// TargetLength returns the length required to change velocity from v0 to
// v1 at this block's jerk.
func (b *Block) TargetLength(v0, v1 float64) float64 {
	return (v0 + v1) * math.Sqrt(abs(v1-v0)*b.RecipJerk)
}

// TargetVelocity returns the highest velocity reachable from v0 over
// length L at this block's jerk (acceleration only). Inverse of
// TargetLength in its second argument, solved by bounded monotonic search.
func (b *Block) TargetVelocity(v0, length float64) float64 {
	if length <= 0 {
		return v0
	}
	// bracket: L(v0, hi) grows without bound in hi
	lo, hi := v0, fmax(v0, 1.0)
	for i := 0; i < 64 && b.TargetLength(v0, hi) < length; i++ {
		hi *= 2
	}
	for i := 0; i < maxVelocityIterations; i++ {
		b.Iterations++
		mid := 0.5 * (lo + hi)
		if b.TargetLength(v0, mid) < length {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}

// DecelVelocity returns the exit velocity after braking from v0 over
// length L at this block's jerk, or 0 if the length suffices to stop.
func (b *Block) DecelVelocity(v0, length float64) float64 {
	if b.TargetLength(0, v0) <= length {
		return 0
	}
	// L(v1, v0) rises until v1 = v0/3 and then falls to zero at v0, so it
	// exceeds length for every v1 below the single root above v0/3
	lo, hi := 0.0, v0
	for i := 0; i < maxVelocityIterations; i++ {
		b.Iterations++
		mid := 0.5 * (lo + hi)
		if b.TargetLength(mid, v0) > length {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}

// meetVelocity finds the highest peak velocity v such that accelerating
// entry->v then decelerating v->exit fits exactly in length. Monotonic
// in v; the iteration count is bounded and recorded.
func (b *Block) meetVelocity(entry, exit, length float64) float64 {
	lo := fmax(entry, exit)
	hi := b.CruiseVmax
	if hi < lo {
		hi = lo
	}
	for i := 0; i < maxVelocityIterations; i++ {
		b.MeetIterations++
		mid := 0.5 * (lo + hi)
		need := b.TargetLength(entry, mid) + b.TargetLength(mid, exit)
		if need < length {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}

// rampTime returns the time in minutes for an S-curve ramp of the given
// length between two velocities. Mean ramp velocity is (v0+v1)/2.
func rampTime(length, v0, v1 float64) float64 {
	if v0+v1 <= 0 {
		return 0
	}
	return 2 * length / (v0 + v1)
}

// CalculateRamps selects head/body/tail lengths and times for a block
// given the entry velocity inherited from its predecessor. Results land
// in the runtime block record; achieved cruise/exit velocities are written
// back to bf. The hint is updated to what was actually selected.
func CalculateRamps(block *BlockRuntime, bf *Block, entryVelocity float64) {
	length := bf.Length
	entry := entryVelocity
	exit := bf.ExitVelocity
	cruise := bf.CruiseVelocity

	// The planner guarantees entry <= cruise_vmax, but replanning after a
	// hold can leave cruise below entry or exit. Pull it up.
	cruise = fmax(cruise, fmax(entry, exit))

	block.reset()
	block.CruiseVelocity = cruise
	block.ExitVelocity = exit

	// Zero-velocity block (commands and degenerate moves)
	if velocityEq(entry, 0) && velocityEq(cruise, 0) && velocityEq(exit, 0) {
		bf.Hint = ZeroVelocity
		block.BodyLength = length
		block.BodyTime = MinSegmentTime
		finishRamps(block, bf)
		return
	}

	// Perfect cruise: Ve = Vc = Vx. The backplanner's hint is advisory;
	// the entry must actually match, since a replanned predecessor can
	// deliver less than the hinted entry.
	if velocityEq(entry, cruise) && velocityEq(exit, cruise) {
		bf.Hint = PerfectCruise
		block.CruiseVelocity = cruise
		block.BodyLength = length
		block.BodyTime = length / cruise
		finishRamps(block, bf)
		return
	}

	headLen := bf.TargetLength(entry, cruise)
	tailLen := bf.TargetLength(exit, cruise)

	switch {
	case headLen+tailLen < length-velocityTolerance:
		// Cruise is reachable with room to hold it.
		block.HeadLength = headLen
		block.TailLength = tailLen
		block.BodyLength = length - headLen - tailLen
		switch {
		case velocityEq(entry, exit):
			if velocityEq(entry, 0) {
				bf.Hint = ZeroBump
			} else {
				bf.Hint = SymmetricBump
			}
		case velocityEq(exit, cruise):
			bf.Hint = MixedAccel
		case velocityEq(entry, cruise):
			bf.Hint = MixedDecel
		default:
			bf.Hint = AsymmetricBump
		}

	case headLen+tailLen < length+velocityTolerance:
		// Exact fit: bump with no body. A vanished head or tail means the
		// whole block is a single jerk-limited ramp.
		block.HeadLength = headLen
		block.TailLength = length - headLen
		switch {
		case headLen < minLengthMove:
			bf.Hint = PerfectDecel
			block.HeadLength = 0
			block.TailLength = length
		case block.TailLength < minLengthMove:
			bf.Hint = PerfectAccel
			block.HeadLength = length
			block.TailLength = 0
		case velocityEq(entry, exit):
			bf.Hint = SymmetricBump
		default:
			bf.Hint = AsymmetricBump
		}

	default:
		// Requested cruise does not fit. Find the meet velocity.
		vMeet := bf.meetVelocity(entry, exit, length)
		floor := fmax(entry, exit)
		if vMeet <= floor+velocityTolerance {
			// Degenerate bump: the block is pure acceleration or pure
			// deceleration at jerk.
			if velocityLT(entry, exit) {
				bf.Hint = PerfectAccel
				exit = fmin(exit, bf.TargetVelocity(entry, length))
				block.CruiseVelocity = exit
				block.ExitVelocity = exit
				block.HeadLength = length
				block.TailLength = 0
				block.BodyLength = 0
			} else if velocityLT(exit, entry) {
				bf.Hint = PerfectDecel
				exit = fmax(exit, bf.DecelVelocity(entry, length))
				block.CruiseVelocity = entry
				block.ExitVelocity = exit
				block.HeadLength = 0
				block.TailLength = length
				block.BodyLength = 0
			} else {
				bf.Hint = PerfectCruise
				block.CruiseVelocity = entry
				block.BodyLength = length
			}
		} else {
			block.CruiseVelocity = vMeet
			block.HeadLength = bf.TargetLength(entry, vMeet)
			block.TailLength = length - block.HeadLength
			block.BodyLength = 0
			if velocityEq(entry, exit) {
				bf.Hint = SymmetricBump
			} else {
				bf.Hint = AsymmetricBump
			}
		}
	}

	// Section times
	if block.HeadLength > 0 {
		block.HeadTime = rampTime(block.HeadLength, entry, block.CruiseVelocity)
	}
	if block.BodyLength > 0 && block.BodyTime == 0 {
		block.BodyTime = block.BodyLength / block.CruiseVelocity
	}
	if block.TailLength > 0 {
		block.TailTime = rampTime(block.TailLength, block.CruiseVelocity, block.ExitVelocity)
	}

	absorbShortSections(block, bf, entry)
	finishRamps(block, bf)
}

// absorbShortSections folds any section shorter than the minimum segment
// into an adjacent section so no emitted segment is shorter than
// MinSegmentTime.
func absorbShortSections(block *BlockRuntime, bf *Block, entry float64) {
	if block.HeadLength > 0 && block.HeadTime < MinSegmentTime {
		block.BodyLength += block.HeadLength
		block.HeadLength = 0
		block.HeadTime = 0
		if block.BodyLength > 0 {
			block.BodyTime = block.BodyLength / block.CruiseVelocity
		}
	}
	if block.TailLength > 0 && block.TailTime < MinSegmentTime {
		block.BodyLength += block.TailLength
		block.TailLength = 0
		block.TailTime = 0
		if block.BodyLength > 0 {
			block.BodyTime = block.BodyLength / block.CruiseVelocity
		}
	}
	// A bump whose body was created by absorption needs a velocity to run
	// the body at; the cruise velocity serves.
	if block.BodyLength > 0 && block.BodyTime == 0 {
		block.BodyTime = block.BodyLength / block.CruiseVelocity
	}
}

// finishRamps computes the block time and writes achieved velocities back
// to the planning buffer.
func finishRamps(block *BlockRuntime, bf *Block) {
	bf.BlockTime = block.HeadTime + block.BodyTime + block.TailTime
	bf.CruiseVelocity = block.CruiseVelocity
	bf.ExitVelocity = block.ExitVelocity
}

// quinticVelocity evaluates the S-curve velocity at normalized time
// t in [0,1] between v0 and v1. Jerk is continuous at both endpoints.
func quinticVelocity(v0, v1, t float64) float64 {
	return v0 + (v1-v0)*t*t*t*(10.0-15.0*t+6.0*t*t)
}
