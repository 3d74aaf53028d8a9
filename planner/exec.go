package planner

import (
	"math"

	"gocnc/config"
	"gocnc/gcode"
	"gocnc/status"
)

/*
 * Segment execution. The pipeline prompts ExecMove whenever it has room
 * for another segment. Each call emits at most one fixed-duration segment
 * of the running block, advancing section state (head -> body -> tail) and
 * evolving velocity through the precomputed forward differences. The call
 * never spins: if the next block is not ready it returns Noop and the
 * pipeline goes idle until re-prompted.
 *
 * Forward planning is just-in-time: a block's ramps are computed into the
 * runtime's 'p' record the moment the executor needs them, using the
 * entry velocity inherited from the running block's achieved exit.
 */

// ExecMove produces at most one segment. Returns OK if a segment (or
// command) was dispatched, Noop if there is nothing to do.
func (p *Planner) ExecMove() status.Status {
	if p.execBusy {
		return status.Eagain
	}
	p.execBusy = true
	defer func() { p.execBusy = false }()

	// Holds past deceleration stop pulling segments until the sequencer
	// exits the hold.
	if p.holdState >= HoldDecelComplete {
		return status.Noop
	}

	if p.MR.BlockState == BlockInactive {
		return p.loadNextBlock()
	}
	return p.execALine()
}

// loadNextBlock pulls the next runnable buffer, forward-planning it if
// needed, and dispatches commands at their synchronization point.
func (p *Planner) loadNextBlock() status.Status {
	mr := p.MR
	bf := p.Q.RunBuffer()
	if bf == nil {
		// A hold that arrives with nothing queued has nothing to
		// decelerate; it is stopped by definition. Likewise a carry-over
		// deceleration with no successor has already reached the end.
		if (p.holdState == HoldSync || p.holdState == HoldDecelContinue) && !p.sink.IsBusy() {
			p.holdState = HoldMotionStopping
		}
		p.notifyMotionStopped()
		return status.Noop
	}

	if bf.Type != BlockALine {
		// Commands fire after the previous motion block's last step edge.
		if p.sink.IsBusy() {
			return status.Noop
		}
		p.runCommand(bf)
		p.freeRunBuffer()
		return status.OK
	}

	if bf.State < BufferBackPlanned {
		return status.Noop // not planned far enough; never spin
	}

	// Feedhold continuation: if the previous block ended mid-deceleration,
	// this block keeps braking toward zero. Otherwise forward plan
	// just-in-time if the block was not pre-planned.
	if p.holdState == HoldDecelContinue {
		p.planHoldContinuation(bf)
	} else if p.plannedBlockNum != bf.Num {
		p.forwardPlan(bf)
	}

	bf.State = BufferRunning
	bf.RunState = BlockActive
	bf.Plannable = false
	mr.SwapBlocks()
	p.plannedBlockNum = -1

	mr.BlockState = BlockActive
	mr.Section = SectionHead
	mr.SectionState = SectionNew
	mr.Unit = bf.Unit
	mr.AxisFlags = bf.AxisFlags
	mr.GM = bf.GM
	mr.Target = bf.GM.Target
	mr.runBlockNum = bf.Num
	p.motionStopNotified = false

	p.computeWaypoints()

	// Opportunistically pre-plan the successor while this block runs.
	p.planNext()

	return p.execALine()
}

// forwardPlan computes ramps for bf into the runtime's p record.
func (p *Planner) forwardPlan(bf *Block) {
	mr := p.MR
	priorExit := bf.ExitVelocity
	CalculateRamps(mr.P, bf, mr.EntryVelocity)
	bf.State = BufferFullyPlanned
	p.plannedBlockNum = bf.Num
	// If ramps lowered the achieved exit, the successor's hint is stale.
	if !velocityEq(priorExit, bf.ExitVelocity) {
		next := p.Q.Next(bf)
		if next.State >= BufferNotPlanned && next.State < BufferRunning {
			next.Hint = NoHint
		}
	}
}

// planNext pre-plans the block after the running one, if it is ready.
func (p *Planner) planNext() {
	if p.plannedBlockNum >= 0 {
		return
	}
	next := p.Q.Get(p.Q.next(p.Q.RunIndex()))
	if next.Type != BlockALine || next.State != BufferBackPlanned {
		return
	}
	// Leave the newest block to just-in-time planning: its exit velocity
	// is still improvable by blocks that have not arrived yet, and
	// pre-planning would pin it at zero.
	if next.Num == p.Q.NewestIndex() {
		return
	}
	priorExit := next.ExitVelocity
	CalculateRamps(p.MR.P, next, p.MR.R.ExitVelocity)
	next.State = BufferFullyPlanned
	next.Plannable = false
	p.plannedBlockNum = next.Num
	if !velocityEq(priorExit, next.ExitVelocity) {
		after := p.Q.Next(next)
		if after.State >= BufferNotPlanned && after.State < BufferRunning {
			after.Hint = NoHint
		}
	}
}

// computeWaypoints records the exact section endpoints so accumulated
// rounding in the per-segment position evolution can be corrected at each
// section exit.
func (p *Planner) computeWaypoints() {
	mr := p.MR
	r := mr.R
	along := 0.0
	sections := [sectionCount]float64{r.HeadLength, r.BodyLength, r.TailLength}
	start := mr.Position
	for s := 0; s < sectionCount; s++ {
		along += sections[s]
		for i := 0; i < gcode.AxisCount; i++ {
			mr.Waypoint[s][i] = start[i] + along*mr.Unit[i]
		}
	}
	// When the sections span the whole move the tail waypoint is the block
	// target by construction; pin it to the model target to kill residual
	// error. Hold-shortened plans end before the target and keep the
	// computed endpoint.
	if abs(along-vectorDistance(start, mr.Target)) < minLengthMove {
		mr.Waypoint[SectionTail] = mr.Target
	}
}

// execALine runs one segment of the active block.
func (p *Planner) execALine() status.Status {
	mr := p.MR

	// Out-of-band dwell is applied at a segment boundary.
	if mr.OutOfBandDwellFlag {
		mr.OutOfBandDwellFlag = false
		p.sink.PrepDwell(mr.OutOfBandDwellSeconds)
		return status.OK
	}

	// A pending hold is folded in at the section/segment boundary.
	if p.holdState == HoldSync {
		p.planHoldDecel()
		if p.holdState >= HoldDecelComplete {
			return status.Noop
		}
	}

	// Initialize or skip sections until one has work.
	for mr.SectionState != SectionRunning {
		st := p.initSection()
		if st != status.OK || mr.BlockState == BlockInactive {
			return st
		}
	}

	// Velocity for this segment
	var v float64
	if mr.Section == SectionBody {
		v = mr.SegmentVelocity
	} else {
		v = mr.nextSegmentVelocity()
	}
	mr.SegmentCount--
	last := mr.SegmentCount == 0

	for i := 0; i < gcode.AxisCount; i++ {
		if mr.AxisFlags[i] {
			mr.Position[i] += v * mr.SegmentTime * mr.Unit[i]
		}
	}
	if last {
		mr.Position = mr.Waypoint[mr.Section]
	}

	if err := p.emitSegment(mr.SegmentTime); err != nil {
		return status.PrepTimerFailure
	}

	if last {
		return p.endSection()
	}
	return status.OK
}

// initSection sets up the current section, advancing past empty ones.
// Returns OK when a section is running, or the block-completion status.
func (p *Planner) initSection() status.Status {
	mr := p.MR
	r := mr.R

	var length, time, v0, v1 float64
	switch mr.Section {
	case SectionHead:
		length, time = r.HeadLength, r.HeadTime
		v0, v1 = mr.EntryVelocity, r.CruiseVelocity
	case SectionBody:
		length, time = r.BodyLength, r.BodyTime
		v0, v1 = r.CruiseVelocity, r.CruiseVelocity
	case SectionTail:
		length, time = r.TailLength, r.TailTime
		v0, v1 = r.CruiseVelocity, r.ExitVelocity
	}

	if length < minLengthMove && time < MinSegmentTime {
		return p.advanceSection()
	}

	segments := math.Ceil(time / NomSegmentTime)
	if segments < 1 {
		segments = 1
	}
	mr.Segments = segments
	mr.SegmentCount = uint32(segments)
	mr.SegmentTime = time / segments

	if mr.SegmentTime < MinSegmentTime {
		// Quantization guarantee: never emit a segment shorter than the
		// minimum. Re-quantize with fewer segments.
		segments = math.Floor(time / MinSegmentTime)
		if segments < 1 {
			segments = 1
		}
		mr.Segments = segments
		mr.SegmentCount = uint32(segments)
		mr.SegmentTime = time / segments
	}

	if mr.Section == SectionBody {
		mr.SegmentVelocity = r.CruiseVelocity
	} else {
		mr.initForwardDiffs(v0, v1, segments)
	}
	mr.SectionState = SectionRunning
	return status.OK
}

// advanceSection moves to the next section, or completes the block.
func (p *Planner) advanceSection() status.Status {
	mr := p.MR
	if mr.Section < SectionTail {
		mr.Section++
		mr.SectionState = SectionNew
		return status.OK
	}
	return p.endBlock()
}

// endSection runs at the last segment of a section.
func (p *Planner) endSection() status.Status {
	mr := p.MR
	if mr.Section < SectionTail {
		mr.Section++
		mr.SectionState = SectionNew
		// Section boundaries are also where pre-planning of the successor
		// is retried if it was not ready at block load.
		p.planNext()
		return status.OK
	}
	return p.endBlock()
}

// endBlock finishes the running block.
func (p *Planner) endBlock() status.Status {
	mr := p.MR

	switch p.holdState {
	case HoldDecelToZero:
		// The tail we just finished brought velocity to zero at the hold
		// point. The buffer is retained for the sequencer to finalize.
		mr.SegmentVelocity = 0
		mr.BlockState = BlockInactive
		mr.SectionState = SectionOff
		p.holdState = HoldDecelComplete
		return status.OK
	case HoldDecelContinue:
		// Block ended above zero; the next block continues the braking.
		mr.EntryVelocity = mr.R.ExitVelocity
		mr.SegmentVelocity = mr.R.ExitVelocity
		mr.BlockState = BlockInactive
		mr.SectionState = SectionOff
		p.freeRunBuffer()
		return status.OK
	}

	mr.EntryVelocity = mr.R.ExitVelocity
	mr.SegmentVelocity = mr.R.ExitVelocity // velocity is continuous across blocks
	mr.BlockState = BlockInactive
	mr.Section = SectionHead
	mr.SectionState = SectionOff
	p.freeRunBuffer()
	return status.OK
}

// emitSegment converts the runtime position to motor steps and hands the
// segment to the pipeline, maintaining the encoder bookkeeping: commanded
// steps lag dispatch by one segment so the following error is compared
// against what the motors were actually told most recently sampled.
func (p *Planner) emitSegment(segmentTime float64) error {
	mr := p.MR
	target := p.StepsForPosition(mr.Position)

	var travel [config.MotorCount]float64
	for m := 0; m < config.MotorCount; m++ {
		mr.EncoderSteps[m] = p.sink.Encoder(m)
		mr.FollowingError[m] = mr.EncoderSteps[m] - mr.CommandedSteps[m]
		travel[m] = target[m] - mr.PositionSteps[m]
	}

	if err := p.sink.PrepSegment(travel, mr.FollowingError, segmentTime); err != nil {
		return err
	}

	for m := 0; m < config.MotorCount; m++ {
		mr.CommandedSteps[m] = mr.PositionSteps[m]
		mr.PositionSteps[m] = target[m]
		mr.TargetSteps[m] = target[m]
	}
	return nil
}

// freeRunBuffer releases the run buffer and reports it.
func (p *Planner) freeRunBuffer() {
	p.Q.FreeRunBuffer()
	if p.hooks.BlockFreed != nil {
		p.hooks.BlockFreed()
	}
}

func (p *Planner) notifyMotionStopped() {
	if p.motionStopNotified || p.sink.IsBusy() {
		return
	}
	p.motionStopNotified = true
	if p.hooks.MotionStopped != nil {
		p.hooks.MotionStopped()
	}
}

/*
 * Feedhold deceleration fit
 *
 * A hold request is honored at a segment boundary, and never during the
 * acceleration phase of the running block: decelerating out of an
 * unfinished S-curve head would demand unbounded jerk. Once eligible, the
 * braking length D(v, 0, J) is fit against the length remaining in the
 * block: if it fits, the block's remainder becomes a tail to zero
 * (DECEL_TO_ZERO); if not, the block finishes at the highest velocity the
 * remainder can shed (DECEL_CONTINUE) and successor blocks keep braking
 * until zero is reached.
 */

func (p *Planner) planHoldDecel() {
	mr := p.MR
	if mr.BlockState != BlockActive {
		return
	}
	bf := p.Q.RunBuffer()
	if bf == nil {
		return
	}

	// Wait out an in-flight acceleration.
	if mr.Section == SectionHead && mr.SectionState == SectionRunning {
		return
	}
	// Already in a tail: ride it out; classify by where it ends.
	if mr.Section == SectionTail && mr.SectionState == SectionRunning {
		if velocityEq(mr.R.ExitVelocity, 0) {
			p.holdState = HoldDecelToZero
		} else {
			p.holdState = HoldDecelContinue
		}
		return
	}

	v := mr.SegmentVelocity
	if mr.Section == SectionHead { // head not started: velocity is entry
		v = mr.EntryVelocity
	}
	if v < velocityTolerance {
		// Nothing moving; deceleration is trivially complete.
		mr.SegmentVelocity = 0
		p.holdState = HoldMotionStopping
		return
	}

	jerk := p.holdDecelJerk(bf)
	remaining := vectorDistance(mr.Position, mr.Target)
	stopLen := jerkRampLength(0, v, jerk)

	r := mr.R
	if stopLen <= remaining {
		p.holdState = HoldDecelToZero
		r.CruiseVelocity = v
		r.ExitVelocity = 0
		r.TailLength = stopLen
		r.TailTime = rampTime(stopLen, v, 0)
		for i := 0; i < gcode.AxisCount; i++ {
			mr.Waypoint[SectionTail][i] = mr.Position[i] + stopLen*mr.Unit[i]
		}
	} else {
		p.holdState = HoldDecelContinue
		exitV := jerkDecelVelocity(v, remaining, jerk)
		r.CruiseVelocity = v
		r.ExitVelocity = exitV
		r.TailLength = remaining
		r.TailTime = rampTime(remaining, v, exitV)
		mr.Waypoint[SectionTail] = mr.Target
	}
	mr.Section = SectionTail
	mr.SectionState = SectionNew
}

// planHoldContinuation re-plans the next block as pure deceleration when a
// hold's braking carried over the previous block boundary.
func (p *Planner) planHoldContinuation(bf *Block) {
	mr := p.MR
	entry := mr.EntryVelocity
	jerk := p.holdDecelJerk(bf)
	stopLen := jerkRampLength(0, entry, jerk)

	pBlk := mr.P
	pBlk.reset()
	if stopLen <= bf.Length {
		p.holdState = HoldDecelToZero
		pBlk.CruiseVelocity = entry
		pBlk.ExitVelocity = 0
		pBlk.TailLength = stopLen
		pBlk.TailTime = rampTime(stopLen, entry, 0)
	} else {
		exitV := jerkDecelVelocity(entry, bf.Length, jerk)
		pBlk.CruiseVelocity = entry
		pBlk.ExitVelocity = exitV
		pBlk.TailLength = bf.Length
		pBlk.TailTime = rampTime(bf.Length, entry, exitV)
	}
	bf.CruiseVelocity = pBlk.CruiseVelocity
	bf.ExitVelocity = pBlk.ExitVelocity
	bf.State = BufferFullyPlanned
	p.plannedBlockNum = bf.Num
}

// holdDecelJerk returns the jerk used to brake the running block: the
// block's own jerk for a normal hold, or the high-speed jerk for scram.
func (p *Planner) holdDecelJerk(bf *Block) float64 {
	if !p.holdFastJerk {
		return bf.Jerk
	}
	jerk := math.MaxFloat64
	for i := 0; i < gcode.AxisCount; i++ {
		if !bf.AxisFlags[i] {
			continue
		}
		u := abs(bf.Unit[i])
		if u < velocityTolerance {
			continue
		}
		jerk = fmin(jerk, p.cfg.AxisJerk(i, true)/u)
	}
	if jerk == math.MaxFloat64 {
		return bf.Jerk
	}
	return jerk
}

// ExitHoldState clears the hold and resumes or idles the runtime.
func (p *Planner) ExitHoldState() {
	p.holdState = HoldOff
	if p.HasRunnableBuffer() {
		p.sink.RequestExec()
	} else {
		p.notifyMotionStopped()
	}
}

// jerkRampLength is TargetLength without a block: length to move between
// v0 and v1 at jerk J.
func jerkRampLength(v0, v1, jerk float64) float64 {
	return (v0 + v1) * math.Sqrt(abs(v1-v0)/jerk)
}

// jerkDecelVelocity solves for the exit velocity after braking from v0
// over length L at jerk J.
func jerkDecelVelocity(v0, length, jerk float64) float64 {
	if jerkRampLength(0, v0, jerk) <= length {
		return 0
	}
	lo, hi := 0.0, v0
	for i := 0; i < maxVelocityIterations; i++ {
		mid := 0.5 * (lo + hi)
		if jerkRampLength(mid, v0, jerk) > length {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}

// vectorDistance is the Euclidean distance between two axis vectors.
func vectorDistance(a, b [gcode.AxisCount]float64) float64 {
	sum := 0.0
	for i := 0; i < gcode.AxisCount; i++ {
		d := b[i] - a[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
