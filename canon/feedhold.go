package canon

import (
	"math"

	"gocnc/gcode"
	"gocnc/planner"
	"gocnc/status"
)

/*
 * Operations and actions.
 *
 * An operation assembles a multi-step function from underlying actions and
 * executes them in sequence until the operation completes or errors. It
 * handles synchronous actions as well as long-running ones such as a
 * series of moves in the secondary planner.
 *
 * Actions return:
 *   OK      - successful completion of the action
 *   Eagain  - ran to continuation; call again to complete
 *   other   - error that quits the operation
 *
 * Constraints that keep this simple: operations run to completion and
 * cannot be preempted, and actions cannot be added while one is running.
 */

const actionMax = 6

type actionFunc func() status.Status

type operation struct {
	actions []actionFunc
	running bool
}

func (op *operation) reset() {
	op.actions = op.actions[:0]
	op.running = false
}

func (op *operation) add(a actionFunc) status.Status {
	if op.running {
		return status.CommandNotAccepted
	}
	if len(op.actions) >= actionMax {
		return status.InputExceedsMaxLength
	}
	op.actions = append(op.actions, a)
	return status.OK
}

func (op *operation) run() status.Status {
	if len(op.actions) == 0 {
		return status.Noop
	}
	op.running = true
	for len(op.actions) > 0 {
		st := op.actions[0]()
		if st == status.Eagain {
			return status.Eagain
		}
		if st != status.OK {
			op.reset()
			return st
		}
		op.actions = op.actions[1:]
	}
	op.reset()
	return status.OK
}

/*
 * Feedhold processing.
 *
 * There are two planners: p1 (primary) and p2 (secondary). A feedhold
 * received in p1 stops motion in p1 and, for ACTIONS type, transitions to
 * p2 where hold entry actions (Z lift, spindle and coolant pause) run.
 * Cycle start returns to p1, performs exit actions if entry actions ran,
 * and resumes from the held point. Queue flush returns to p1, flushes it,
 * and ends in PROGRAM_STOP. A feedhold received while p2 is moving is a
 * SKIP hold within p2.
 */

// OperationCallback runs feedhold operations and sequences queued
// requests. Call it from the operating loop.
func (c *Controller) OperationCallback() status.Status {
	c.advanceHoldStop(c.M1)
	c.advanceHoldStop(c.M2)

	if c.M1.jobKillState == jobKillRequested { // must wait for any active hold
		c.startJobKill()
	}
	if c.M1.queueFlushState == flushRequested {
		c.startQueueFlush()
	}
	if c.M1.cycleStartState == cycleStartRequested {
		c.startCycleRestart()
	}
	if c.M2.mp.HoldState() == planner.HoldRequested { // queued p2 feedhold
		c.startP2Feedhold()
	}

	st := c.op.run()
	c.reporter.Flush()
	return st
}

// advanceHoldStop walks the deceleration-complete states to MOTION_STOPPED
// once the steppers have actually finished.
func (c *Controller) advanceHoldStop(m *Machine) {
	switch m.mp.HoldState() {
	case planner.HoldDecelComplete:
		m.mp.SetHoldState(planner.HoldMotionStopping)
		fallthrough
	case planner.HoldMotionStopping:
		c.checkMotionStopped(m)
	}
}

// checkMotionStopped finalizes the hold point once the runtime is idle.
// For SKIP holds the remaining block length is discarded; otherwise the
// block is trimmed to the runtime remainder and restored so the forward
// planner can redo it from zero velocity.
func (c *Controller) checkMotionStopped(m *Machine) {
	if !m.mp.RuntimeIsIdle() {
		return
	}
	mp := m.mp
	mr := mp.MR

	if bf := mp.Q.RunBuffer(); bf != nil {
		if m.holdType == HoldTypeSkip {
			mp.Position = mr.Position // planner position joins the hold point
			mp.Q.FreeRunBuffer()      // discard the rest of the move
		} else {
			bf.Length = vectorDistance(mr.Position, mr.Target)
			bf.RunState = planner.BlockInitialAction
			bf.State = planner.BufferBackPlanned // forward plan it again
			bf.Plannable = true
			bf.Hint = planner.NoHint // stale: the block restarts from zero
			bf.ExitVelocity = 0
			bf.CruiseVelocity = bf.CruiseVmax
		}
	}
	mr.Reset()
	m.AbortArc() // an arc does not survive a hold; its remainder is discarded
	m.setMotionState(MotionStop)
	mp.SetHoldState(planner.HoldMotionStopped)
	c.reporter.RequestStatusReport(true)
}

// HasHold reports a hold condition (or pending request) in the primary.
func (c *Controller) HasHold() bool {
	return c.M1.mp.InHold()
}

// CommandBlocker keeps new Gcode from the parser while a hold is in
// effect.
func (c *Controller) CommandBlocker() error {
	if c.M1.mp.InHold() {
		return status.Eagain
	}
	return nil
}

/*
 * Request functions. Requests set state only; the operation callback
 * sequences and runs them.
 */

// RequestFeedhold requests a feedhold of the given type and exit.
func (m *Machine) RequestFeedhold(holdType FeedholdType, exit FeedholdExit) {
	c := m.ctrl
	m1, m2 := c.M1, c.M2

	// Feedhold in p1: only from a machining cycle with motion running
	if m1.mp.HoldState() == planner.HoldOff &&
		m1.machineState == StateCycle && m1.motionState == MotionRun {

		m1.holdType = holdType
		m1.holdExit = exit
		m1.holdProfile = holdType == HoldTypeSkip || holdType == HoldTypeScram
		m1.mp.SetHoldProfile(m1.holdProfile)

		switch holdType {
		case HoldTypeHold, HoldTypeScram:
			c.op.add(c.feedholdNoActions)
		case HoldTypeActions:
			c.op.add(c.feedholdWithActions)
		case HoldTypeSkip:
			c.op.add(c.feedholdSkip)
		}
		switch exit {
		case HoldExitStop:
			c.op.add(c.runProgramStop)
		case HoldExitEnd:
			c.op.add(c.runProgramEnd)
		case HoldExitAlarm:
			c.op.add(c.runAlarm)
		case HoldExitShutdown:
			c.op.add(c.runShutdown)
		case HoldExitInterlock:
			c.op.add(c.runInterlock)
		case HoldExitResetPosition:
			c.op.add(c.runResetPosition)
		}
		return
	}

	// Feedhold within a feedhold: a hold requested while p2 is moving is
	// queued as a SKIP hold in p2.
	if m1.mp.HoldState() == planner.Holding &&
		m2.mp.HoldState() == planner.HoldOff && m2.machineState == StateCycle {
		m2.mp.SetHoldState(planner.HoldRequested)
		return
	}
}

// RequestCycleStart requests a cycle start or feedhold restart.
func (m *Machine) RequestCycleStart() {
	c := m.ctrl
	m1 := c.M1
	if m1.mp.InHold() { // restart from a feedhold
		if m1.queueFlushState == flushRequested { // race: flush wins
			m1.cycleStartState = cycleStartOff
		} else {
			m1.cycleStartState = cycleStartRequested
		}
		return
	}
	// execute cycle start directly
	if m1.mp.HasRunnableBuffer() {
		m1.CycleStart()
		c.pipeline.RequestExec()
	}
	m1.cycleStartState = cycleStartOff
}

// RequestQueueFlush requests a queue flush. Only honored during a hold.
func (m *Machine) RequestQueueFlush() {
	m1 := m.ctrl.M1
	if m1.mp.InHold() {
		m1.queueFlushState = flushRequested
	} else {
		m1.queueFlushState = flushOff
	}
}

// RequestJobKill requests the job kill (^d handler).
func (m *Machine) RequestJobKill() {
	m.ctrl.M1.jobKillState = jobKillRequested
}

/*
 * Operation starters, run from the operation callback.
 */

func (c *Controller) startCycleRestart() {
	m1 := c.M1
	if m1.mp.HoldState() != planner.Holding {
		return
	}
	m1.cycleStartState = cycleStartOff
	switch m1.holdType {
	case HoldTypeHold, HoldTypeScram:
		c.op.add(c.restartNoActions)
	case HoldTypeActions:
		c.op.add(c.restartWithActions)
	}
	switch m1.holdExit {
	case HoldExitCycle:
		c.op.add(c.runRestartCycle)
	case HoldExitFlush:
		c.op.add(c.runQueueFlush)
		c.op.add(c.runProgramStop)
	case HoldExitStop:
		c.op.add(c.runProgramStop)
	case HoldExitEnd:
		c.op.add(c.runProgramEnd)
	case HoldExitAlarm:
		c.op.add(c.runAlarm)
	case HoldExitShutdown:
		c.op.add(c.runShutdown)
	case HoldExitInterlock:
		c.op.add(c.runInterlock)
	}
}

func (c *Controller) startQueueFlush() {
	m1 := c.M1
	// Don't start until HOLD (which also means the runtime is idle)
	if m1.queueFlushState != flushRequested || m1.mp.HoldState() != planner.Holding {
		return
	}
	if m1.holdType == HoldTypeActions {
		c.op.add(c.restartWithActions)
	} else {
		c.op.add(c.restartNoActions)
	}
	c.op.add(c.runQueueFlush)
	c.op.add(c.runProgramStop)
}

func (c *Controller) startP2Feedhold() {
	m2 := c.M2
	if m2.motionState == MotionRun {
		m2.holdType = HoldTypeSkip
		m2.mp.SetHoldProfile(true)
		c.op.add(c.feedholdSkipP2)
	} else {
		m2.mp.SetHoldState(planner.HoldOff)
	}
}

/*
 * Job kill cases:
 *  (0) from ALARM, SHUTDOWN, PANIC: no action, end request
 *  (1) from READY, STOP, END: perform PROGRAM_END
 *  (2a) from machining cycle: hold, then flush and PROGRAM_END
 *  (2b) from pending hold: wait for the hold to complete
 *  (2c) from finished hold: flush and PROGRAM_END directly
 */

func (c *Controller) startJobKill() {
	m1 := c.M1
	switch m1.machineState {
	case StateAlarm, StateShutdown, StatePanic:
		m1.jobKillState = jobKillOff
		return
	case StateCycle:
		if m1.mp.HoldState() == planner.HoldOff { // in cycle, no hold yet
			m1.RequestFeedhold(HoldTypeScram, HoldExitStop)
			return
		}
		if m1.mp.HoldState() == planner.Holding { // finished hold
			c.runJobKill()
		}
		return // hold in progress: wait for it to reach HOLD
	default:
		c.runJobKill()
	}
}

func (c *Controller) runJobKill() status.Status {
	m1 := c.M1

	// If in p2, return to p1 and carry the actual position back.
	if c.active == c.M2 {
		pos := c.M2.mp.MR.Position
		c.active = c.M1
		m1.GMX.Position = pos
		m1.GM.Target = pos
		m1.mp.Position = pos
		m1.mp.MR.Position = pos
	}

	c.runQueueFlush()

	c.coolant.ControlImmediate(CoolantOff, CoolantBoth)
	c.spindle.ControlImmediate(SpindleOff)

	m1.setMotionState(MotionStop)
	m1.mp.SetHoldState(planner.HoldOff)
	m1.ProgramEnd()

	c.reporter.Exception(status.KillJob, "job killed by ^d")
	m1.jobKillState = jobKillOff
	return status.OK
}

/*
 * Feedhold entry actions.
 */

// feedholdSkip runs a hold that discards the unused remainder of the
// running block.
func (c *Controller) feedholdSkip() status.Status {
	m1 := c.M1
	if m1.mp.HoldState() == planner.HoldOff {
		m1.holdType = HoldTypeSkip
		m1.mp.SetHoldProfile(true)
		m1.mp.SetHoldState(planner.HoldSync)
	}
	if m1.mp.HoldState() < planner.HoldMotionStopped {
		return status.Eagain
	}
	m1.mp.SetHoldState(planner.HoldOff) // cannot be in HOLD or blocks won't plan
	m1.mp.ReplanQueue()
	m1.mp.Callback()
	c.pipeline.RequestExec()
	return status.OK
}

// feedholdSkipP2 performs the skip hold inside the secondary planner.
func (c *Controller) feedholdSkipP2() status.Status {
	m2 := c.M2
	if m2.mp.HoldState() == planner.HoldRequested {
		m2.holdType = HoldTypeSkip
		m2.mp.SetHoldState(planner.HoldSync)
	}
	if m2.mp.HoldState() < planner.HoldMotionStopped {
		return status.Eagain
	}
	m2.mp.SetHoldState(planner.HoldOff)
	m2.mp.ReplanQueue()
	return status.OK
}

// feedholdNoActions runs a feedhold with no entry actions.
func (c *Controller) feedholdNoActions() status.Status {
	m1 := c.M1
	if m1.mp.HoldState() == planner.HoldOff { // start the hold
		if m1.motionState == MotionStop { // already stopped: declare the hold
			c.checkMotionStopped(m1)
			m1.mp.SetHoldState(planner.Holding)
		} else {
			m1.mp.SetHoldState(planner.HoldSync)
			return status.Eagain
		}
	}
	if m1.mp.HoldState() < planner.HoldMotionStopped {
		return status.Eagain
	}
	m1.mp.ReplanQueue() // rework the queue from the retained block
	m1.mp.SetHoldState(planner.Holding)
	c.reporter.RequestStatusReport(false)
	return status.OK
}

// feedholdWithActions runs a feedhold that transitions into the secondary
// planner for hold entry actions.
func (c *Controller) feedholdWithActions() status.Status {
	m1 := c.M1
	hs := m1.mp.HoldState()

	if hs == planner.HoldOff {
		if m1.motionState == MotionStop {
			c.checkMotionStopped(m1)
			m1.mp.SetHoldState(planner.HoldMotionStopped)
		} else {
			m1.mp.SetHoldState(planner.HoldSync)
			return status.Eagain
		}
	}

	// Run once motion has stopped
	if m1.mp.HoldState() == planner.HoldMotionStopped {
		m1.mp.ReplanQueue()
		m1.mp.SetHoldState(planner.HoldActionsPending)
		c.enterP2()
		m2 := c.M2
		m2.SetG30Position() // the return point for cycle restart

		// Optional Z lift
		if c.cfg.System.FeedholdZLift != 0 {
			saved := m2.GM.DistanceMode
			m2.GM.DistanceMode = gcode.IncrementalDistance
			var target [gcode.AxisCount]float64
			var flags [gcode.AxisCount]bool
			lift := c.cfg.System.FeedholdZLift
			if m2.GM.UnitsMode == gcode.Inches {
				lift /= gcode.MMPerInch // traverse re-normalizes to mm
			}
			target[gcode.AxisZ] = lift
			flags[gcode.AxisZ] = true
			m2.StraightTraverse(target, flags)
			m2.GM.DistanceMode = saved
		}
		c.spindle.ControlSync(SpindlePause)
		c.coolant.ControlSync(CoolantPause, CoolantBoth)
		m2.mp.QueueCommand(func(values []float64, flags []bool) {
			m1.mp.SetHoldState(planner.HoldActionsComplete)
			c.reporter.RequestStatusReport(true)
		}, nil, nil)
		return status.Eagain
	}

	if m1.mp.HoldState() == planner.HoldActionsPending {
		return status.Eagain
	}
	if m1.mp.HoldState() == planner.HoldActionsComplete {
		m1.mp.SetHoldState(planner.Holding)
		return status.OK
	}
	return status.Eagain
}

/*
 * Feedhold exit actions.
 */

func (c *Controller) restartNoActions() status.Status {
	m1 := c.M1
	if m1.mp.HoldState() == planner.HoldOff {
		return status.OK // called erroneously; happens for !%~
	}
	c.active = c.M1 // return to the primary planner
	return status.OK
}

func (c *Controller) restartWithActions() status.Status {
	m1 := c.M1
	hs := m1.mp.HoldState()
	if hs == planner.HoldOff {
		return status.OK // called erroneously; happens for !%~
	}

	if hs == planner.Holding {
		// End-hold actions, still in the secondary machine
		m2 := c.M2
		c.coolant.ControlSync(CoolantResume, CoolantBoth)
		c.spindle.ControlSync(SpindleResume)

		// Return move through an intermediate point
		m2.returnFlags = m1.returnFlags
		m2.returnFlags[gcode.AxisZ] = false
		m2.GotoG30Position(m2.GMX.G30Position, m2.returnFlags)
		m2.mp.QueueCommand(func(values []float64, flags []bool) {
			m1.mp.SetHoldState(planner.HoldExitActionsComplete)
			c.reporter.RequestStatusReport(true)
		}, nil, nil)
		m1.mp.SetHoldState(planner.HoldExitActionsPending)
		return status.Eagain
	}

	if hs == planner.HoldExitActionsPending {
		return status.Eagain
	}
	if hs == planner.HoldExitActionsComplete {
		c.exitP2()
		return status.OK
	}
	return status.Eagain
}

func (c *Controller) runRestartCycle() status.Status {
	m1 := c.M1
	m1.mp.SetHoldState(planner.HoldOff) // must precede the exec request
	if m1.mp.HasRunnableBuffer() {
		m1.CycleStart()
		m1.mp.ReplanQueue()
		m1.mp.Callback() // rework velocities before motion resumes
		c.pipeline.RequestExec()
	} else {
		m1.CycleEnd()
	}
	return status.OK
}

// runQueueFlush kills arcs, resets the primary planner, and realigns all
// position views to the hold point. Completely synchronous.
func (c *Controller) runQueueFlush() status.Status {
	m1 := c.M1
	m1.AbortArc()
	pos := m1.mp.MR.Position // runtime position survives the reset
	m1.mp.Reset()
	m1.mp.MR.Position = pos
	m1.ResetPositionToAbsolutePosition()
	m1.ResetOverrides() // a ramp does not survive a flush
	m1.queueFlushState = flushOff
	c.reporter.QueueReport(m1.mp.Q.Available())
	return status.OK
}

func (c *Controller) runProgramStop() status.Status {
	c.M1.CycleEnd()
	return status.OK
}

func (c *Controller) runProgramEnd() status.Status {
	c.M1.ProgramEnd()
	return status.OK
}

func (c *Controller) runResetPosition() status.Status {
	c.M1.mp.SetHoldState(planner.HoldOff)
	c.M1.ResetPositionToAbsolutePosition()
	return status.OK
}

func (c *Controller) runAlarm() status.Status    { return status.OK }
func (c *Controller) runShutdown() status.Status { return status.OK }
func (c *Controller) runInterlock() status.Status {
	c.M1.machineState = StateInterlock
	return status.OK
}

/*
 * Secondary planner entry and exit. This must be done exactly right: the
 * secondary machine inherits the primary's gcode context but gets its own
 * clean planner positioned at the hold point, and the step/encoder terms
 * carry over so following error stays meaningful.
 */

func (c *Controller) enterP2() {
	m1, m2 := c.M1, c.M2

	m2.GM = m1.GM
	m2.GMX = m1.GMX
	m2.machineState = StateCycle
	m2.cycleType = m1.cycleType
	m2.motionState = MotionStop
	m2.GM.MotionMode = gcode.MotionCancel
	m2.GM.AbsoluteOverride = gcode.AbsoluteOverrideOff
	m2.GM.FeedRate = 0
	m2.queueFlushState = flushOff
	m2.arc.runState = arcOff

	m2.mp.Reset()
	m2.mp.SetHoldState(planner.HoldOff)

	// Clear targets and set all positions to the hold point
	pos := m1.mp.MR.Position
	m2.returnFlags = [gcode.AxisCount]bool{}
	m2.GM.Target = pos
	m2.GM.TargetComp = [gcode.AxisCount]float64{}
	m2.GMX.Position = pos
	m2.mp.Position = pos
	m2.mp.MR.Position = pos

	// Carry step and encoder terms for following-error continuity
	m2.mp.MR.TargetSteps = m1.mp.MR.TargetSteps
	m2.mp.MR.PositionSteps = m1.mp.MR.PositionSteps
	m2.mp.MR.CommandedSteps = m1.mp.MR.CommandedSteps
	m2.mp.MR.EncoderSteps = m1.mp.MR.EncoderSteps

	c.active = m2
}

func (c *Controller) exitP2() {
	c.active = c.M1
}

func vectorDistance(a, b [gcode.AxisCount]float64) float64 {
	sum := 0.0
	for i := 0; i < gcode.AxisCount; i++ {
		d := b[i] - a[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
