package planner

import (
	"math"

	"gocnc/config"
	"gocnc/core"
	"gocnc/gcode"
	"gocnc/status"
)

// Moves shorter than this are discarded as zero-length.
const minLengthMove = 0.0001

// Cruise velocities below this round up so every block emits at least one
// countable segment.
const minCruiseVelocity = 1.0 // mm/min

// SegmentSink is the stepper pipeline interface the executor feeds.
type SegmentSink interface {
	// PrepSegment hands the next segment to the pipeline: per-motor travel
	// in microsteps, per-motor following error for diagnostics, and the
	// segment duration in minutes.
	PrepSegment(travelSteps, followingError [config.MotorCount]float64, segmentTime float64) error
	// PrepDwell queues a zero-motion segment of the given duration.
	PrepDwell(seconds float64)
	// RequestExec prompts the pipeline to begin (or continue) pulling
	// segments through the executor.
	RequestExec()
	// IsBusy reports whether the pipeline still holds unexecuted segments.
	IsBusy() bool
	// Encoder returns the encoder reading for a motor, in steps.
	Encoder(motor int) float64
	// SetPosition aligns the pipeline's absolute step counters (and
	// virtual encoders) to the given per-motor positions.
	SetPosition(steps [config.MotorCount]float64)
}

// Hooks are the planner's upward callbacks into the machine layer.
type Hooks struct {
	// Runnable fires when the queue first holds runnable motion.
	Runnable func()
	// MotionStopped fires when the runtime goes idle.
	MotionStopped func()
	// BlockFreed fires after each run buffer is released.
	BlockFreed func()
}

// HoldState is the feedhold progression shared between the executor
// (which performs the deceleration) and the operation sequencer (which
// owns entry/exit actions).
type HoldState uint8

const (
	HoldOff HoldState = iota
	HoldRequested
	HoldSync          // sync to the next aline segment boundary
	HoldDecelContinue // deceleration will not end at zero in this block
	HoldDecelToZero   // deceleration to zero within this block
	HoldDecelComplete // deceleration done; motors may still be settling
	HoldMotionStopping
	HoldMotionStopped
	HoldActionsPending
	HoldActionsComplete
	Holding // steady state
	HoldExitActionsPending
	HoldExitActionsComplete
)

type plannerState uint8

const (
	plannerIdle plannerState = iota
	plannerStartup
	plannerBackPlanning
)

// Planner is one planning context: the buffer queue, the runtime it
// feeds, planning position, and feedhold/override state. The machine owns
// two of these (primary and secondary).
type Planner struct {
	cfg   *config.Machine
	Q     Queue
	MR    *Runtime
	sink  SegmentSink
	hooks Hooks

	// Position is the final move position for planning purposes: where the
	// last committed block ends, not where the tool is.
	Position [gcode.AxisCount]float64

	state           plannerState
	requestPlanning bool
	entryChanged    bool

	// feed override ramp
	mfoActive  bool
	rampActive bool
	mfoFactor  float64
	rampTarget float64
	rampDvdt   float64

	blockTimeoutAt  uint32
	blockTimeoutSet bool

	PlannableTime float64 // minutes of queued, plannable motion

	// feedhold coordination
	holdState    HoldState
	holdFastJerk bool // use high-speed jerk for the hold deceleration

	plannedBlockNum    int  // queue slot the runtime 'p' record was planned for
	motionStopNotified bool // edge detector for the motion-stopped hook
	execBusy           bool // re-entrancy guard for ExecMove
}

// New creates a planner with the given queue size wired to a runtime and
// segment sink.
func New(cfg *config.Machine, queueSize int, sink SegmentSink) *Planner {
	p := &Planner{
		cfg:             cfg,
		MR:              NewRuntime(),
		sink:            sink,
		mfoFactor:       1.0,
		plannedBlockNum: -1,
	}
	p.Q.Init(queueSize)
	return p
}

// SetHooks installs the machine-layer callbacks.
func (p *Planner) SetHooks(h Hooks) { p.hooks = h }

// Config returns the machine configuration the planner plans against.
func (p *Planner) Config() *config.Machine { return p.cfg }

// Sink returns the segment sink.
func (p *Planner) Sink() SegmentSink { return p.sink }

// Reset clears the queue and runtime but keeps positions. Overrides reset:
// a ramp does not survive a queue reset.
func (p *Planner) Reset() {
	p.Q.Reset()
	p.MR.Reset()
	p.state = plannerIdle
	p.requestPlanning = false
	p.entryChanged = false
	p.mfoActive = false
	p.rampActive = false
	p.mfoFactor = 1.0
	p.blockTimeoutSet = false
	p.PlannableTime = 0
	p.holdState = HoldOff
	p.plannedBlockNum = -1
	p.motionStopNotified = false
}

// HoldState returns the current feedhold progression.
func (p *Planner) HoldState() HoldState { return p.holdState }

// SetHoldState moves the feedhold progression. Owned jointly by the
// executor (SYNC through MOTION_STOPPED) and the sequencer (the rest).
func (p *Planner) SetHoldState(s HoldState) { p.holdState = s }

// SetHoldProfile selects normal or high-speed jerk for hold deceleration.
func (p *Planner) SetHoldProfile(fast bool) { p.holdFastJerk = fast }

// InHold reports any hold state other than OFF.
func (p *Planner) InHold() bool { return p.holdState != HoldOff }

// SetPlannerPosition sets one axis of the planning position.
func (p *Planner) SetPlannerPosition(axis int, position float64) {
	p.Position[axis] = position
}

// SetRuntimePosition sets one axis of the runtime position.
func (p *Planner) SetRuntimePosition(axis int, position float64) {
	p.MR.Position[axis] = position
}

// StepsForPosition converts an axis-space position to absolute motor steps.
func (p *Planner) StepsForPosition(pos [gcode.AxisCount]float64) [config.MotorCount]float64 {
	var steps [config.MotorCount]float64
	for m := 0; m < config.MotorCount; m++ {
		mo := &p.cfg.Motors[m]
		steps[m] = pos[mo.AxisMap] * mo.StepsPerUnit
	}
	return steps
}

// SetStepsToRuntimePosition aligns all step counters (and the pipeline's
// encoders) with the current runtime position. Used after queue flushes
// and position resets, when planner, runtime and machine positions must
// agree on every axis.
func (p *Planner) SetStepsToRuntimePosition() {
	steps := p.StepsForPosition(p.MR.Position)
	mr := p.MR
	for m := 0; m < config.MotorCount; m++ {
		mr.TargetSteps[m] = steps[m]
		mr.PositionSteps[m] = steps[m]
		mr.CommandedSteps[m] = steps[m]
		mr.EncoderSteps[m] = steps[m]
		mr.FollowingError[m] = 0
	}
	if p.sink != nil {
		p.sink.SetPosition(steps)
	}
}

// RuntimeVelocity returns the current segment velocity.
func (p *Planner) RuntimeVelocity() float64 { return p.MR.SegmentVelocity }

// ZeroSegmentVelocity forces the runtime segment velocity to zero.
func (p *Planner) ZeroSegmentVelocity() { p.MR.SegmentVelocity = 0 }

// RuntimeBusy reports whether the runtime is executing a block or the
// pipeline still holds segments.
func (p *Planner) RuntimeBusy() bool {
	return p.MR.BlockState != BlockInactive || (p.sink != nil && p.sink.IsBusy())
}

// RuntimeIsIdle is the inverse of RuntimeBusy.
func (p *Planner) RuntimeIsIdle() bool { return !p.RuntimeBusy() }

// HasRunnableBuffer reports whether the queue head holds a block that is
// planned far enough to execute.
func (p *Planner) HasRunnableBuffer() bool {
	b := p.Q.RunBuffer()
	return b != nil && (b.State >= BufferBackPlanned || b.Type != BlockALine)
}

// IsFull reports parser backpressure.
func (p *Planner) IsFull() bool { return p.Q.IsFull() }

/*
 * ALine - plan and queue an acceleration-managed line
 *
 * Computes the block geometry, effective jerk, and velocity caps, snapshots
 * the gcode model into the buffer, and commits it for backward planning.
 * The planning position advances to the block target; the runtime position
 * catches up as segments execute.
 */

// ALine queues a straight move described by the gcode state's target.
func (p *Planner) ALine(gm *gcode.State) error {
	var axisLength [gcode.AxisCount]float64
	lengthSq := 0.0
	for i := 0; i < gcode.AxisCount; i++ {
		if p.cfg.Axes[i].Mode == config.AxisDisabled {
			continue
		}
		axisLength[i] = gm.Target[i] - p.Position[i]
		lengthSq += axisLength[i] * axisLength[i]
	}
	length := math.Sqrt(lengthSq)
	if length < minLengthMove {
		return nil // too short to move; drop silently like any null block
	}

	if p.Q.IsFull() {
		return status.Eagain
	}
	bf := p.Q.WriteBuffer()
	if bf == nil {
		return status.Eagain
	}

	bf.Length = length
	jerk := math.MaxFloat64
	absoluteVmax := math.MaxFloat64
	feedVmax := math.MaxFloat64
	for i := 0; i < gcode.AxisCount; i++ {
		if abs(axisLength[i]) < minLengthMove {
			continue
		}
		bf.Unit[i] = axisLength[i] / length
		bf.AxisFlags[i] = true
		u := abs(bf.Unit[i])
		jerk = fmin(jerk, p.cfg.AxisJerk(i, false)/u)
		absoluteVmax = fmin(absoluteVmax, p.cfg.Axes[i].VelocityMax/u)
		feedVmax = fmin(feedVmax, p.cfg.Axes[i].FeedrateMax/u)
	}
	setBlockJerk(bf, jerk)

	// Cruise velocity request and override factor
	bf.OverrideFactor = 1.0
	if gm.MotionMode == gcode.MotionTraverse {
		bf.CruiseVset = absoluteVmax
		if p.mfoActive {
			bf.OverrideFactor = fmax(fmin(p.mfoFactor, TraverseOverrideMax), TraverseOverrideMin)
		}
	} else {
		if gm.FeedRateMode == gcode.InverseTimeMode {
			// F is reciprocal time: complete the move in 1/F minutes
			bf.CruiseVset = length * gm.FeedRate
		} else {
			bf.CruiseVset = gm.FeedRate
		}
		bf.CruiseVset = fmin(bf.CruiseVset, feedVmax)
		if p.mfoActive {
			bf.OverrideFactor = fmax(fmin(p.mfoFactor, FeedOverrideMax), FeedOverrideMin)
		}
	}
	bf.CruiseVset = fmax(bf.CruiseVset, minCruiseVelocity)

	bf.AbsoluteVmax = absoluteVmax
	bf.CruiseVmax = fmin(bf.CruiseVset*bf.OverrideFactor, absoluteVmax)
	bf.ExitVmax = bf.CruiseVmax
	bf.JunctionVmax = p.junctionVelocity(bf)
	bf.CruiseVelocity = bf.CruiseVmax

	bf.GM = *gm

	p.Position = gm.Target
	p.Q.CommitWriteBuffer(bf, BlockALine)
	p.requestBackPlanning()
	return nil
}

func setBlockJerk(bf *Block, jerk float64) {
	bf.Jerk = jerk
	bf.JerkSq = jerk * jerk
	bf.RecipJerk = 1.0 / jerk
	bf.SqrtJerk = math.Sqrt(jerk)
	// q / (2 sqrt(Jm)) where q = sqrt(10)/3^(1/4); used in length estimates
	q := math.Sqrt(10.0) / math.Pow(3.0, 0.25)
	bf.QRecip2Sqrtj = q / (2.0 * bf.SqrtJerk)
}

/*
 * junctionVelocity - cornering cap at the new block's entry
 *
 * For each axis the change in unit vector deltaU across the junction maps
 * the axis's maximum junction acceleration (jerk_max * JT) to a velocity
 * cap: v = a_j / |deltaU|. The corner velocity is the minimum over
 * participating axes, further capped by both blocks' velocity limits.
 * Collinear junctions have no corner and return the cruise cap.
 */

func (p *Planner) junctionVelocity(bf *Block) float64 {
	prev := p.Q.Prev(bf)
	if prev.State < BufferNotPlanned || prev.Type != BlockALine {
		return 0 // first move, or following a full stop: entry from rest
	}

	velocity := fmin(bf.CruiseVmax, prev.CruiseVmax)
	corner := false
	for i := 0; i < gcode.AxisCount; i++ {
		dU := abs(bf.Unit[i] - prev.Unit[i])
		if dU < velocityTolerance {
			continue
		}
		corner = true
		velocity = fmin(velocity, p.cfg.Axes[i].MaxJunctionAccel/dU)
	}
	if !corner {
		// No kink: the junction does not limit the corner at all.
		return fmin(bf.CruiseVmax, prev.CruiseVmax)
	}
	return velocity
}

func (p *Planner) requestBackPlanning() {
	p.requestPlanning = true
	p.blockTimeoutAt = core.GetTime() + core.TicksFromUS(uint32(BlockTimeoutMS*1000))
	p.blockTimeoutSet = true
	if p.state == plannerIdle {
		p.state = plannerStartup
	}
}

/*
 * Callback - backward planning pump
 *
 * Runs from the operating loop. Sweeps from the newest committed block
 * toward the run buffer assigning cruise and exit velocities under the
 * jerk, junction, and braking-length constraints, then notifies the
 * machine layer when the queue first becomes runnable. Startup is gated
 * on the block-assembly timeout or on enough queued time, so short jobs
 * stitch together before motion starts.
 */

// Callback pumps backward planning. Returns Noop when there is nothing
// to do.
func (p *Planner) Callback() status.Status {
	p.rampOverride()

	if !p.requestPlanning {
		return status.Noop
	}
	newest := p.Q.NewestIndex()
	if newest < 0 {
		p.state = plannerIdle
		p.requestPlanning = false
		return status.Noop
	}

	p.planBlockList(newest)
	p.timeAccounting()

	// Hold execution back during startup until blocks stop arriving or
	// there is enough runway queued.
	if p.state == plannerStartup {
		timeoutExpired := p.blockTimeoutSet && int32(core.GetTime()-p.blockTimeoutAt) >= 0
		if !timeoutExpired && p.PlannableTime < PhatCityTime && !p.Q.IsFull() {
			return status.Eagain
		}
		p.state = plannerBackPlanning
		p.blockTimeoutSet = false
	}

	p.requestPlanning = false
	if p.hooks.Runnable != nil && p.HasRunnableBuffer() {
		p.hooks.Runnable()
	}
	return status.OK
}

// planBlockList performs the backward sweep from the newest block toward
// the run buffer.
func (p *Planner) planBlockList(newest int) {
	// velocityIn is the maximum velocity the sweep allows flowing INTO the
	// junction at the end of the block under consideration. The queue end
	// is a known zero.
	velocityIn := 0.0
	i := newest
	for {
		b := p.Q.Get(i)
		if b.State < BufferNotPlanned || b.State >= BufferFullyPlanned || !b.Plannable {
			break
		}

		if b.Type != BlockALine {
			// Commands synchronize at zero velocity.
			b.ExitVelocity = 0
			b.CruiseVelocity = 0
			b.Hint = CommandHint
			b.State = BufferBackPlanned
			velocityIn = 0
		} else {
			if p.mfoActive || b.OverrideFactor != 1.0 {
				factor := b.OverrideFactor
				if p.mfoActive {
					factor = p.mfoFactor
				}
				b.CruiseVmax = fmin(b.CruiseVset*factor, b.AbsoluteVmax)
			}
			exitV := fmin(b.ExitVmax, velocityIn)
			b.ExitVelocity = exitV
			b.CruiseVelocity = b.CruiseVmax

			entryMax := fmin(b.TargetVelocity(exitV, b.Length), b.CruiseVmax)

			// Collinear continuation hint: junction does not bind and the
			// block can sustain cruise end to end.
			if b.JunctionVmax >= b.CruiseVmax &&
				velocityEq(exitV, b.CruiseVmax) && entryMax >= b.CruiseVmax {
				b.Hint = PerfectCruise
			} else if b.Hint == PerfectCruise {
				b.Hint = NoHint
			}

			b.State = BufferBackPlanned
			velocityIn = fmin(entryMax, b.JunctionVmax)
		}

		if i == p.Q.RunIndex() {
			break
		}
		i = p.Q.prev(i)
	}
}

// timeAccounting sums queued block time that is still plannable.
func (p *Planner) timeAccounting() {
	total := 0.0
	i := p.Q.RunIndex()
	for {
		b := p.Q.Get(i)
		if b.State == BufferEmpty || b.State == BufferInitializing {
			break
		}
		if b.Type == BlockALine && b.CruiseVelocity > 0 {
			if b.BlockTime > 0 {
				total += b.BlockTime
			} else {
				total += b.Length / b.CruiseVelocity
			}
		}
		if i == p.Q.NewestIndex() {
			break
		}
		i = p.Q.next(i)
	}
	p.PlannableTime = total
}

// ReplanQueue resets planning state from the run buffer forward so the
// backward planner can rework the queue. The run buffer itself keeps
// whatever state the caller set (hold finalization adjusts it directly).
func (p *Planner) ReplanQueue() {
	i := p.Q.RunIndex()
	first := true
	for {
		b := p.Q.Get(i)
		if b.State == BufferEmpty {
			break
		}
		if !first && b.State > BufferNotPlanned && b.State < BufferRunning {
			b.State = BufferNotPlanned
			b.Plannable = true
			b.Hint = NoHint
		}
		first = false
		if i == p.Q.NewestIndex() {
			break
		}
		i = p.Q.next(i)
	}
	p.requestPlanning = true
	p.state = plannerBackPlanning
}

// HaltRuntime stops the runtime dead: clears the active block and zeroes
// velocity. Used by alarm paths; position is preserved.
func (p *Planner) HaltRuntime() {
	p.MR.Reset()
	p.MR.SegmentVelocity = 0
}

// Assert validates planner structural invariants.
func (p *Planner) Assert() error {
	return p.Q.Assert()
}
