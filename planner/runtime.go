package planner

import (
	"gocnc/config"
	"gocnc/gcode"
)

// MoveSection identifies the active section of a running block.
type MoveSection uint8

const (
	SectionHead MoveSection = iota // acceleration
	SectionBody                    // cruise
	SectionTail                    // deceleration
)

const sectionCount = 3

// SectionState tracks initialization of the active section.
type SectionState uint8

const (
	SectionOff SectionState = iota
	SectionNew
	SectionRunning
)

// BlockRuntime is the slice of runtime state needed to plan one block:
// section lengths and times plus the velocities that join them. Two of
// these exist per runtime - the running block ('r') and the one being
// pre-planned ('p') - and they are recycled as blocks complete.
type BlockRuntime struct {
	HeadLength float64
	BodyLength float64
	TailLength float64

	HeadTime float64
	BodyTime float64
	TailTime float64

	CruiseVelocity float64 // velocity at the end of the head / start of the tail
	ExitVelocity   float64 // velocity at the end of the move
}

func (b *BlockRuntime) reset() { *b = BlockRuntime{} }

// Length returns the planned block length.
func (b *BlockRuntime) Length() float64 {
	return b.HeadLength + b.BodyLength + b.TailLength
}

// Time returns the planned block time in minutes.
func (b *BlockRuntime) Time() float64 {
	return b.HeadTime + b.BodyTime + b.TailTime
}

// Runtime is the persistent run-time view ("mr"): the state owned by the
// segment executor. A block's transition to RUNNING is the single hand-off
// point; afterward only the executor mutates this structure.
type Runtime struct {
	BlockState   BlockState
	Section      MoveSection
	SectionState SectionState

	OutOfBandDwellFlag    bool
	OutOfBandDwellSeconds float64

	Unit      [gcode.AxisCount]float64
	AxisFlags [gcode.AxisCount]bool
	Target    [gcode.AxisCount]float64 // final target (corrects rounding errors)
	Position  [gcode.AxisCount]float64 // current move position
	Waypoint  [sectionCount][gcode.AxisCount]float64

	TargetSteps    [config.MotorCount]float64
	PositionSteps  [config.MotorCount]float64
	CommandedSteps [config.MotorCount]float64 // aligned with next encoder sample
	EncoderSteps   [config.MotorCount]float64
	FollowingError [config.MotorCount]float64 // EncoderSteps - CommandedSteps

	R      *BlockRuntime // block that is running
	P      *BlockRuntime // block being planned; p may == r
	blocks [2]BlockRuntime

	EntryVelocity float64 // entry velocity of the currently running block

	Segments        float64 // segments in the current section
	SegmentCount    uint32  // segments remaining in the current section
	SegmentVelocity float64
	SegmentTime     float64 // minutes per segment

	// Forward-difference levels for quintic velocity evolution
	fd [5]float64

	GM gcode.State // gcode model state currently executing

	runBlockNum  int // slot of the running buffer (diagnostic)
	planBlockNum int // slot of the next buffer to plan (diagnostic)
}

// NewRuntime wires the r/p block-runtime pair.
func NewRuntime() *Runtime {
	mr := &Runtime{}
	mr.R = &mr.blocks[0]
	mr.P = &mr.blocks[1]
	return mr
}

// Reset prepares the runtime for its next use without wiping positions.
func (mr *Runtime) Reset() {
	mr.BlockState = BlockInactive
	mr.Section = SectionHead
	mr.SectionState = SectionOff
	mr.EntryVelocity = 0 // next block forward-plans from zero velocity
	mr.R.ExitVelocity = 0
	mr.SegmentVelocity = 0
	mr.SegmentCount = 0
}

// SwapBlocks rotates the pre-planned block into the running slot.
func (mr *Runtime) SwapBlocks() {
	mr.R, mr.P = mr.P, mr.R
}

// initForwardDiffs seeds the forward-difference levels for a ramp from v0
// to v1 over the given number of segments. Velocities are sampled at
// segment midpoints, so integrating velocity*segmentTime tracks the true
// ramp length; waypoint snapping at section exit absorbs the residual.
// The fifth difference of a quintic is constant, making the additive
// per-segment update exact - the only affordable way to evaluate the
// curve at segment rate.
func (mr *Runtime) initForwardDiffs(v0, v1 float64, segments float64) {
	h := 1.0 / segments
	var q [6]float64
	for k := 0; k < 6; k++ {
		t := (float64(k) + 0.5) * h
		if t > 1.0 {
			t = 1.0
		}
		q[k] = quinticVelocity(v0, v1, t)
	}
	// difference table: after each pass d[0..5-level-1] holds the next
	// level of differences; d[0] seeds that forward-difference level
	var d [6]float64
	copy(d[:], q[:])
	for level := 0; level < 5; level++ {
		for k := 0; k < 5-level; k++ {
			d[k] = d[k+1] - d[k]
		}
		mr.fd[level] = d[0]
	}
	mr.SegmentVelocity = q[0]
}

// nextSegmentVelocity returns the velocity for the current segment and
// advances the forward differences.
func (mr *Runtime) nextSegmentVelocity() float64 {
	v := mr.SegmentVelocity
	mr.SegmentVelocity += mr.fd[0]
	mr.fd[0] += mr.fd[1]
	mr.fd[1] += mr.fd[2]
	mr.fd[2] += mr.fd[3]
	mr.fd[3] += mr.fd[4]
	return v
}
