// Package gcode holds the G-code model: the modal state that travels with
// every planned block, the extended state that stays in the canonical
// machine, and a line parser that produces word/flag block records.
package gcode

// AxisCount is the number of logical axes: X, Y, Z, A, B, C.
const AxisCount = 6

// Axis indices.
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisA
	AxisB
	AxisC
)

// AxisNames maps axis index to display letter.
var AxisNames = [AxisCount]string{"x", "y", "z", "a", "b", "c"}

// MotionMode is G modal group 1.
type MotionMode uint8

const (
	MotionTraverse MotionMode = iota // G0
	MotionFeed                       // G1
	MotionCWArc                      // G2
	MotionCCWArc                     // G3
	MotionCancel                     // G80
	MotionProbe                      // G38.2
)

// Plane is the canonical plane selection (G17/G18/G19).
type Plane uint8

const (
	PlaneXY Plane = iota // G17: axis0=X axis1=Y linear=Z
	PlaneXZ              // G18: axis0=X axis1=Z linear=Y
	PlaneYZ              // G19: axis0=Y axis1=Z linear=X
)

// UnitsMode is G20/G21.
type UnitsMode uint8

const (
	Inches      UnitsMode = iota // G20
	Millimeters                  // G21
)

// MMPerInch converts input inches to internal millimeters.
const MMPerInch = 25.4

// CoordSystem selects the active work coordinate system.
type CoordSystem uint8

const (
	AbsoluteCoords CoordSystem = iota // G53 machine coordinates
	G54
	G55
	G56
	G57
	G58
	G59
)

// CoordSystemMax is the highest valid coordinate system index.
const CoordSystemMax = G59

// AbsoluteOverride is the per-block G53 flag.
type AbsoluteOverride uint8

const (
	AbsoluteOverrideOff AbsoluteOverride = iota
	AbsoluteOverrideOn
)

// PathControl is G modal group 13.
type PathControl uint8

const (
	PathExactPath  PathControl = iota // G61
	PathExactStop                     // G61.1
	PathContinuous                    // G64
)

// DistanceMode is G90/G91 (and G90.1/G91.1 for arc offsets).
type DistanceMode uint8

const (
	AbsoluteDistance    DistanceMode = iota // G90
	IncrementalDistance                     // G91
)

// FeedRateMode is G93/G94.
type FeedRateMode uint8

const (
	InverseTimeMode    FeedRateMode = iota // G93
	UnitsPerMinuteMode                     // G94
)

// ProgramFlow distinguishes M0/M1 stops from M2/M30 ends.
type ProgramFlow uint8

const (
	FlowStop ProgramFlow = iota // M0, M1
	FlowEnd                     // M2, M30
)

// State is the core G-code model state ("gm"). It is kept in normalized
// canonical form: all lengths in mm, all positions in the machine
// coordinate system. A copy is embedded in every planner block so the
// runtime carries a coherent snapshot of the model that queued it.
type State struct {
	LineNum    int32
	MotionMode MotionMode

	Target     [AxisCount]float64 // where the move should go (absolute mm)
	TargetComp [AxisCount]float64 // Kahan summation compensation

	DisplayOffset [AxisCount]float64 // work offsets, for reporting only

	FeedRate float64 // F - mm/min, or 1/min in inverse-time mode
	PWord    float64 // P - dwell seconds, G10 selector, arc rotations

	FeedRateMode     FeedRateMode
	SelectPlane      Plane
	UnitsMode        UnitsMode
	PathControl      PathControl
	DistanceMode     DistanceMode
	ArcDistanceMode  DistanceMode
	AbsoluteOverride AbsoluteOverride
	CoordSystem      CoordSystem
	Tool             uint8 // active tool (set by M6)
	ToolSelect       uint8 // pending tool (set by T)
}

// Reset restores power-on G-code defaults.
func (s *State) Reset() {
	*s = State{
		MotionMode:      MotionCancel,
		FeedRateMode:    UnitsPerMinuteMode,
		SelectPlane:     PlaneXY,
		UnitsMode:       Millimeters,
		PathControl:     PathContinuous,
		DistanceMode:    AbsoluteDistance,
		ArcDistanceMode: IncrementalDistance,
		CoordSystem:     G54,
	}
}

// StateX is the extended G-code model state ("gmx") that stays in the
// canonical machine and is not copied per block.
type StateX struct {
	Position [AxisCount]float64 // model position (machine coordinates, mm)

	G92Offset   [AxisCount]float64 // origin offsets
	G28Position [AxisCount]float64 // stored machine position for G28
	G30Position [AxisCount]float64 // stored machine position for G30

	M48Enable        bool // master override enable (M48/M49)
	FeedOverride     bool
	FeedFactor       float64
	TraverseOverride bool
	TraverseFactor   float64

	G92Enabled        bool
	BlockDeleteSwitch bool
}

// Reset restores power-on extended state. Stored positions survive.
func (x *StateX) Reset() {
	x.G92Offset = [AxisCount]float64{}
	x.M48Enable = true
	x.FeedOverride = false
	x.FeedFactor = 1.0
	x.TraverseOverride = false
	x.TraverseFactor = 1.0
	x.G92Enabled = false
	x.BlockDeleteSwitch = true
}
