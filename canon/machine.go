// Package canon is the canonical machine: it owns interpreted G-code
// state, composes targets from coordinate systems and offsets, runs the
// machine state machine, dispatches motion to the planner, and sequences
// feedholds across the primary and secondary planners.
package canon

import (
	"github.com/edaniels/golog"

	"gocnc/config"
	"gocnc/gcode"
	"gocnc/planner"
	"gocnc/report"
	"gocnc/status"
	"gocnc/stepgen"
)

// MachineState is the overall machine/program execution state.
type MachineState uint8

const (
	StateInitializing MachineState = iota
	StateReady
	StateAlarm
	StateProgramStop // no blocks to run; gcode state preserved
	StateProgramEnd
	StateCycle // running; blocks still queued or steppers busy
	StateInterlock
	StateShutdown
	StatePanic
)

// MotionState tracks whether steppers are emitting motion.
type MotionState uint8

const (
	MotionStop MotionState = iota
	MotionRun
)

// CycleType qualifies what kind of cycle is running.
type CycleType uint8

const (
	CycleNone CycleType = iota
	CycleMachining
	CycleHoming
	CycleProbe
	CycleJog
)

// CombinedState merges machine, motion and hold state for reporting.
type CombinedState uint8

const (
	CombinedInitializing CombinedState = iota
	CombinedReady
	CombinedAlarm
	CombinedProgramStop
	CombinedProgramEnd
	CombinedRun
	CombinedHold
	CombinedProbe
	CombinedCycle
	CombinedHoming
	CombinedJog
	CombinedInterlock
	CombinedShutdown
	CombinedPanic
)

// FeedholdType selects how a feedhold executes.
type FeedholdType uint8

const (
	HoldTypeHold    FeedholdType = iota // normal jerk, no actions
	HoldTypeActions                     // normal jerk with hold entry actions
	HoldTypeSkip                        // skip remainder of the block
	HoldTypeScram                       // high jerk, stop all active devices
)

// FeedholdExit selects the final operation when a feedhold ends.
type FeedholdExit uint8

const (
	HoldExitCycle FeedholdExit = iota
	HoldExitFlush
	HoldExitStop
	HoldExitEnd
	HoldExitAlarm
	HoldExitShutdown
	HoldExitInterlock
	HoldExitResetPosition
)

type cycleStartState uint8

const (
	cycleStartOff cycleStartState = iota
	cycleStartRequested
)

type flushState uint8

const (
	flushOff flushState = iota
	flushRequested
)

type jobKillState uint8

const (
	jobKillOff jobKillState = iota
	jobKillRequested
)

// Machine is one canonical machine context. The controller holds two:
// the primary, and the secondary entered during feedholds to run hold
// actions without disturbing the held program.
type Machine struct {
	cfg *config.Machine
	mp  *planner.Planner

	GM  gcode.State
	GMX gcode.StateX

	machineState MachineState
	cycleType    CycleType
	motionState  MotionState

	holdType    FeedholdType
	holdExit    FeedholdExit
	holdProfile bool // true = high-speed jerk

	queueFlushState flushState
	cycleStartState cycleStartState
	jobKillState    jobKillState

	returnFlags [gcode.AxisCount]bool // axes to restore in the feedhold exit move

	tlOffsetEnabled bool  // G43 tool length offset active
	tlTool          uint8 // tool-table entry the offset comes from

	deferredWrite bool // offsets changed; persistence pending

	homed       [gcode.AxisCount]bool
	homingState uint8

	arc Arc

	ctrl *Controller
}

// Controller owns both canonical machines, the shared tool table, the
// stepper pipeline, and the current-machine selector. It replaces the
// process-wide cm/mp/mr globals of firmware designs: every routine that
// needs machine context receives the controller or a machine explicitly.
type Controller struct {
	M1, M2 *Machine
	active *Machine

	cfg      *config.Machine
	pipeline *stepgen.Pipeline
	reporter *report.Reporter
	logger   golog.Logger

	ToolTable [33][gcode.AxisCount]float64

	op operation

	spindle Spindle
	coolant Coolant
}

// NewController wires the full motion core: config, pipeline, both
// planners and machines.
func NewController(cfg *config.Machine, pipeline *stepgen.Pipeline, logger golog.Logger) *Controller {
	ctrl := &Controller{
		cfg:      cfg,
		pipeline: pipeline,
		reporter: report.New(logger),
		logger:   logger,
	}
	ctrl.ToolTable = cfg.ToolTable

	mp1 := planner.New(cfg, planner.QueueSize, pipeline)
	mp2 := planner.New(cfg, planner.SecondaryQueueSize, pipeline)

	ctrl.M1 = newMachine(cfg, mp1, ctrl)
	ctrl.M2 = newMachine(cfg, mp2, ctrl)
	ctrl.active = ctrl.M1

	pipeline.SetExecFunc(func() status.Status {
		return ctrl.active.mp.ExecMove()
	})

	for _, m := range []*Machine{ctrl.M1, ctrl.M2} {
		mm := m
		mm.mp.SetHooks(planner.Hooks{
			Runnable:      mm.onRunnable,
			MotionStopped: mm.onMotionStopped,
			BlockFreed:    func() { ctrl.reporter.QueueReport(mm.mp.Q.Available()) },
		})
	}

	ctrl.spindle.init(ctrl)
	ctrl.coolant.init(ctrl)
	ctrl.op.reset()

	ctrl.reporter.SetStatusProvider(ctrl.statusPayload)
	ctrl.M1.machineState = StateReady
	return ctrl
}

func newMachine(cfg *config.Machine, mp *planner.Planner, ctrl *Controller) *Machine {
	m := &Machine{cfg: cfg, mp: mp, ctrl: ctrl}
	m.GM.Reset()
	m.GM.CoordSystem = cfg.DefaultCoordSystem
	m.GM.SelectPlane = cfg.DefaultPlane
	m.GM.UnitsMode = cfg.DefaultUnitsMode
	m.GM.PathControl = cfg.DefaultPathControl
	m.GM.DistanceMode = cfg.DefaultDistanceMode
	m.GMX.Reset()
	m.GMX.G28Position = cfg.G28Position
	m.GMX.G30Position = cfg.G30Position
	m.machineState = StateInitializing
	return m
}

// Active returns the machine currently in control (primary, or secondary
// during feedhold actions).
func (c *Controller) Active() *Machine { return c.active }

// Primary returns the primary machine.
func (c *Controller) Primary() *Machine { return c.M1 }

// Reporter exposes the report channel.
func (c *Controller) Reporter() *report.Reporter { return c.reporter }

// Pipeline exposes the stepper pipeline.
func (c *Controller) Pipeline() *stepgen.Pipeline { return c.pipeline }

// Planner returns a machine's planner.
func (m *Machine) Planner() *planner.Planner { return m.mp }

// State returns the machine state.
func (m *Machine) State() MachineState { return m.machineState }

// Motion returns the motion state.
func (m *Machine) Motion() MotionState { return m.motionState }

// Cycle returns the cycle type.
func (m *Machine) Cycle() CycleType { return m.cycleType }

// HoldState returns the feedhold progression of this machine's planner.
func (m *Machine) HoldState() planner.HoldState { return m.mp.HoldState() }

// Combined computes the merged state for reporting.
func (m *Machine) Combined() CombinedState {
	switch m.machineState {
	case StateAlarm:
		return CombinedAlarm
	case StateShutdown:
		return CombinedShutdown
	case StatePanic:
		return CombinedPanic
	case StateInterlock:
		return CombinedInterlock
	case StateProgramStop:
		return CombinedProgramStop
	case StateProgramEnd:
		return CombinedProgramEnd
	case StateInitializing:
		return CombinedInitializing
	case StateReady:
		return CombinedReady
	}
	// in cycle
	if m.mp.InHold() {
		return CombinedHold
	}
	switch m.cycleType {
	case CycleHoming:
		return CombinedHoming
	case CycleProbe:
		return CombinedProbe
	case CycleJog:
		return CombinedJog
	}
	if m.motionState == MotionRun {
		return CombinedRun
	}
	return CombinedCycle
}

func (m *Machine) setMotionState(ms MotionState) {
	m.motionState = ms
}

// onRunnable fires when the planner's queue first holds runnable motion.
func (m *Machine) onRunnable() {
	if m.machineState == StateReady || m.machineState == StateProgramStop ||
		m.machineState == StateProgramEnd {
		m.CycleStart()
	}
	if m.machineState == StateCycle && !m.mp.InHold() {
		m.ctrl.pipeline.RequestExec()
	}
}

// onMotionStopped fires when the runtime goes idle.
func (m *Machine) onMotionStopped() {
	m.setMotionState(MotionStop)
	// A drained queue outside a hold ends the cycle.
	if m.machineState == StateCycle && !m.mp.InHold() && !m.mp.HasRunnableBuffer() {
		m.CycleEnd()
	}
}

// CycleStart begins (or resumes) a machining cycle.
func (m *Machine) CycleStart() {
	m.machineState = StateCycle
	if m.cycleType == CycleNone {
		m.cycleType = CycleMachining
	}
	m.setMotionState(MotionRun)
	m.ctrl.pipeline.CycleStart()
	m.ctrl.reporter.RequestStatusReport(false)
}

// CycleEnd ends the cycle: queue drained with runtime idle.
func (m *Machine) CycleEnd() {
	if m.machineState != StateCycle {
		return
	}
	m.machineState = StateProgramStop
	m.cycleType = CycleNone
	m.setMotionState(MotionStop)
	m.ctrl.pipeline.CycleEnd()
	m.ctrl.reporter.RequestStatusReport(false)
}

// ProgramStop implements M0/M1 at its synchronization point.
func (m *Machine) ProgramStop() {
	m.machineState = StateProgramStop
	m.cycleType = CycleNone
	m.setMotionState(MotionStop)
	m.ctrl.reporter.RequestStatusReport(false)
}

// ProgramEnd implements M2/M30: stop everything and reset modal state to
// the power-on defaults. Gcode offsets persist; G92 is canceled.
func (m *Machine) ProgramEnd() {
	m.machineState = StateProgramEnd
	m.cycleType = CycleNone
	m.setMotionState(MotionStop)

	m.GM.MotionMode = gcode.MotionCancel
	m.GM.CoordSystem = m.cfg.DefaultCoordSystem
	m.GM.SelectPlane = m.cfg.DefaultPlane
	m.GM.UnitsMode = m.cfg.DefaultUnitsMode
	m.GM.PathControl = m.cfg.DefaultPathControl
	m.GM.DistanceMode = m.cfg.DefaultDistanceMode
	m.GM.AbsoluteOverride = gcode.AbsoluteOverrideOff
	m.GMX.G92Enabled = false

	m.ctrl.spindle.ControlImmediate(SpindleOff)
	m.ctrl.coolant.ControlImmediate(CoolantOff, CoolantBoth)
	m.setDisplayOffsets(&m.GM)
	m.ctrl.pipeline.CycleEnd()
	m.ctrl.reporter.RequestStatusReport(false)
}

// IsAlarmed returns the rejection status for the current capture state.
func (m *Machine) IsAlarmed() error {
	switch m.machineState {
	case StateAlarm:
		return status.RejectedByAlarm
	case StateShutdown:
		return status.RejectedByShutdown
	case StatePanic:
		return status.RejectedByPanic
	}
	return nil
}

// statusPayload assembles the status report body.
func (c *Controller) statusPayload() map[string]interface{} {
	m := c.active
	pos := make(map[string]float64, gcode.AxisCount)
	for i := 0; i < gcode.AxisCount; i++ {
		pos[gcode.AxisNames[i]] = m.GetDisplayPosition(i)
	}
	return map[string]interface{}{
		"stat": int(m.Combined()),
		"macs": int(m.machineState),
		"cycs": int(m.cycleType),
		"mots": int(m.motionState),
		"hold": int(m.mp.HoldState()),
		"line": m.GM.LineNum,
		"vel":  m.mp.RuntimeVelocity(),
		"pos":  pos,
	}
}
