package canon

import (
	"strings"

	"gocnc/planner"
	"gocnc/status"
)

/*
 * ALARM, SHUTDOWN, and PANIC are nested dolls.
 *
 * ALARM stops motion with a scram feedhold, preserves Gcode state, and
 * rejects new action commands until cleared. SHUTDOWN stops motion
 * immediately, drops spindle and coolant, unhomes the machine, and needs
 * a manual clear. PANIC latches on an internal assertion failure and
 * only a reset clears it; structures stay inspectable.
 */

// Alarm enters the ALARM state.
func (m *Machine) Alarm(st status.Status, msg string) error {
	switch m.machineState {
	case StateAlarm, StateShutdown, StatePanic:
		return nil // already in an alarm state
	}
	m.machineState = StateAlarm
	m.RequestFeedhold(HoldTypeScram, HoldExitAlarm)
	m.ctrl.reporter.Exception(st, msg)
	return st
}

// Shutdown enters the SHUTDOWN state (external estop support).
func (m *Machine) Shutdown(st status.Status, msg string) error {
	switch m.machineState {
	case StateShutdown, StatePanic:
		return nil
	}
	m.machineState = StateShutdown
	m.RequestFeedhold(HoldTypeScram, HoldExitShutdown)
	m.ctrl.spindle.ControlImmediate(SpindleOff)
	m.ctrl.coolant.ControlImmediate(CoolantOff, CoolantBoth)

	for i := range m.homed { // unhome axes and the machine
		m.homed[i] = false
	}
	m.homingState = 0

	m.ctrl.reporter.Exception(st, msg)
	return st
}

// Panic latches the PANIC state. Not recoverable without reset.
func (m *Machine) Panic(st status.Status, msg string) error {
	if m.machineState == StatePanic {
		return nil
	}
	m.HaltMotion()
	m.ctrl.spindle.ControlImmediate(SpindleOff)
	m.ctrl.coolant.ControlImmediate(CoolantOff, CoolantBoth)
	m.ctrl.M1.machineState = StatePanic
	m.ctrl.M2.machineState = StatePanic
	m.ctrl.reporter.Exception(st, msg)
	return st
}

// Clear clears ALARM to PROGRAM_STOP and SHUTDOWN to READY. PANIC does
// not clear.
func (m *Machine) Clear() {
	switch m.machineState {
	case StateAlarm:
		m.machineState = StateProgramStop
	case StateShutdown:
		m.machineState = StateReady
	}
}

// ParseClear interprets an M30 or M2 received while draining input as a
// clear condition for a latched ALARM.
func (m *Machine) ParseClear(line string) {
	if m.machineState != StateAlarm {
		return
	}
	s := strings.ToUpper(strings.TrimSpace(line))
	if s == "M2" || s == "M30" {
		m.Clear()
	}
}

// Halt stops motion, spindle and coolant immediately.
func (m *Machine) Halt() {
	m.HaltMotion()
	m.ctrl.spindle.ControlImmediate(SpindleOff)
	m.ctrl.coolant.ControlImmediate(CoolantOff, CoolantBoth)
}

// HaltMotion stops motion immediately without touching other IO. Motors
// stay energized so no axis crashes. The machine state is left alone.
func (m *Machine) HaltMotion() {
	m.ctrl.pipeline.Stop()
	m.mp.HaltRuntime()
	m.AbortArc()
	m.cycleType = CycleNone
	m.motionState = MotionStop
	m.mp.SetHoldState(planner.HoldOff)
}

// AssertAll runs structural assertions over both planners; any failure is
// a PANIC condition.
func (m *Machine) AssertAll() error {
	if err := m.ctrl.M1.mp.Assert(); err != nil {
		return m.Panic(status.PlannerAssertionFailure, "primary planner assertion")
	}
	if err := m.ctrl.M2.mp.Assert(); err != nil {
		return m.Panic(status.PlannerAssertionFailure, "secondary planner assertion")
	}
	return nil
}

// RequestInterlock begins an interlock hold from the safety input.
func (m *Machine) RequestInterlock() {
	if !m.cfg.System.SafetyInterlockEnable {
		return
	}
	m.RequestFeedhold(HoldTypeHold, HoldExitInterlock)
}
