package canon

import (
	"gocnc/gcode"
	"gocnc/status"
)

/*
 * Coordinate systems and offsets.
 *
 * Six persistent work offsets (G54..G59) plus the absolute machine system
 * (G53). G92 origin offsets are transient and can be set, canceled,
 * suspended and resumed. Tool-length offsets come from a 32-entry tool
 * table. The display offset - the sum visible to reporting - never alters
 * machine position.
 */

// GetCombinedOffset returns the total active offset for an axis: the
// active coordinate system plus enabled G92 plus the tool offset.
func (m *Machine) GetCombinedOffset(axis int) float64 {
	if m.GM.AbsoluteOverride == gcode.AbsoluteOverrideOn {
		return 0
	}
	offset := m.cfg.CoordOffsets[m.GM.CoordSystem][axis] + m.toolOffset(axis)
	if m.GMX.G92Enabled {
		offset += m.GMX.G92Offset[axis]
	}
	return offset
}

func (m *Machine) toolOffset(axis int) float64 {
	if !m.tlOffsetEnabled {
		return 0
	}
	return m.ctrl.ToolTable[m.tlTool][axis]
}

// SetToolLengthOffset implements G43: applies the tool-table offset for
// the given H word (or the active tool when H is absent).
func (m *Machine) SetToolLengthOffset(hWord uint8, hFlag bool) error {
	tool := m.GM.Tool
	if hFlag {
		tool = hWord
	}
	if int(tool) >= len(m.ctrl.ToolTable) {
		return status.ToolNumberError
	}
	m.tlOffsetEnabled = true
	m.tlTool = tool
	m.setDisplayOffsets(&m.GM)
	return nil
}

// CancelToolLengthOffset implements G49.
func (m *Machine) CancelToolLengthOffset() error {
	m.tlOffsetEnabled = false
	m.tlTool = 0
	m.setDisplayOffsets(&m.GM)
	return nil
}

// setDisplayOffsets records the currently active offsets in a gcode state
// for reporting.
func (m *Machine) setDisplayOffsets(gm *gcode.State) {
	for i := 0; i < gcode.AxisCount; i++ {
		gm.DisplayOffset[i] = m.GetCombinedOffset(i)
	}
}

// GetDisplayPosition returns an axis position in the active work
// coordinate system.
func (m *Machine) GetDisplayPosition(axis int) float64 {
	return m.GMX.Position[axis] - m.GM.DisplayOffset[axis]
}

// GetAbsolutePosition returns an axis position in machine coordinates.
func (m *Machine) GetAbsolutePosition(axis int) float64 {
	return m.GMX.Position[axis]
}

// SetCoordSystem activates G54..G59 (or G53 via absolute override).
func (m *Machine) SetCoordSystem(cs gcode.CoordSystem) error {
	if cs > gcode.CoordSystemMax {
		return status.CoordSystemError
	}
	m.GM.CoordSystem = cs
	m.setDisplayOffsets(&m.GM)
	return nil
}

// SetG92Offsets computes G92 offsets so the current position displays as
// the given values, and enables them.
func (m *Machine) SetG92Offsets(values [gcode.AxisCount]float64, flags [gcode.AxisCount]bool) error {
	m.GMX.G92Enabled = true
	for i := 0; i < gcode.AxisCount; i++ {
		if !flags[i] {
			continue
		}
		base := m.cfg.CoordOffsets[m.GM.CoordSystem][i] + m.toolOffset(i)
		m.GMX.G92Offset[i] = m.GMX.Position[i] - base - m.toMillimeters(values[i], i)
	}
	m.setDisplayOffsets(&m.GM)
	return nil
}

// ResetG92Offsets implements G92.1: zero and disable origin offsets.
func (m *Machine) ResetG92Offsets() error {
	m.GMX.G92Offset = [gcode.AxisCount]float64{}
	m.GMX.G92Enabled = false
	m.setDisplayOffsets(&m.GM)
	return nil
}

// SuspendG92Offsets implements G92.2: stop applying but preserve values.
func (m *Machine) SuspendG92Offsets() error {
	m.GMX.G92Enabled = false
	m.setDisplayOffsets(&m.GM)
	return nil
}

// ResumeG92Offsets implements G92.3.
func (m *Machine) ResumeG92Offsets() error {
	m.GMX.G92Enabled = true
	m.setDisplayOffsets(&m.GM)
	return nil
}

// SetG10Data writes persistent offsets: L2 writes a coordinate system,
// L1 writes a tool-table entry. P selects the target.
func (m *Machine) SetG10Data(pWord int, lWord int, offset [gcode.AxisCount]float64, flags [gcode.AxisCount]bool) error {
	switch lWord {
	case 2:
		if pWord < 1 || pWord > int(gcode.CoordSystemMax) {
			return status.CoordSystemError
		}
		for i := 0; i < gcode.AxisCount; i++ {
			if flags[i] {
				m.cfg.CoordOffsets[pWord][i] = m.toMillimeters(offset[i], i)
			}
		}
	case 1:
		if pWord < 1 || pWord >= len(m.ctrl.ToolTable) {
			return status.ToolNumberError
		}
		for i := 0; i < gcode.AxisCount; i++ {
			if flags[i] {
				m.ctrl.ToolTable[pWord][i] = m.toMillimeters(offset[i], i)
			}
		}
	default:
		return status.InputValueRangeError
	}
	m.deferredWrite = true // flag offsets for persistence
	m.setDisplayOffsets(&m.GM)
	return nil
}

// SelectTool implements the T word: records the pending tool.
func (m *Machine) SelectTool(tool uint8) error {
	if int(tool) >= len(m.ctrl.ToolTable) {
		return status.ToolNumberError
	}
	return m.mp.QueueTool(tool, func(values []float64, flags []bool) {
		m.GM.ToolSelect = tool
	})
}

// ChangeTool implements M6: activates the pending tool.
func (m *Machine) ChangeTool() error {
	return m.mp.QueueCommand(func(values []float64, flags []bool) {
		m.GM.Tool = m.GM.ToolSelect
		m.setDisplayOffsets(&m.GM)
	}, nil, nil)
}

// SetG28Position stores the current machine position for G28 returns.
func (m *Machine) SetG28Position() error {
	m.GMX.G28Position = m.GMX.Position
	return nil
}

// SetG30Position stores the current machine position for G30 returns.
func (m *Machine) SetG30Position() error {
	m.GMX.G30Position = m.GMX.Position
	return nil
}

// GotoG28Position moves through an optional intermediate point to the
// stored G28 position.
func (m *Machine) GotoG28Position(target [gcode.AxisCount]float64, flags [gcode.AxisCount]bool) error {
	return m.gotoStored(m.GMX.G28Position, target, flags)
}

// GotoG30Position moves through an optional intermediate point to the
// stored G30 position.
func (m *Machine) GotoG30Position(target [gcode.AxisCount]float64, flags [gcode.AxisCount]bool) error {
	return m.gotoStored(m.GMX.G30Position, target, flags)
}

func (m *Machine) gotoStored(stored, target [gcode.AxisCount]float64, flags [gcode.AxisCount]bool) error {
	// Optional intermediate move through the flagged axes first
	any := false
	for i := range flags {
		if flags[i] {
			any = true
			break
		}
	}
	if any {
		if err := m.StraightTraverse(target, flags); err != nil {
			return err
		}
	}
	// Then an absolute rapid to the stored machine position on all axes
	saved := m.GM.AbsoluteOverride
	savedDist := m.GM.DistanceMode
	m.GM.AbsoluteOverride = gcode.AbsoluteOverrideOn
	m.GM.DistanceMode = gcode.AbsoluteDistance
	var all [gcode.AxisCount]bool
	for i := range all {
		all[i] = true
	}
	err := m.StraightTraverse(stored, all)
	m.GM.AbsoluteOverride = saved
	m.GM.DistanceMode = savedDist
	return err
}

// SetPositionByAxis forces one axis of every position view to an absolute
// position. Only legal when nothing is running.
func (m *Machine) SetPositionByAxis(axis int, position float64) {
	m.GMX.Position[axis] = position
	m.GM.Target[axis] = position
	m.mp.SetPlannerPosition(axis, position)
	m.mp.SetRuntimePosition(axis, position)
}

// ResetPositionToAbsolutePosition aligns model, planner, and runtime
// positions to the runtime's current absolute position. Used after queue
// flushes, when all three views must agree.
func (m *Machine) ResetPositionToAbsolutePosition() {
	pos := m.mp.MR.Position
	m.GMX.Position = pos
	m.GM.Target = pos
	m.GM.TargetComp = [gcode.AxisCount]float64{}
	m.mp.Position = pos
	m.mp.SetStepsToRuntimePosition()
}

// UpdateModelPosition advances the model position to the most recently
// queued target. Called after each successful move commit.
func (m *Machine) UpdateModelPosition() {
	m.GMX.Position = m.GM.Target
}

// toMillimeters normalizes an input value to mm for linear axes,
// respecting the active units mode. Rotary axes pass through as degrees.
func (m *Machine) toMillimeters(v float64, axis int) float64 {
	if axis >= gcode.AxisA {
		return v
	}
	if m.GM.UnitsMode == gcode.Inches {
		return v * gcode.MMPerInch
	}
	return v
}
