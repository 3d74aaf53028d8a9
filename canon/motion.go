package canon

import (
	"gocnc/gcode"
	"gocnc/status"
)

/*
 * Canonical machining functions: representation setters, free-space
 * motion, machining attributes, and machining functions, loosely after
 * the NIST RS274/NGC canonical set.
 */

// SelectPlane implements G17/G18/G19.
func (m *Machine) SelectPlane(plane gcode.Plane) error {
	m.GM.SelectPlane = plane
	return nil
}

// SetUnitsMode implements G20/G21.
func (m *Machine) SetUnitsMode(mode gcode.UnitsMode) error {
	m.GM.UnitsMode = mode
	return nil
}

// SetDistanceMode implements G90/G91.
func (m *Machine) SetDistanceMode(mode gcode.DistanceMode) error {
	m.GM.DistanceMode = mode
	return nil
}

// SetArcDistanceMode implements G90.1/G91.1.
func (m *Machine) SetArcDistanceMode(mode gcode.DistanceMode) error {
	m.GM.ArcDistanceMode = mode
	return nil
}

// SetPathControl implements G61/G61.1/G64.
func (m *Machine) SetPathControl(mode gcode.PathControl) error {
	m.GM.PathControl = mode
	return nil
}

// SetFeedRate records the F word, normalized to mm/min. In inverse-time
// mode the value is a reciprocal time and applies to the next feed block
// only.
func (m *Machine) SetFeedRate(feedRate float64) error {
	if feedRate < 0 {
		return status.InputValueRangeError
	}
	if m.GM.UnitsMode == gcode.Inches && m.GM.FeedRateMode != gcode.InverseTimeMode {
		feedRate *= gcode.MMPerInch
	}
	m.GM.FeedRate = feedRate
	return nil
}

// SetFeedRateMode implements G93/G94. Changing into or out of
// inverse-time mode invalidates the stored F: each G93 feed block must
// carry its own, and the first G94 block after G93 must supply a fresh F.
func (m *Machine) SetFeedRateMode(mode gcode.FeedRateMode) error {
	if mode != m.GM.FeedRateMode {
		m.GM.FeedRate = 0
	}
	m.GM.FeedRateMode = mode
	return nil
}

// SetAbsoluteOverride sets the per-block G53 flag.
func (m *Machine) SetAbsoluteOverride(on bool) {
	if on {
		m.GM.AbsoluteOverride = gcode.AbsoluteOverrideOn
	} else {
		m.GM.AbsoluteOverride = gcode.AbsoluteOverrideOff
	}
}

// StraightTraverse implements G0.
func (m *Machine) StraightTraverse(target [gcode.AxisCount]float64, flags [gcode.AxisCount]bool) error {
	if err := m.IsAlarmed(); err != nil {
		return err
	}
	if m.mp.IsFull() {
		// Backpressure before any model mutation: a retried incremental
		// move must not accumulate its offset twice.
		return status.Eagain
	}
	m.GM.MotionMode = gcode.MotionTraverse
	m.SetModelTarget(target, flags)
	if err := m.TestSoftLimits(m.GM.Target); err != nil {
		return err
	}
	m.setDisplayOffsets(&m.GM)
	if err := m.mp.ALine(&m.GM); err != nil {
		return err
	}
	m.UpdateModelPosition()
	return nil
}

// StraightFeed implements G1.
func (m *Machine) StraightFeed(target [gcode.AxisCount]float64, flags [gcode.AxisCount]bool) error {
	if err := m.IsAlarmed(); err != nil {
		return err
	}
	if m.GM.FeedRate <= 0 {
		// covers both "no F yet" and inverse-time mode without a block F
		return status.FeedrateNotSpecified
	}
	if m.mp.IsFull() {
		return status.Eagain
	}
	m.GM.MotionMode = gcode.MotionFeed
	m.SetModelTarget(target, flags)
	if err := m.TestSoftLimits(m.GM.Target); err != nil {
		return err
	}
	m.setDisplayOffsets(&m.GM)
	if err := m.mp.ALine(&m.GM); err != nil {
		return err
	}
	m.UpdateModelPosition()

	// Inverse-time feed rates are good for exactly one block.
	if m.GM.FeedRateMode == gcode.InverseTimeMode {
		m.GM.FeedRate = 0
	}
	return nil
}

// Dwell implements G4.
func (m *Machine) Dwell(seconds float64) error {
	if err := m.IsAlarmed(); err != nil {
		return err
	}
	if seconds < 0 {
		return status.InputValueRangeError
	}
	return m.mp.Dwell(seconds)
}

// QueueProgramStop queues the M0/M1 program stop at a synchronization point.
func (m *Machine) QueueProgramStop() error {
	return m.mp.QueueStop(func(values []float64, flags []bool) {
		m.ProgramStop()
	})
}

// QueueProgramEnd queues the M2/M30 program end.
func (m *Machine) QueueProgramEnd() error {
	return m.mp.QueueEnd(func(values []float64, flags []bool) {
		m.ProgramEnd()
	})
}

// SetM48Enable implements M48/M49 master override enable.
func (m *Machine) SetM48Enable(enable bool) {
	m.GMX.M48Enable = enable
	m.applyOverrides()
}

// FeedOverrideControl implements M50: enable/disable and set the feed
// override factor.
func (m *Machine) FeedOverrideControl(factor float64, hasFactor bool) error {
	if hasFactor {
		if factor < 0.05 || factor > 2.0 {
			return status.InputValueRangeError
		}
		m.GMX.FeedFactor = factor
		m.GMX.FeedOverride = true
	} else {
		m.GMX.FeedOverride = !m.GMX.FeedOverride
	}
	m.applyOverrides()
	return nil
}

// TraverseOverrideControl implements M50.1.
func (m *Machine) TraverseOverrideControl(factor float64, hasFactor bool) error {
	if hasFactor {
		if factor < 0.05 || factor > 1.0 {
			return status.InputValueRangeError
		}
		m.GMX.TraverseFactor = factor
		m.GMX.TraverseOverride = true
	} else {
		m.GMX.TraverseOverride = !m.GMX.TraverseOverride
	}
	m.applyOverrides()
	return nil
}

func (m *Machine) applyOverrides() {
	if m.GMX.M48Enable && m.GMX.FeedOverride {
		m.mp.StartFeedOverride(0.5/60.0, m.GMX.FeedFactor)
	} else {
		m.mp.EndFeedOverride(0.5 / 60.0)
	}
}

// ResetOverrides restores override factors to neutral.
func (m *Machine) ResetOverrides() {
	m.GMX.FeedFactor = 1.0
	m.GMX.FeedOverride = false
	m.GMX.TraverseFactor = 1.0
	m.GMX.TraverseOverride = false
}

// Message relays a comment message to the console.
func (m *Machine) Message(msg string) {
	m.ctrl.reporter.Message(msg)
}
