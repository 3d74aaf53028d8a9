package canon

import (
	"gocnc/gcode"
	"gocnc/status"
)

/*
 * Block interpreter. Executes one parsed G-code block against the
 * canonical machine, applying words in the RS274 order of execution:
 * feed mode, feed rate, spindle speed, tool, tool change, spindle,
 * coolant, dwell, representation changes, offsets, then motion.
 */

// Execute runs one parsed block.
func (m *Machine) Execute(blk *gcode.Block) error {
	if blk == nil {
		return nil
	}
	if blk.BlockDelete && m.GMX.BlockDeleteSwitch {
		return nil
	}
	if err := m.IsAlarmed(); err != nil {
		return err
	}
	if blk.HasLineNum {
		m.GM.LineNum = blk.LineNum
	}
	if blk.Comment != "" {
		m.Message(blk.Comment)
	}

	// Feed rate mode before feed rate
	if blk.HasG(93) {
		m.SetFeedRateMode(gcode.InverseTimeMode)
	}
	if blk.HasG(94) {
		m.SetFeedRateMode(gcode.UnitsPerMinuteMode)
	}
	if blk.Has('F') {
		if err := m.SetFeedRate(blk.Value('F', 0)); err != nil {
			return err
		}
	}
	if blk.Has('S') {
		if err := m.ctrl.spindle.SetSpeedSync(blk.Value('S', 0)); err != nil {
			return err
		}
	}
	if blk.Has('T') {
		if err := m.SelectTool(uint8(blk.Value('T', 0))); err != nil {
			return err
		}
	}

	// M words
	for _, mw := range blk.MWords {
		if err := m.executeM(mw, blk); err != nil {
			return err
		}
	}

	// Representation and non-motion G words
	for _, gw := range blk.GWords {
		if err := m.executeG(gw, blk); err != nil {
			return err
		}
	}

	// Motion: a motion-mode G word was latched by executeG; axis words
	// alone continue the modal motion mode.
	if m.hasAxisWords(blk) && !blk.HasG(4) && !blk.HasG(10) &&
		!blk.HasG(28.1) && !blk.HasG(30.1) && !blk.HasG(92) && !blk.HasG(28) && !blk.HasG(30) {
		if err := m.executeMotion(blk); err != nil {
			return err
		}
	}

	// G53 is effective for this block only
	m.GM.AbsoluteOverride = gcode.AbsoluteOverrideOff
	return nil
}

func (m *Machine) hasAxisWords(blk *gcode.Block) bool {
	for _, l := range []byte{'X', 'Y', 'Z', 'A', 'B', 'C'} {
		if blk.Has(l) {
			return true
		}
	}
	return false
}

func (m *Machine) axisWords(blk *gcode.Block) (values [gcode.AxisCount]float64, flags [gcode.AxisCount]bool) {
	letters := []byte{'X', 'Y', 'Z', 'A', 'B', 'C'}
	for i, l := range letters {
		if blk.Has(l) {
			values[i] = blk.Value(l, 0)
			flags[i] = true
		}
	}
	return values, flags
}

func (m *Machine) executeG(gw float64, blk *gcode.Block) error {
	switch {
	case eqWord(gw, 0):
		m.GM.MotionMode = gcode.MotionTraverse
	case eqWord(gw, 1):
		m.GM.MotionMode = gcode.MotionFeed
	case eqWord(gw, 2):
		m.GM.MotionMode = gcode.MotionCWArc
	case eqWord(gw, 3):
		m.GM.MotionMode = gcode.MotionCCWArc
	case eqWord(gw, 80):
		m.GM.MotionMode = gcode.MotionCancel

	case eqWord(gw, 4):
		return m.Dwell(blk.Value('P', 0))

	case eqWord(gw, 10):
		values, flags := m.axisWords(blk)
		return m.SetG10Data(int(blk.Value('P', 0)), int(blk.Value('L', 0)), values, flags)

	case eqWord(gw, 17):
		return m.SelectPlane(gcode.PlaneXY)
	case eqWord(gw, 18):
		return m.SelectPlane(gcode.PlaneXZ)
	case eqWord(gw, 19):
		return m.SelectPlane(gcode.PlaneYZ)

	case eqWord(gw, 20):
		return m.SetUnitsMode(gcode.Inches)
	case eqWord(gw, 21):
		return m.SetUnitsMode(gcode.Millimeters)

	case eqWord(gw, 43):
		return m.SetToolLengthOffset(uint8(blk.Value('H', 0)), blk.Has('H'))
	case eqWord(gw, 49):
		return m.CancelToolLengthOffset()

	case eqWord(gw, 28):
		values, flags := m.axisWords(blk)
		return m.GotoG28Position(values, flags)
	case eqWord(gw, 28.1):
		return m.SetG28Position()
	case eqWord(gw, 30):
		values, flags := m.axisWords(blk)
		return m.GotoG30Position(values, flags)
	case eqWord(gw, 30.1):
		return m.SetG30Position()

	case eqWord(gw, 53):
		m.SetAbsoluteOverride(true)

	case eqWord(gw, 54), eqWord(gw, 55), eqWord(gw, 56),
		eqWord(gw, 57), eqWord(gw, 58), eqWord(gw, 59):
		return m.SetCoordSystem(gcode.CoordSystem(int(gw) - 53))

	case eqWord(gw, 61):
		return m.SetPathControl(gcode.PathExactPath)
	case eqWord(gw, 61.1):
		return m.SetPathControl(gcode.PathExactStop)
	case eqWord(gw, 64):
		return m.SetPathControl(gcode.PathContinuous)

	case eqWord(gw, 90):
		return m.SetDistanceMode(gcode.AbsoluteDistance)
	case eqWord(gw, 91):
		return m.SetDistanceMode(gcode.IncrementalDistance)
	case eqWord(gw, 90.1):
		return m.SetArcDistanceMode(gcode.AbsoluteDistance)
	case eqWord(gw, 91.1):
		return m.SetArcDistanceMode(gcode.IncrementalDistance)

	case eqWord(gw, 92):
		values, flags := m.axisWords(blk)
		return m.SetG92Offsets(values, flags)
	case eqWord(gw, 92.1):
		return m.ResetG92Offsets()
	case eqWord(gw, 92.2):
		return m.SuspendG92Offsets()
	case eqWord(gw, 92.3):
		return m.ResumeG92Offsets()

	case eqWord(gw, 93), eqWord(gw, 94):
		// handled before the F word

	default:
		return status.UnsupportedCode
	}
	return nil
}

func (m *Machine) executeM(mw float64, blk *gcode.Block) error {
	switch {
	case eqWord(mw, 0), eqWord(mw, 1): // M1 honors no optional-stop input here
		return m.QueueProgramStop()
	case eqWord(mw, 2), eqWord(mw, 30):
		return m.QueueProgramEnd()

	case eqWord(mw, 3):
		return m.ctrl.spindle.ControlSync(SpindleCW)
	case eqWord(mw, 4):
		return m.ctrl.spindle.ControlSync(SpindleCCW)
	case eqWord(mw, 5):
		return m.ctrl.spindle.ControlSync(SpindleOff)

	case eqWord(mw, 6):
		return m.ChangeTool()

	case eqWord(mw, 7):
		return m.ctrl.coolant.ControlSync(CoolantOn, CoolantMist)
	case eqWord(mw, 8):
		return m.ctrl.coolant.ControlSync(CoolantOn, CoolantFlood)
	case eqWord(mw, 9):
		return m.ctrl.coolant.ControlSync(CoolantOff, CoolantBoth)

	case eqWord(mw, 48):
		m.SetM48Enable(true)
	case eqWord(mw, 49):
		m.SetM48Enable(false)
	case eqWord(mw, 50):
		return m.FeedOverrideControl(blk.Value('P', 0), blk.Has('P'))
	case eqWord(mw, 50.1):
		return m.TraverseOverrideControl(blk.Value('P', 0), blk.Has('P'))

	default:
		return status.UnsupportedCode
	}
	return nil
}

func (m *Machine) executeMotion(blk *gcode.Block) error {
	values, flags := m.axisWords(blk)
	switch m.GM.MotionMode {
	case gcode.MotionTraverse:
		return m.StraightTraverse(values, flags)
	case gcode.MotionFeed:
		return m.StraightFeed(values, flags)
	case gcode.MotionCWArc, gcode.MotionCCWArc:
		var offset [3]float64
		var offsetFlags [3]bool
		for i, l := range []byte{'I', 'J', 'K'} {
			if blk.Has(l) {
				offset[i] = blk.Value(l, 0)
				offsetFlags[i] = true
			}
		}
		return m.ArcFeed(values, flags,
			offset, offsetFlags,
			blk.Value('R', 0), blk.Has('R'),
			blk.Value('P', 0), blk.Has('P'),
			m.GM.MotionMode)
	case gcode.MotionCancel:
		return nil // axis words with canceled motion are ignored
	}
	return status.UnsupportedCode
}

func eqWord(a, b float64) bool {
	d := a - b
	return d < 0.001 && d > -0.001
}
