package canon

import (
	"github.com/pkg/errors"

	"gocnc/config"
	"gocnc/gcode"
	"gocnc/status"
)

/*
 * Target composition. Model targets are always absolute machine
 * coordinates in mm. Work-coordinate inputs add the combined offset;
 * incremental inputs accumulate with Kahan compensation so long chains of
 * small relative moves do not drift.
 */

// SetModelTarget computes the model target for the flagged axes from the
// block's input values.
func (m *Machine) SetModelTarget(values [gcode.AxisCount]float64, flags [gcode.AxisCount]bool) {
	for i := 0; i < gcode.AxisCount; i++ {
		if !flags[i] || m.cfg.Axes[i].Mode == config.AxisDisabled {
			continue
		}
		value := m.toMillimeters(values[i], i)

		if m.GM.DistanceMode == gcode.AbsoluteDistance ||
			m.GM.AbsoluteOverride == gcode.AbsoluteOverrideOn {
			m.GM.Target[i] = value + m.GetCombinedOffset(i)
			m.GM.TargetComp[i] = 0
		} else {
			// Kahan compensated incremental accumulation
			y := value - m.GM.TargetComp[i]
			t := m.GM.Target[i] + y
			m.GM.TargetComp[i] = (t - m.GM.Target[i]) - y
			m.GM.Target[i] = t
		}
	}
}

// softLimitDisabled is the travel range treated as "no limit configured".
const softLimitDisabled = 999999.0

// TestSoftLimits rejects a target outside the travel envelope of any
// participating axis.
func (m *Machine) TestSoftLimits(target [gcode.AxisCount]float64) error {
	if !m.cfg.System.SoftLimitEnable {
		return nil
	}
	for i := 0; i < gcode.AxisCount; i++ {
		a := &m.cfg.Axes[i]
		if a.Mode == config.AxisDisabled {
			continue
		}
		if a.TravelMin <= -softLimitDisabled && a.TravelMax >= softLimitDisabled {
			continue
		}
		if target[i] < a.TravelMin || target[i] > a.TravelMax {
			return errors.Wrapf(status.SoftLimitExceeded,
				"axis %s target %.3f outside [%.3f, %.3f]",
				gcode.AxisNames[i], target[i], a.TravelMin, a.TravelMax)
		}
	}
	return nil
}
