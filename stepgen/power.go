package stepgen

import (
	"gocnc/config"
	"gocnc/core"
)

/*
 * Motor power management. Each motor has a power mode:
 *
 *   MotorDisabled           never energized
 *   MotorAlwaysOn           energized at init, stays on
 *   MotorPoweredInCycle     energized while a cycle runs, idles out after
 *   MotorPoweredWhenMoving  energized only while its channel is stepping
 *
 * Idle-out is driven by a timer armed when motion goes quiet; any step
 * activity rearms it.
 */

type powerManager struct {
	cfg       *config.Machine
	backends  *[config.MotorCount]StepBackend
	energized [config.MotorCount]bool
	inCycle   bool

	idleTimer    core.Timer
	idleArmed    bool
	lastActivity uint32
}

func (pm *powerManager) init(cfg *config.Machine, backends *[config.MotorCount]StepBackend) {
	pm.cfg = cfg
	pm.backends = backends
	pm.idleTimer.Handler = pm.idleHandler
	for m := 0; m < config.MotorCount; m++ {
		if cfg.Motors[m].PowerMode == config.MotorAlwaysOn {
			pm.energize(m)
		}
	}
}

func (pm *powerManager) energize(m int) {
	if pm.energized[m] {
		return
	}
	pm.energized[m] = true
	(*pm.backends)[m].SetEnabled(true)
}

func (pm *powerManager) deenergize(m int) {
	if !pm.energized[m] {
		return
	}
	pm.energized[m] = false
	(*pm.backends)[m].SetEnabled(false)
}

// CycleStart energizes in-cycle motors. Called by the machine layer at
// the start of a machining cycle.
func (pm *powerManager) cycleStart() {
	pm.inCycle = true
	for m := 0; m < config.MotorCount; m++ {
		if pm.cfg.Motors[m].PowerMode == config.MotorPoweredInCycle {
			pm.energize(m)
		}
	}
}

// CycleEnd arms the idle timeout for in-cycle motors.
func (pm *powerManager) cycleEnd() {
	pm.inCycle = false
	pm.armIdle()
}

func (pm *powerManager) motorActive(m int) {
	mode := pm.cfg.Motors[m].PowerMode
	if mode == config.MotorPoweredWhenMoving || mode == config.MotorPoweredInCycle {
		pm.energize(m)
	}
	pm.lastActivity = core.GetTime()
}

func (pm *powerManager) motionIdle() {
	pm.armIdle()
}

func (pm *powerManager) armIdle() {
	timeout := pm.cfg.System.MotorPowerTimeout
	if timeout <= 0 || pm.idleArmed {
		return
	}
	pm.idleArmed = true
	pm.idleTimer.WakeTime = core.GetTime() + core.TicksFromUS(uint32(timeout*1e6))
	core.ScheduleTimer(&pm.idleTimer)
}

func (pm *powerManager) idleHandler(t *core.Timer) uint8 {
	pm.idleArmed = false
	elapsed := core.GetTime() - pm.lastActivity
	if elapsed < core.TicksFromUS(uint32(pm.cfg.System.MotorPowerTimeout*1e6)) {
		// activity since arming; rearm from here
		pm.armIdle()
		return core.Done
	}
	for m := 0; m < config.MotorCount; m++ {
		switch pm.cfg.Motors[m].PowerMode {
		case config.MotorPoweredWhenMoving:
			pm.deenergize(m)
		case config.MotorPoweredInCycle:
			if !pm.inCycle {
				pm.deenergize(m)
			}
		}
	}
	return core.Done
}

// CycleStart forwards machine cycle starts to the power manager.
func (pl *Pipeline) CycleStart() { pl.power.cycleStart() }

// CycleEnd forwards machine cycle ends to the power manager.
func (pl *Pipeline) CycleEnd() { pl.power.cycleEnd() }

// MotorEnergized reports whether a motor is currently energized.
func (pl *Pipeline) MotorEnergized(m int) bool { return pl.power.energized[m] }
