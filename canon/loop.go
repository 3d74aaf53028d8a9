package canon

import (
	"gocnc/core"
	"gocnc/gcode"
	"gocnc/planner"
	"gocnc/status"
)

/*
 * Operating loop glue. The cooperative background tasks - arc spooling,
 * the operation sequencer, and backward planning - run from Tick; the
 * segment executor and stepper pipeline run preemptively from the timer
 * dispatch.
 */

// Tick runs one pass of the cooperative background tasks.
func (c *Controller) Tick() {
	c.active.ArcCallback()
	c.OperationCallback()
	c.active.mp.Callback()
	core.ProcessTimers()
}

// RunFor advances the machine by the given simulated ticks, interleaving
// background passes with timer dispatch. The quantum is well under the
// nominal segment period so segment timing stays faithful.
func (c *Controller) RunFor(ticks uint32) {
	const quantum = core.TimerFreq / 2000 // 0.5ms
	for elapsed := uint32(0); elapsed < ticks; elapsed += quantum {
		core.AdvanceTime(quantum)
		c.Tick()
	}
}

// WaitIdle runs the machine until the primary planner drains or the tick
// budget expires. Returns true if the machine went idle.
func (c *Controller) WaitIdle(maxTicks uint32) bool {
	const quantum = core.TimerFreq / 2000
	for elapsed := uint32(0); elapsed < maxTicks; elapsed += quantum {
		core.AdvanceTime(quantum)
		c.Tick()
		if c.active == c.M1 && c.M1.mp.RuntimeIsIdle() &&
			!c.M1.mp.HasRunnableBuffer() && !c.M1.ArcActive() &&
			c.M1.mp.HoldState() == planner.HoldOff {
			return true
		}
	}
	return false
}

// ExecuteLine parses and executes one line of G-code on the active
// machine. Lines are refused while a feedhold is in effect, except that
// M2/M30 clears a latched alarm while draining.
func (c *Controller) ExecuteLine(line string) error {
	c.M1.ParseClear(line)
	if err := c.CommandBlocker(); err != nil {
		return err
	}
	parser := gcode.NewParser()
	blk, err := parser.ParseLine(line)
	if err != nil || blk == nil {
		return err
	}
	return c.active.Execute(blk)
}

// InstallTimerGuard wires the scheduler's timer-in-past detection to a
// machine panic.
func (c *Controller) InstallTimerGuard() {
	core.SetTimerPastHandler(func(lateBy uint32) {
		c.M1.Panic(status.PrepTimerFailure, "stepper timer in the past")
	})
}
