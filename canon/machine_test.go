package canon

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"gocnc/config"
	"gocnc/core"
	"gocnc/gcode"
	"gocnc/status"
	"gocnc/stepgen"
)

func setupController(t *testing.T) *Controller {
	t.Helper()
	core.ResetTimers()
	core.SetTime(0)
	cfg := config.Default()
	pipeline := stepgen.NewPipeline(cfg, [config.MotorCount]stepgen.StepBackend{})
	ctrl := NewController(cfg, pipeline, golog.NewTestLogger(t))
	ctrl.InstallTimerGuard()
	return ctrl
}

func mustExecute(t *testing.T, ctrl *Controller, lines ...string) {
	t.Helper()
	for _, line := range lines {
		for attempt := 0; ; attempt++ {
			err := ctrl.ExecuteLine(line)
			if errors.Is(err, status.Eagain) && attempt < 1000 {
				ctrl.RunFor(core.TimerFreq / 100)
				continue
			}
			if err != nil {
				t.Fatalf("line %q: %v", line, err)
			}
			break
		}
	}
}

func waitIdle(t *testing.T, ctrl *Controller) {
	t.Helper()
	if !ctrl.WaitIdle(core.TimerFreq * 300) {
		t.Fatalf("machine did not go idle")
	}
}

func TestTargetCompositionAbsolute(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()

	// Work offset of 10 in G54, absolute move to 50 -> machine 60
	var offset [gcode.AxisCount]float64
	var flags [gcode.AxisCount]bool
	offset[gcode.AxisX] = 10
	flags[gcode.AxisX] = true
	if err := m.SetG10Data(1, 2, offset, flags); err != nil {
		t.Fatalf("g10: %v", err)
	}
	m.SetCoordSystem(gcode.G54)

	var values [gcode.AxisCount]float64
	values[gcode.AxisX] = 50
	m.SetModelTarget(values, flags)
	if m.GM.Target[gcode.AxisX] != 60 {
		t.Errorf("expected machine target 60, got %g", m.GM.Target[gcode.AxisX])
	}
}

func TestTargetCompositionIncremental(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()
	m.GM.DistanceMode = gcode.IncrementalDistance

	var values [gcode.AxisCount]float64
	var flags [gcode.AxisCount]bool
	values[gcode.AxisX] = 0.1
	flags[gcode.AxisX] = true

	// Kahan compensation keeps long incremental chains from drifting
	for i := 0; i < 10000; i++ {
		m.SetModelTarget(values, flags)
	}
	if math.Abs(m.GM.Target[gcode.AxisX]-1000) > 1e-6 {
		t.Errorf("incremental drift: %g", m.GM.Target[gcode.AxisX]-1000)
	}
}

func TestG92OffsetLifecycle(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()

	m.GMX.Position[gcode.AxisX] = 25
	var values [gcode.AxisCount]float64
	var flags [gcode.AxisCount]bool
	flags[gcode.AxisX] = true
	values[gcode.AxisX] = 0

	if err := m.SetG92Offsets(values, flags); err != nil {
		t.Fatalf("g92: %v", err)
	}
	if !m.GMX.G92Enabled {
		t.Fatalf("g92 should be enabled")
	}
	if m.GetDisplayPosition(gcode.AxisX) != 0 {
		t.Errorf("display should read 0 at the g92 origin, got %g", m.GetDisplayPosition(gcode.AxisX))
	}

	m.SuspendG92Offsets()
	if m.GetDisplayPosition(gcode.AxisX) != 25 {
		t.Errorf("suspended g92 should expose machine position, got %g", m.GetDisplayPosition(gcode.AxisX))
	}
	m.ResumeG92Offsets()
	if m.GetDisplayPosition(gcode.AxisX) != 0 {
		t.Errorf("resumed g92 should re-apply, got %g", m.GetDisplayPosition(gcode.AxisX))
	}
	m.ResetG92Offsets()
	if m.GMX.G92Enabled || m.GMX.G92Offset[gcode.AxisX] != 0 {
		t.Errorf("g92.1 should zero and disable offsets")
	}
}

func TestCoordSystemRange(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()
	if err := m.SetCoordSystem(gcode.CoordSystem(9)); !errors.Is(err, status.CoordSystemError) {
		t.Errorf("coord system 9 should be rejected, got %v", err)
	}
	var offset [gcode.AxisCount]float64
	var flags [gcode.AxisCount]bool
	if err := m.SetG10Data(7, 2, offset, flags); !errors.Is(err, status.CoordSystemError) {
		t.Errorf("G10 P7 should be rejected, got %v", err)
	}
}

func TestSoftLimits(t *testing.T) {
	ctrl := setupController(t)
	ctrl.cfg.System.SoftLimitEnable = true
	m := ctrl.Primary()

	err := ctrl.ExecuteLine("G0 X500")
	if !errors.Is(err, status.SoftLimitExceeded) {
		t.Fatalf("expected soft limit rejection, got %v", err)
	}
	// The offending block leaves the queue untouched
	if m.Planner().Q.Available() != m.Planner().Q.Size() {
		t.Errorf("rejected move consumed a buffer")
	}

	if err := ctrl.ExecuteLine("G0 X400"); err != nil {
		t.Errorf("in-envelope move rejected: %v", err)
	}
}

func TestInverseTimeFeedRules(t *testing.T) {
	ctrl := setupController(t)

	// G93 feed without F is rejected
	mustExecute(t, ctrl, "G93")
	if err := ctrl.ExecuteLine("G1 X10"); !errors.Is(err, status.FeedrateNotSpecified) {
		t.Fatalf("G93 move without F should be rejected, got %v", err)
	}

	// With F it runs; F does not persist to the next G93 block
	mustExecute(t, ctrl, "G1 X10 F2.0")
	if err := ctrl.ExecuteLine("G1 X20"); !errors.Is(err, status.FeedrateNotSpecified) {
		t.Fatalf("G93 F must not persist, got %v", err)
	}

	// Returning to G94 needs a fresh F as well
	mustExecute(t, ctrl, "G94")
	if err := ctrl.ExecuteLine("G1 X30"); !errors.Is(err, status.FeedrateNotSpecified) {
		t.Fatalf("first G94 move after G93 needs a fresh F, got %v", err)
	}
	mustExecute(t, ctrl, "G1 X30 F600")
	waitIdle(t, ctrl)
}

func TestAlarmRejectsAndClears(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()

	m.Alarm(status.Alarm, "test alarm")
	if m.State() != StateAlarm {
		t.Fatalf("machine should be in alarm")
	}
	if err := ctrl.ExecuteLine("G0 X10"); !errors.Is(err, status.RejectedByAlarm) {
		t.Errorf("alarm should reject motion, got %v", err)
	}

	// M30 while draining clears a latched alarm
	ctrl.ExecuteLine("M30")
	if m.State() == StateAlarm {
		t.Errorf("M30 should clear the alarm")
	}
}

func TestShutdownUnhomes(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()
	m.homed[gcode.AxisX] = true

	m.Shutdown(status.Shutdown, "estop")
	if m.State() != StateShutdown {
		t.Fatalf("machine should be shut down")
	}
	if m.homed[gcode.AxisX] {
		t.Errorf("shutdown must unhome axes")
	}
	// Clear returns to READY
	m.Clear()
	if m.State() != StateReady {
		t.Errorf("clear after shutdown should go to READY, got %d", m.State())
	}
}

func TestPanicLatches(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()
	m.Panic(status.Panic, "assertion")
	if m.State() != StatePanic || ctrl.M2.State() != StatePanic {
		t.Fatalf("panic should latch both machines")
	}
	m.Clear()
	if m.State() != StatePanic {
		t.Errorf("panic must not clear")
	}
}

func TestProgramEndResetsModalState(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()
	mustExecute(t, ctrl, "G20", "G91", "G18", "G55")
	mustExecute(t, ctrl, "M2")
	waitIdle(t, ctrl)

	if m.GM.UnitsMode != gcode.Millimeters {
		t.Errorf("M2 should restore default units")
	}
	if m.GM.DistanceMode != gcode.AbsoluteDistance {
		t.Errorf("M2 should restore absolute distance mode")
	}
	if m.GM.SelectPlane != gcode.PlaneXY {
		t.Errorf("M2 should restore the default plane")
	}
	if m.GM.CoordSystem != gcode.G54 {
		t.Errorf("M2 should restore the default coordinate system")
	}
	if m.State() != StateProgramEnd {
		t.Errorf("expected PROGRAM_END, got %d", m.State())
	}
}

func TestToolLengthOffset(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()
	ctrl.ToolTable[3][gcode.AxisZ] = -1.5

	mustExecute(t, ctrl, "G43 H3")
	if m.GetCombinedOffset(gcode.AxisZ) != -1.5 {
		t.Errorf("G43 offset not applied: %g", m.GetCombinedOffset(gcode.AxisZ))
	}
	mustExecute(t, ctrl, "G49")
	if m.GetCombinedOffset(gcode.AxisZ) != 0 {
		t.Errorf("G49 should cancel the tool offset: %g", m.GetCombinedOffset(gcode.AxisZ))
	}
	if err := ctrl.ExecuteLine("G43 H40"); err == nil {
		t.Errorf("H beyond the tool table should be rejected")
	}
}

func TestUnitsConversion(t *testing.T) {
	ctrl := setupController(t)
	m := ctrl.Primary()
	mustExecute(t, ctrl, "G20", "G0 X2") // 2 inches
	waitIdle(t, ctrl)
	if math.Abs(m.GetAbsolutePosition(gcode.AxisX)-50.8) > 0.01 {
		t.Errorf("2in should be 50.8mm, got %g", m.GetAbsolutePosition(gcode.AxisX))
	}
}
