package stepgen

import (
	"math"
	"testing"

	"gocnc/config"
	"gocnc/core"
	"gocnc/status"
)

func newTestPipeline() *Pipeline {
	core.ResetTimers()
	core.SetTime(0)
	cfg := config.Default()
	return NewPipeline(cfg, [config.MotorCount]StepBackend{})
}

func runTicks(ticks uint32) {
	core.RunFor(ticks, core.TicksFromUS(100))
}

func TestSegmentDispatchAndEncoders(t *testing.T) {
	pl := newTestPipeline()

	segTime := 1.5 / 60000.0 // 1.5ms in minutes
	var travel, fe [config.MotorCount]float64
	travel[0] = 40
	travel[1] = -20

	if err := pl.PrepSegment(travel, fe, segTime); err != nil {
		t.Fatalf("prep: %v", err)
	}
	pl.RequestExec()
	if !pl.IsBusy() {
		t.Fatalf("pipeline should be busy with a segment loaded")
	}

	runTicks(core.TicksFromMinutes(segTime) + core.TicksFromUS(200))

	if pl.Encoder(0) != 40 {
		t.Errorf("motor 0 encoder: expected 40, got %g", pl.Encoder(0))
	}
	if pl.Encoder(1) != -20 {
		t.Errorf("motor 1 encoder: expected -20, got %g", pl.Encoder(1))
	}
	sim := pl.Backend(0).(*SimBackend)
	if sim.Steps() != 40 {
		t.Errorf("motor 0 backend steps: expected 40, got %d", sim.Steps())
	}
	sim1 := pl.Backend(1).(*SimBackend)
	if sim1.Steps() != -20 {
		t.Errorf("motor 1 backend steps: expected -20, got %d", sim1.Steps())
	}
	if pl.IsBusy() {
		t.Errorf("pipeline should be idle after the segment completes")
	}
}

func TestDoubleBufferRejectsThirdSegment(t *testing.T) {
	pl := newTestPipeline()
	var travel, fe [config.MotorCount]float64
	segTime := 1.5 / 60000.0

	if err := pl.PrepSegment(travel, fe, segTime); err != nil {
		t.Fatalf("first prep: %v", err)
	}
	if err := pl.PrepSegment(travel, fe, segTime); err != status.BufferFull {
		t.Errorf("second prep while staged should report BufferFull, got %v", err)
	}
}

func TestResidualQuantization(t *testing.T) {
	pl := newTestPipeline()
	segTime := 1.5 / 60000.0
	var fe [config.MotorCount]float64

	// 10 segments of 3.3 steps each: total must land within one step of 33
	total := 0.0
	for i := 0; i < 10; i++ {
		var travel [config.MotorCount]float64
		travel[0] = 3.3
		total += travel[0]
		if err := pl.PrepSegment(travel, fe, segTime); err != nil {
			t.Fatalf("prep %d: %v", i, err)
		}
		pl.RequestExec()
		runTicks(core.TicksFromMinutes(segTime) + core.TicksFromUS(200))
	}

	got := pl.Encoder(0)
	if math.Abs(got-total) > 1 {
		t.Errorf("accumulated steps %g drifted from commanded %g", got, total)
	}
	// each dispatched batch was integral
	sim := pl.Backend(0).(*SimBackend)
	if sim.Steps() != int64(got) {
		t.Errorf("backend steps %d disagree with encoder %g", sim.Steps(), got)
	}
}

func TestDwellSegment(t *testing.T) {
	pl := newTestPipeline()
	pl.PrepDwell(0.010) // 10ms
	pl.RequestExec()
	if !pl.IsBusy() {
		t.Fatalf("dwell should occupy the pipeline")
	}
	sim := pl.Backend(0).(*SimBackend)
	if sim.EdgeCount() != 0 {
		t.Errorf("dwell must not emit steps")
	}
	runTicks(core.TicksFromUS(11000))
	if pl.IsBusy() {
		t.Errorf("dwell did not complete")
	}
}

func TestSetPositionAlignsCounters(t *testing.T) {
	pl := newTestPipeline()
	var steps [config.MotorCount]float64
	steps[0] = 1234
	steps[2] = -55
	pl.SetPosition(steps)
	if pl.Encoder(0) != 1234 || pl.Encoder(2) != -55 {
		t.Errorf("encoders not aligned: %g %g", pl.Encoder(0), pl.Encoder(2))
	}
}

func TestMotorPowerInCycle(t *testing.T) {
	core.ResetTimers()
	core.SetTime(0)
	cfg := config.Default()
	cfg.System.MotorPowerTimeout = 0.01 // 10ms idle timeout
	pl := NewPipeline(cfg, [config.MotorCount]StepBackend{})

	pl.CycleStart()
	if !pl.MotorEnergized(0) {
		t.Fatalf("in-cycle motor should energize at cycle start")
	}
	pl.CycleEnd()
	runTicks(core.TicksFromUS(30000))
	if pl.MotorEnergized(0) {
		t.Errorf("in-cycle motor should idle out after the cycle ends")
	}
}

func TestMotorPowerWhenMoving(t *testing.T) {
	core.ResetTimers()
	core.SetTime(0)
	cfg := config.Default()
	cfg.Motors[0].PowerMode = config.MotorPoweredWhenMoving
	cfg.System.MotorPowerTimeout = 0.01
	pl := NewPipeline(cfg, [config.MotorCount]StepBackend{})

	if pl.MotorEnergized(0) {
		t.Fatalf("when-moving motor should start de-energized")
	}

	var travel, fe [config.MotorCount]float64
	travel[0] = 10
	pl.PrepSegment(travel, fe, 1.5/60000.0)
	pl.RequestExec()
	if !pl.MotorEnergized(0) {
		t.Errorf("when-moving motor should energize on step activity")
	}

	runTicks(core.TicksFromUS(50000))
	if pl.MotorEnergized(0) {
		t.Errorf("when-moving motor should idle out")
	}
}
