package planner

import (
	"math"
	"testing"

	"gocnc/config"
	"gocnc/core"
	"gocnc/gcode"
	"gocnc/status"
)

// testSink records emitted segments and models perfect motors: encoders
// track dispatched steps exactly.
type testSink struct {
	travels  [][config.MotorCount]float64
	times    []float64
	dwells   []float64
	position [config.MotorCount]float64
}

func (s *testSink) PrepSegment(travel, fe [config.MotorCount]float64, segTime float64) error {
	s.travels = append(s.travels, travel)
	s.times = append(s.times, segTime)
	for m := 0; m < config.MotorCount; m++ {
		s.position[m] += travel[m]
	}
	return nil
}
func (s *testSink) PrepDwell(seconds float64)                    { s.dwells = append(s.dwells, seconds) }
func (s *testSink) RequestExec()                                 {}
func (s *testSink) IsBusy() bool                                 { return false }
func (s *testSink) Encoder(m int) float64                        { return s.position[m] }
func (s *testSink) SetPosition(steps [config.MotorCount]float64) { s.position = steps }

func newTestPlanner() (*Planner, *testSink) {
	cfg := config.Default()
	sink := &testSink{}
	return New(cfg, QueueSize, sink), sink
}

func rapidState(target [gcode.AxisCount]float64) *gcode.State {
	gm := &gcode.State{}
	gm.Reset()
	gm.MotionMode = gcode.MotionTraverse
	gm.Target = target
	return gm
}

func feedState(target [gcode.AxisCount]float64, feedRate float64) *gcode.State {
	gm := rapidState(target)
	gm.MotionMode = gcode.MotionFeed
	gm.FeedRate = feedRate
	return gm
}

// plan pumps the backward planner past the block-assembly timeout.
func plan(t *testing.T, p *Planner) {
	t.Helper()
	for i := 0; i < 20; i++ {
		core.SetTime(core.GetTime() + core.TicksFromUS(31000))
		if st := p.Callback(); st != status.Eagain {
			return
		}
	}
	t.Fatalf("backward planner did not settle")
}

// drain runs the executor until it goes idle, with a runaway guard.
func drain(t *testing.T, p *Planner) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if st := p.ExecMove(); st == status.Noop {
			return
		}
	}
	t.Fatalf("executor did not drain")
}

func TestALineGeometry(t *testing.T) {
	p, _ := newTestPlanner()
	var target [gcode.AxisCount]float64
	target[gcode.AxisX] = 30
	target[gcode.AxisY] = 40
	if err := p.ALine(rapidState(target)); err != nil {
		t.Fatalf("aline: %v", err)
	}

	bf := p.Q.Get(0)
	if math.Abs(bf.Length-50) > 1e-9 {
		t.Errorf("expected length 50, got %g", bf.Length)
	}
	if math.Abs(bf.Unit[gcode.AxisX]-0.6) > 1e-9 || math.Abs(bf.Unit[gcode.AxisY]-0.8) > 1e-9 {
		t.Errorf("unit vector wrong: %v", bf.Unit[:2])
	}
	if !bf.AxisFlags[gcode.AxisX] || !bf.AxisFlags[gcode.AxisY] || bf.AxisFlags[gcode.AxisZ] {
		t.Errorf("axis flags wrong: %v", bf.AxisFlags[:3])
	}

	// Jerk is the tightest participating axis constraint: min over axes of
	// jerk_axis / |unit|
	cfg := p.Config()
	wantJerk := math.Min(cfg.AxisJerk(gcode.AxisX, false)/0.6, cfg.AxisJerk(gcode.AxisY, false)/0.8)
	if math.Abs(bf.Jerk-wantJerk) > 1e-3 {
		t.Errorf("expected jerk %g, got %g", wantJerk, bf.Jerk)
	}

	// Rapid cruise is capped by the slowest participating axis
	wantVmax := math.Min(cfg.Axes[gcode.AxisX].VelocityMax/0.6, cfg.Axes[gcode.AxisY].VelocityMax/0.8)
	if math.Abs(bf.AbsoluteVmax-wantVmax) > 1e-6 {
		t.Errorf("expected absolute vmax %g, got %g", wantVmax, bf.AbsoluteVmax)
	}

	// Planning position advanced to the target
	if p.Position[gcode.AxisX] != 30 || p.Position[gcode.AxisY] != 40 {
		t.Errorf("planner position did not advance: %v", p.Position[:2])
	}
}

func TestZeroLengthMoveDropped(t *testing.T) {
	p, _ := newTestPlanner()
	var target [gcode.AxisCount]float64
	if err := p.ALine(rapidState(target)); err != nil {
		t.Fatalf("zero move should be dropped silently: %v", err)
	}
	if p.Q.Available() != QueueSize {
		t.Errorf("zero move must not consume a buffer")
	}
}

func TestInverseTimeFeed(t *testing.T) {
	p, _ := newTestPlanner()
	var target [gcode.AxisCount]float64
	target[gcode.AxisX] = 10
	gm := feedState(target, 2.0) // complete the move in 1/2 minute
	gm.FeedRateMode = gcode.InverseTimeMode
	if err := p.ALine(gm); err != nil {
		t.Fatalf("aline: %v", err)
	}
	bf := p.Q.Get(0)
	// 10mm in 0.5 min = 20 mm/min
	if math.Abs(bf.CruiseVset-20) > 1e-9 {
		t.Errorf("inverse time cruise: expected 20, got %g", bf.CruiseVset)
	}
}

// Spec scenario: two-block 90-degree corner with jerk 1000 and JT 1.2
// yields a junction velocity of 1200 mm/min.
func TestJunctionVelocityCorner(t *testing.T) {
	cfg := config.Default()
	for i := 0; i < 2; i++ {
		cfg.Axes[i].JerkMax = 1000
		cfg.Axes[i].VelocityMax = 18000
		cfg.Axes[i].FeedrateMax = 18000
	}
	cfg.System.JunctionIntegrationTime = 1.2
	cfg.Derive()
	p := New(cfg, QueueSize, &testSink{})

	var t1, t2 [gcode.AxisCount]float64
	t1[gcode.AxisX] = 50
	if err := p.ALine(feedState(t1, 6000)); err != nil {
		t.Fatalf("aline A: %v", err)
	}
	t2 = t1
	t2[gcode.AxisY] = 50
	if err := p.ALine(feedState(t2, 6000)); err != nil {
		t.Fatalf("aline B: %v", err)
	}

	b := p.Q.Get(1)
	// deltaU = (-1, 1): both axes see |dU| = 1, so v = 1000 * 1.2 / 1
	if math.Abs(b.JunctionVmax-1200) > 1e-6 {
		t.Errorf("expected junction vmax 1200, got %g", b.JunctionVmax)
	}

	plan(t, p)
	a := p.Q.Get(0)
	if a.ExitVelocity > 1200+velocityTolerance {
		t.Errorf("corner exit velocity %g exceeds junction cap 1200", a.ExitVelocity)
	}
	// invariant: v_c * |dU| <= jerk * T on each participating axis
	for i := 0; i < 2; i++ {
		if a.ExitVelocity*1.0 > cfg.Axes[i].JerkMax*cfg.System.JunctionIntegrationTime+velocityTolerance {
			t.Errorf("axis %d jerk budget exceeded at corner", i)
		}
	}
}

// Spec scenario: collinear blocks have no corner; the junction does not
// limit and the blocks share a continuous cruise.
func TestJunctionCollinear(t *testing.T) {
	p, _ := newTestPlanner()
	var t1, t2 [gcode.AxisCount]float64
	t1[gcode.AxisX] = 10
	t2[gcode.AxisX] = 20
	if err := p.ALine(feedState(t1, 3000)); err != nil {
		t.Fatalf("aline A: %v", err)
	}
	if err := p.ALine(feedState(t2, 3000)); err != nil {
		t.Fatalf("aline B: %v", err)
	}

	b := p.Q.Get(1)
	if b.JunctionVmax < 3000 {
		t.Errorf("collinear junction should not limit: got %g", b.JunctionVmax)
	}

	plan(t, p)
	a := p.Q.Get(0)
	if math.Abs(a.ExitVelocity-3000) > velocityTolerance {
		t.Errorf("collinear blocks should join at cruise: exit %g", a.ExitVelocity)
	}
}

func TestBackplanVelocityInvariants(t *testing.T) {
	p, _ := newTestPlanner()
	targets := [][2]float64{{20, 0}, {20, 20}, {0, 20}, {0, 0}}
	for _, xy := range targets {
		var tg [gcode.AxisCount]float64
		tg[gcode.AxisX] = xy[0]
		tg[gcode.AxisY] = xy[1]
		if err := p.ALine(feedState(tg, 6000)); err != nil {
			t.Fatalf("aline: %v", err)
		}
	}
	plan(t, p)

	for i := 0; i < len(targets); i++ {
		b := p.Q.Get(i)
		if b.State < BufferBackPlanned {
			t.Errorf("block %d not back-planned", i)
		}
		if b.ExitVelocity < 0 || b.CruiseVelocity < 0 {
			t.Errorf("block %d negative velocity", i)
		}
		if b.CruiseVelocity > b.CruiseVmax+velocityTolerance {
			t.Errorf("block %d cruise %g exceeds vmax %g", i, b.CruiseVelocity, b.CruiseVmax)
		}
		if b.CruiseVmax > b.AbsoluteVmax+velocityTolerance {
			t.Errorf("block %d cruise vmax exceeds absolute vmax", i)
		}
		if b.ExitVelocity > b.ExitVmax+velocityTolerance {
			t.Errorf("block %d exit %g exceeds exit vmax %g", i, b.ExitVelocity, b.ExitVmax)
		}
	}
	// Queue end is a known zero
	last := p.Q.Get(len(targets) - 1)
	if last.ExitVelocity != 0 {
		t.Errorf("last block must exit at zero, got %g", last.ExitVelocity)
	}
}

// Spec scenario: straight rapid executes head/body/tail and lands within
// one step per motor of the commanded target.
func TestExecStraightRapid(t *testing.T) {
	p, sink := newTestPlanner()
	var target [gcode.AxisCount]float64
	target[gcode.AxisX] = 100
	if err := p.ALine(rapidState(target)); err != nil {
		t.Fatalf("aline: %v", err)
	}
	plan(t, p)
	drain(t, p)

	stepsPerMM := p.Config().Motors[0].StepsPerUnit
	want := 100 * stepsPerMM
	if math.Abs(sink.position[0]-want) > 1 {
		t.Errorf("final X steps: expected %g, got %g", want, sink.position[0])
	}
	// Runtime position landed exactly on the waypoint-corrected target
	if math.Abs(p.MR.Position[gcode.AxisX]-100) > 1e-9 {
		t.Errorf("runtime position %g != 100", p.MR.Position[gcode.AxisX])
	}
	// Every emitted segment honors the minimum duration
	for i, st := range sink.times {
		if st < MinSegmentTime-1e-15 {
			t.Errorf("segment %d duration %g below minimum", i, st)
		}
	}
	// Motion accelerated and decelerated: more than one segment, ends idle
	if len(sink.times) < 3 {
		t.Errorf("expected multiple segments, got %d", len(sink.times))
	}
	if p.MR.SegmentVelocity != 0 {
		t.Errorf("velocity should be zero after drain, got %g", p.MR.SegmentVelocity)
	}
	if p.Q.Available() != QueueSize {
		t.Errorf("all buffers should be freed")
	}
}

func TestExecRoundTripMultiBlock(t *testing.T) {
	p, sink := newTestPlanner()
	targets := [][2]float64{{30, 0}, {30, 30}, {0, 30}}
	var tg [gcode.AxisCount]float64
	for _, xy := range targets {
		tg[gcode.AxisX] = xy[0]
		tg[gcode.AxisY] = xy[1]
		if err := p.ALine(feedState(tg, 9000)); err != nil {
			t.Fatalf("aline: %v", err)
		}
	}
	plan(t, p)
	drain(t, p)

	stepsPerMM := p.Config().Motors[0].StepsPerUnit
	if math.Abs(sink.position[0]-0*stepsPerMM) > 1 {
		t.Errorf("final X steps %g, want 0", sink.position[0])
	}
	if math.Abs(sink.position[1]-30*stepsPerMM) > 1 {
		t.Errorf("final Y steps %g, want %g", sink.position[1], 30*stepsPerMM)
	}
}

func TestFeedholdDecelToZero(t *testing.T) {
	p, _ := newTestPlanner()
	var target [gcode.AxisCount]float64
	target[gcode.AxisX] = 500
	if err := p.ALine(rapidState(target)); err != nil {
		t.Fatalf("aline: %v", err)
	}
	plan(t, p)

	// Run into the body, then request the hold
	for i := 0; i < 100000 && p.MR.Section != SectionBody; i++ {
		if p.ExecMove() == status.Noop {
			t.Fatalf("executor idle before reaching body")
		}
	}
	p.SetHoldState(HoldSync)

	for i := 0; i < 100000 && p.HoldState() < HoldDecelComplete; i++ {
		if p.ExecMove() == status.Noop {
			break
		}
	}
	if p.HoldState() != HoldDecelComplete {
		t.Fatalf("hold did not complete deceleration: state %d", p.HoldState())
	}
	if p.MR.SegmentVelocity != 0 {
		t.Errorf("velocity must be zero at the hold point, got %g", p.MR.SegmentVelocity)
	}
	// Monotonic and short of the target
	if p.MR.Position[gcode.AxisX] <= 0 || p.MR.Position[gcode.AxisX] >= 500 {
		t.Errorf("hold point %g out of range (0, 500)", p.MR.Position[gcode.AxisX])
	}
	// The run buffer is retained for hold finalization
	if p.Q.RunBuffer() == nil {
		t.Errorf("run buffer must be retained through a non-skip hold")
	}
}

func TestOutOfBandDwell(t *testing.T) {
	p, sink := newTestPlanner()
	var target [gcode.AxisCount]float64
	target[gcode.AxisX] = 10
	if err := p.ALine(rapidState(target)); err != nil {
		t.Fatalf("aline: %v", err)
	}
	plan(t, p)

	if p.ExecMove() != status.OK {
		t.Fatalf("first segment failed")
	}
	p.RequestOutOfBandDwell(0.25)
	if p.ExecMove() != status.OK {
		t.Fatalf("dwell injection failed")
	}
	if len(sink.dwells) != 1 || sink.dwells[0] != 0.25 {
		t.Errorf("out-of-band dwell not applied: %v", sink.dwells)
	}
	drain(t, p)
}

func TestCommandBlockSynchronization(t *testing.T) {
	p, sink := newTestPlanner()
	var target [gcode.AxisCount]float64
	target[gcode.AxisX] = 5

	fired := false
	if err := p.ALine(rapidState(target)); err != nil {
		t.Fatalf("aline: %v", err)
	}
	if err := p.QueueCommand(func(values []float64, flags []bool) { fired = true }, nil, nil); err != nil {
		t.Fatalf("queue command: %v", err)
	}
	plan(t, p)

	// The command only fires after the motion block's segments are done
	for i := 0; i < 100000 && !fired; i++ {
		if p.ExecMove() == status.Noop {
			break
		}
	}
	if !fired {
		t.Fatalf("command callback never fired")
	}
	stepsPerMM := p.Config().Motors[0].StepsPerUnit
	if math.Abs(sink.position[0]-5*stepsPerMM) > 1 {
		t.Errorf("command fired before motion completed: steps %g", sink.position[0])
	}
}

func TestDwellBlock(t *testing.T) {
	p, sink := newTestPlanner()
	if err := p.Dwell(1.5); err != nil {
		t.Fatalf("dwell: %v", err)
	}
	plan(t, p)
	drain(t, p)
	if len(sink.dwells) != 1 || sink.dwells[0] != 1.5 {
		t.Errorf("dwell not dispatched: %v", sink.dwells)
	}
}

func TestOverrideScalesCruise(t *testing.T) {
	p, _ := newTestPlanner()
	var target [gcode.AxisCount]float64
	target[gcode.AxisX] = 100
	if err := p.ALine(feedState(target, 6000)); err != nil {
		t.Fatalf("aline: %v", err)
	}
	p.StartFeedOverride(0, 0.5) // immediate 50%
	plan(t, p)
	bf := p.Q.Get(0)
	if math.Abs(bf.CruiseVmax-3000) > velocityTolerance {
		t.Errorf("override not applied: cruise vmax %g", bf.CruiseVmax)
	}
}
