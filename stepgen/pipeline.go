package stepgen

import (
	"math"

	"gocnc/config"
	"gocnc/core"
	"gocnc/status"
)

// Direction setup delay applied before the first step of a segment whose
// direction differs from the previous one.
const dirSetupTicks = 24 // 2us at 12MHz

// segment is one prepared slice of motion handed down from the executor.
type segment struct {
	ticks uint32 // duration in timer ticks
	steps [config.MotorCount]int32
	dwell bool
}

// ExecFunc is the upward pull: the pipeline calls it whenever it has room
// to prepare the next segment. It returns OK when a segment was prepped.
type ExecFunc func() status.Status

// Pipeline is the double-buffered stepper engine. While segment N runs on
// the exec timer, segment N+1 sits prepared. The pipeline owns the
// absolute dispatched-step counters that back the virtual encoders.
type Pipeline struct {
	cfg      *config.Machine
	backends [config.MotorCount]StepBackend

	exec     segment
	prep     segment
	prepFull bool
	running  bool
	loading  bool

	execTimer core.Timer
	execFunc  ExecFunc

	// DDA residue: fractional steps carried across segments per motor so
	// long moves land within one step of the commanded total.
	residual [config.MotorCount]float64

	positionSteps [config.MotorCount]int64
	encoder       [config.MotorCount]float64
	lastDir       [config.MotorCount]bool

	power powerManager
}

// NewPipeline builds a pipeline with the given backends (nil entries get
// simulation backends).
func NewPipeline(cfg *config.Machine, backends [config.MotorCount]StepBackend) *Pipeline {
	pl := &Pipeline{cfg: cfg}
	for m := range backends {
		if backends[m] == nil {
			pl.backends[m] = NewSimBackend()
		} else {
			pl.backends[m] = backends[m]
		}
	}
	pl.execTimer.Handler = pl.execTimerHandler
	pl.power.init(cfg, &pl.backends)
	return pl
}

// SetExecFunc wires the planner's segment pull.
func (pl *Pipeline) SetExecFunc(fn ExecFunc) { pl.execFunc = fn }

// Backend returns a motor's backend, for tests and targets.
func (pl *Pipeline) Backend(m int) StepBackend { return pl.backends[m] }

// PrepSegment stages the next segment: per-motor travel in (fractional)
// microsteps and the duration in planner minutes. Travel is quantized
// with carry so rounding never accumulates.
func (pl *Pipeline) PrepSegment(travelSteps, followingError [config.MotorCount]float64, segmentTime float64) error {
	if pl.prepFull {
		return status.BufferFull
	}
	seg := &pl.prep
	seg.dwell = false
	for m := 0; m < config.MotorCount; m++ {
		total := travelSteps[m] + pl.residual[m]
		steps := math.Round(total)
		pl.residual[m] = total - steps
		seg.steps[m] = int32(steps)
	}
	seg.ticks = core.TicksFromMinutes(segmentTime)
	if seg.ticks == 0 {
		seg.ticks = 1
	}
	pl.prepFull = true
	return nil
}

// PrepDwell stages a zero-motion segment of the given seconds.
func (pl *Pipeline) PrepDwell(seconds float64) {
	if pl.prepFull {
		return
	}
	pl.prep = segment{dwell: true, ticks: core.TicksFromMinutes(seconds / 60.0)}
	if pl.prep.ticks == 0 {
		pl.prep.ticks = 1
	}
	pl.prepFull = true
}

// RequestExec prompts the pipeline to begin pulling segments. Safe to
// call at any time; a running pipeline ignores it.
func (pl *Pipeline) RequestExec() {
	if pl.running || pl.loading {
		return
	}
	pl.loadNext()
}

// IsBusy reports whether segments remain staged or executing.
func (pl *Pipeline) IsBusy() bool { return pl.running || pl.prepFull }

// Encoder returns the virtual encoder reading for a motor: the absolute
// dispatched position sampled at the last segment boundary.
func (pl *Pipeline) Encoder(m int) float64 { return pl.encoder[m] }

// SetPosition aligns the step counters and encoders, dropping residue.
// Used after queue flushes and position resets.
func (pl *Pipeline) SetPosition(steps [config.MotorCount]float64) {
	for m := 0; m < config.MotorCount; m++ {
		pl.positionSteps[m] = int64(math.Round(steps[m]))
		pl.encoder[m] = float64(pl.positionSteps[m])
		pl.residual[m] = 0
	}
}

// Stop abandons the staged segment and halts after the executing one.
// The planner is responsible for having stopped feeding first.
func (pl *Pipeline) Stop() {
	pl.prepFull = false
	if pl.running {
		core.CancelTimer(&pl.execTimer)
		pl.running = false
	}
}

// loadNext promotes the prepped segment to executing and schedules its
// completion. If nothing is staged it pulls through the executor until a
// segment appears, a command makes progress, or the executor reports
// Noop - going idle here is what lets the executor "never spin".
func (pl *Pipeline) loadNext() {
	pl.loading = true
	for !pl.prepFull && pl.execFunc != nil {
		pl.running = false // commands sync on an idle pipeline
		if pl.execFunc() != status.OK {
			break
		}
	}
	pl.loading = false

	if !pl.prepFull {
		pl.running = false
		pl.power.motionIdle()
		return
	}
	pl.exec = pl.prep
	pl.prepFull = false
	pl.running = true

	if !pl.exec.dwell {
		pl.dispatchSteps()
	}

	pl.execTimer.WakeTime = core.GetTime() + pl.exec.ticks
	core.ScheduleTimer(&pl.execTimer)

	// Double buffering: pull the next segment while this one runs.
	if pl.execFunc != nil {
		pl.execFunc()
	}
}

// dispatchSteps programs direction and step batches for the executing
// segment and keeps the power manager informed.
func (pl *Pipeline) dispatchSteps() {
	seg := &pl.exec
	for m := 0; m < config.MotorCount; m++ {
		n := seg.steps[m]
		if n == 0 {
			continue
		}
		mo := &pl.cfg.Motors[m]
		reverse := n < 0
		if mo.Polarity != 0 {
			reverse = !reverse
		}
		count := uint32(n)
		if n < 0 {
			count = uint32(-n)
		}
		ticks := seg.ticks
		if reverse != pl.lastDir[m] {
			pl.lastDir[m] = reverse
			if ticks > dirSetupTicks {
				ticks -= dirSetupTicks
			}
		}
		pl.backends[m].SetDirection(reverse)
		pl.backends[m].StepBatch(count, ticks/count)
		pl.power.motorActive(m)
	}
}

// execTimerHandler fires at the end of the executing segment: commit the
// dispatched steps to the position counters, sample the encoders, and
// chain to the next segment.
func (pl *Pipeline) execTimerHandler(t *core.Timer) uint8 {
	seg := &pl.exec
	for m := 0; m < config.MotorCount; m++ {
		pl.positionSteps[m] += int64(seg.steps[m])
		pl.encoder[m] = float64(pl.positionSteps[m])
	}
	pl.loadNext()
	return core.Done
}
