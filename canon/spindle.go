package canon

/*
 * Spindle control. The core tracks spindle state and speed and fires the
 * changes either immediately (alarm paths) or as synchronized command
 * blocks so they land between the right motion blocks. Driving actual
 * PWM or ESC hardware is a collaborator's job, reached through the
 * Output hook.
 */

// SpindleControl is the requested spindle action.
type SpindleControl uint8

const (
	SpindleOff SpindleControl = iota
	SpindleCW
	SpindleCCW
	SpindlePause
	SpindleResume
)

// SpindleState is the operating state.
type SpindleState uint8

const (
	SpindleStateOff SpindleState = iota
	SpindleStateCW
	SpindleStateCCW
	SpindleStatePaused
)

// Spindle tracks spindle state, speed, and the resume-from-pause memory.
type Spindle struct {
	ctrl *Controller

	State  SpindleState
	Speed  float64 // RPM
	paused SpindleState

	// Output is invoked on every applied state or speed change.
	Output func(state SpindleState, speed float64)
}

func (s *Spindle) init(ctrl *Controller) {
	s.ctrl = ctrl
}

func (s *Spindle) apply(state SpindleState) {
	s.State = state
	if s.Output != nil {
		s.Output(s.State, s.Speed)
	}
}

// ControlImmediate applies a spindle control bypassing the queue.
func (s *Spindle) ControlImmediate(control SpindleControl) {
	switch control {
	case SpindleOff:
		s.apply(SpindleStateOff)
	case SpindleCW:
		s.apply(SpindleStateCW)
	case SpindleCCW:
		s.apply(SpindleStateCCW)
	case SpindlePause:
		if s.State == SpindleStateCW || s.State == SpindleStateCCW {
			s.paused = s.State
			s.apply(SpindleStatePaused)
		}
	case SpindleResume:
		if s.State == SpindleStatePaused {
			s.apply(s.paused)
		}
	}
}

// ControlSync queues a spindle control to run at a synchronization point
// in the active planner.
func (s *Spindle) ControlSync(control SpindleControl) error {
	m := s.ctrl.active
	return m.mp.QueueCommand(func(values []float64, flags []bool) {
		s.ControlImmediate(control)
	}, nil, nil)
}

// SetSpeedSync queues an S word speed change.
func (s *Spindle) SetSpeedSync(speed float64) error {
	m := s.ctrl.active
	return m.mp.QueueSpindleSpeed(speed, func(values []float64, flags []bool) {
		s.Speed = speed
		if s.Output != nil {
			s.Output(s.State, s.Speed)
		}
	})
}

// Spindle exposes the controller's spindle.
func (c *Controller) Spindle() *Spindle { return &c.spindle }
