package canon

/*
 * Coolant control: flood (M8) and mist (M7) channels with pause/resume
 * used by feedhold entry and exit actions. Hardware drive is behind the
 * Output hook.
 */

// CoolantControl is the requested coolant action.
type CoolantControl uint8

const (
	CoolantOff CoolantControl = iota
	CoolantOn
	CoolantPause
	CoolantResume
)

// CoolantChannel selects flood, mist, or both.
type CoolantChannel uint8

const (
	CoolantFlood CoolantChannel = iota
	CoolantMist
	CoolantBoth
)

// Coolant tracks the two coolant channels.
type Coolant struct {
	ctrl *Controller

	Flood bool
	Mist  bool

	pausedFlood bool
	pausedMist  bool

	// Output is invoked on every applied change.
	Output func(flood, mist bool)
}

func (co *Coolant) init(ctrl *Controller) {
	co.ctrl = ctrl
}

func (co *Coolant) apply() {
	if co.Output != nil {
		co.Output(co.Flood, co.Mist)
	}
}

// ControlImmediate applies a coolant control bypassing the queue.
func (co *Coolant) ControlImmediate(control CoolantControl, channel CoolantChannel) {
	flood := channel == CoolantFlood || channel == CoolantBoth
	mist := channel == CoolantMist || channel == CoolantBoth
	switch control {
	case CoolantOff:
		if flood {
			co.Flood = false
		}
		if mist {
			co.Mist = false
		}
		co.pausedFlood = false
		co.pausedMist = false
	case CoolantOn:
		if flood {
			co.Flood = true
		}
		if mist {
			co.Mist = true
		}
	case CoolantPause:
		if flood && co.Flood {
			co.pausedFlood = true
			co.Flood = false
		}
		if mist && co.Mist {
			co.pausedMist = true
			co.Mist = false
		}
	case CoolantResume:
		if flood && co.pausedFlood {
			co.pausedFlood = false
			co.Flood = true
		}
		if mist && co.pausedMist {
			co.pausedMist = false
			co.Mist = true
		}
	}
	co.apply()
}

// ControlSync queues a coolant control at a synchronization point in the
// active planner.
func (co *Coolant) ControlSync(control CoolantControl, channel CoolantChannel) error {
	m := co.ctrl.active
	return m.mp.QueueCommand(func(values []float64, flags []bool) {
		co.ControlImmediate(control, channel)
	}, nil, nil)
}

// Coolant exposes the controller's coolant.
func (c *Controller) Coolant() *Coolant { return &c.coolant }
