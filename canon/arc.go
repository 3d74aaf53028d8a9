package canon

import (
	"math"

	"gocnc/gcode"
	"gocnc/status"
)

/*
 * Arc generator. A G2/G3 block expands into a run of chord-bounded
 * straight-line blocks fed to the planner as the queue has room. Arc
 * state persists in the machine so a feedhold can abort mid-arc without
 * corrupting position: after a hold the remainder of the arc is
 * discarded and motion resumes from the hold point.
 */

type arcRunState uint8

const (
	arcOff arcRunState = iota
	arcRunning
)

// Arc holds planning and runtime state for the active arc.
type Arc struct {
	runState arcRunState

	position [gcode.AxisCount]float64 // accumulating runtime position

	length        float64 // total helix length in mm
	radius        float64
	theta         float64 // starting angle
	angularTravel float64 // radians along the arc
	planarTravel  float64
	linearTravel  float64
	fullCircle    bool

	planeAxis0 int // e.g. X for G17
	planeAxis1 int // e.g. Y for G17
	linearAxis int // normal to the plane

	segments      float64
	segmentCount  int32
	segmentTheta  float64
	segmentLinear float64
	center0       float64
	center1       float64

	gm gcode.State // gcode state carried into each chord
}

// planeAxes resolves the active plane into its axis indices.
func planeAxes(plane gcode.Plane) (a0, a1, lin int) {
	switch plane {
	case gcode.PlaneXZ:
		return gcode.AxisX, gcode.AxisZ, gcode.AxisY
	case gcode.PlaneYZ:
		return gcode.AxisY, gcode.AxisZ, gcode.AxisX
	default:
		return gcode.AxisX, gcode.AxisY, gcode.AxisZ
	}
}

// ArcFeed implements G2/G3: validates the arc specification, computes the
// chord decomposition, and starts spooling chords into the planner.
func (m *Machine) ArcFeed(
	target [gcode.AxisCount]float64, targetFlags [gcode.AxisCount]bool,
	offset [3]float64, offsetFlags [3]bool,
	radius float64, radiusFlag bool,
	pWord float64, pFlag bool,
	motionMode gcode.MotionMode,
) error {
	if err := m.IsAlarmed(); err != nil {
		return err
	}
	if m.GM.FeedRate <= 0 {
		return status.FeedrateNotSpecified
	}
	if m.arc.runState != arcOff {
		return status.ArcSpecificationError // an arc is already running
	}
	if m.mp.IsFull() {
		return status.Eagain
	}

	m.GM.MotionMode = motionMode
	m.SetModelTarget(target, targetFlags)
	if err := m.TestSoftLimits(m.GM.Target); err != nil {
		return err
	}

	arc := &m.arc
	arc.planeAxis0, arc.planeAxis1, arc.linearAxis = planeAxes(m.GM.SelectPlane)
	arc.position = m.GMX.Position
	arc.gm = m.GM

	start0 := arc.position[arc.planeAxis0]
	start1 := arc.position[arc.planeAxis1]
	end0 := m.GM.Target[arc.planeAxis0]
	end1 := m.GM.Target[arc.planeAxis1]

	cw := motionMode == gcode.MotionCWArc

	if radiusFlag {
		// Radius format: locate the center from the chord and R.
		if err := arc.centerFromRadius(start0, start1, end0, end1, radius, cw); err != nil {
			return err
		}
	} else {
		// Center format: IJK offsets, absolute or incremental per G90.1/G91.1
		i, j := offset[0], offset[1]
		switch m.GM.SelectPlane {
		case gcode.PlaneXZ:
			i, j = offset[0], offset[2]
		case gcode.PlaneYZ:
			i, j = offset[1], offset[2]
		}
		if !offsetFlags[0] && !offsetFlags[1] && !offsetFlags[2] {
			return status.ArcSpecificationError
		}
		if m.GM.ArcDistanceMode == gcode.AbsoluteDistance {
			arc.center0 = m.toMillimeters(i, arc.planeAxis0)
			arc.center1 = m.toMillimeters(j, arc.planeAxis1)
		} else {
			arc.center0 = start0 + m.toMillimeters(i, arc.planeAxis0)
			arc.center1 = start1 + m.toMillimeters(j, arc.planeAxis1)
		}
		arc.radius = math.Hypot(start0-arc.center0, start1-arc.center1)
		endRadius := math.Hypot(end0-arc.center0, end1-arc.center1)
		if arc.radius < 0.0001 {
			return status.ArcRadiusError
		}
		// Endpoint must lie on the circle
		if math.Abs(endRadius-arc.radius) > 0.005+0.001*arc.radius {
			return status.ArcEndpointError
		}
	}

	// Angular travel
	arc.theta = math.Atan2(start1-arc.center1, start0-arc.center0)
	endTheta := math.Atan2(end1-arc.center1, end0-arc.center0)
	travel := endTheta - arc.theta
	arc.fullCircle = math.Abs(travel) < 1e-9 &&
		math.Abs(start0-end0) < 1e-9 && math.Abs(start1-end1) < 1e-9
	if cw {
		if travel >= -1e-12 && !arc.fullCircle {
			travel -= 2 * math.Pi
		} else if arc.fullCircle {
			travel = -2 * math.Pi
		}
	} else {
		if travel <= 1e-12 && !arc.fullCircle {
			travel += 2 * math.Pi
		} else if arc.fullCircle {
			travel = 2 * math.Pi
		}
	}
	if pFlag && pWord > 0 {
		extra := math.Floor(pWord)
		if arc.fullCircle {
			extra-- // the base full circle is already one rotation
		}
		if cw {
			travel -= 2 * math.Pi * extra
		} else {
			travel += 2 * math.Pi * extra
		}
	}
	arc.angularTravel = travel

	arc.planarTravel = math.Abs(travel) * arc.radius
	arc.linearTravel = m.GM.Target[arc.linearAxis] - arc.position[arc.linearAxis]
	arc.length = math.Hypot(arc.planarTravel, arc.linearTravel)
	if arc.length < 0.0001 {
		return status.ArcEndpointError
	}

	// Chord decomposition: chord length for the configured chordal
	// tolerance is 2*sqrt(2*r*delta - delta^2)
	delta := math.Min(m.cfg.System.ChordalTolerance, arc.radius)
	chord := 2 * math.Sqrt(2*arc.radius*delta-delta*delta)
	segments := math.Ceil(arc.planarTravel / chord)
	if segments < 1 {
		segments = 1
	}
	arc.segments = segments
	arc.segmentCount = int32(segments)
	arc.segmentTheta = travel / segments
	arc.segmentLinear = arc.linearTravel / segments

	// Inverse-time feeds apply to the whole arc; each chord gets its share.
	if arc.gm.FeedRateMode == gcode.InverseTimeMode {
		arc.gm.FeedRate = m.GM.FeedRate * segments
		m.GM.FeedRate = 0
	}

	arc.runState = arcRunning
	m.UpdateModelPosition()

	// Spool as many chords as the queue will take now; the operating loop
	// callback continues the rest.
	return m.ArcCallback()
}

// centerFromRadius solves the circle center for radius-format arcs.
func (arc *Arc) centerFromRadius(start0, start1, end0, end1, radius float64, cw bool) error {
	d0 := end0 - start0
	d1 := end1 - start1
	chordSq := d0*d0 + d1*d1
	if chordSq < 1e-12 {
		return status.ArcEndpointError // endpoint equals start: center is ambiguous
	}
	r := math.Abs(radius)
	h := r*r - chordSq/4
	if h < 0 {
		return status.ArcRadiusError // endpoints farther apart than the diameter
	}
	hd := math.Sqrt(h) / math.Sqrt(chordSq)
	// Negative R selects the larger of the two arcs
	if cw != (radius < 0) {
		hd = -hd
	}
	arc.center0 = start0 + d0/2 - hd*d1
	arc.center1 = start1 + d1/2 + hd*d0
	arc.radius = r
	return nil
}

// ArcCallback spools queued arc chords into the planner. Called from the
// operating loop; returns nil when the arc is complete or still spooling.
func (m *Machine) ArcCallback() error {
	arc := &m.arc
	if arc.runState != arcRunning {
		return nil
	}
	for arc.segmentCount > 0 {
		if m.mp.IsFull() {
			return nil // backpressure; resume on the next callback
		}
		arc.segmentCount--
		var t [gcode.AxisCount]float64
		copy(t[:], arc.gm.Target[:])
		if arc.segmentCount == 0 {
			// Last chord lands exactly on the arc endpoint.
			t = arc.gm.Target
		} else {
			done := arc.segments - float64(arc.segmentCount)
			theta := arc.theta + done*arc.segmentTheta
			t = arc.position
			t[arc.planeAxis0] = arc.center0 + arc.radius*math.Cos(theta)
			t[arc.planeAxis1] = arc.center1 + arc.radius*math.Sin(theta)
			t[arc.linearAxis] = arc.position[arc.linearAxis] + done*arc.segmentLinear
		}
		chordGM := arc.gm
		chordGM.Target = t
		if err := m.mp.ALine(&chordGM); err != nil {
			arc.segmentCount++ // retry this chord on the next callback
			return nil
		}
	}
	arc.runState = arcOff
	return nil
}

// ArcActive reports whether an arc is spooling chords.
func (m *Machine) ArcActive() bool { return m.arc.runState == arcRunning }

// AbortArc kills a running arc so it stops creating alines. The queue
// flush that follows restores position agreement.
func (m *Machine) AbortArc() {
	m.arc.runState = arcOff
}
