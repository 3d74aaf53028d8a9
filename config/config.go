// Package config holds the persisted machine configuration: system motion
// parameters, per-axis constraints, and per-motor hardware mapping.
// Configuration is loaded from JSON, filled with defaults, validated, and
// cached-derived values are computed before the machine uses it.
package config

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"gocnc/gcode"
	"gocnc/status"
)

// MotorCount is the number of motor channels.
const MotorCount = 6

// JerkMultiplier scales the external jerk settings. Jerk is entered and
// stored in millions of mm/min^3. DO NOT CHANGE - must always be 1 million.
const JerkMultiplier = 1000000.0

// Jerk input limits, in millions.
const (
	JerkInputMin = 0.01
	JerkInputMax = 1000000.0
)

// Junction integration time limits.
const (
	JunctionIntegrationMin = 0.05
	JunctionIntegrationMax = 5.00
)

// AxisMode determines how an axis participates in motion.
type AxisMode uint8

const (
	AxisDisabled  AxisMode = iota // kill axis
	AxisStandard                  // coordinated motion with standard behaviors
	AxisInhibited                 // computed but not activated
	AxisRadius                    // rotary axis calibrated to circumference
)

// PowerMode determines when a motor is energized.
type PowerMode uint8

const (
	MotorDisabled          PowerMode = iota
	MotorAlwaysOn                    // energized whenever the machine is on
	MotorPoweredInCycle              // energized during a machining cycle
	MotorPoweredWhenMoving           // energized only while its axis is moving
)

// Axis is the per-axis configuration.
type Axis struct {
	Mode        AxisMode `json:"mode"`
	VelocityMax float64  `json:"velocity_max"` // mm/min or deg/min
	FeedrateMax float64  `json:"feedrate_max"` // mm/min or deg/min
	JerkMax     float64  `json:"jerk_max"`     // millions of mm/min^3
	JerkHigh    float64  `json:"jerk_high"`    // high-speed (scram) jerk, millions
	TravelMin   float64  `json:"travel_min"`   // soft limit envelope
	TravelMax   float64  `json:"travel_max"`
	Radius      float64  `json:"radius"` // mm, for radius-mode rotary axes

	// Homing settings
	HomingInput    uint8   `json:"homing_input"` // 1-N input number, 0 disables
	HomingDir      uint8   `json:"homing_dir"`   // 0=search negative, 1=positive
	SearchVelocity float64 `json:"search_velocity"`
	LatchVelocity  float64 `json:"latch_velocity"`
	LatchBackoff   float64 `json:"latch_backoff"`
	ZeroBackoff    float64 `json:"zero_backoff"`

	// Derived values, computed by derive() and cached.
	RecipVelocityMax  float64 `json:"-"`
	RecipFeedrateMax  float64 `json:"-"`
	MaxJunctionAccel  float64 `json:"-"` // jerk_max (stored units) * JT
	HighJunctionAccel float64 `json:"-"` // jerk_high (stored units) * JT
}

// Motor is the per-motor configuration.
type Motor struct {
	AxisMap        int       `json:"axis_map"`       // axis index this motor drives
	StepAngle      float64   `json:"step_angle"`     // degrees per whole step
	TravelPerRev   float64   `json:"travel_per_rev"` // mm (or deg) of travel per motor rev
	Microsteps     float64   `json:"microsteps"`
	Polarity       uint8     `json:"polarity"` // 0=normal, 1=reverse
	StepPolarity   uint8     `json:"step_polarity"`
	EnablePolarity uint8     `json:"enable_polarity"`
	PowerMode      PowerMode `json:"power_mode"`
	PowerLevel     float64   `json:"power_level"` // 0.0 - 1.0
	IdlePower      float64   `json:"idle_power"`  // 0.0 - 1.0 while idle

	// Derived
	StepsPerUnit float64 `json:"-"` // microsteps per mm of travel
}

// System holds global motion settings.
type System struct {
	JunctionIntegrationTime float64 `json:"junction_integration_time"` // 0.05..5.0
	ChordalTolerance        float64 `json:"chordal_tolerance"`         // arc accuracy, mm
	FeedholdZLift           float64 `json:"feedhold_z_lift"`           // mm, 0 disables
	SoftLimitEnable         bool    `json:"soft_limit_enable"`
	HardLimitEnable         bool    `json:"hard_limit_enable"`
	SafetyInterlockEnable   bool    `json:"safety_interlock_enable"`
	MotorPowerTimeout       float64 `json:"motor_power_timeout"` // seconds before idle power-down
	FeedOverrideEnable      bool    `json:"feed_override_enable"`
	TraverseOverrideEnable  bool    `json:"traverse_override_enable"`
}

// Machine is the complete machine configuration.
type Machine struct {
	System System                `json:"system"`
	Axes   [gcode.AxisCount]Axis `json:"axes"`
	Motors [MotorCount]Motor     `json:"motors"`

	// Persisted coordinate offsets: index 0 = absolute (G53), 1..6 = G54..G59.
	CoordOffsets [7][gcode.AxisCount]float64 `json:"coord_offsets"`

	// Tool table. Entry 0 is "no tool".
	ToolTable [33][gcode.AxisCount]float64 `json:"tool_table"`

	G28Position [gcode.AxisCount]float64 `json:"g28_position"`
	G30Position [gcode.AxisCount]float64 `json:"g30_position"`

	// Gcode power-on defaults
	DefaultCoordSystem  gcode.CoordSystem  `json:"default_coord_system"`
	DefaultPlane        gcode.Plane        `json:"default_plane"`
	DefaultUnitsMode    gcode.UnitsMode    `json:"default_units_mode"`
	DefaultPathControl  gcode.PathControl  `json:"default_path_control"`
	DefaultDistanceMode gcode.DistanceMode `json:"default_distance_mode"`
}

// Load parses a JSON configuration, applies defaults, validates, and
// computes derived values.
func Load(jsonData []byte) (*Machine, error) {
	m := &Machine{}
	if err := json.Unmarshal(jsonData, m); err != nil {
		return nil, errors.Wrap(err, "parsing machine config")
	}
	m.ApplyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.Derive()
	return m, nil
}

// ApplyDefaults fills in missing configuration values.
func (m *Machine) ApplyDefaults() {
	s := &m.System
	if s.JunctionIntegrationTime == 0 {
		s.JunctionIntegrationTime = 1.2
	}
	if s.ChordalTolerance == 0 {
		s.ChordalTolerance = 0.01
	}
	if s.MotorPowerTimeout == 0 {
		s.MotorPowerTimeout = 2.0
	}

	for i := range m.Axes {
		a := &m.Axes[i]
		if a.Mode == AxisDisabled && i < gcode.AxisA {
			a.Mode = AxisStandard // linear axes default on, rotary default off
		}
		if a.VelocityMax == 0 {
			a.VelocityMax = 18000
		}
		if a.FeedrateMax == 0 {
			a.FeedrateMax = a.VelocityMax
		}
		if a.JerkMax == 0 {
			a.JerkMax = 5000
		}
		if a.JerkHigh == 0 {
			a.JerkHigh = a.JerkMax * 2
		}
		if a.TravelMax == 0 && a.TravelMin == 0 {
			a.TravelMin = -1e9 // soft limits effectively disabled until configured
			a.TravelMax = 1e9
		}
		if a.SearchVelocity == 0 {
			a.SearchVelocity = 3000
		}
		if a.LatchVelocity == 0 {
			a.LatchVelocity = 100
		}
	}

	for i := range m.Motors {
		mo := &m.Motors[i]
		if mo.StepAngle == 0 {
			mo.StepAngle = 1.8
		}
		if mo.TravelPerRev == 0 {
			mo.TravelPerRev = 40.0
		}
		if mo.Microsteps == 0 {
			mo.Microsteps = 8
		}
		if mo.PowerLevel == 0 {
			mo.PowerLevel = 0.5
		}
		if mo.AxisMap == 0 && i != 0 {
			mo.AxisMap = i % gcode.AxisCount
		}
	}

	if m.DefaultCoordSystem == 0 {
		m.DefaultCoordSystem = gcode.G54
	}
	if m.DefaultUnitsMode == 0 {
		m.DefaultUnitsMode = gcode.Millimeters
	}
	if m.DefaultPathControl == 0 {
		m.DefaultPathControl = gcode.PathContinuous
	}
}

// Validate rejects out-of-range settings. All violations are reported.
func (m *Machine) Validate() error {
	var err error

	s := &m.System
	if s.JunctionIntegrationTime < JunctionIntegrationMin || s.JunctionIntegrationTime > JunctionIntegrationMax {
		err = multierr.Append(err, errors.Wrapf(status.InputValueRangeError,
			"junction_integration_time %g outside [%g, %g]",
			s.JunctionIntegrationTime, JunctionIntegrationMin, JunctionIntegrationMax))
	}
	if s.ChordalTolerance <= 0 {
		err = multierr.Append(err, errors.Wrap(status.InputValueRangeError, "chordal_tolerance must be positive"))
	}

	for i := range m.Axes {
		a := &m.Axes[i]
		if a.Mode == AxisDisabled {
			continue
		}
		if a.JerkMax < JerkInputMin || a.JerkMax > JerkInputMax {
			err = multierr.Append(err, errors.Wrapf(status.JerkOutOfRange,
				"axis %s jerk_max %g", gcode.AxisNames[i], a.JerkMax))
		}
		if a.JerkHigh < JerkInputMin || a.JerkHigh > JerkInputMax {
			err = multierr.Append(err, errors.Wrapf(status.JerkOutOfRange,
				"axis %s jerk_high %g", gcode.AxisNames[i], a.JerkHigh))
		}
		if a.VelocityMax <= 0 || a.FeedrateMax <= 0 {
			err = multierr.Append(err, errors.Wrapf(status.InputValueRangeError,
				"axis %s velocity/feedrate max must be positive", gcode.AxisNames[i]))
		}
		if a.TravelMax < a.TravelMin {
			err = multierr.Append(err, errors.Wrapf(status.InputValueRangeError,
				"axis %s travel_max < travel_min", gcode.AxisNames[i]))
		}
		if a.Mode == AxisRadius && a.Radius <= 0 {
			err = multierr.Append(err, errors.Wrapf(status.InputValueRangeError,
				"axis %s radius mode requires positive radius", gcode.AxisNames[i]))
		}
	}

	for i := range m.Motors {
		mo := &m.Motors[i]
		if mo.AxisMap < 0 || mo.AxisMap >= gcode.AxisCount {
			err = multierr.Append(err, errors.Wrapf(status.InputValueRangeError,
				"motor %d axis_map %d", i+1, mo.AxisMap))
		}
		if mo.TravelPerRev == 0 || mo.StepAngle == 0 {
			err = multierr.Append(err, errors.Wrapf(status.InputValueRangeError,
				"motor %d step geometry", i+1))
		}
	}

	return err
}

// Derive computes and caches values derived from the raw settings.
// Must be called after any settings change.
func (m *Machine) Derive() {
	jt := m.System.JunctionIntegrationTime
	for i := range m.Axes {
		a := &m.Axes[i]
		if a.VelocityMax > 0 {
			a.RecipVelocityMax = 1.0 / a.VelocityMax
		}
		if a.FeedrateMax > 0 {
			a.RecipFeedrateMax = 1.0 / a.FeedrateMax
		}
		// Junction acceleration works on the stored (divided-by-10^6)
		// jerk: with jerk 1000 and JT 1.2 a unit-vector kink of 1.0
		// corners at 1200 mm/min.
		a.MaxJunctionAccel = a.JerkMax * jt
		a.HighJunctionAccel = a.JerkHigh * jt
	}
	for i := range m.Motors {
		mo := &m.Motors[i]
		stepsPerRev := (360.0 / mo.StepAngle) * mo.Microsteps
		mo.StepsPerUnit = stepsPerRev / mo.TravelPerRev
	}
}

// AxisJerk returns an axis's expanded jerk (mm/min^3) for a motion profile.
func (m *Machine) AxisJerk(axis int, high bool) float64 {
	if high {
		return m.Axes[axis].JerkHigh * JerkMultiplier
	}
	return m.Axes[axis].JerkMax * JerkMultiplier
}

// SetAxisJerk updates an axis jerk setting (value in millions) and
// recomputes derived values.
func (m *Machine) SetAxisJerk(axis int, jerk float64, high bool) error {
	if jerk < JerkInputMin || jerk > JerkInputMax {
		return errors.Wrapf(status.JerkOutOfRange, "axis %s jerk %g", gcode.AxisNames[axis], jerk)
	}
	if high {
		m.Axes[axis].JerkHigh = jerk
	} else {
		m.Axes[axis].JerkMax = jerk
	}
	m.Derive()
	return nil
}

// SetJunctionIntegrationTime updates JT, clamping to the legal range.
func (m *Machine) SetJunctionIntegrationTime(jt float64) {
	m.System.JunctionIntegrationTime = math.Min(math.Max(jt, JunctionIntegrationMin), JunctionIntegrationMax)
	m.Derive()
}

// Default returns a ready-to-run three-linear-axis configuration used by
// the host runner and tests.
func Default() *Machine {
	m := &Machine{}
	for i := 0; i < 3; i++ {
		m.Axes[i] = Axis{
			Mode:        AxisStandard,
			VelocityMax: 18000,
			FeedrateMax: 18000,
			JerkMax:     5000,
			JerkHigh:    10000,
			TravelMin:   0,
			TravelMax:   420,
		}
	}
	m.Axes[gcode.AxisZ].VelocityMax = 1200
	m.Axes[gcode.AxisZ].FeedrateMax = 1200
	m.Axes[gcode.AxisZ].JerkMax = 500
	m.Axes[gcode.AxisZ].JerkHigh = 1000
	m.Axes[gcode.AxisZ].TravelMin = -95
	m.Axes[gcode.AxisZ].TravelMax = 0

	for i := 0; i < 3; i++ {
		m.Motors[i] = Motor{
			AxisMap:      i,
			StepAngle:    1.8,
			TravelPerRev: 40.0,
			Microsteps:   8,
			PowerMode:    MotorPoweredInCycle,
			PowerLevel:   0.5,
		}
	}

	m.ApplyDefaults()
	m.Derive()
	return m
}
