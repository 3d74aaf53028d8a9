package config

import (
	"testing"

	"github.com/pkg/errors"

	"gocnc/gcode"
	"gocnc/status"
)

func TestLoadDefaults(t *testing.T) {
	m, err := Load([]byte(`{}`))
	if err != nil {
		t.Fatalf("empty config should load: %v", err)
	}
	if m.System.JunctionIntegrationTime != 1.2 {
		t.Errorf("expected default JT 1.2, got %g", m.System.JunctionIntegrationTime)
	}
	if m.System.ChordalTolerance != 0.01 {
		t.Errorf("expected default chordal tolerance 0.01, got %g", m.System.ChordalTolerance)
	}
	for i := 0; i < 3; i++ {
		if m.Axes[i].Mode != AxisStandard {
			t.Errorf("linear axis %d should default to standard mode", i)
		}
	}
}

func TestJerkRangeRejected(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"below min", `{"axes": [{"mode": 1, "velocity_max": 1000, "feedrate_max": 1000, "jerk_max": 0.001, "travel_max": 100}]}`},
		{"above max", `{"axes": [{"mode": 1, "velocity_max": 1000, "feedrate_max": 1000, "jerk_max": 2000000, "travel_max": 100}]}`},
	}
	for _, test := range tests {
		_, err := Load([]byte(test.json))
		if err == nil {
			t.Errorf("%s: expected jerk range rejection", test.name)
			continue
		}
		if !errors.Is(err, status.JerkOutOfRange) {
			t.Errorf("%s: expected JerkOutOfRange, got %v", test.name, err)
		}
	}
}

func TestJunctionIntegrationTimeRange(t *testing.T) {
	_, err := Load([]byte(`{"system": {"junction_integration_time": 9.0}}`))
	if !errors.Is(err, status.InputValueRangeError) {
		t.Errorf("JT=9.0 should be rejected, got %v", err)
	}

	m := Default()
	m.SetJunctionIntegrationTime(9.0)
	if m.System.JunctionIntegrationTime != JunctionIntegrationMax {
		t.Errorf("setter should clamp to %g, got %g", JunctionIntegrationMax, m.System.JunctionIntegrationTime)
	}
	m.SetJunctionIntegrationTime(0.001)
	if m.System.JunctionIntegrationTime != JunctionIntegrationMin {
		t.Errorf("setter should clamp to %g, got %g", JunctionIntegrationMin, m.System.JunctionIntegrationTime)
	}
}

func TestDerivedValues(t *testing.T) {
	m := Default()
	a := &m.Axes[gcode.AxisX]
	if a.RecipVelocityMax == 0 {
		t.Fatalf("reciprocal velocity not derived")
	}
	wantAccel := a.JerkMax * m.System.JunctionIntegrationTime
	if a.MaxJunctionAccel != wantAccel {
		t.Errorf("junction accel: expected %g, got %g", wantAccel, a.MaxJunctionAccel)
	}

	mo := &m.Motors[0]
	// 1.8 deg/step, 8 microsteps, 40mm/rev -> 200*8/40 = 40 steps/mm
	if mo.StepsPerUnit != 40 {
		t.Errorf("steps per unit: expected 40, got %g", mo.StepsPerUnit)
	}
}

func TestSetAxisJerk(t *testing.T) {
	m := Default()
	if err := m.SetAxisJerk(gcode.AxisX, 0.001, false); err == nil {
		t.Errorf("jerk below input minimum should be rejected")
	}
	if err := m.SetAxisJerk(gcode.AxisX, 100, false); err != nil {
		t.Errorf("legal jerk rejected: %v", err)
	}
	if m.Axes[gcode.AxisX].JerkMax != 100 {
		t.Errorf("jerk not applied")
	}
}

func TestApplyAttributes(t *testing.T) {
	m := Default()
	err := m.ApplyAttributes(map[string]interface{}{
		"system": map[string]interface{}{
			"junction_integration_time": 0.8,
			"chordal_tolerance":         0.02,
		},
	})
	if err != nil {
		t.Fatalf("attribute overlay failed: %v", err)
	}
	if m.System.JunctionIntegrationTime != 0.8 {
		t.Errorf("JT override not applied, got %g", m.System.JunctionIntegrationTime)
	}
	if m.System.ChordalTolerance != 0.02 {
		t.Errorf("chordal tolerance override not applied, got %g", m.System.ChordalTolerance)
	}

	err = m.ApplyAttributes(map[string]interface{}{
		"system": map[string]interface{}{"junction_integration_time": 7.5},
	})
	if err == nil {
		t.Errorf("out-of-range attribute overlay should be rejected")
	}
}
