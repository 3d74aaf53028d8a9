// Package stepgen is the stepper pipeline: double-buffered segment
// execution, per-motor DDA step distribution, direction and enable
// polarity handling, motor power management, and the virtual encoders
// used for following-error accounting.
package stepgen

// StepBackend is the hardware interface one motor channel drives.
// Implementations exist for simulation (below) and for RP2040 PIO
// (targets/rp2040).
type StepBackend interface {
	Name() string
	// SetDirection latches the direction output. Applied before the first
	// step of a segment; the pipeline provides the direction setup delay.
	SetDirection(reverse bool)
	// StepBatch emits count step pulses spaced interval ticks apart.
	StepBatch(count uint32, interval uint32)
	// SetEnabled drives the motor enable output.
	SetEnabled(on bool)
}

// SimBackend is the default backend: it counts step edges so tests and
// the host runner can verify motion without hardware.
type SimBackend struct {
	steps     int64
	reverse   bool
	enabled   bool
	edgeCount int64
}

// NewSimBackend returns a counting backend.
func NewSimBackend() *SimBackend { return &SimBackend{} }

func (s *SimBackend) Name() string { return "sim" }

func (s *SimBackend) SetDirection(reverse bool) { s.reverse = reverse }

func (s *SimBackend) StepBatch(count uint32, interval uint32) {
	s.edgeCount += int64(count)
	if s.reverse {
		s.steps -= int64(count)
	} else {
		s.steps += int64(count)
	}
}

func (s *SimBackend) SetEnabled(on bool) { s.enabled = on }

// Steps returns the net signed step count.
func (s *SimBackend) Steps() int64 { return s.steps }

// EdgeCount returns total step edges emitted regardless of direction.
func (s *SimBackend) EdgeCount() int64 { return s.edgeCount }

// Enabled reports the enable output state.
func (s *SimBackend) Enabled() bool { return s.enabled }
