//go:build rp2040

// Package rp2040 provides the hardware step-pulse backends for RP2040
// boards: PIO-timed step generation and TMC2209 driver configuration.
package rp2040

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"gocnc/core"
)

// PIO command word format:
//
//	Bits 0-15:  pulse count
//	Bits 16-23: delay cycles (inter-pulse spacing)
//	Bit 24:     direction
//
// The program pulls a command, sets the direction pin, and emits the
// requested pulses with hardware-timed spacing, so step jitter is bounded
// by the PIO clock rather than interrupt latency.
func buildStepProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),          // pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),   // out x, 16 (pulse count)
		asm.Out(rp2pio.OutDestY, 8).Encode(),    // out y, 8 (delay cycles)
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // out pins, 1 (direction)
		// step_loop:
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // step high [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // step low
		// delay_loop:
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(), // jmp y--, delay_loop
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(), // jmp x--, step_loop
		// .wrap
	}
}

const stepProgramOrigin = 0 // load at offset 0 for correct jump addresses

// PIO state machine clock after divider, used to convert core timer ticks
// into inter-pulse delay cycles.
const pioClockHz = 125000

// PIOBackend drives one motor channel through an RP2040 PIO state
// machine. It implements stepgen.StepBackend.
type PIOBackend struct {
	pio       *rp2pio.PIO
	sm        rp2pio.StateMachine
	stepPin   machine.Pin
	dirPin    machine.Pin
	enPin     machine.Pin
	hasEnable bool
	reverse   bool
	offset    uint8
}

// NewPIOBackend claims a state machine on the given PIO block and loads
// the step program.
func NewPIOBackend(pioNum, smNum uint8, stepPin, dirPin, enPin machine.Pin, hasEnable bool) (*PIOBackend, error) {
	hw := rp2pio.PIO0
	if pioNum != 0 {
		hw = rp2pio.PIO1
	}
	b := &PIOBackend{
		pio:       hw,
		sm:        hw.StateMachine(smNum),
		stepPin:   stepPin,
		dirPin:    dirPin,
		enPin:     enPin,
		hasEnable: hasEnable,
	}

	b.sm.TryClaim()
	program := buildStepProgram()
	offset, err := b.pio.AddProgram(program, stepProgramOrigin)
	if err != nil {
		return nil, err
	}
	b.offset = offset

	b.stepPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})
	b.dirPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})
	if hasEnable {
		b.enPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		b.enPin.High() // enable is active low on most driver boards
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(b.stepPin, 1)
	cfg.SetOutPins(b.dirPin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(1000, 0) // 125MHz / 1000 = 125kHz program clock

	b.sm.Init(offset, cfg)
	b.sm.SetPindirsConsecutive(b.stepPin, 1, true)
	b.sm.SetPindirsConsecutive(b.dirPin, 1, true)
	b.sm.SetPinsConsecutive(b.stepPin, 1, false)
	b.sm.SetPinsConsecutive(b.dirPin, 1, false)
	b.sm.SetEnabled(true)
	return b, nil
}

// Name identifies the backend.
func (b *PIOBackend) Name() string { return "rp2040-pio" }

// SetDirection latches direction for the next batch.
func (b *PIOBackend) SetDirection(reverse bool) { b.reverse = reverse }

// StepBatch queues pulses with the given core-timer-tick spacing. The
// batch is split to the PIO command word's 16-bit count limit.
func (b *PIOBackend) StepBatch(count uint32, interval uint32) {
	delay := uint32(uint64(interval) * pioClockHz / core.TimerFreq)
	if delay > 255 {
		delay = 255
	}
	if delay == 0 {
		delay = 1
	}
	for count > 0 {
		n := count
		if n > 0xffff {
			n = 0xffff
		}
		cmd := n | (delay << 16)
		if b.reverse {
			cmd |= 1 << 24
		}
		for b.sm.IsTxFIFOFull() {
			// brief busy wait for FIFO space
		}
		b.sm.TxPut(cmd)
		count -= n
	}
}

// SetEnabled drives the (active-low) enable output.
func (b *PIOBackend) SetEnabled(on bool) {
	if !b.hasEnable {
		return
	}
	if on {
		b.enPin.Low()
	} else {
		b.enPin.High()
	}
}

// Stop halts and restarts the state machine, clearing queued pulses.
func (b *PIOBackend) Stop() {
	b.sm.SetEnabled(false)
	b.sm.ClearFIFOs()
	b.sm.Restart()
	b.sm.SetEnabled(true)
}
