//go:build rp2040

package rp2040

import (
	"machine"

	"tinygo.org/x/drivers/tmc2209"

	"gocnc/config"
)

/*
 * TMC2209 driver setup over single-wire UART. Run current, hold current
 * and microstepping come from the motor configuration so the electrical
 * setup always matches what the planner assumes.
 */

// ConfigureTMC2209 initializes the TMC2209 at the given UART address from
// a motor config entry.
func ConfigureTMC2209(uart machine.UART, address uint8, mo *config.Motor) (*tmc2209.TMC2209, error) {
	comm := tmc2209.NewUARTComm(uart, address)
	driver := tmc2209.NewTMC2209(comm, address)
	if err := driver.Setup(); err != nil {
		return nil, err
	}

	tmc2209.SetRunCurrent(uint8(mo.PowerLevel * 100))
	tmc2209.SetHoldCurrent(uint8(mo.IdlePower * 100))
	tmc2209.SetMicrostepsPerStep(uint16(mo.Microsteps))
	return driver, nil
}
