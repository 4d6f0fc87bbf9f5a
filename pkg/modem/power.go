package modem

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
)

// Power-key timing of the SIM7000 shield.
const (
	ResetHold   = 100 * time.Millisecond
	PowerLow    = 1200 * time.Millisecond
	PowerOnHold = 8 * time.Second
)

// Pin is an output line.
type Pin interface {
	Out(l gpio.Level) error
}

// Pins resolves the reset and power-key lines by name.
func Pins(reset, power string) (Pin, Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialise GPIO host")
	}
	rst := gpioreg.ByName(reset)
	if rst == nil {
		return nil, nil, errors.Errorf("no GPIO reset pin named: %s", reset)
	}
	pwr := gpioreg.ByName(power)
	if pwr == nil {
		return nil, nil, errors.Errorf("no GPIO power pin named: %s", power)
	}
	return rst, pwr, nil
}

// PowerOn pulses reset, then holds the power key low long enough to boot the
// modem and waits for it to come up.
func PowerOn(clk clock.Clock, rst, pwr Pin) error {
	if err := rst.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "reset low")
	}
	clk.Sleep(ResetHold)
	if err := rst.Out(gpio.High); err != nil {
		return errors.Wrap(err, "reset high")
	}

	if err := pwr.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "power key low")
	}
	clk.Sleep(PowerLow)
	if err := pwr.Out(gpio.High); err != nil {
		return errors.Wrap(err, "power key high")
	}
	clk.Sleep(PowerOnHold)
	return nil
}
