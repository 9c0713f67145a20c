/*Package pca9685 drives thruster ESCs through a PCA9685 16-channel PWM
driver on an I2C bus (the Adafruit servo hat on the vehicle).

The chip free-runs each channel at a common frequency set by an internal
prescaler; commanding a channel is a single write of its on/off counts.  The
duty cycle is addressed here as a 16-bit fraction of the PWM period, matching
the resolution the rest of the pipeline assumes, and narrowed to the chip's
12-bit counter on the way out.
*/
package pca9685

import (
	"errors"
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/michaelwjones/rov/pulse"
)

const (
	// DefaultAddr is the chip's address with no address jumpers soldered.
	DefaultAddr = 0x40

	regMode1    = 0x00
	regLed0OnL  = 0x06
	regPrescale = 0xFE

	mode1Restart = 0x80
	mode1AutoInc = 0x20
	mode1Sleep   = 0x10

	// the chip's internal oscillator
	oscHz = 25_000_000

	numChannels = 16
)

// ErrBadChannel is generated when a channel outside 0..15 is commanded
var ErrBadChannel = errors.New("pca9685 channels are numbered 0 through 15")

// DutyCycle expresses a pulse width as a 16-bit fraction of the PWM period
// at the given frequency.  Out-of-range inputs are clamped; the mapper never
// produces one from valid bounds, but a misconfigured frequency could.
func DutyCycle(w pulse.Width, freqHz int) uint16 {
	periodUs := 1e6 / float64(freqHz)
	d := math.Round(float64(w) / periodUs * 65535)
	if d < 0 {
		return 0
	}
	if d > 65535 {
		return 65535
	}
	return uint16(d)
}

// prescale computes the register value putting the chip's counter at freqHz.
func prescale(freqHz int) byte {
	p := math.Round(oscHz/(4096*float64(freqHz))) - 1
	if p < 3 {
		p = 3
	}
	if p > 255 {
		p = 255
	}
	return byte(p)
}

// PCA9685 represents one PWM driver chip.
type PCA9685 struct {
	bus    i2c.BusCloser
	dev    *i2c.Dev
	freqHz int
}

// New opens the named I2C bus ("" for the first available), programs the
// chip at addr for freqHz operation, and returns the handle.  A missing bus
// or unresponsive chip fails here, at startup, not at the first pulse.
func New(busName string, addr uint16, freqHz int) (*PCA9685, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("pca9685: host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("pca9685: opening i2c bus %q: %w", busName, err)
	}
	p := &PCA9685{bus: bus, dev: &i2c.Dev{Bus: bus, Addr: addr}, freqHz: freqHz}
	if err := p.setup(); err != nil {
		bus.Close()
		return nil, err
	}
	return p, nil
}

// setup programs the prescaler, which may only be written while the chip
// sleeps, then wakes it with register auto-increment enabled.
func (p *PCA9685) setup() error {
	if err := p.write(regMode1, mode1Sleep); err != nil {
		return fmt.Errorf("pca9685: sleeping for prescale write: %w", err)
	}
	if err := p.write(regPrescale, prescale(p.freqHz)); err != nil {
		return fmt.Errorf("pca9685: writing prescale: %w", err)
	}
	if err := p.write(regMode1, mode1AutoInc); err != nil {
		return fmt.Errorf("pca9685: waking: %w", err)
	}
	// oscillator needs 500us after wake before restart may be set
	time.Sleep(time.Millisecond)
	if err := p.write(regMode1, mode1AutoInc|mode1Restart); err != nil {
		return fmt.Errorf("pca9685: restarting pwm: %w", err)
	}
	return nil
}

func (p *PCA9685) write(reg byte, vals ...byte) error {
	return p.dev.Tx(append([]byte{reg}, vals...), nil)
}

// SetPulse commands one channel to the given pulse width.  One register
// burst per call, fire and forget.
func (p *PCA9685) SetPulse(channel int, w pulse.Width) error {
	if channel < 0 || channel >= numChannels {
		return fmt.Errorf("%w: channel %d", ErrBadChannel, channel)
	}
	// rising edge at count 0, falling edge after the duty fraction of the
	// chip's 4096-count period
	off := DutyCycle(w, p.freqHz) >> 4
	reg := byte(regLed0OnL + 4*channel)
	return p.write(reg, 0x00, 0x00, byte(off&0xFF), byte(off>>8))
}

// Close releases the I2C bus.  It does not command the outputs; the shutdown
// path flushes neutral before closing.
func (p *PCA9685) Close() error {
	return p.bus.Close()
}
