/*Package rpipwm drives ESCs from the Raspberry Pi's own PWM peripheral.

The Pi exposes hardware PWM on GPIO 12, 13, 18 and 19, but only two channels
can run simultaneously, so this transport cannot carry a full three-thruster
vehicle; it exists for bench testing a pair of ESCs without the servo hat.
Requesting more channels than the peripheral has is refused at construction.

The PWM clock is set to one tick per microsecond, so a channel's duty length
is simply the commanded pulse width against a cycle length of one period.
*/
package rpipwm

import (
	"errors"
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/michaelwjones/rov/pulse"
)

// MaxChannels is the number of PWM channels the peripheral can run at once.
const MaxChannels = 2

var (
	// ErrTooManyChannels is generated when more thruster channels are mapped
	// than the peripheral supports
	ErrTooManyChannels = errors.New("raspberry pi pwm supports at most 2 simultaneous channels")

	// ErrUnknownChannel is generated when an unmapped channel is commanded
	ErrUnknownChannel = errors.New("channel has no gpio pin mapped")

	// pwmPins are the GPIOs with hardware PWM behind them
	pwmPins = map[int]bool{12: true, 13: true, 18: true, 19: true}
)

// PWM represents the Pi's PWM peripheral with thruster channels mapped onto
// its pins.
type PWM struct {
	pins    map[int]rpio.Pin
	cycleUs uint32
}

// New maps thruster channels to GPIO pins (channel number -> BCM pin) and
// configures each pin for freqHz PWM.  More than MaxChannels entries, or a
// pin without PWM hardware, is a configuration error.
func New(gpioByChannel map[int]int, freqHz int) (*PWM, error) {
	if len(gpioByChannel) > MaxChannels {
		return nil, fmt.Errorf("%w: %d requested", ErrTooManyChannels, len(gpioByChannel))
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("rpipwm: opening gpio memory: %w", err)
	}
	p := &PWM{
		pins:    make(map[int]rpio.Pin, len(gpioByChannel)),
		cycleUs: uint32(1_000_000 / freqHz),
	}
	for channel, gpio := range gpioByChannel {
		if !pwmPins[gpio] {
			rpio.Close()
			return nil, fmt.Errorf("rpipwm: gpio %d has no pwm hardware (use 12, 13, 18 or 19)", gpio)
		}
		pin := rpio.Pin(gpio)
		pin.Mode(rpio.Pwm)
		// pwm clock = freq * cycle length puts one tick per microsecond
		pin.Freq(freqHz * int(p.cycleUs))
		p.pins[channel] = pin
	}
	return p, nil
}

// SetPulse commands one channel to the given pulse width.
func (p *PWM) SetPulse(channel int, w pulse.Width) error {
	pin, ok := p.pins[channel]
	if !ok {
		return fmt.Errorf("%w: channel %d", ErrUnknownChannel, channel)
	}
	duty := uint32(w)
	if duty > p.cycleUs {
		duty = p.cycleUs
	}
	pin.DutyCycle(duty, p.cycleUs)
	return nil
}

// Close releases the GPIO memory mapping.  Outputs are left as last
// commanded; the shutdown path flushes neutral before closing.
func (p *PWM) Close() error {
	return rpio.Close()
}
