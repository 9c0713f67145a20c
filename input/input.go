/*Package input reads the operator's pendant: a pair of momentary buttons
per thruster axis plus a physical emergency stop, wired to GPIO with
pull-ups (pressed reads low).

The control loop polls the whole pendant once per tick; there is no debounce
here because a 20Hz poll of a thrust command does not need one.
*/
package input

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// Buttons is a GPIO-backed input source.
type Buttons struct {
	pins  map[string]rpio.Pin
	estop rpio.Pin
	// hasEstop is false when no physical stop button is wired; the process
	// signal path still provides an emergency stop
	hasEstop bool
}

// New configures the named buttons (name -> BCM pin) as pulled-up inputs.
// estopPin < 0 means no physical emergency stop is wired.
func New(pinsByName map[string]int, estopPin int) (*Buttons, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("input: opening gpio memory: %w", err)
	}
	b := &Buttons{pins: make(map[string]rpio.Pin, len(pinsByName))}
	for name, pin := range pinsByName {
		p := rpio.Pin(pin)
		p.Input()
		p.PullUp()
		b.pins[name] = p
	}
	if estopPin >= 0 {
		b.estop = rpio.Pin(estopPin)
		b.estop.Input()
		b.estop.PullUp()
		b.hasEstop = true
	}
	return b, nil
}

// ReadChannelStates returns which buttons are currently held.
func (b *Buttons) ReadChannelStates() map[string]bool {
	states := make(map[string]bool, len(b.pins))
	for name, pin := range b.pins {
		states[name] = pin.Read() == rpio.Low
	}
	return states
}

// EmergencyStop reports whether the physical stop button is pressed.
func (b *Buttons) EmergencyStop() bool {
	return b.hasEstop && b.estop.Read() == rpio.Low
}

// Close releases the GPIO memory mapping.
func (b *Buttons) Close() error {
	return rpio.Close()
}
