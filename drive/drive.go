/*Package drive contains the thruster command pipeline: the transport
abstraction over the physical PWM backends, the arming/safety state machine
that decides whether commands may reach hardware, and the fixed-rate control
loop that turns operator input into pulse commands.

Every nonzero command flows input -> direction correction -> safety gate ->
power mapping -> transport; nothing in this repository writes to a thruster
around the gate.
*/
package drive

import (
	"errors"
	"fmt"

	"github.com/michaelwjones/rov/pulse"
)

// Transport is the capability set every PWM backend implements.  SetPulse
// transmits exactly one command per call and does not wait for an
// acknowledgement; an error from it means the bus has failed and the caller
// must treat the hardware state as unknown.
type Transport interface {
	SetPulse(channel int, w pulse.Width) error
	Close() error
}

// InputSource is the operator pendant.  It is polled once per tick; any
// debounce is its own business.
type InputSource interface {
	// ReadChannelStates maps button name to "currently held"
	ReadChannelStates() map[string]bool

	// EmergencyStop reports whether the physical stop input is active
	EmergencyStop() bool
}

// ThrusterSpec is the per-channel configuration, immutable for the process
// lifetime.
type ThrusterSpec struct {
	// Name identifies the thruster in logs and diagnostics
	Name string `yaml:"Name"`

	// Channel is the transport output the thruster is wired to
	Channel int `yaml:"Channel"`

	// DirectionMultiplier is +1 or -1, correcting counter-rotating or
	// mirrored mounting so positive power always means forward thrust
	DirectionMultiplier float64 `yaml:"DirectionMultiplier"`

	// MaxPower is this thruster's ceiling in (0, 1], applied on top of the
	// global power limit
	MaxPower float64 `yaml:"MaxPower"`

	// ForwardButton and BackButton name the pendant inputs for this axis
	ForwardButton string `yaml:"ForwardButton"`
	BackButton    string `yaml:"BackButton"`
}

var (
	// ErrBadDirection is generated when a direction multiplier is not +-1
	ErrBadDirection = errors.New("direction multiplier must be +1 or -1")

	// ErrBadMaxPower is generated when a per-thruster ceiling is outside (0, 1]
	ErrBadMaxPower = errors.New("max power must be in (0, 1]")

	// ErrBadPowerLimit is generated when the global limit is outside [0, 1]
	ErrBadPowerLimit = errors.New("global power limit must be in [0, 1]")

	// ErrDuplicateChannel is generated when two thrusters share a channel
	ErrDuplicateChannel = errors.New("two thrusters are mapped to the same channel")
)

// Validate checks a spec for internal consistency.
func (s ThrusterSpec) Validate() error {
	if s.DirectionMultiplier != 1 && s.DirectionMultiplier != -1 {
		return fmt.Errorf("%w: thruster %q has %v", ErrBadDirection, s.Name, s.DirectionMultiplier)
	}
	if s.MaxPower <= 0 || s.MaxPower > 1 {
		return fmt.Errorf("%w: thruster %q has %v", ErrBadMaxPower, s.Name, s.MaxPower)
	}
	return nil
}
