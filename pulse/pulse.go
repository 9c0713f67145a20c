// Package pulse contains the pure arithmetic of the thruster pipeline:
// pulse width bounds, the mapping from normalized power to pulse width, and
// the resolution of paired direction buttons to a power command.
//
// Nothing in this package touches hardware.
package pulse

import (
	"errors"
	"fmt"
	"math"
)

// A Width is a PWM pulse width in microseconds.  1500 us is the conventional
// ESC neutral; 1000 and 2000 the conventional extremes.
type Width int

// Bounds describes the pulse widths a thruster channel may be driven with.
// Invariant after Validate: Min < Neutral < Max.
type Bounds struct {
	// Min is the full reverse pulse width, microseconds.
	Min Width `yaml:"MinPulse"`

	// Neutral is the zero-thrust pulse width, microseconds.
	Neutral Width `yaml:"Neutral"`

	// Max is the full forward pulse width, microseconds.
	Max Width `yaml:"MaxPulse"`

	// Deadband is the half-width of the window around Neutral that snaps to
	// Neutral, microseconds.  Keeps ESCs from whining at near-zero commands.
	Deadband Width `yaml:"Deadband"`
}

var (
	// ErrMinNotBelowNeutral is generated when Bounds.Min >= Bounds.Neutral
	ErrMinNotBelowNeutral = errors.New("min pulse width must be below neutral")

	// ErrMaxNotAboveNeutral is generated when Bounds.Max <= Bounds.Neutral
	ErrMaxNotAboveNeutral = errors.New("max pulse width must be above neutral")

	// ErrNegativeDeadband is generated when Bounds.Deadband < 0
	ErrNegativeDeadband = errors.New("deadband must not be negative")

	// ErrNonpositivePulse is generated when any bound is <= 0
	ErrNonpositivePulse = errors.New("pulse widths must be positive")
)

// Validate checks the bounds for internal consistency.  A non-nil return is a
// configuration error and must abort startup before arming.
func (b Bounds) Validate() error {
	if b.Min <= 0 || b.Neutral <= 0 || b.Max <= 0 {
		return ErrNonpositivePulse
	}
	if b.Min >= b.Neutral {
		return fmt.Errorf("%w (min %d, neutral %d)", ErrMinNotBelowNeutral, b.Min, b.Neutral)
	}
	if b.Max <= b.Neutral {
		return fmt.Errorf("%w (max %d, neutral %d)", ErrMaxNotAboveNeutral, b.Max, b.Neutral)
	}
	if b.Deadband < 0 {
		return ErrNegativeDeadband
	}
	return nil
}

// Clamp limits a normalized power command to [-1, 1].
func Clamp(power float64) float64 {
	if power > 1 {
		return 1
	}
	if power < -1 {
		return -1
	}
	return power
}

// Map converts a normalized power command to a pulse width.
//
// power is clamped to [-1, 1], then scaled by the per-thruster ceiling
// maxPower and the global power limit.  Zero maps to Neutral exactly.
// Positive power interpolates toward Max, negative toward Min; the forward
// and reverse ranges are independent, so asymmetric bounds stay asymmetric.
// Results inside the deadband snap to Neutral.
//
// The result is always within [b.Min, b.Max] for any input.
func Map(power, maxPower, limit float64, b Bounds) Width {
	eff := Clamp(power) * maxPower * limit
	var us Width
	switch {
	case eff == 0:
		return b.Neutral
	case eff > 0:
		us = b.Neutral + Width(math.Round(eff*float64(b.Max-b.Neutral)))
	default:
		us = b.Neutral + Width(math.Round(eff*float64(b.Neutral-b.Min)))
	}
	if us > b.Neutral-b.Deadband && us < b.Neutral+b.Deadband {
		return b.Neutral
	}
	return us
}

// ResolveAxis converts a pair of direction buttons to a power command in
// {-1, 0, +1}.  Forward takes precedence when both are held, matching the
// pendant wiring where the operator's thumb can bridge both switches.
func ResolveAxis(forward, back bool) float64 {
	switch {
	case forward:
		return 1
	case back:
		return -1
	default:
		return 0
	}
}
