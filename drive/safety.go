package drive

import "time"

// SafetyState is the arming state of the vehicle.  It is owned exclusively
// by Safety; everything else only reads it.
type SafetyState int

const (
	// Unarmed is the initial state; no transport has been commanded yet.
	Unarmed SafetyState = iota

	// Arming holds every channel at neutral while the ESCs initialize.
	Arming

	// Armed forwards mapped power to the transports unmodified.
	Armed

	// EmergencyStopped suppresses all power for the rest of the process
	// lifetime.  Re-arming requires a restart: an ESC desync or wiring
	// fault must not self-heal without operator inspection.
	EmergencyStopped
)

func (s SafetyState) String() string {
	switch s {
	case Unarmed:
		return "unarmed"
	case Arming:
		return "arming"
	case Armed:
		return "armed"
	case EmergencyStopped:
		return "emergency-stopped"
	default:
		return "unknown"
	}
}

// Safety is the state machine gating thruster output.  It is the single
// authority deciding whether a nonzero command ever reaches hardware.
//
// Not concurrent safe; it lives on the control loop's goroutine, and
// concurrent stop sources are funneled through the input snapshot observed
// at the start of each tick.
type Safety struct {
	state SafetyState

	// armingStarted is valid while state == Arming
	armingStarted time.Time

	// dwell is the mandatory time at neutral before the ESCs will accept
	// throttle; delay is an optional extra settling period on top
	dwell time.Duration
	delay time.Duration
}

// NewSafety creates the state machine in Unarmed with the given neutral
// dwell and startup delay.
func NewSafety(dwell, delay time.Duration) *Safety {
	return &Safety{state: Unarmed, dwell: dwell, delay: delay}
}

// State returns the current state.
func (s *Safety) State() SafetyState { return s.state }

// BeginArming starts the neutral hold.  Only meaningful from Unarmed, once,
// after all transports are open and have been commanded to neutral.
func (s *Safety) BeginArming(now time.Time) {
	if s.state != Unarmed {
		return
	}
	s.state = Arming
	s.armingStarted = now
}

// Tick advances time-driven transitions and reports the state after them.
func (s *Safety) Tick(now time.Time) SafetyState {
	if s.state == Arming && now.Sub(s.armingStarted) >= s.dwell+s.delay {
		s.state = Armed
	}
	return s.state
}

// Gate filters a power command through the current state: power passes only
// when Armed, and is forced to zero otherwise so the mapper yields neutral.
func (s *Safety) Gate(power float64) float64 {
	if s.state != Armed {
		return 0
	}
	return power
}

// EmergencyStop forces the terminal state, from any state.  One way.
func (s *Safety) EmergencyStop() {
	s.state = EmergencyStopped
}
