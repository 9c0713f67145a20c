package drive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/michaelwjones/rov/pulse"
)

// ErrNoThrusters is generated when a controller is built with nothing to drive
var ErrNoThrusters = errors.New("at least one thruster must be configured")

// Params collects everything a Controller needs.  All values are immutable
// once the controller is built.
type Params struct {
	Transport Transport
	Input     InputSource
	Thrusters []ThrusterSpec
	Bounds    pulse.Bounds

	// PowerLimit is the global ceiling in [0, 1] composed multiplicatively
	// with each thruster's MaxPower
	PowerLimit float64

	// UpdateHz is the control loop rate; 20 if zero
	UpdateHz int

	// ArmingDwell is the mandatory neutral hold before Armed; 3s if zero.
	// StartupDelay is an optional extra settling period on top.
	ArmingDwell  time.Duration
	StartupDelay time.Duration
}

// Controller runs the per-tick pipeline: read the pendant, resolve power per
// channel, gate it through the safety state machine, map to pulse widths and
// dispatch to the transport.
//
// The loop is strictly sequential; one tick completes before the next
// begins, and a tick that runs long simply makes the next one late.
type Controller struct {
	transport Transport
	input     InputSource
	specs     []ThrusterSpec
	bounds    pulse.Bounds
	limit     float64
	safety    *Safety
	ticker    *rate.Limiter

	// mu guards the snapshot fields below, which the diagnostics routes
	// read from other goroutines
	mu        sync.Mutex
	lastState SafetyState
	lastPulse map[int]pulse.Width
	lastPower map[int]float64

	lastStatusLog time.Time
}

// New validates params and builds a controller in the Unarmed state.
// Nothing is written to the transport until Run.
func New(p Params) (*Controller, error) {
	if p.Transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	if p.Input == nil {
		return nil, errors.New("input source must not be nil")
	}
	if len(p.Thrusters) == 0 {
		return nil, ErrNoThrusters
	}
	if err := p.Bounds.Validate(); err != nil {
		return nil, err
	}
	if p.PowerLimit < 0 || p.PowerLimit > 1 {
		return nil, fmt.Errorf("%w: %v", ErrBadPowerLimit, p.PowerLimit)
	}
	seen := make(map[int]string)
	for _, spec := range p.Thrusters {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if other, ok := seen[spec.Channel]; ok {
			return nil, fmt.Errorf("%w: %q and %q on channel %d", ErrDuplicateChannel, other, spec.Name, spec.Channel)
		}
		seen[spec.Channel] = spec.Name
	}
	if p.UpdateHz <= 0 {
		p.UpdateHz = 20
	}
	if p.ArmingDwell <= 0 {
		p.ArmingDwell = 3 * time.Second
	}
	return &Controller{
		transport: p.Transport,
		input:     p.Input,
		specs:     p.Thrusters,
		bounds:    p.Bounds,
		limit:     p.PowerLimit,
		safety:    NewSafety(p.ArmingDwell, p.StartupDelay),
		ticker:    rate.NewLimiter(rate.Limit(p.UpdateHz), 1),
		lastPulse: make(map[int]pulse.Width),
		lastPower: make(map[int]float64),
	}, nil
}

// Run arms the vehicle and drives the control loop until ctx is canceled.
// On any exit path, including cancellation mid-tick, the shutdown sequence
// forces an emergency stop, flushes neutral to every channel and closes the
// transport.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()
	if err := c.arm(); err != nil {
		return err
	}
	for {
		if err := c.ticker.Wait(ctx); err != nil {
			// canceled; the deferred shutdown flushes neutral
			return nil
		}
		c.tick(time.Now())
	}
}

// arm commands neutral everywhere and starts the dwell.  A transport that
// cannot even carry neutral is a startup failure, not a runtime fault.
func (c *Controller) arm() error {
	for _, spec := range c.specs {
		if err := c.transport.SetPulse(spec.Channel, c.bounds.Neutral); err != nil {
			c.estop(fmt.Sprintf("arming write to channel %d failed", spec.Channel))
			return fmt.Errorf("arming channel %d: %w", spec.Channel, err)
		}
		c.record(spec.Channel, 0, c.bounds.Neutral)
	}
	now := time.Now()
	c.safety.BeginArming(now)
	c.setState(Arming)
	log.Printf("arming: holding neutral for %v", c.safety.dwell+c.safety.delay)
	return nil
}

// tick runs one full control cycle.  Exported state only changes under mu;
// everything else is single-goroutine by construction.
func (c *Controller) tick(now time.Time) {
	if c.input.EmergencyStop() && c.safety.State() != EmergencyStopped {
		c.estop("emergency stop input active")
	}
	before := c.safety.State()
	after := c.safety.Tick(now)
	if before == Arming && after == Armed {
		log.Print("armed: thrusters live")
	}
	c.setState(after)

	snapshot := c.input.ReadChannelStates()
	for _, spec := range c.specs {
		power := pulse.ResolveAxis(snapshot[spec.ForwardButton], snapshot[spec.BackButton])
		power *= spec.DirectionMultiplier
		gated := c.safety.Gate(power)
		w := pulse.Map(gated, spec.MaxPower, c.limit, c.bounds)
		if err := c.transport.SetPulse(spec.Channel, w); err != nil {
			log.Printf("transport write failed on channel %d: %v", spec.Channel, err)
			// the flush inside estop puts this and every other channel at
			// neutral within the same tick
			c.estop("transport error")
			break
		}
		c.record(spec.Channel, gated, w)
	}

	if now.Sub(c.lastStatusLog) >= time.Second {
		c.lastStatusLog = now
		c.logStatus()
	}
}

// estop is the only path into EmergencyStopped.  It immediately commands
// neutral on every channel; write errors here are logged and dropped, there
// is nothing safer left to do than keep trying the rest.
func (c *Controller) estop(reason string) {
	first := c.safety.State() != EmergencyStopped
	c.safety.EmergencyStop()
	c.setState(EmergencyStopped)
	if first {
		log.Printf("EMERGENCY STOP: %s", reason)
	}
	for _, spec := range c.specs {
		if err := c.transport.SetPulse(spec.Channel, c.bounds.Neutral); err != nil {
			log.Printf("neutral flush failed on channel %d: %v", spec.Channel, err)
			continue
		}
		c.record(spec.Channel, 0, c.bounds.Neutral)
	}
}

// shutdown runs on every exit from Run.
func (c *Controller) shutdown() {
	c.estop("shutdown")
	if err := c.transport.Close(); err != nil {
		log.Printf("closing transport: %v", err)
	}
	log.Print("transports released")
}

func (c *Controller) record(channel int, power float64, w pulse.Width) {
	c.mu.Lock()
	c.lastPower[channel] = power
	c.lastPulse[channel] = w
	c.mu.Unlock()
}

func (c *Controller) setState(s SafetyState) {
	c.mu.Lock()
	c.lastState = s
	c.mu.Unlock()
}

func (c *Controller) logStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := fmt.Sprintf("state=%s", c.lastState)
	for _, spec := range c.specs {
		line += fmt.Sprintf(" %s=%+.2f(%dus)", spec.Name, c.lastPower[spec.Channel], c.lastPulse[spec.Channel])
	}
	log.Print(line)
}
