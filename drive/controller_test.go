package drive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michaelwjones/rov/pulse"
)

var testBounds = pulse.Bounds{Min: 1000, Neutral: 1500, Max: 2000}

var errBusGone = errors.New("bus gone")

// fakeTransport records every command and can be told to fail selectively.
type fakeTransport struct {
	last   map[int]pulse.Width
	count  map[int]int
	closed bool

	// failWhen, if set, decides per-command whether the write errors
	failWhen func(channel int, w pulse.Width) bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{last: make(map[int]pulse.Width), count: make(map[int]int)}
}

func (f *fakeTransport) SetPulse(channel int, w pulse.Width) error {
	if f.failWhen != nil && f.failWhen(channel, w) {
		return errBusGone
	}
	f.last[channel] = w
	f.count[channel]++
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// fakeInput is a pendant with settable buttons.
type fakeInput struct {
	held  map[string]bool
	estop bool
}

func (f *fakeInput) ReadChannelStates() map[string]bool { return f.held }
func (f *fakeInput) EmergencyStop() bool                { return f.estop }

func threeThrusters() []ThrusterSpec {
	return []ThrusterSpec{
		{Name: "port", Channel: 0, DirectionMultiplier: 1, MaxPower: 1, ForwardButton: "h1_forward", BackButton: "h1_back"},
		{Name: "starboard", Channel: 1, DirectionMultiplier: -1, MaxPower: 1, ForwardButton: "h2_forward", BackButton: "h2_back"},
		{Name: "vertical", Channel: 2, DirectionMultiplier: 1, MaxPower: 1, ForwardButton: "v_up", BackButton: "v_down"},
	}
}

func testController(t *testing.T, tr Transport, in InputSource) *Controller {
	t.Helper()
	c, err := New(Params{
		Transport:   tr,
		Input:       in,
		Thrusters:   threeThrusters(),
		Bounds:      testBounds,
		PowerLimit:  1,
		UpdateHz:    20,
		ArmingDwell: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("building controller: %v", err)
	}
	return c
}

func TestOnlyNeutralReachesTransportBeforeArmed(t *testing.T) {
	tr := newFakeTransport()
	in := &fakeInput{held: map[string]bool{"h1_forward": true, "h2_forward": true, "v_up": true}}
	c := testController(t, tr, in)

	start := time.Now()
	if err := c.arm(); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		c.tick(start.Add(time.Duration(i) * 50 * time.Millisecond))
	}
	for ch := 0; ch <= 2; ch++ {
		if tr.last[ch] != testBounds.Neutral {
			t.Errorf("channel %d left neutral during arming: %d", ch, tr.last[ch])
		}
	}
	if c.safety.State() != Arming {
		t.Fatalf("expected arming, got %v", c.safety.State())
	}
}

func TestArmedTickMapsInputToPower(t *testing.T) {
	tr := newFakeTransport()
	in := &fakeInput{held: map[string]bool{"h1_forward": true, "h2_forward": true, "v_down": true}}
	c := testController(t, tr, in)

	start := time.Now()
	if err := c.arm(); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	c.tick(start.Add(4 * time.Second))
	if c.safety.State() != Armed {
		t.Fatalf("expected armed, got %v", c.safety.State())
	}
	if tr.last[0] != 2000 {
		t.Errorf("port forward: expected 2000, got %d", tr.last[0])
	}
	// starboard is mounted mirrored: +1 input becomes -1 effective power
	if tr.last[1] != 1000 {
		t.Errorf("starboard forward with -1 multiplier: expected 1000, got %d", tr.last[1])
	}
	if tr.last[2] != 1000 {
		t.Errorf("vertical down: expected 1000, got %d", tr.last[2])
	}
}

func TestReleasedButtonsCommandNeutral(t *testing.T) {
	tr := newFakeTransport()
	in := &fakeInput{held: map[string]bool{}}
	c := testController(t, tr, in)

	start := time.Now()
	if err := c.arm(); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	c.tick(start.Add(4 * time.Second))
	for ch := 0; ch <= 2; ch++ {
		if tr.last[ch] != testBounds.Neutral {
			t.Errorf("channel %d: expected neutral, got %d", ch, tr.last[ch])
		}
	}
}

func TestTransportErrorNeutralsEveryChannelSameTick(t *testing.T) {
	tr := newFakeTransport()
	in := &fakeInput{held: map[string]bool{"h1_forward": true, "h2_forward": true, "v_up": true}}
	c := testController(t, tr, in)

	start := time.Now()
	if err := c.arm(); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	c.tick(start.Add(4 * time.Second)) // armed, driving
	// channel 2's bus fails for anything but neutral
	tr.failWhen = func(channel int, w pulse.Width) bool {
		return channel == 2 && w != testBounds.Neutral
	}
	c.tick(start.Add(4*time.Second + 50*time.Millisecond))
	if c.safety.State() != EmergencyStopped {
		t.Fatalf("expected emergency-stopped after write failure, got %v", c.safety.State())
	}
	for ch := 0; ch <= 2; ch++ {
		if tr.last[ch] != testBounds.Neutral {
			t.Errorf("channel %d not neutral after fault tick: %d", ch, tr.last[ch])
		}
	}
}

func TestEmergencyStopSuppressesAllLaterPower(t *testing.T) {
	tr := newFakeTransport()
	in := &fakeInput{held: map[string]bool{"h1_forward": true}}
	c := testController(t, tr, in)

	start := time.Now()
	if err := c.arm(); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	c.tick(start.Add(4 * time.Second))
	c.estop("test")
	// keep demanding full power; only neutral may come out
	for i := 0; i < 5; i++ {
		c.tick(start.Add(5*time.Second + time.Duration(i)*50*time.Millisecond))
	}
	if tr.last[0] != testBounds.Neutral {
		t.Fatalf("post-stop command escaped the gate: %d", tr.last[0])
	}
	if c.safety.State() != EmergencyStopped {
		t.Fatalf("expected emergency-stopped, got %v", c.safety.State())
	}
}

func TestEmergencyStopInputObservedAtTickStart(t *testing.T) {
	tr := newFakeTransport()
	in := &fakeInput{held: map[string]bool{"h1_forward": true}}
	c := testController(t, tr, in)

	start := time.Now()
	if err := c.arm(); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	c.tick(start.Add(4 * time.Second))
	in.estop = true
	c.tick(start.Add(4*time.Second + 50*time.Millisecond))
	if c.safety.State() != EmergencyStopped {
		t.Fatalf("expected emergency-stopped, got %v", c.safety.State())
	}
	if tr.last[0] != testBounds.Neutral {
		t.Fatalf("expected neutral after stop input, got %d", tr.last[0])
	}
}

func TestRunShutdownFlushesNeutralAndCloses(t *testing.T) {
	tr := newFakeTransport()
	in := &fakeInput{held: map[string]bool{"h1_forward": true}}
	c := testController(t, tr, in)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	time.Sleep(150 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not exit after cancellation")
	}
	if !tr.closed {
		t.Error("transport not closed on shutdown")
	}
	for ch := 0; ch <= 2; ch++ {
		if tr.last[ch] != testBounds.Neutral {
			t.Errorf("channel %d not neutral after shutdown: %d", ch, tr.last[ch])
		}
	}
	if c.safety.State() != EmergencyStopped {
		t.Fatalf("expected emergency-stopped after shutdown, got %v", c.safety.State())
	}
}

func TestArmFailureIsFatal(t *testing.T) {
	tr := newFakeTransport()
	tr.failWhen = func(int, pulse.Width) bool { return true }
	in := &fakeInput{held: map[string]bool{}}
	c := testController(t, tr, in)
	if err := c.arm(); err == nil {
		t.Fatal("expected arm to fail when the transport cannot carry neutral")
	}
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	tr := newFakeTransport()
	in := &fakeInput{}
	base := Params{Transport: tr, Input: in, Thrusters: threeThrusters(), Bounds: testBounds, PowerLimit: 1}

	bad := base
	bad.Bounds = pulse.Bounds{Min: 1500, Neutral: 1500, Max: 2000}
	if _, err := New(bad); err == nil {
		t.Error("accepted min >= neutral")
	}

	bad = base
	bad.PowerLimit = 1.5
	if _, err := New(bad); err == nil {
		t.Error("accepted power limit above 1")
	}

	bad = base
	bad.Thrusters = append(threeThrusters(), ThrusterSpec{Name: "dup", Channel: 0, DirectionMultiplier: 1, MaxPower: 1})
	if _, err := New(bad); err == nil {
		t.Error("accepted duplicate channel")
	}

	bad = base
	specs := threeThrusters()
	specs[0].DirectionMultiplier = 2
	bad.Thrusters = specs
	if _, err := New(bad); err == nil {
		t.Error("accepted direction multiplier of 2")
	}

	bad = base
	bad.Thrusters = nil
	if _, err := New(bad); err == nil {
		t.Error("accepted empty thruster list")
	}
}

func TestStatusReflectsLastCommands(t *testing.T) {
	tr := newFakeTransport()
	in := &fakeInput{held: map[string]bool{"h1_forward": true}}
	c := testController(t, tr, in)

	start := time.Now()
	if err := c.arm(); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	c.tick(start.Add(4 * time.Second))
	st := c.Status()
	if st.State != "armed" {
		t.Errorf("expected armed, got %q", st.State)
	}
	if len(st.Thrusters) != 3 {
		t.Fatalf("expected 3 thrusters in status, got %d", len(st.Thrusters))
	}
	if st.Thrusters[0].PulseUs != 2000 || st.Thrusters[0].Power != 1 {
		t.Errorf("port status wrong: %+v", st.Thrusters[0])
	}
}
