package drive

import (
	"testing"
	"time"
)

func TestSafetyStartsUnarmed(t *testing.T) {
	s := NewSafety(3*time.Second, 0)
	if s.State() != Unarmed {
		t.Fatalf("expected unarmed, got %v", s.State())
	}
	if s.Gate(1) != 0 {
		t.Fatal("unarmed gate passed power")
	}
}

func TestSafetyArmsAfterDwellAndDelay(t *testing.T) {
	s := NewSafety(3*time.Second, 2*time.Second)
	t0 := time.Now()
	s.BeginArming(t0)
	if s.State() != Arming {
		t.Fatalf("expected arming, got %v", s.State())
	}
	if got := s.Tick(t0.Add(4 * time.Second)); got != Arming {
		t.Fatalf("promoted after dwell but before startup delay elapsed, got %v", got)
	}
	if s.Gate(1) != 0 {
		t.Fatal("arming gate passed power")
	}
	if got := s.Tick(t0.Add(5 * time.Second)); got != Armed {
		t.Fatalf("expected armed after dwell+delay, got %v", got)
	}
	if s.Gate(0.5) != 0.5 {
		t.Fatal("armed gate modified power")
	}
}

func TestSafetyBeginArmingOnlyFromUnarmed(t *testing.T) {
	s := NewSafety(time.Second, 0)
	t0 := time.Now()
	s.BeginArming(t0)
	s.Tick(t0.Add(2 * time.Second))
	s.BeginArming(t0.Add(3 * time.Second)) // must not demote Armed
	if s.State() != Armed {
		t.Fatalf("re-arming demoted state to %v", s.State())
	}
}

func TestSafetyEmergencyStopIsTerminal(t *testing.T) {
	s := NewSafety(time.Second, 0)
	t0 := time.Now()
	s.BeginArming(t0)
	s.Tick(t0.Add(2 * time.Second))
	s.EmergencyStop()
	if s.State() != EmergencyStopped {
		t.Fatalf("expected emergency-stopped, got %v", s.State())
	}
	if s.Gate(1) != 0 {
		t.Fatal("emergency-stopped gate passed power")
	}
	// no input may leave the state
	s.BeginArming(t0.Add(3 * time.Second))
	s.Tick(t0.Add(time.Hour))
	if s.State() != EmergencyStopped {
		t.Fatalf("state left emergency stop: %v", s.State())
	}
}

func TestSafetyEmergencyStopFromAnyState(t *testing.T) {
	for _, start := range []func(*Safety){
		func(s *Safety) {},                            // unarmed
		func(s *Safety) { s.BeginArming(time.Now()) }, // arming
	} {
		s := NewSafety(time.Second, 0)
		start(s)
		s.EmergencyStop()
		if s.State() != EmergencyStopped {
			t.Fatalf("expected emergency-stopped, got %v", s.State())
		}
	}
}
