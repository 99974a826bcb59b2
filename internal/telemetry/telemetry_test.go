package telemetry

import (
	"math"
	"testing"
	"time"
)

func TestSource(t *testing.T) {
	s := NewSource()
	if s.Get() != nil {
		t.Fatalf("Expected no estimate before Set")
	}

	s.Set(Estimate{Altitude: 12})
	e := s.Get()
	if e == nil || e.Altitude != 12 {
		t.Fatalf("Unexpected estimate %+v", e)
	}

	s.Set(Estimate{Altitude: 13})
	if e.Altitude != 12 {
		t.Errorf("Published snapshot was mutated")
	}
}

func TestProjectApogee(t *testing.T) {
	tests := []struct {
		name     string
		alt, vel float64
		want     float64
	}{
		{"climbing", 100, StandardGravity, 100 + StandardGravity/2},
		{"falling", 100, -30, 100},
		{"at rest", 5, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProjectApogee(tt.alt, tt.vel); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ProjectApogee(%v, %v) = %v, want %v", tt.alt, tt.vel, got, tt.want)
			}
		})
	}
}

func TestMocapEstimator(t *testing.T) {
	m := NewMocapEstimator(7.4)
	now := time.Unix(10, 0)

	if _, ok := m.Update(now, Pose{Time: 0, Altitude: 1}); ok {
		t.Fatalf("Expected pose without tracking to be skipped")
	}
	if m.Get() != nil {
		t.Fatalf("Expected no estimate after a skipped pose")
	}

	e, ok := m.Update(now, Pose{Time: 1000, Altitude: 10, Pitch: 0.1, Valid: true})
	if !ok || e.VerticalVelocity != 0 || e.BatteryVoltage != 7.4 || e.Pitch != 0.1 {
		t.Fatalf("Unexpected first estimate %+v", e)
	}

	e, _ = m.Update(now, Pose{Time: 1500, Altitude: 15, Valid: true})
	if e.VerticalVelocity != 10 || e.VerticalAccel != 20 {
		t.Errorf("Expected v=10 a=20, got v=%v a=%v", e.VerticalVelocity, e.VerticalAccel)
	}
	if want := ProjectApogee(15, 10); e.ProjectedApogee != want {
		t.Errorf("Expected projected apogee %v, got %v", want, e.ProjectedApogee)
	}

	if _, ok = m.Update(now, Pose{Time: 1500, Altitude: 99, Valid: true}); ok {
		t.Errorf("Expected repeated timestamp to be skipped")
	}
	if got := m.Get().Altitude; got != 15 {
		t.Errorf("Expected published altitude 15, got %v", got)
	}
	if m.Skipped() != 2 {
		t.Errorf("Expected 2 skipped poses, got %d", m.Skipped())
	}
}

func TestMocapEstimator_SenderClockRestart(t *testing.T) {
	m := NewMocapEstimator(7.4)
	now := time.Unix(10, 0)

	m.Update(now, Pose{Time: 100000, Altitude: 10, Valid: true})

	e, ok := m.Update(now, Pose{Time: 20, Altitude: 12, Valid: true})
	if !ok {
		t.Fatalf("Expected pose after a sender restart to be used")
	}
	if e.Altitude != 12 || e.VerticalVelocity != 0 || e.VerticalAccel != 0 {
		t.Errorf("Expected a re-seeded estimate at 12 m, got %+v", e)
	}

	for ms := uint32(40); ms <= 1000; ms += 20 {
		m.Update(now, Pose{Time: ms, Altitude: 12 + float64(ms-20)/1000, Valid: true})
	}

	e = *m.Get()
	if math.Abs(e.Altitude-12.98) > 1e-9 || math.Abs(e.VerticalVelocity-1) > 1e-6 {
		t.Errorf("Expected estimate to follow fresh poses, got alt=%v vel=%v", e.Altitude, e.VerticalVelocity)
	}
	if m.Skipped() != 0 || m.Restarts() != 1 {
		t.Errorf("Expected 0 skipped and 1 restart, got %d and %d", m.Skipped(), m.Restarts())
	}
}
