package input

import (
	"testing"
	"time"

	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/link"
	"github.com/roman-kulish/rocket-control/internal/packet"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

type fakeSource struct {
	snap link.Snapshot[packet.Override]
	ok   bool
}

func (f *fakeSource) Snapshot() (link.Snapshot[packet.Override], bool) {
	return f.snap, f.ok
}

func (f *fakeSource) receive(o packet.Override, at time.Time) {
	f.snap = link.Snapshot[packet.Override]{Value: o, Received: at}
	f.ok = true
}

var t0 = time.Unix(1000, 0)

func TestArbitrator_NoPacket(t *testing.T) {
	a := NewArbitrator(Config{Mode: flight.ModeApogeeControl}, &fakeSource{})

	in := a.Update(t0)
	if in.RequestedArm != flight.Disarmed || in.InputActive || in.UseExternal || in.UseHint {
		t.Errorf("Unexpected input with no packet: %+v", in)
	}
	if in.Mode != flight.ModeApogeeControl {
		t.Errorf("Expected configured mode, got %v", in.Mode)
	}
	if _, ok := a.ExternalEstimate(telemetry.Estimate{}); ok {
		t.Errorf("Expected no external estimate")
	}

	if NewArbitrator(Config{}, nil).Update(t0).RequestedArm != flight.Disarmed {
		t.Errorf("Expected nil source to behave as silent link")
	}
}

func TestArbitrator_Staleness(t *testing.T) {
	src := &fakeSource{}
	a := NewArbitrator(Config{StaleAfter: 100 * time.Millisecond}, src)

	src.receive(packet.Override{Arm: flight.Armed}, t0)

	tests := []struct {
		name   string
		at     time.Time
		active bool
	}{
		{"fresh", t0.Add(50 * time.Millisecond), true},
		{"at threshold", t0.Add(100 * time.Millisecond), false},
		{"stale", t0.Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := a.Update(tt.at)
			if in.InputActive != tt.active {
				t.Errorf("Expected active=%v, got %v", tt.active, in.InputActive)
			}
			if in.RequestedArm != flight.Armed {
				t.Errorf("Expected arm request adopted even when stale, got %v", in.RequestedArm)
			}
		})
	}
}

func TestArbitrator_HintRatchet(t *testing.T) {
	src := &fakeSource{}
	a := NewArbitrator(Config{}, src)

	steps := []struct {
		arm    flight.ArmState
		status flight.Phase
		want   flight.Phase
	}{
		{flight.Armed, flight.PhaseStandby, flight.PhaseStandby},
		{flight.Armed, flight.PhaseUnpoweredAscent, flight.PhaseUnpoweredAscent},
		{flight.Armed, flight.PhasePoweredAscent, flight.PhaseUnpoweredAscent},
		{flight.Armed, flight.Phase(42), flight.PhaseUnpoweredAscent},
		{flight.Armed, flight.PhaseDescent, flight.PhaseDescent},
		{flight.Disarmed, flight.PhaseDescent, flight.PhaseWait},
		{flight.Armed, flight.PhaseStandby, flight.PhaseStandby},
	}

	now := t0
	for i, s := range steps {
		now = now.Add(10 * time.Millisecond)
		src.receive(packet.Override{Arm: s.arm, UseExternal: true, Status: s.status}, now)

		in := a.Update(now)
		if !in.UseHint || in.PhaseHint != s.want {
			t.Fatalf("step %d: expected hint %v, got %v (use=%v)", i, s.want, in.PhaseHint, in.UseHint)
		}
	}

	if a.InvalidHints() != 1 {
		t.Errorf("Expected 1 invalid hint, got %d", a.InvalidHints())
	}

	// the same packet seen on a later tick is not counted again
	src.receive(packet.Override{Arm: flight.Armed, UseExternal: true, Status: flight.Phase(-1)}, now.Add(time.Millisecond))
	a.Update(now.Add(2 * time.Millisecond))
	a.Update(now.Add(3 * time.Millisecond))
	if a.InvalidHints() != 2 {
		t.Errorf("Expected 2 invalid hints, got %d", a.InvalidHints())
	}
}

func TestArbitrator_LocalIgnoresPacketState(t *testing.T) {
	src := &fakeSource{}
	a := NewArbitrator(Config{}, src)

	src.receive(packet.Override{Arm: flight.Armed, Status: flight.PhaseDescent, Extended: true, Altitude: 50}, t0)

	in := a.Update(t0)
	if in.UseHint || in.PhaseHint != flight.PhaseWait {
		t.Errorf("Expected hint ignored without use-external, got %+v", in)
	}
	if _, ok := a.ExternalEstimate(telemetry.Estimate{}); ok {
		t.Errorf("Expected no external estimate without use-external")
	}
}

func TestArbitrator_ExternalEstimate(t *testing.T) {
	src := &fakeSource{}
	a := NewArbitrator(Config{}, src)

	src.receive(packet.Override{Arm: flight.Armed, UseExternal: true, Extended: true, Altitude: 50, ProjectedApogee: 80}, t0)

	e, ok := a.ExternalEstimate(telemetry.Estimate{BatteryVoltage: 8})
	if !ok {
		t.Fatalf("Expected external estimate")
	}
	if e.Altitude != 50 || e.ProjectedApogee != 80 || e.BatteryVoltage != 8 || !e.Time.Equal(t0) {
		t.Errorf("Unexpected estimate %+v", e)
	}

	if a.Current() != nil {
		t.Errorf("Expected nothing published before Update")
	}
	a.Update(t0)
	if c := a.Current(); c == nil || !c.UseExternal {
		t.Errorf("Expected published input, got %+v", c)
	}
}
