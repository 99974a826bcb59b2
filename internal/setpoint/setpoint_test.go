package setpoint

import (
	"testing"
	"time"

	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

func TestSynthesize_Table(t *testing.T) {
	config := Config{TargetAltitude: 1000, ErrorBand: 50}
	e := telemetry.Estimate{ProjectedApogee: 990, Roll: 0.2, Pitch: 0.1}

	tests := []struct {
		name     string
		mode     flight.Mode
		phase    flight.Phase
		altitude bool
		pitchYaw bool
	}{
		{"idle", flight.ModeIdle, flight.PhaseUnpoweredAscent, false, false},
		{"apogee control", flight.ModeApogeeControl, flight.PhaseUnpoweredAscent, true, false},
		{"pitch yaw test", flight.ModePitchYawTest, flight.PhaseTest, false, true},
		{"stabilize apogee", flight.ModePitchYawStabilizeApogee, flight.PhasePoweredAscent, true, true},
		{"wait disables", flight.ModePitchYawStabilizeApogee, flight.PhaseWait, false, false},
		{"descent disables", flight.ModeApogeeControl, flight.PhaseDescent, false, false},
		{"landed disables", flight.ModePitchYawTest, flight.PhaseLanded, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := Synthesize(config, tt.mode, tt.phase, e, time.Unix(10, 0))

			if sp.EnableAltitude != tt.altitude || sp.EnablePitchYaw != tt.pitchYaw || sp.EnableRoll {
				t.Errorf("Unexpected enable flags: %+v", sp)
			}
			if sp.Roll != 0 || sp.Pitch != 0 || sp.Yaw != 0 {
				t.Errorf("Expected attitude targets to be zero, got %+v", sp)
			}
			if !tt.altitude && sp.Altitude != 0 {
				t.Errorf("Expected zero altitude target, got %v", sp.Altitude)
			}
			if tt.altitude && sp.Altitude != 1000 {
				t.Errorf("Expected altitude target 1000, got %v", sp.Altitude)
			}
		})
	}
}

func TestSynthesize_ClampsAltitudeTarget(t *testing.T) {
	config := Config{TargetAltitude: 1000, ErrorBand: 25}

	tests := []struct {
		projected float64
		want      float64
	}{
		{1000, 1000},
		{990, 1000},
		{900, 925},
		{1100, 1075},
	}

	for _, tt := range tests {
		sp := Synthesize(config, flight.ModeApogeeControl, flight.PhaseUnpoweredAscent,
			telemetry.Estimate{ProjectedApogee: tt.projected}, time.Time{})
		if sp.Altitude != tt.want {
			t.Errorf("projected %v: got target %v, want %v", tt.projected, sp.Altitude, tt.want)
		}
	}
}

func TestSynthesizer_Publishes(t *testing.T) {
	s := NewSynthesizer(Config{TargetAltitude: 500, ErrorBand: 10})
	if s.Current() != nil {
		t.Fatalf("Expected no setpoint before the first update")
	}

	sp := s.Update(flight.ModePitchYawTest, flight.PhaseTest, telemetry.Estimate{}, time.Unix(5, 0))
	if got := s.Current(); got == nil || *got != sp {
		t.Errorf("Expected published setpoint %+v, got %+v", sp, got)
	}
}
