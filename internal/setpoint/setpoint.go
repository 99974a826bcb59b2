package setpoint

import (
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

// Config holds the altitude targeting parameters
type Config struct {
	TargetAltitude float64 // Desired apogee, meters
	ErrorBand      float64 // Maximum |target - projected apogee| handed to the controller, meters
}

// Setpoint is what the feedback controller regulates towards on one tick
type Setpoint struct {
	Time time.Time `json:"time"`

	EnableAltitude bool `json:"enableAltitude"`
	EnableRoll     bool `json:"enableRoll"`
	EnablePitchYaw bool `json:"enablePitchYaw"`

	Roll     float64 `json:"roll"`     // radians
	Pitch    float64 `json:"pitch"`    // radians
	Yaw      float64 `json:"yaw"`      // radians
	Altitude float64 `json:"altitude"` // meters
}

// Synthesize maps the flight mode and phase to a setpoint. Phases with no
// control authority (WAIT, DESCENT, LANDED) disable every axis whatever the mode.
func Synthesize(config Config, mode flight.Mode, phase flight.Phase, e telemetry.Estimate, now time.Time) Setpoint {
	sp := Setpoint{Time: now}

	switch phase {
	case flight.PhaseWait, flight.PhaseDescent, flight.PhaseLanded:
		return sp
	}

	switch mode {
	case flight.ModeApogeeControl:
		sp.EnableAltitude = true
		sp.Altitude = apogeeTarget(config, e.ProjectedApogee)

	case flight.ModePitchYawTest:
		sp.EnablePitchYaw = true

	case flight.ModePitchYawStabilizeApogee:
		sp.EnableAltitude = true
		sp.EnablePitchYaw = true
		sp.Altitude = apogeeTarget(config, e.ProjectedApogee)
	}

	return sp
}

// apogeeTarget keeps the altitude target within ErrorBand of the projected
// apogee so the controller error stays bounded
func apogeeTarget(config Config, projected float64) float64 {
	band := max(config.ErrorBand, 0)
	return projected + min(max(config.TargetAltitude-projected, -band), band)
}

// Synthesizer produces a setpoint every tick and publishes the latest one to
// readers on other goroutines
type Synthesizer struct {
	config  Config
	current atomic.Pointer[Setpoint]
}

// NewSynthesizer creates a Synthesizer
func NewSynthesizer(config Config) *Synthesizer {
	return &Synthesizer{config: config}
}

// Update computes and publishes the setpoint for this tick
func (s *Synthesizer) Update(mode flight.Mode, phase flight.Phase, e telemetry.Estimate, now time.Time) Setpoint {
	sp := Synthesize(s.config, mode, phase, e, now)
	s.current.Store(&sp)
	return sp
}

// Current returns the last published setpoint, or nil before the first tick
func (s *Synthesizer) Current() *Setpoint {
	return s.current.Load()
}
