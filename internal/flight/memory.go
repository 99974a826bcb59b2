package flight

import (
	"time"
)

// EventMemory records what the state machine has detected so far in a flight.
// It is mutated only by Machine and reset on every transition into WAIT.
type EventMemory struct {
	GroundAltitude   float64   // Altitude when the vehicle was armed
	IgnitionAltitude float64   // Altitude when the ignition candidate was raised
	ApogeeAltitude   float64   // Highest altitude seen since arming
	LandingAltitude  float64   // Lowest settled altitude seen during descent
	PhaseEntry       time.Time // Time the current phase was entered

	IgnitionDetected     bool // Launch conditions hold, waiting for confirmation
	MECODetected         bool // Cutoff conditions hold, waiting for confirmation
	ApogeeCandidate      bool // Altitude has stopped rising
	LandingCandidateFast bool // Altitude and velocity have settled
	LandingCandidateSlow bool // Altitude has settled

	IgnitionAt    time.Time // Start of the current ignition candidate
	CutoffAt      time.Time // Start of the current cutoff candidate
	ApogeeAt      time.Time // Last time ApogeeAltitude increased
	LandingFastAt time.Time // Start of the current fast landing candidate
	LandingSlowAt time.Time // Start of the current slow landing candidate
}

func (m *EventMemory) resetLanding() {
	m.LandingCandidateFast = false
	m.LandingCandidateSlow = false
	m.LandingFastAt = time.Time{}
	m.LandingSlowAt = time.Time{}
}

// candidate tracks a condition that must hold continuously for a delay. It
// returns true once the condition has held for at least delay.
func candidate(cond bool, flag *bool, since *time.Time, now time.Time, delay time.Duration) bool {
	if !cond {
		*flag = false
		*since = time.Time{}
		return false
	}
	if !*flag {
		*flag = true
		*since = now
	}
	return now.Sub(*since) >= delay
}
