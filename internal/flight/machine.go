package flight

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roman-kulish/rocket-control/internal/fault"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

// slowApogeeFactor multiplies the apogee delay for the velocity-independent path
const slowApogeeFactor = 10

// ErrUnknownPhase is reported when the machine finds itself in a phase it does
// not know how to advance
var ErrUnknownPhase = errors.New("unknown flight phase")

// Config holds the event detection thresholds
type Config struct {
	LaunchAccel          float64       // |vertical accel| at or above this marks a launch candidate, m/s²
	LaunchDh             float64       // |altitude - ground| at or above this marks a launch candidate, m
	IgnitionDelay        time.Duration // Launch conditions must hold this long to confirm ignition
	CutoffDelay          time.Duration // Cutoff conditions must hold this long to confirm MECO
	ApogeeDelay          time.Duration // No new maximum for this long (with v <= 0) confirms apogee
	LandingAltTolerance  float64       // Settled altitude band around the landing altitude, m
	LandingVelTolerance  float64       // Settled vertical velocity band, m/s
	LandingDelayEarly    time.Duration // Altitude and velocity settled this long confirms landing
	LandingDelayLate     time.Duration // Altitude settled this long confirms landing
	StartLandingAltitude float64       // Height above ground under which descent disarms, m
}

// Effect is a side effect the caller must apply after a step
type Effect uint8

const (
	// EffectForceMode replaces the operator's mode with Transition.Mode
	EffectForceMode Effect = 1 << iota

	// EffectCommandNominal drives the actuators to their nominal safe position
	EffectCommandNominal

	// EffectForceDisarm disarms the controller and the actuators
	EffectForceDisarm
)

// Has reports whether e contains flag
func (e Effect) Has(flag Effect) bool {
	return e&flag != 0
}

// Input is what the machine observes on one tick
type Input struct {
	Now       time.Time
	Requested ArmState // Arm state the operator asked for
	Arm       ArmState // Arm state actually in effect
	Mode      Mode     // Operator mode
	Estimate  telemetry.Estimate
	PhaseHint Phase // External phase hint, used only when UseHint is set
	UseHint   bool
}

// Transition is the result of one step
type Transition struct {
	From    Phase
	To      Phase
	Mode    Mode // Mode in effect after the step
	Effects Effect
}

// Changed reports whether the phase changed
func (t Transition) Changed() bool {
	return t.From != t.To
}

// WithLogger sets the logger for the machine
func WithLogger(logger *slog.Logger) func(*Machine) {
	return func(m *Machine) {
		m.logger = logger
	}
}

// Machine detects flight events and advances the flight phase. It is driven by
// a single goroutine, once per control tick.
type Machine struct {
	config Config
	phase  Phase
	memory EventMemory

	// lockout is set when the machine itself disarmed the vehicle. It holds the
	// terminal phase until the operator requests DISARMED.
	lockout bool

	// failSafe forces a disarm on the next step
	failSafe bool

	logger *slog.Logger
}

// NewMachine creates a machine in WAIT
func NewMachine(config Config, options ...func(*Machine)) *Machine {
	m := Machine{
		config: config,
		phase:  PhaseWait,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// Phase returns the current phase
func (m *Machine) Phase() Phase {
	return m.phase
}

// Memory returns a copy of the event memory
func (m *Machine) Memory() EventMemory {
	return m.memory
}

// ArmAllowed reports whether the vehicle may be armed. It is false after the
// machine forced a disarm, until the operator requests DISARMED.
func (m *Machine) ArmAllowed() bool {
	return !m.lockout && !m.failSafe
}

// Step advances the machine by one tick
func (m *Machine) Step(in Input) (Transition, error) {
	t := Transition{From: m.phase, To: m.phase, Mode: in.Mode}

	if m.failSafe {
		m.failSafe = false
		m.lockout = true
		t.Effects |= EffectForceDisarm
	}

	if in.Requested == Disarmed {
		m.lockout = false
		m.enterWait(in.Now)
		return m.finish(t, ModeIdle, EffectForceMode), nil
	}

	if in.Arm == Disarmed && !m.lockout {
		m.enterWait(in.Now)
		return m.finish(t, ModeIdle, EffectForceMode), nil
	}

	if in.UseHint && in.PhaseHint.Valid() && m.phase.Ahead(in.PhaseHint) {
		m.enter(in.PhaseHint, in)
	} else if err := m.detect(in); err != nil {
		m.failSafe = true
		return t, err
	}

	mode, effects := m.phaseEffects(in)
	return m.finish(t, mode, effects), nil
}

func (m *Machine) finish(t Transition, mode Mode, effects Effect) Transition {
	t.To = m.phase
	t.Effects |= effects
	if effects.Has(EffectForceMode) {
		t.Mode = mode
	}

	if t.Changed() {
		m.logger.Info(fmt.Sprintf("flight phase %s -> %s", t.From, t.To),
			slog.String("mode", t.Mode.String()),
			slog.Float64("apogee", m.memory.ApogeeAltitude),
		)
	}
	return t
}

// phaseEffects returns the mode override and effects held for the whole phase
func (m *Machine) phaseEffects(in Input) (Mode, Effect) {
	switch m.phase {
	case PhaseUnpoweredAscent:
		return ModeApogeeControl, EffectForceMode

	case PhaseDescent:
		effects := EffectForceMode | EffectCommandNominal
		if in.Estimate.Altitude-m.memory.GroundAltitude < m.config.StartLandingAltitude {
			m.lockout = true
			effects |= EffectForceDisarm
		}
		return ModeIdle, effects

	case PhaseLanded:
		m.lockout = true
		return ModeIdle, EffectForceMode | EffectForceDisarm | EffectCommandNominal

	default:
		return in.Mode, 0
	}
}

// detect evaluates the transition guards of the current phase
func (m *Machine) detect(in Input) error {
	e := in.Estimate
	mem := &m.memory

	switch m.phase {
	case PhaseWait:
		if in.Arm == Armed {
			if in.Mode == ModePitchYawTest {
				m.enter(PhaseTest, in)
			} else {
				m.enter(PhaseStandby, in)
			}
		}

	case PhaseStandby:
		m.trackApogee(in)
		launch := math.Abs(e.VerticalAccel) >= m.config.LaunchAccel &&
			math.Abs(e.Altitude-mem.GroundAltitude) >= m.config.LaunchDh
		if launch && !mem.IgnitionDetected {
			mem.IgnitionAltitude = e.Altitude
		}
		if candidate(launch, &mem.IgnitionDetected, &mem.IgnitionAt, in.Now, m.config.IgnitionDelay) {
			m.enter(PhasePoweredAscent, in)
		}

	case PhasePoweredAscent:
		m.trackApogee(in)
		cutoff := e.VerticalVelocity >= 0 && e.VerticalAccel <= 0
		if candidate(cutoff, &mem.MECODetected, &mem.CutoffAt, in.Now, m.config.CutoffDelay) {
			m.enter(PhaseUnpoweredAscent, in)
		}

	case PhaseUnpoweredAscent:
		if m.trackApogee(in) {
			mem.ApogeeCandidate = false
			return nil
		}
		mem.ApogeeCandidate = true

		held := in.Now.Sub(mem.ApogeeAt)
		fast := held >= m.config.ApogeeDelay && e.VerticalVelocity <= 0
		slow := held >= slowApogeeFactor*m.config.ApogeeDelay
		if fast || slow {
			m.enter(PhaseDescent, in)
		}

	case PhaseDescent:
		if e.Altitude < mem.LandingAltitude {
			mem.LandingAltitude = e.Altitude
			mem.resetLanding()
			return nil
		}

		settled := math.Abs(e.Altitude-mem.LandingAltitude) < m.config.LandingAltTolerance
		still := math.Abs(e.VerticalVelocity) < m.config.LandingVelTolerance

		early := candidate(settled && still, &mem.LandingCandidateFast, &mem.LandingFastAt, in.Now, m.config.LandingDelayEarly)
		late := candidate(settled, &mem.LandingCandidateSlow, &mem.LandingSlowAt, in.Now, m.config.LandingDelayLate)
		if early || late {
			m.enter(PhaseLanded, in)
		}

	case PhaseLanded, PhaseTest:
		// left only by a disarm request

	default:
		return fault.Logic("flight step", fmt.Errorf("%w: %d", ErrUnknownPhase, int32(m.phase)))
	}

	return nil
}

// trackApogee raises the apogee altitude on a new maximum and reports whether
// it did
func (m *Machine) trackApogee(in Input) bool {
	if in.Estimate.Altitude > m.memory.ApogeeAltitude {
		m.memory.ApogeeAltitude = in.Estimate.Altitude
		m.memory.ApogeeAt = in.Now
		return true
	}
	return false
}

// enter moves to phase p and seeds the memory that phase relies on
func (m *Machine) enter(p Phase, in Input) {
	alt := in.Estimate.Altitude
	mem := &m.memory

	if m.phase == PhaseWait {
		mem.GroundAltitude = alt
		mem.ApogeeAltitude = alt
		mem.ApogeeAt = in.Now
	}

	switch p {
	case PhasePoweredAscent:
		mem.IgnitionDetected = true

	case PhaseUnpoweredAscent:
		mem.MECODetected = true
		m.trackApogee(in)

	case PhaseDescent:
		mem.LandingAltitude = alt
		mem.resetLanding()

	case PhaseLanded:
		m.lockout = true
	}

	m.phase = p
	mem.PhaseEntry = in.Now
}

func (m *Machine) enterWait(now time.Time) {
	if m.phase == PhaseWait {
		return
	}
	m.phase = PhaseWait
	m.memory = EventMemory{PhaseEntry: now}
}
