package flight

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ArmState is the power and control enable flag. Wire values match the override
// packet: 0 is disarmed, 1 is armed.
type ArmState int32

const (
	Disarmed ArmState = iota
	Armed
)

func (a ArmState) String() string {
	switch a {
	case Disarmed:
		return "DISARMED"
	case Armed:
		return "ARMED"
	default:
		return fmt.Sprintf("ArmState(%d)", int32(a))
	}
}

// Valid reports whether a is a known arm state
func (a ArmState) Valid() bool {
	return a == Disarmed || a == Armed
}

// Mode is the operator-selected control objective
type Mode int32

const (
	ModeIdle Mode = iota
	ModeApogeeControl
	ModePitchYawTest
	ModePitchYawStabilizeApogee
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModeApogeeControl:
		return "APOGEE_CONTROL"
	case ModePitchYawTest:
		return "PITCH_YAW_TEST"
	case ModePitchYawStabilizeApogee:
		return "PITCH_YAW_STABILIZE_APOGEE"
	default:
		return fmt.Sprintf("Mode(%d)", int32(m))
	}
}

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m >= ModeIdle && m <= ModePitchYawStabilizeApogee
}

// ParseMode converts a mode name into a Mode
func ParseMode(value string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "IDLE":
		return ModeIdle, nil
	case "APOGEE_CONTROL":
		return ModeApogeeControl, nil
	case "PITCH_YAW_TEST":
		return ModePitchYawTest, nil
	case "PITCH_YAW_STABILIZE_APOGEE":
		return ModePitchYawStabilizeApogee, nil
	default:
		return ModeIdle, fmt.Errorf("unknown flight mode %q", value)
	}
}

// UnmarshalYAML allows modes to be loaded from configuration strings
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseMode(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Phase is the vehicle lifecycle state. Wire values match the flight status hint
// of the override packet.
type Phase int32

const (
	PhaseWait Phase = iota
	PhaseStandby
	PhasePoweredAscent
	PhaseUnpoweredAscent
	PhaseDescent
	PhaseLanded
	PhaseTest
)

func (p Phase) String() string {
	switch p {
	case PhaseWait:
		return "WAIT"
	case PhaseStandby:
		return "STANDBY"
	case PhasePoweredAscent:
		return "POWERED_ASCENT"
	case PhaseUnpoweredAscent:
		return "UNPOWERED_ASCENT"
	case PhaseDescent:
		return "DESCENT"
	case PhaseLanded:
		return "LANDED"
	case PhaseTest:
		return "TEST"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	return p >= PhaseWait && p <= PhaseTest
}

// ParsePhase converts a phase name into a Phase
func ParsePhase(value string) (Phase, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for p := PhaseWait; p <= PhaseTest; p++ {
		if p.String() == normalized {
			return p, nil
		}
	}
	return PhaseWait, fmt.Errorf("unknown flight phase %q", value)
}

// Phases lists every phase in lifecycle order
func Phases() []Phase {
	return []Phase{
		PhaseWait,
		PhaseStandby,
		PhasePoweredAscent,
		PhaseUnpoweredAscent,
		PhaseDescent,
		PhaseLanded,
		PhaseTest,
	}
}

// flightOrder ranks the phases a flight moves through. TEST is outside the
// flight sequence and has no rank.
func flightOrder(p Phase) (int, bool) {
	switch p {
	case PhaseWait, PhaseStandby, PhasePoweredAscent, PhaseUnpoweredAscent, PhaseDescent, PhaseLanded:
		return int(p), true
	default:
		return 0, false
	}
}

// Ahead reports whether next is strictly later in the flight sequence than p
func (p Phase) Ahead(next Phase) bool {
	a, ok := flightOrder(p)
	if !ok {
		return false
	}
	b, ok := flightOrder(next)
	if !ok {
		return false
	}
	return b > a
}
