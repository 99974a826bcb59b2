package mix

import (
	"fmt"
	"math"

	"github.com/roman-kulish/rocket-control/internal/feedback"
)

// Channel describes how one output channel responds to the axis inputs
type Channel struct {
	Neutral  float64 `yaml:"neutral"`  // Command with no input, in [0, 1]
	Roll     float64 `yaml:"roll"`     // Coefficient of the roll input
	Pitch    float64 `yaml:"pitch"`    // Coefficient of the pitch input
	Yaw      float64 `yaml:"yaw"`      // Coefficient of the yaw input
	Altitude float64 `yaml:"altitude"` // Coefficient of the altitude input
}

func (c Channel) coefficient(axis feedback.AxisID) float64 {
	switch axis {
	case feedback.AxisRoll:
		return c.Roll
	case feedback.AxisPitch:
		return c.Pitch
	case feedback.AxisYaw:
		return c.Yaw
	case feedback.AxisAltitude:
		return c.Altitude
	default:
		return 0
	}
}

// Linear is a mixing matrix: every channel command is its neutral value plus a
// weighted sum of the axis inputs. Channel commands are valid in [0, 1].
type Linear struct {
	channels []Channel
}

// NewLinear creates a mixer from per-channel coefficients
func NewLinear(channels []Channel) (*Linear, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("mixer needs at least one channel")
	}
	for i, ch := range channels {
		if ch.Neutral < 0 || ch.Neutral > 1 {
			return nil, fmt.Errorf("channel %d: neutral %v outside [0, 1]", i, ch.Neutral)
		}
	}
	return &Linear{channels: append([]Channel(nil), channels...)}, nil
}

func (m *Linear) Channels() int {
	return len(m.channels)
}

// Neutral returns the neutral command of every channel
func (m *Linear) Neutral() []float64 {
	out := make([]float64, len(m.channels))
	m.Reset(out)
	return out
}

func (m *Linear) Reset(channels []float64) {
	for i := range channels {
		if i < len(m.channels) {
			channels[i] = m.channels[i].Neutral
		}
	}
}

// CheckSaturation returns the input range the axis can add before any channel
// it drives leaves [0, 1]. An axis that drives no channel has no headroom.
func (m *Linear) CheckSaturation(axis feedback.AxisID, channels []float64) (float64, float64, error) {
	if len(channels) != len(m.channels) {
		return 0, 0, fmt.Errorf("expected %d channels, got %d", len(m.channels), len(channels))
	}

	lo, hi := math.Inf(-1), math.Inf(1)
	driven := false
	for i, ch := range m.channels {
		c := ch.coefficient(axis)
		if c == 0 {
			continue
		}
		driven = true

		// values of v keeping 0 <= channels[i] + c*v <= 1
		a, b := -channels[i]/c, (1-channels[i])/c
		if c < 0 {
			a, b = b, a
		}
		lo = max(lo, a)
		hi = min(hi, b)
	}

	if !driven || lo > hi {
		return 0, 0, nil
	}
	return lo, hi, nil
}

func (m *Linear) AddInput(value float64, axis feedback.AxisID, channels []float64) error {
	if len(channels) != len(m.channels) {
		return fmt.Errorf("expected %d channels, got %d", len(m.channels), len(channels))
	}
	for i, ch := range m.channels {
		channels[i] += ch.coefficient(axis) * value
	}
	return nil
}
