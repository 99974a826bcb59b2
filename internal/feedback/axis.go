package feedback

import (
	"fmt"
	"time"

	"go.einride.tech/pid"
)

// AxisID names a controlled degree of freedom
type AxisID int

const (
	AxisRoll AxisID = iota
	AxisPitch
	AxisYaw
	AxisAltitude

	axisCount
)

func (a AxisID) String() string {
	switch a {
	case AxisRoll:
		return "roll"
	case AxisPitch:
		return "pitch"
	case AxisYaw:
		return "yaw"
	case AxisAltitude:
		return "altitude"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// marchOrder is the order axes claim mixer headroom in
var marchOrder = [axisCount]AxisID{AxisAltitude, AxisRoll, AxisPitch, AxisYaw}

// derivativeFilter is the low-pass time constant of the derivative term, far
// below any control period
const derivativeFilter = time.Microsecond

// AxisConfig holds the nominal gains and output limit of one axis
type AxisConfig struct {
	ProportionalGain float64
	IntegralGain     float64
	DerivativeGain   float64
	AntiWindupGain   float64 // Back-calculation gain applied while the output is bounded
	Limit            float64 // Static bound on |output|
}

// Axis is the feedback chain of one degree of freedom: a PID controller whose
// gains follow the battery voltage and whose output is bounded by the mixer
// headroom, the static limit and the soft start ramp. The integrator is
// discharged while the output sits on a bound.
type Axis struct {
	id         AxisID
	config     AxisConfig
	controller pid.AntiWindupController
}

func newAxis(id AxisID, config AxisConfig) *Axis {
	a := Axis{
		id:     id,
		config: config,
	}
	a.controller.Config = pid.AntiWindupControllerConfig{
		ProportionalGain:    config.ProportionalGain,
		IntegralGain:        config.IntegralGain,
		DerivativeGain:      config.DerivativeGain,
		AntiWindUpGain:      config.AntiWindupGain,
		LowPassTimeConstant: derivativeFilter,
		MinOutput:           -config.Limit,
		MaxOutput:           config.Limit,
	}
	return &a
}

// ID returns the axis identifier
func (a *Axis) ID() AxisID {
	return a.id
}

// Reset clears the controller memory
func (a *Axis) Reset() {
	a.controller.State = pid.AntiWindupControllerState{}
}

// preload seeds the previous error so the first derivative is taken against it
func (a *Axis) preload(controlError float64) {
	a.controller.State.ControlError = controlError
}

// scaleGains sets the working gains to the nominal gains scaled by
// vNominal / vBatt
func (a *Axis) scaleGains(vNominal, vBatt float64) {
	scale := vNominal / vBatt
	a.controller.Config.ProportionalGain = a.config.ProportionalGain * scale
	a.controller.Config.IntegralGain = a.config.IntegralGain * scale
	a.controller.Config.DerivativeGain = a.config.DerivativeGain * scale
}

// setBounds limits the output to the given headroom clamped to the static
// limit, then scales it by the soft start factor in [0, 1]
func (a *Axis) setBounds(lo, hi, softStart float64) {
	lo = max(lo, -a.config.Limit)
	hi = min(hi, a.config.Limit)
	if lo > hi {
		lo, hi = 0, 0
	}
	a.controller.Config.MinOutput = lo * softStart
	a.controller.Config.MaxOutput = hi * softStart
}

// march advances the controller with error reference - actual and returns the
// bounded output
func (a *Axis) march(reference, actual float64, dt time.Duration) float64 {
	a.controller.Update(pid.AntiWindupControllerInput{
		ReferenceSignal:  reference,
		ActualSignal:     actual,
		SamplingInterval: dt,
	})
	return a.controller.State.ControlSignal
}

// Gains returns the working gains
func (a *Axis) Gains() (kp, ki, kd float64) {
	c := a.controller.Config
	return c.ProportionalGain, c.IntegralGain, c.DerivativeGain
}

// Bounds returns the current output bounds
func (a *Axis) Bounds() (lo, hi float64) {
	return a.controller.Config.MinOutput, a.controller.Config.MaxOutput
}

// State returns the controller state
func (a *Axis) State() pid.AntiWindupControllerState {
	return a.controller.State
}
