package feedback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rocket-control/internal/fault"
	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/setpoint"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

var (
	// ErrAlreadyArmed is returned when Arm is called on an armed controller
	ErrAlreadyArmed = errors.New("controller is already armed")

	// ErrNotRunning is returned when the controller is armed while the system
	// is not running
	ErrNotRunning = errors.New("armed while not running")

	// ErrBatteryVoltage is returned when the battery voltage cannot scale gains
	ErrBatteryVoltage = errors.New("invalid battery voltage")
)

// Mixer converts per-axis inputs into channel commands
type Mixer interface {
	// Channels returns the number of output channels
	Channels() int

	// Reset loads the neutral command into channels before inputs are added
	Reset(channels []float64)

	// CheckSaturation returns the range of input the axis can still add to
	// channels without driving any of them out of range
	CheckSaturation(axis AxisID, channels []float64) (lo, hi float64, err error)

	// AddInput accumulates the axis input into channels
	AddInput(value float64, axis AxisID, channels []float64) error
}

// ActuationSink applies a normalized command to a physical channel
type ActuationSink interface {
	Apply(channel int, value float64) error
}

// FlightLogger is started when the controller arms
type FlightLogger interface {
	Start() error
}

// Indicator shows the arm state to people near the vehicle
type Indicator interface {
	Set(armed bool)
}

// Config holds the controller parameters
type Config struct {
	Period         time.Duration // Control period
	NominalVoltage float64       // Battery voltage the nominal gains were tuned at
	SoftStart      time.Duration // Time for output bounds to ramp in after arming
	Roll           AxisConfig
	Pitch          AxisConfig
	Yaw            AxisConfig
	Altitude       AxisConfig
}

// Output is what one control tick produced
type Output struct {
	Loop     uint64             // Ticks since arming
	U        [axisCount]float64 // Per-axis inputs, indexed by AxisID
	Channels []float64          // Saturated channel commands
}

type noopLogger struct{}

func (noopLogger) Start() error { return nil }

type noopIndicator struct{}

func (noopIndicator) Set(bool) {}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithFlightLogger sets the flight logger started on arming
func WithFlightLogger(l FlightLogger) func(*Controller) {
	return func(c *Controller) {
		c.flightLog = l
	}
}

// WithIndicator sets the arm indicator
func WithIndicator(i Indicator) func(*Controller) {
	return func(c *Controller) {
		c.indicator = i
	}
}

// Controller runs the per-axis feedback chain each tick and submits the mixed
// channel commands. All methods except ArmState must be called from the control
// goroutine.
type Controller struct {
	config Config
	axes   [axisCount]*Axis

	mixer     Mixer
	sink      ActuationSink
	flightLog FlightLogger
	indicator Indicator

	state    atomic.Int32
	armTime  time.Time
	loop     uint64
	channels []float64

	logger *slog.Logger
}

// New creates a disarmed controller
func New(config Config, mixer Mixer, sink ActuationSink, options ...func(*Controller)) (*Controller, error) {
	if config.Period <= 0 {
		return nil, fault.Config("feedback", fmt.Errorf("invalid control period: %s", config.Period))
	}
	if config.NominalVoltage <= 0 {
		return nil, fault.Config("feedback", fmt.Errorf("invalid nominal voltage: %v", config.NominalVoltage))
	}
	if mixer == nil || sink == nil {
		return nil, fault.Config("feedback", errors.New("mixer and actuation sink are required"))
	}

	c := Controller{
		config:    config,
		mixer:     mixer,
		sink:      sink,
		flightLog: noopLogger{},
		indicator: noopIndicator{},
		channels:  make([]float64, mixer.Channels()),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	c.axes[AxisRoll] = newAxis(AxisRoll, config.Roll)
	c.axes[AxisPitch] = newAxis(AxisPitch, config.Pitch)
	c.axes[AxisYaw] = newAxis(AxisYaw, config.Yaw)
	c.axes[AxisAltitude] = newAxis(AxisAltitude, config.Altitude)

	for _, option := range options {
		option(&c)
	}

	c.state.Store(int32(flight.Disarmed))
	return &c, nil
}

// ArmState returns the controller arm state. Safe for concurrent use.
func (c *Controller) ArmState() flight.ArmState {
	return flight.ArmState(c.state.Load())
}

// Axis returns the feedback chain of one axis
func (c *Controller) Axis(id AxisID) *Axis {
	if id < 0 || id >= axisCount {
		return nil
	}
	return c.axes[id]
}

// Arm starts the flight log, resets the feedback chains and sets the
// controller ARMED, in that order.
func (c *Controller) Arm(now time.Time, e telemetry.Estimate) error {
	if c.ArmState() == flight.Armed {
		return fault.Logic("arm", ErrAlreadyArmed)
	}

	if err := c.flightLog.Start(); err != nil {
		return fault.Logic("arm", fmt.Errorf("starting flight log: %w", err))
	}

	c.armTime = now
	c.loop = 0

	for _, a := range c.axes {
		a.Reset()
	}

	// avoid a derivative kick on the first tick
	c.axes[AxisPitch].preload(-e.Pitch)
	c.axes[AxisYaw].preload(-e.Yaw)

	c.indicator.Set(true)
	c.state.Store(int32(flight.Armed))

	c.logger.Info("controller armed", slog.Float64("battery", e.BatteryVoltage))
	return nil
}

// Disarm sets the controller DISARMED. The feedback chains keep their memory
// until the next Arm.
func (c *Controller) Disarm() {
	if c.ArmState() == flight.Disarmed {
		return
	}

	c.state.Store(int32(flight.Disarmed))
	c.indicator.Set(false)

	c.logger.Info("controller disarmed", slog.Uint64("loops", c.loop))
}

// March runs one control tick. running reports whether the system is in its
// running state; an armed controller outside it is disarmed immediately.
func (c *Controller) March(sp setpoint.Setpoint, e telemetry.Estimate, running bool, now time.Time) (Output, error) {
	if !running && c.ArmState() == flight.Armed {
		c.Disarm()
		return Output{}, fault.Safety("march", ErrNotRunning)
	}
	if c.ArmState() != flight.Armed {
		return Output{}, nil
	}
	if e.BatteryVoltage <= 0 {
		return Output{}, fault.Logic("march", fmt.Errorf("%w: %v", ErrBatteryVoltage, e.BatteryVoltage))
	}

	out := Output{Loop: c.loop}
	c.mixer.Reset(c.channels)
	soft := c.softStart(now)

	for _, id := range marchOrder {
		reference, actual, enabled := c.errorTerms(id, sp, e)
		if !enabled {
			continue
		}

		a := c.axes[id]

		lo, hi, err := c.mixer.CheckSaturation(id, c.channels)
		if err != nil {
			return out, fault.Logic("march", fmt.Errorf("checking %s saturation: %w", id, err))
		}
		a.setBounds(lo, hi, soft)
		a.scaleGains(c.config.NominalVoltage, e.BatteryVoltage)

		out.U[id] = a.march(reference, actual, c.config.Period)
		if err = c.mixer.AddInput(out.U[id], id, c.channels); err != nil {
			return out, fault.Logic("march", fmt.Errorf("mixing %s: %w", id, err))
		}
	}

	var errs []error
	for ch := range c.channels {
		c.channels[ch] = min(max(c.channels[ch], 0), 1)
		if err := c.sink.Apply(ch, c.channels[ch]); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", ch, err))
		}
	}

	out.Channels = append([]float64(nil), c.channels...)
	c.loop++

	if len(errs) > 0 {
		return out, fault.Transport("actuation", errors.Join(errs...))
	}
	return out, nil
}

// errorTerms returns the reference and measured signal of an axis and whether
// the setpoint enables it
func (c *Controller) errorTerms(id AxisID, sp setpoint.Setpoint, e telemetry.Estimate) (float64, float64, bool) {
	switch id {
	case AxisAltitude:
		return sp.Altitude, e.ProjectedApogee, sp.EnableAltitude
	case AxisRoll:
		return sp.Roll, e.Roll, sp.EnableRoll
	case AxisPitch:
		return sp.Pitch, e.Pitch, sp.EnablePitchYaw
	case AxisYaw:
		return sp.Yaw, e.Yaw, sp.EnablePitchYaw
	default:
		return 0, 0, false
	}
}

// softStart returns the output bound scale for the time since arming
func (c *Controller) softStart(now time.Time) float64 {
	if c.config.SoftStart <= 0 {
		return 1
	}
	elapsed := now.Sub(c.armTime)
	if elapsed <= 0 {
		return 0
	}
	return min(float64(elapsed)/float64(c.config.SoftStart), 1)
}
