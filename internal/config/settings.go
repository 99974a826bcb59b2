package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/rocket-control/internal/fault"
	"github.com/roman-kulish/rocket-control/internal/feedback"
	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/input"
	"github.com/roman-kulish/rocket-control/internal/setpoint"
)

// Duration is a time.Duration read from strings such as "250ms"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Gains configures one feedback axis
type Gains struct {
	P     float64 `yaml:"p"`
	I     float64 `yaml:"i"`
	D     float64 `yaml:"d"`
	Limit float64 `yaml:"limit"`

	AntiWindup float64 `yaml:"antiWindup"` // Integrator back-calculation gain
}

func (g Gains) axis() feedback.AxisConfig {
	return feedback.AxisConfig{
		ProportionalGain: g.P,
		IntegralGain:     g.I,
		DerivativeGain:   g.D,
		AntiWindupGain:   g.AntiWindup,
		Limit:            g.Limit,
	}
}

// Settings are the flight controller parameters
type Settings struct {
	FlightMode       flight.Mode `yaml:"flightMode"`
	ControlFrequency float64     `yaml:"controlFrequency"` // Hz
	NominalVoltage   float64     `yaml:"nominalVoltage"`   // V
	SoftStart        Duration    `yaml:"softStart"`

	TargetAltitude    float64 `yaml:"targetAltitude"`    // m
	AltitudeErrorBand float64 `yaml:"altitudeErrorBand"` // m

	InputStaleAfter Duration `yaml:"inputStaleAfter"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	Events Events `yaml:"events"`

	Roll     Gains `yaml:"roll"`
	Pitch    Gains `yaml:"pitch"`
	Yaw      Gains `yaml:"yaw"`
	Altitude Gains `yaml:"altitude"`
}

// Events are the flight event detection thresholds
type Events struct {
	LaunchAccel          float64  `yaml:"launchAccel"` // m/s²
	LaunchDh             float64  `yaml:"launchDh"`    // m
	IgnitionDelay        Duration `yaml:"ignitionDelay"`
	CutoffDelay          Duration `yaml:"cutoffDelay"`
	ApogeeDelay          Duration `yaml:"apogeeDelay"`
	LandingDelayEarly    Duration `yaml:"landingDelayEarly"`
	LandingDelayLate     Duration `yaml:"landingDelayLate"`
	StartLandingAltitude float64  `yaml:"startLandingAltitude"` // m above ground
	LandingAltTolerance  float64  `yaml:"landingAltTolerance"`  // m
	LandingVelTolerance  float64  `yaml:"landingVelTolerance"`  // m/s
}

// Default returns settings for a small rocket flown on a two cell battery
func Default() Settings {
	return Settings{
		FlightMode:        flight.ModeIdle,
		ControlFrequency:  200,
		NominalVoltage:    7.4,
		SoftStart:         Duration(500 * time.Millisecond),
		TargetAltitude:    300,
		AltitudeErrorBand: 50,
		InputStaleAfter:   Duration(input.DefaultStaleAfter),
		ShutdownTimeout:   Duration(2 * time.Second),
		Events: Events{
			LaunchAccel:          20,
			LaunchDh:             2,
			IgnitionDelay:        Duration(100 * time.Millisecond),
			CutoffDelay:          Duration(100 * time.Millisecond),
			ApogeeDelay:          Duration(500 * time.Millisecond),
			LandingDelayEarly:    Duration(2 * time.Second),
			LandingDelayLate:     Duration(10 * time.Second),
			StartLandingAltitude: 10,
			LandingAltTolerance:  1,
			LandingVelTolerance:  0.5,
		},
		Roll:     Gains{P: 0.1, D: 0.01, Limit: 0.5, AntiWindup: 1},
		Pitch:    Gains{P: 0.1, D: 0.01, Limit: 0.5, AntiWindup: 1},
		Yaw:      Gains{P: 0.1, D: 0.01, Limit: 0.5, AntiWindup: 1},
		Altitude: Gains{P: 0.005, I: 0.001, Limit: 1, AntiWindup: 1},
	}
}

// Validate checks every parameter against its allowed range and returns all
// violations at once
func (s Settings) Validate() error {
	var errs []error

	check := func(name string, v, lo, hi float64) {
		if v < lo || v > hi {
			errs = append(errs, fmt.Errorf("%s: %v outside [%v, %v]", name, v, lo, hi))
		}
	}
	checkDelay := func(name string, d Duration) {
		check(name, d.Std().Seconds(), 0, 50)
	}

	if !s.FlightMode.Valid() {
		errs = append(errs, fmt.Errorf("flightMode: unknown mode %d", int(s.FlightMode)))
	}
	if s.ControlFrequency <= 0 {
		errs = append(errs, fmt.Errorf("controlFrequency: %v must be positive", s.ControlFrequency))
	}
	check("nominalVoltage", s.NominalVoltage, 6, 9)
	check("targetAltitude", s.TargetAltitude, 0, 100000)
	if s.AltitudeErrorBand <= 0 {
		errs = append(errs, fmt.Errorf("altitudeErrorBand: %v must be positive", s.AltitudeErrorBand))
	}
	if s.SoftStart < 0 {
		errs = append(errs, fmt.Errorf("softStart: %s must not be negative", s.SoftStart.Std()))
	}
	if s.InputStaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("inputStaleAfter: %s must be positive", s.InputStaleAfter.Std()))
	}

	e := s.Events
	check("events.launchAccel", e.LaunchAccel, 0, 1000)
	check("events.launchDh", e.LaunchDh, 0, 1000)
	checkDelay("events.ignitionDelay", e.IgnitionDelay)
	checkDelay("events.cutoffDelay", e.CutoffDelay)
	checkDelay("events.apogeeDelay", e.ApogeeDelay)
	checkDelay("events.landingDelayEarly", e.LandingDelayEarly)
	checkDelay("events.landingDelayLate", e.LandingDelayLate)
	check("events.startLandingAltitude", e.StartLandingAltitude, -10000, 100000)
	check("events.landingAltTolerance", e.LandingAltTolerance, 0, 100)
	check("events.landingVelTolerance", e.LandingVelTolerance, 0, 100)

	for name, g := range map[string]Gains{"roll": s.Roll, "pitch": s.Pitch, "yaw": s.Yaw, "altitude": s.Altitude} {
		if g.Limit <= 0 {
			errs = append(errs, fmt.Errorf("%s.limit: %v must be positive", name, g.Limit))
		}
		if g.AntiWindup < 0 {
			errs = append(errs, fmt.Errorf("%s.antiWindup: %v must not be negative", name, g.AntiWindup))
		}
	}

	if len(errs) > 0 {
		return fault.Config("validate settings", errors.Join(errs...))
	}
	return nil
}

// Period returns the control period
func (s Settings) Period() time.Duration {
	return time.Duration(float64(time.Second) / s.ControlFrequency)
}

// Flight returns the flight phase machine configuration
func (s Settings) Flight() flight.Config {
	return flight.Config{
		LaunchAccel:          s.Events.LaunchAccel,
		LaunchDh:             s.Events.LaunchDh,
		IgnitionDelay:        s.Events.IgnitionDelay.Std(),
		CutoffDelay:          s.Events.CutoffDelay.Std(),
		ApogeeDelay:          s.Events.ApogeeDelay.Std(),
		LandingAltTolerance:  s.Events.LandingAltTolerance,
		LandingVelTolerance:  s.Events.LandingVelTolerance,
		LandingDelayEarly:    s.Events.LandingDelayEarly.Std(),
		LandingDelayLate:     s.Events.LandingDelayLate.Std(),
		StartLandingAltitude: s.Events.StartLandingAltitude,
	}
}

// Feedback returns the feedback controller configuration
func (s Settings) Feedback() feedback.Config {
	return feedback.Config{
		Period:         s.Period(),
		NominalVoltage: s.NominalVoltage,
		SoftStart:      s.SoftStart.Std(),
		Roll:           s.Roll.axis(),
		Pitch:          s.Pitch.axis(),
		Yaw:            s.Yaw.axis(),
		Altitude:       s.Altitude.axis(),
	}
}

// Setpoint returns the setpoint synthesizer configuration
func (s Settings) Setpoint() setpoint.Config {
	return setpoint.Config{
		TargetAltitude: s.TargetAltitude,
		ErrorBand:      s.AltitudeErrorBand,
	}
}

// Input returns the input arbitrator configuration
func (s Settings) Input() input.Config {
	return input.Config{
		StaleAfter: s.InputStaleAfter.Std(),
		Mode:       s.FlightMode,
	}
}
