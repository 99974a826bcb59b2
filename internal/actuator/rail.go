package actuator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roman-kulish/rocket-control/internal/flight"
)

// ErrDisarmed is returned when a command is sent to a disarmed rail
var ErrDisarmed = errors.New("actuators are disarmed")

// Driver applies a normalized command in [0, 1] to a physical channel
type Driver interface {
	Write(channel int, value float64) error
}

// WithLogger sets the logger for the rail
func WithLogger(logger *slog.Logger) func(*Rail) {
	return func(r *Rail) {
		r.logger = logger
	}
}

// Rail is the set of actuation channels. It keeps its own arm state: commands
// only reach the driver while the rail is armed, except the nominal position
// which is always allowed.
type Rail struct {
	driver  Driver
	nominal []float64

	mu    sync.Mutex
	state flight.ArmState
	last  []float64

	logger *slog.Logger
}

// NewRail creates a disarmed rail whose channels rest at nominal
func NewRail(driver Driver, nominal []float64, options ...func(*Rail)) (*Rail, error) {
	if driver == nil {
		return nil, fmt.Errorf("actuator driver is required")
	}
	for i, v := range nominal {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("channel %d: nominal %v outside [0, 1]", i, v)
		}
	}

	r := Rail{
		driver:  driver,
		nominal: append([]float64(nil), nominal...),
		state:   flight.Disarmed,
		last:    make([]float64, len(nominal)),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&r)
	}

	return &r, nil
}

// Channels returns the number of channels
func (r *Rail) Channels() int {
	return len(r.nominal)
}

// Arm enables commands to reach the driver
func (r *Rail) Arm() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == flight.Armed {
		return
	}
	r.state = flight.Armed
	r.logger.Info("actuators armed")
}

// Disarm blocks commands from reaching the driver
func (r *Rail) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == flight.Disarmed {
		return
	}
	r.state = flight.Disarmed
	r.logger.Info("actuators disarmed")
}

// ArmState returns the rail arm state
func (r *Rail) ArmState() flight.ArmState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Apply sends a command to one channel. It fails with ErrDisarmed while the rail
// is disarmed.
func (r *Rail) Apply(channel int, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != flight.Armed {
		return ErrDisarmed
	}
	return r.write(channel, value)
}

// Nominal drives every channel to its nominal position, armed or not
func (r *Rail) Nominal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for ch, v := range r.nominal {
		if err := r.write(ch, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Last returns the last command written to every channel
func (r *Rail) Last() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.last...)
}

func (r *Rail) write(channel int, value float64) error {
	if channel < 0 || channel >= len(r.nominal) {
		return fmt.Errorf("invalid channel %d", channel)
	}
	value = min(max(value, 0), 1)
	if err := r.driver.Write(channel, value); err != nil {
		return fmt.Errorf("writing channel %d: %w", channel, err)
	}
	r.last[channel] = value
	return nil
}

// LogDriver is a Driver that only logs commands. It stands in for hardware on
// the bench.
type LogDriver struct {
	Logger *slog.Logger
}

func (d LogDriver) Write(channel int, value float64) error {
	if d.Logger != nil {
		d.Logger.Debug("actuator command", slog.Int("channel", channel), slog.Float64("value", value))
	}
	return nil
}

// LogIndicator reports arm state changes through the logger
type LogIndicator struct {
	Logger *slog.Logger
}

func (i LogIndicator) Set(armed bool) {
	if i.Logger == nil {
		return
	}
	if armed {
		i.Logger.Warn("ARMED")
		return
	}
	i.Logger.Info("DISARMED")
}
