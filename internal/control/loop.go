package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rocket-control/internal/feedback"
	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/input"
	"github.com/roman-kulish/rocket-control/internal/runstate"
	"github.com/roman-kulish/rocket-control/internal/setpoint"
	"github.com/roman-kulish/rocket-control/internal/storage"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

var (
	// ErrShutdownTimeout is returned when the loop did not stop in time
	ErrShutdownTimeout = runstate.ErrJoinTimeout

	// ErrNoEstimate is reported while no state estimate is available
	ErrNoEstimate = errors.New("no state estimate available")
)

// Inputs resolves the operator input every tick
type Inputs interface {
	Update(now time.Time) input.Input
	ExternalEstimate(local telemetry.Estimate) (telemetry.Estimate, bool)
}

// Actuators is the arm-gated actuator rail
type Actuators interface {
	Arm()
	Disarm()
	Nominal() error
}

// FlightLog receives the tick records and phase changes. Both calls must not
// block.
type FlightLog interface {
	Record(e storage.Entry) bool
	RecordEvent(e storage.Event) bool
}

// Parts are the components the loop drives
type Parts struct {
	Inputs     Inputs
	Estimator  telemetry.Provider
	Machine    *flight.Machine
	Setpoints  *setpoint.Synthesizer
	Controller *feedback.Controller
	Actuators  Actuators
	FlightLog  FlightLog
}

// Status is the outcome of the last tick
type Status struct {
	Time        time.Time
	RunState    runstate.State
	Phase       flight.Phase
	Mode        flight.Mode
	Arm         flight.ArmState
	InputActive bool
	UseExternal bool
	Setpoint    setpoint.Setpoint
	Estimate    telemetry.Estimate
	Output      feedback.Output
}

// WithLogger sets the logger for the loop
func WithLogger(logger *slog.Logger) func(*Loop) {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithRunState sets the run state shared with the other tasks
func WithRunState(run *runstate.Flag) func(*Loop) {
	return func(l *Loop) {
		l.runState = run
	}
}

// WithBatteryVoltage sets the battery voltage assumed when no local estimate
// is available
func WithBatteryVoltage(v float64) func(*Loop) {
	return func(l *Loop) {
		l.battery = v
	}
}

// WithClock sets the time source read on every tick
func WithClock(now func() time.Time) func(*Loop) {
	return func(l *Loop) {
		l.now = now
	}
}

// Loop is the control task. Every tick it resolves the input, advances the
// flight phase, computes the setpoint and runs the feedback controller. It is
// the only writer of the flight state; other goroutines read Status.
type Loop struct {
	period time.Duration
	parts  Parts

	runState *runstate.Flag
	status   atomic.Pointer[Status]

	lastErr string
	repeats uint64
	failed  bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	battery float64
	now     func() time.Time
	logger  *slog.Logger
}

// NewLoop creates a loop ticking every period
func NewLoop(period time.Duration, parts Parts, options ...func(*Loop)) (*Loop, error) {
	if period <= 0 {
		return nil, fmt.Errorf("invalid control period: %s", period)
	}
	if parts.Inputs == nil || parts.Machine == nil || parts.Setpoints == nil || parts.Controller == nil || parts.Actuators == nil {
		return nil, errors.New("inputs, machine, setpoints, controller and actuators are required")
	}

	l := Loop{
		period: period,
		parts:  parts,
		done:   make(chan struct{}),
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&l)
	}
	if l.runState == nil {
		l.runState = runstate.New(runstate.WithLogger(l.logger))
	}

	return &l, nil
}

// RunState returns the run state. Safe for concurrent use.
func (l *Loop) RunState() runstate.State {
	return l.runState.Load()
}

// SetRunState changes the shared run state. Once Exiting it cannot change.
func (l *Loop) SetRunState(s runstate.State) {
	l.runState.Set(s)
}

// Status returns the outcome of the last tick, or nil before the first one
func (l *Loop) Status() *Status {
	return l.status.Load()
}

// Start runs the loop on its own goroutine until ctx is done or Shutdown is
// called
func (l *Loop) Start(ctx context.Context) {
	l.once.Do(func() {
		ctx, l.cancel = context.WithCancel(ctx)
		go l.run(ctx)
	})
}

// Shutdown sets the run state to Exiting and waits up to timeout for the loop
// to stop. A timeout is logged and returned, but the loop is left to finish on
// its own.
func (l *Loop) Shutdown(timeout time.Duration) error {
	l.runState.Set(runstate.Exiting)
	if l.cancel == nil {
		return nil // never started
	}
	l.cancel()

	return runstate.Join(l.done, timeout, l.logger, "control loop")
}

// Done is closed when the loop has stopped
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	l.logger.Info("control loop started", slog.Duration("period", l.period))

	for {
		select {
		case <-ctx.Done():
			l.stop()
			return

		case <-l.runState.Exiting():
			l.stop()
			return

		case <-ticker.C:
			if l.RunState() == runstate.Exiting {
				l.stop()
				return
			}
			l.Tick(l.now())
		}
	}
}

// stop leaves the vehicle disarmed with the actuators at their nominal position
func (l *Loop) stop() {
	l.parts.Controller.Disarm()
	l.parts.Actuators.Disarm()
	if err := l.parts.Actuators.Nominal(); err != nil {
		l.logger.Error(fmt.Sprintf("error commanding nominal position: %s", err.Error()))
	}
	l.logger.Info("control loop stopped")
}

// Tick runs one control cycle at now. It is exported for deterministic tests
// and must not be called while the loop goroutine runs.
func (l *Loop) Tick(now time.Time) Status {
	p := l.parts
	running := l.RunState() == runstate.Running
	wasArmed := p.Controller.ArmState() == flight.Armed
	l.failed = false

	in := p.Inputs.Update(now)

	e, haveEstimate := l.estimate(in)
	if !haveEstimate {
		l.report(ErrNoEstimate)
	}

	switch {
	case in.RequestedArm == flight.Armed && !wasArmed:
		if running && haveEstimate && p.Machine.ArmAllowed() {
			l.arm(now, e)
		}
	case in.RequestedArm != flight.Armed && wasArmed:
		l.disarm()
	}

	t, err := p.Machine.Step(flight.Input{
		Now:       now,
		Requested: in.RequestedArm,
		Arm:       p.Controller.ArmState(),
		Mode:      in.Mode,
		Estimate:  e,
		PhaseHint: in.PhaseHint,
		UseHint:   in.UseHint,
	})
	if err != nil {
		l.report(err)
	}

	if t.Effects.Has(flight.EffectForceDisarm) {
		l.disarm()
	}
	if t.Effects.Has(flight.EffectCommandNominal) {
		if err = p.Actuators.Nominal(); err != nil {
			l.report(err)
		}
	}
	if t.Changed() && p.FlightLog != nil {
		p.FlightLog.RecordEvent(storage.Event{Time: now, From: t.From, To: t.To})
	}

	sp := p.Setpoints.Update(t.Mode, p.Machine.Phase(), e, now)

	var out feedback.Output
	if !t.Effects.Has(flight.EffectCommandNominal) || !running {
		if out, err = p.Controller.March(sp, e, running, now); err != nil {
			l.report(err)
			if p.Controller.ArmState() != flight.Armed {
				p.Actuators.Disarm()
			}
		}
	}

	arm := p.Controller.ArmState()
	if p.FlightLog != nil && (wasArmed || arm == flight.Armed) {
		p.FlightLog.Record(storage.Entry{
			Time:     now,
			Loop:     out.Loop,
			Phase:    p.Machine.Phase(),
			Mode:     t.Mode,
			Arm:      arm,
			Setpoint: sp,
			Estimate: e,
			U:        out.U,
		})
	}

	s := Status{
		Time:        now,
		RunState:    l.RunState(),
		Phase:       p.Machine.Phase(),
		Mode:        t.Mode,
		Arm:         arm,
		InputActive: in.InputActive,
		UseExternal: in.UseExternal,
		Setpoint:    sp,
		Estimate:    e,
		Output:      out,
	}
	l.status.Store(&s)

	if !l.failed {
		l.clearReport()
	}
	return s
}

// estimate selects the external estimate when the operator asked for it and
// the local one otherwise. An estimate without a battery voltage is not usable.
func (l *Loop) estimate(in input.Input) (telemetry.Estimate, bool) {
	local := telemetry.Estimate{BatteryVoltage: l.battery}
	haveLocal := false
	if l.parts.Estimator != nil {
		if e := l.parts.Estimator.Get(); e != nil {
			local, haveLocal = *e, true
		}
	}

	if in.UseExternal {
		if e, ok := l.parts.Inputs.ExternalEstimate(local); ok {
			return e, e.BatteryVoltage > 0
		}
	}
	return local, haveLocal && local.BatteryVoltage > 0
}

func (l *Loop) arm(now time.Time, e telemetry.Estimate) {
	if err := l.parts.Controller.Arm(now, e); err != nil {
		l.report(err)
		return
	}
	l.parts.Actuators.Arm()
}

func (l *Loop) disarm() {
	l.parts.Controller.Disarm()
	l.parts.Actuators.Disarm()
}

// report logs err unless it repeats the previous error
func (l *Loop) report(err error) {
	l.failed = true

	msg := err.Error()
	if msg == l.lastErr {
		l.repeats++
		return
	}

	if l.repeats > 0 {
		l.logger.Warn("previous error repeated", slog.Uint64("count", l.repeats))
	}
	l.lastErr = msg
	l.repeats = 0
	l.logger.Error(msg)
}

func (l *Loop) clearReport() {
	if l.lastErr == "" {
		return
	}
	if l.repeats > 0 {
		l.logger.Warn("previous error repeated", slog.Uint64("count", l.repeats))
	}
	l.lastErr = ""
	l.repeats = 0
}
