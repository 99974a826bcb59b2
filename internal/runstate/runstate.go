package runstate

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the process-wide run state observed by every task
type State int32

const (
	Running State = iota
	Paused
	Exiting
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case Exiting:
		return "EXITING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrJoinTimeout is returned when a task did not stop within its bound
var ErrJoinTimeout = errors.New("task did not stop in time")

// WithLogger sets the logger for the flag
func WithLogger(logger *slog.Logger) func(*Flag) {
	return func(f *Flag) {
		f.logger = logger
	}
}

// Flag holds the run state shared by the control loop, the link receivers and
// the flight log writer. Exiting is final.
type Flag struct {
	state   atomic.Int32
	exiting chan struct{}
	once    sync.Once

	logger *slog.Logger
}

// New creates a flag in the Running state
func New(options ...func(*Flag)) *Flag {
	f := Flag{
		exiting: make(chan struct{}),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&f)
	}

	return &f
}

// Load returns the current state
func (f *Flag) Load() State {
	return State(f.state.Load())
}

// Set changes the state and reports whether it changed. Once Exiting it cannot
// change.
func (f *Flag) Set(s State) bool {
	for {
		cur := f.state.Load()
		if State(cur) == Exiting || cur == int32(s) {
			return false
		}
		if f.state.CompareAndSwap(cur, int32(s)) {
			f.logger.Info(fmt.Sprintf("run state %s -> %s", State(cur), s))
			if s == Exiting {
				f.once.Do(func() { close(f.exiting) })
			}
			return true
		}
	}
}

// Toggle switches between Running and Paused and returns the new state
func (f *Flag) Toggle() State {
	for {
		switch cur := f.Load(); cur {
		case Running:
			if f.Set(Paused) {
				return Paused
			}
		case Paused:
			if f.Set(Running) {
				return Running
			}
		default:
			return cur
		}
	}
}

// Exiting is closed once the state is Exiting
func (f *Flag) Exiting() <-chan struct{} {
	return f.exiting
}

// Join waits up to timeout for done to be closed. A timeout is logged as a
// warning and returned; the task is left to finish on its own.
func Join(done <-chan struct{}, timeout time.Duration, logger *slog.Logger, task string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		logger.Warn(fmt.Sprintf("%s shutdown timed out", task), slog.Duration("timeout", timeout))
		return fmt.Errorf("%s: %w", task, ErrJoinTimeout)
	}
}

// WaitGroupDone returns a channel closed once wg is done
func WaitGroupDone(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
