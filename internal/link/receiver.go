package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rocket-control/internal/codec"
	"github.com/roman-kulish/rocket-control/internal/fault"
	"github.com/roman-kulish/rocket-control/internal/runstate"
)

const (
	// ReadErrorsThreshold defines the number of consecutive read errors allowed
	ReadErrorsThreshold = 5

	// MinFrameRate is the valid frame rate below which a link is reported slow
	MinFrameRate = 20.0

	// RateWindow is how often the frame rate is measured
	RateWindow = time.Second

	readBufferSize = 128
)

var (
	// ErrAlreadyStarted is returned by Start on a running receiver
	ErrAlreadyStarted = errors.New("receiver is already running")

	// ErrTooManyReadErrors is returned when the number of consecutive read errors exceeds the threshold
	ErrTooManyReadErrors = errors.New("too many consecutive read errors")
)

// Opener opens the byte transport of a link
type Opener interface {
	Open() (io.ReadCloser, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func() (io.ReadCloser, error)

func (f OpenerFunc) Open() (io.ReadCloser, error) {
	return f()
}

// DecodeFunc decodes a validated frame payload
type DecodeFunc[T any] func(payload []byte) (T, error)

// Snapshot is the last value decoded on a link
type Snapshot[T any] struct {
	Value    T
	Received time.Time
}

// Age returns how long ago the snapshot was received
func (s Snapshot[T]) Age(now time.Time) time.Duration {
	return now.Sub(s.Received)
}

// Stats is a point-in-time copy of the receiver counters
type Stats struct {
	Bytes          uint64
	Frames         uint64
	DecodeErrors   uint64
	ChecksumErrors uint64
	Overflows      uint64
	Held           uint64  // Frames decoded while paused and not published
	SlowWindows    uint64  // Rate windows below the minimum frame rate
	Rate           float64 // Valid frames per second over the last window
}

// WithLogger sets the logger for the receiver
func WithLogger[T any](logger *slog.Logger) func(*Receiver[T]) {
	return func(r *Receiver[T]) {
		r.logger = logger.With(slog.String("link", r.name))
	}
}

// WithReadErrorsThreshold sets the threshold for consecutive read errors
func WithReadErrorsThreshold[T any](threshold uint8) func(*Receiver[T]) {
	return func(r *Receiver[T]) {
		r.readErrorsThreshold = threshold
	}
}

// WithListener sets a function called with every decoded value on the
// receiver goroutine. It must not block.
func WithListener[T any](fn func(Snapshot[T])) func(*Receiver[T]) {
	return func(r *Receiver[T]) {
		r.listener = fn
	}
}

// WithRunState sets the shared run state. While paused, decoded values are
// not published; once exiting, the receiver stops.
func WithRunState[T any](run *runstate.Flag) func(*Receiver[T]) {
	return func(r *Receiver[T]) {
		r.run = run
	}
}

// WithMinRate sets the valid frame rate below which a warning is logged, and
// the window it is measured over. A zero rate disables the check.
func WithMinRate[T any](hz float64, window time.Duration) func(*Receiver[T]) {
	return func(r *Receiver[T]) {
		r.minRate = hz
		r.rateWindow = window
	}
}

// WithClock sets the time source used to stamp snapshots
func WithClock[T any](now func() time.Time) func(*Receiver[T]) {
	return func(r *Receiver[T]) {
		r.now = now
	}
}

// Receiver reads frames from one external link on its own goroutine and keeps
// the last decoded value. Nothing is queued: a newer value replaces the older
// one and readers only ever see a complete value.
type Receiver[T any] struct {
	name    string
	opener  Opener
	decoder *codec.Decoder
	decode  DecodeFunc[T]

	snapshot     atomic.Pointer[Snapshot[T]]
	bytes        atomic.Uint64
	decodeErrors atomic.Uint64
	held         atomic.Uint64
	slowWindows  atomic.Uint64
	rate         atomic.Uint64 // math.Float64bits of the last measured rate

	isRunning atomic.Bool
	mu        sync.Mutex
	port      io.ReadCloser
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	readErrorsThreshold uint8
	minRate             float64
	rateWindow          time.Duration
	listener            func(Snapshot[T])
	run                 *runstate.Flag
	now                 func() time.Time
	logger              *slog.Logger
}

// NewReceiver creates a receiver for payloads of payloadSize bytes
func NewReceiver[T any](name string, opener Opener, payloadSize int, decode DecodeFunc[T], options ...func(*Receiver[T])) (*Receiver[T], error) {
	if opener == nil || decode == nil {
		return nil, fault.Config("new receiver", fmt.Errorf("link %s: opener and decoder are required", name))
	}

	decoder, err := codec.NewDecoder(payloadSize)
	if err != nil {
		return nil, fault.Config("new receiver", fmt.Errorf("link %s: %w", name, err))
	}

	r := Receiver[T]{
		name:                name,
		opener:              opener,
		decoder:             decoder,
		decode:              decode,
		readErrorsThreshold: ReadErrorsThreshold,
		minRate:             MinFrameRate,
		rateWindow:          RateWindow,
		now:                 time.Now,
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&r)
	}

	return &r, nil
}

// Name returns the link name
func (r *Receiver[T]) Name() string {
	return r.name
}

// Start opens the transport and starts receiving. An open failure is returned
// and leaves the receiver stopped. The returned channel is closed when the
// receiver stops and carries the error that stopped it, if any.
func (r *Receiver[T]) Start(ctx context.Context) (<-chan error, error) {
	if !r.isRunning.CompareAndSwap(false, true) {
		return nil, fault.Logic("start receiver", ErrAlreadyStarted)
	}

	port, err := r.opener.Open()
	if err != nil {
		r.isRunning.Store(false) // Reset running state on error
		return nil, fault.Transport("open link", fmt.Errorf("%s: %w", r.name, err))
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.port = port
	r.mu.Unlock()

	stopped := make(chan error, 1)

	if r.run != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			select {
			case <-r.run.Exiting():
				cancel()
				_ = port.Close() // unblocks a pending Read
			case <-ctx.Done():
			}
		}()
	}

	if r.minRate > 0 && r.rateWindow > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.monitorRate(ctx)
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(stopped)

		r.logger.Info("link receiver started")

		err := r.receive(ctx, port)
		if err != nil {
			r.logger.Error(err.Error())
		}

		r.logger.Info("link receiver stopped")

		cancel()
		_ = port.Close()
		r.isRunning.Store(false)

		if err != nil {
			stopped <- err
		}
	}()

	return stopped, nil
}

// Stop cancels the receiver and waits up to timeout for its goroutines to
// exit. A timeout is logged and returned.
func (r *Receiver[T]) Stop(timeout time.Duration) error {
	r.mu.Lock()
	cancel, port := r.cancel, r.port
	r.mu.Unlock()

	if cancel == nil {
		return nil // never started
	}

	cancel()
	_ = port.Close() // unblocks a pending Read

	return runstate.Join(runstate.WaitGroupDone(&r.wg), timeout, r.logger, "link receiver")
}

// IsRunning returns true while the receiver goroutine is active
func (r *Receiver[T]) IsRunning() bool {
	return r.isRunning.Load()
}

// Snapshot returns the last decoded value, or false if nothing was decoded yet
func (r *Receiver[T]) Snapshot() (Snapshot[T], bool) {
	s := r.snapshot.Load()
	if s == nil {
		return Snapshot[T]{}, false
	}
	return *s, true
}

// Stats returns the receiver counters
func (r *Receiver[T]) Stats() Stats {
	ds := r.decoder.Stats()
	return Stats{
		Bytes:          r.bytes.Load(),
		Frames:         ds.Frames,
		DecodeErrors:   r.decodeErrors.Load(),
		ChecksumErrors: ds.ChecksumErrors,
		Overflows:      ds.Overflows,
		Held:           r.held.Load(),
		SlowWindows:    r.slowWindows.Load(),
		Rate:           math.Float64frombits(r.rate.Load()),
	}
}

// monitorRate measures the valid frame rate every window and warns when it
// falls below the minimum
func (r *Receiver[T]) monitorRate(ctx context.Context) {
	ticker := time.NewTicker(r.rateWindow)
	defer ticker.Stop()

	last := r.decoder.Stats().Frames
	slow := false

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			frames := r.decoder.Stats().Frames
			rate := float64(frames-last) / r.rateWindow.Seconds()
			last = frames
			r.rate.Store(math.Float64bits(rate))

			switch {
			case rate < r.minRate:
				r.slowWindows.Add(1)
				if !slow {
					r.logger.Warn("low link update frequency", slog.Float64("hz", rate), slog.Float64("min", r.minRate))
				}
				slow = true
			case slow:
				r.logger.Info("link update frequency recovered", slog.Float64("hz", rate))
				slow = false
			}
		}
	}
}

func (r *Receiver[T]) receive(ctx context.Context, port io.Reader) error {
	var readErrors uint8

	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := port.Read(buf)
		if n > 0 {
			r.bytes.Add(uint64(n))
			r.consume(buf[:n])
		}

		switch {
		case err == nil:
			readErrors = 0 // reset counter
		case ctx.Err() != nil, errors.Is(err, fs.ErrClosed), errors.Is(err, io.ErrClosedPipe):
			return nil
		case errors.Is(err, io.EOF):
			r.logger.Warn("link transport reached end of stream")
			return nil
		default:
			readErrors++
			r.logger.Warn(fmt.Sprintf("error reading link: %s", err.Error()))

			if readErrors >= r.readErrorsThreshold {
				return fault.Transport("read link", fmt.Errorf("%s: %w: %w", r.name, ErrTooManyReadErrors, err))
			}
		}
	}

	return nil
}

func (r *Receiver[T]) consume(p []byte) {
	if _, err := r.decoder.Write(p); errors.Is(err, codec.ErrOverflow) {
		r.logger.Warn("link buffer overflow, bytes dropped")
	}

	for frame := range r.decoder.Frames() {
		v, err := r.decode(frame)
		if err != nil {
			r.decodeErrors.Add(1)
			r.logger.Debug(fmt.Sprintf("error decoding frame: %s", err.Error()))
			continue
		}

		if r.run != nil && r.run.Load() == runstate.Paused {
			r.held.Add(1)
			continue
		}

		s := Snapshot[T]{Value: v, Received: r.now()}
		r.snapshot.Store(&s)

		if r.listener != nil {
			r.listener(s)
		}
	}
}
