package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/rocket-control/internal/runstate"
)

const (
	// DefaultQueueSize is the number of records buffered between the control
	// loop and the database writer
	DefaultQueueSize = 1024

	// DefaultFlushInterval is how often buffered entries are written
	DefaultFlushInterval = 250 * time.Millisecond

	// DefaultTxSize is the largest number of entries written in one transaction
	DefaultTxSize = 256
)

var (
	// ErrRecorderClosed is returned when the recorder is not running
	ErrRecorderClosed = errors.New("recorder is not running")

	// ErrQueueFull is returned when a session cannot be queued
	ErrQueueFull = errors.New("recorder queue is full")
)

type message struct {
	session *Session
	entry   *Entry
	event   *Event
}

// WithLogger sets the logger for the recorder
func WithLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithConfig sets the settings stored with every session
func WithConfig(config any) func(*Recorder) {
	return func(r *Recorder) {
		r.config = config
	}
}

// WithQueueSize sets the capacity of the record queue
func WithQueueSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		r.queueSize = size
	}
}

// WithFlushInterval sets how often buffered entries are written
func WithFlushInterval(interval time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		r.flushInterval = interval
	}
}

// WithTxSize sets the maximum number of entries stored within a single
// database transaction
func WithTxSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		r.txSize = size
	}
}

// WithRunState sets the shared run state. Buffered entries are flushed as soon
// as it turns Exiting.
func WithRunState(run *runstate.Flag) func(*Recorder) {
	return func(r *Recorder) {
		r.run = run
	}
}

// Recorder writes the flight log on its own goroutine. Record never blocks:
// when the queue is full the record is dropped and counted.
type Recorder struct {
	store  Store
	config any

	queue   chan message
	session atomic.Pointer[string]
	dropped atomic.Uint64
	running atomic.Bool

	queueSize     int
	flushInterval time.Duration
	txSize        int

	cancel context.CancelFunc
	wg     sync.WaitGroup

	run    *runstate.Flag
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store Store, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:         store,
		queueSize:     DefaultQueueSize,
		flushInterval: DefaultFlushInterval,
		txSize:        DefaultTxSize,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&r)
	}

	r.queue = make(chan message, max(r.queueSize, 1))
	return &r
}

// Open starts the database writer
func (r *Recorder) Open(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("recorder is already running")
	}

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.write(ctx)

	return nil
}

// Close stops the writer after it stored everything queued so far. It waits
// up to timeout; a timeout is logged and returned.
func (r *Recorder) Close(timeout time.Duration) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}

	r.cancel()
	return runstate.Join(runstate.WaitGroupDone(&r.wg), timeout, r.logger, "flight log writer")
}

// Start begins a new session. Entries recorded afterwards belong to it.
func (r *Recorder) Start() error {
	if !r.running.Load() {
		return ErrRecorderClosed
	}

	id := uuid.NewString()
	m := message{session: &Session{ID: id, StartTime: time.Now()}}

	select {
	case r.queue <- m:
	default:
		r.dropped.Add(1)
		return ErrQueueFull
	}

	r.session.Store(&id)
	r.logger.Info("flight log session started", slog.String("session", id))
	return nil
}

// Session returns the current session ID or an empty string before Start
func (r *Recorder) Session() string {
	if id := r.session.Load(); id != nil {
		return *id
	}
	return ""
}

// Record queues a tick record. It reports false if the record was not queued.
func (r *Recorder) Record(e Entry) bool {
	return r.enqueue(message{entry: &e})
}

// RecordEvent queues a flight phase change
func (r *Recorder) RecordEvent(e Event) bool {
	return r.enqueue(message{event: &e})
}

// Dropped returns the number of records lost to a full queue
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(m message) bool {
	if !r.running.Load() || r.session.Load() == nil {
		return false
	}

	select {
	case r.queue <- m:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) write(ctx context.Context) {
	defer r.wg.Done()

	// queued records are stored even after cancellation
	dbCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	var sessionID string
	var pending []Entry

	var exiting <-chan struct{}
	if r.run != nil {
		exiting = r.run.Exiting()
	}

	flush := func() {
		if sessionID != "" {
			for chunk := range slices.Chunk(pending, max(r.txSize, 1)) {
				if err := r.store.InsertEntries(dbCtx, sessionID, chunk); err != nil {
					r.logger.Error(fmt.Sprintf("error storing flight log entries: %s", err.Error()), slog.Int("count", len(chunk)))
				}
			}
		}
		pending = pending[:0]
	}

	handle := func(m message) {
		switch {
		case m.session != nil:
			flush()

			sessionID = m.session.ID
			if err := r.store.CreateSession(dbCtx, sessionID, m.session.StartTime, r.config); err != nil {
				r.logger.Error(fmt.Sprintf("error creating flight log session: %s", err.Error()), slog.String("session", sessionID))
			}

		case m.entry != nil:
			pending = append(pending, *m.entry)
			if len(pending) >= r.txSize {
				flush()
			}

		case m.event != nil:
			if err := r.store.InsertEvent(dbCtx, sessionID, *m.event); err != nil {
				r.logger.Error(fmt.Sprintf("error storing flight event: %s", err.Error()))
			}
		}
	}

	for {
		select {
		case m := <-r.queue:
			handle(m)

		case <-ticker.C:
			flush()

		case <-exiting:
			flush()
			exiting = nil

		case <-ctx.Done():
			for {
				select {
				case m := <-r.queue:
					handle(m)
				default:
					flush()
					return
				}
			}
		}
	}
}
