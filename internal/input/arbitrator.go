package input

import (
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/link"
	"github.com/roman-kulish/rocket-control/internal/packet"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

// DefaultStaleAfter is the age after which the override link is inactive
const DefaultStaleAfter = 500 * time.Millisecond

// OverrideSource supplies the last override packet received
type OverrideSource interface {
	Snapshot() (link.Snapshot[packet.Override], bool)
}

// Config configures the arbitrator
type Config struct {
	StaleAfter time.Duration // Snapshots older than this leave the input inactive
	Mode       flight.Mode   // Operator flight mode
}

// Input is the resolved command and context for one control tick
type Input struct {
	Time         time.Time
	RequestedArm flight.ArmState
	Mode         flight.Mode
	UseExternal  bool
	InputActive  bool         // An override packet arrived within StaleAfter
	PhaseHint    flight.Phase // Highest phase advertised since the last disarm request
	UseHint      bool
}

// WithLogger sets the logger for the arbitrator
func WithLogger(logger *slog.Logger) func(*Arbitrator) {
	return func(a *Arbitrator) {
		a.logger = logger
	}
}

// Arbitrator merges the override link with the configured defaults. Update must
// be called from a single goroutine; Current is safe from any goroutine.
type Arbitrator struct {
	config Config
	source OverrideSource

	hint     flight.Phase
	lastSeen time.Time

	invalidHints atomic.Uint64
	current      atomic.Pointer[Input]

	logger *slog.Logger
}

// NewArbitrator creates an arbitrator. A nil source behaves as a link that has
// never received a packet.
func NewArbitrator(config Config, source OverrideSource, options ...func(*Arbitrator)) *Arbitrator {
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}

	a := Arbitrator{
		config: config,
		source: source,
		hint:   flight.PhaseWait,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&a)
	}

	return &a
}

// Update resolves the input for the tick at now and publishes it.
//
// The requested arm state and the use-external flag are adopted from the last
// packet however old it is. InputActive tells the caller whether it is fresh.
func (a *Arbitrator) Update(now time.Time) Input {
	in := Input{
		Time:         now,
		RequestedArm: flight.Disarmed,
		Mode:         a.config.Mode,
	}

	snap, ok := a.snapshot()
	if !ok {
		a.current.Store(&in)
		return in
	}

	o := snap.Value
	in.RequestedArm = o.Arm
	in.UseExternal = o.UseExternal
	in.InputActive = snap.Age(now) < a.config.StaleAfter

	fresh := !snap.Received.Equal(a.lastSeen)
	a.lastSeen = snap.Received

	if o.Arm == flight.Disarmed {
		a.hint = flight.PhaseWait
	} else if o.UseExternal && fresh {
		a.ratchet(o.Status)
	}

	if o.UseExternal {
		in.PhaseHint = a.hint
		in.UseHint = true
	}

	a.current.Store(&in)
	return in
}

// ExternalEstimate returns the estimate carried by the last packet when the
// operator asked for it. The battery voltage comes from local.
func (a *Arbitrator) ExternalEstimate(local telemetry.Estimate) (telemetry.Estimate, bool) {
	snap, ok := a.snapshot()
	if !ok || !snap.Value.UseExternal {
		return telemetry.Estimate{}, false
	}
	return snap.Value.Estimate(snap.Received, local)
}

// Current returns the last published input, or nil before the first Update
func (a *Arbitrator) Current() *Input {
	return a.current.Load()
}

// InvalidHints returns the number of packets carrying an unknown phase hint
func (a *Arbitrator) InvalidHints() uint64 {
	return a.invalidHints.Load()
}

func (a *Arbitrator) ratchet(hint flight.Phase) {
	if !hint.Valid() {
		a.invalidHints.Add(1)
		a.logger.Warn("ignoring invalid phase hint", slog.Int("hint", int(hint)))
		return
	}
	if a.hint.Ahead(hint) {
		a.hint = hint
	}
}

func (a *Arbitrator) snapshot() (link.Snapshot[packet.Override], bool) {
	if a.source == nil {
		return link.Snapshot[packet.Override]{}, false
	}
	return a.source.Snapshot()
}
