package storage

import (
	"context"
	"iter"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/setpoint"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

// Session is one armed flight
type Session struct {
	ID        string
	StartTime time.Time
	Config    *string
}

// Entry is the record of one control tick
type Entry struct {
	Time     time.Time
	Loop     uint64
	Phase    flight.Phase
	Mode     flight.Mode
	Arm      flight.ArmState
	Setpoint setpoint.Setpoint
	Estimate telemetry.Estimate
	U        [4]float64 // Axis inputs: roll, pitch, yaw, altitude
}

// Event is a flight phase change
type Event struct {
	Time time.Time
	From flight.Phase
	To   flight.Phase
}

// Store provides the flight log storage operations. Writes of a batch of
// entries are atomic.
type Store interface {
	// CreateSession records the start of a flight.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - id: Unique session identifier
	//   - start: Time the vehicle was armed
	//   - config: Optional settings in effect. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, id string, start time.Time, config any) error

	// Session retrieves a specific session by its ID.
	//
	// Returns:
	//   - session: Pointer to session data
	//   - error: If retrieval fails, the session doesn't exist or context is cancelled
	Session(ctx context.Context, id string) (*Session, error)

	// Sessions returns all sessions ordered by start time in ascending order.
	Sessions(ctx context.Context) ([]*Session, error)

	// LatestSession returns the most recently started session.
	LatestSession(ctx context.Context) (*Session, error)

	// InsertEntries saves a batch of tick records in a single transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: ID of the session the entries belong to
	//   - entries: Records in tick order
	//
	// Returns:
	//   - error: If storage fails or context is cancelled. No entry of the batch is stored then.
	InsertEntries(ctx context.Context, sessionID string, entries []Entry) error

	// InsertEvent saves a flight phase change.
	InsertEvent(ctx context.Context, sessionID string, e Event) error

	// Entries iterates the records of a session in time order. Iteration stops
	// at the first error, which is yielded with a zero Entry.
	Entries(ctx context.Context, sessionID string) iter.Seq2[Entry, error]

	// Events returns the phase changes of a session in time order.
	Events(ctx context.Context, sessionID string) ([]Event, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}
