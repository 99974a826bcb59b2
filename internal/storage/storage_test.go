package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/runstate"
	"github.com/roman-kulish/rocket-control/internal/setpoint"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

func newStore(t *testing.T) *SqliteStore {
	t.Helper()

	s := NewSqliteStore(filepath.Join(t.TempDir(), "flight.db"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeEntries(start time.Time, n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		now := start.Add(time.Duration(i) * 5 * time.Millisecond)
		entries[i] = Entry{
			Time:     now,
			Loop:     uint64(i),
			Phase:    flight.PhaseUnpoweredAscent,
			Mode:     flight.ModeApogeeControl,
			Arm:      flight.Armed,
			Setpoint: setpoint.Setpoint{EnableAltitude: true, Altitude: 300},
			Estimate: telemetry.Estimate{Altitude: float64(i), ProjectedApogee: 310, BatteryVoltage: 7.6},
			U:        [4]float64{0, 0.1, -0.1, float64(i) / 100},
		}
	}
	return entries
}

func TestSqliteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := s.CreateSession(ctx, "first", start, map[string]int{"controlFrequency": 200}); err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	// more than one statement worth of rows
	entries := makeEntries(start, MaxBatchSize*2+3)
	if err := s.InsertEntries(ctx, "first", entries); err != nil {
		t.Fatalf("InsertEntries() error: %v", err)
	}
	if err := s.InsertEvent(ctx, "first", Event{Time: start, From: flight.PhaseWait, To: flight.PhaseStandby}); err != nil {
		t.Fatalf("InsertEvent() error: %v", err)
	}

	sess, err := s.Session(ctx, "first")
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if !sess.StartTime.Equal(start) || sess.Config == nil || *sess.Config != `{"controlFrequency":200}` {
		t.Errorf("Unexpected session %+v", sess)
	}

	var got []Entry
	for e, err := range s.Entries(ctx, "first") {
		if err != nil {
			t.Fatalf("Entries() error: %v", err)
		}
		got = append(got, e)
	}

	if len(got) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(got))
	}
	for i := range entries {
		want := entries[i]
		if !got[i].Time.Equal(want.Time) || got[i].Loop != want.Loop || got[i].U != want.U ||
			got[i].Phase != want.Phase || got[i].Estimate.Altitude != want.Estimate.Altitude ||
			!got[i].Setpoint.EnableAltitude || got[i].Setpoint.Altitude != 300 {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], want)
		}
	}

	events, err := s.Events(ctx, "first")
	if err != nil {
		t.Fatalf("Events() error: %v", err)
	}
	if len(events) != 1 || events[0].To != flight.PhaseStandby {
		t.Errorf("Unexpected events %+v", events)
	}
}

func TestSqliteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	t0 := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "a", "c"} {
		if err := s.CreateSession(ctx, id, t0.Add(time.Duration(i)*time.Minute), nil); err != nil {
			t.Fatalf("CreateSession() error: %v", err)
		}
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error: %v", err)
	}
	if len(sessions) != 3 || sessions[0].ID != "b" || sessions[2].ID != "c" || sessions[0].Config != nil {
		t.Errorf("Unexpected sessions order")
	}

	latest, err := s.LatestSession(ctx)
	if err != nil || latest.ID != "c" {
		t.Errorf("Expected latest session c, got %+v (%v)", latest, err)
	}

	if _, err = s.Session(ctx, "missing"); err == nil {
		t.Errorf("Expected error for missing session")
	}
}

func TestSqliteStore_EntriesStopEarly(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	_ = s.CreateSession(ctx, "x", start, nil)
	_ = s.InsertEntries(ctx, "x", makeEntries(start, 10))

	n := 0
	for range s.Entries(ctx, "x") {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("Expected iteration to stop at 3, got %d", n)
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r := NewRecorder(s, WithConfig("settings"), WithFlushInterval(time.Hour), WithTxSize(4))

	if r.Start() == nil {
		t.Fatalf("Expected Start to fail before Open")
	}

	if err := r.Open(ctx); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if r.Record(Entry{Time: start}) {
		t.Errorf("Expected records before the first session to be ignored")
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	id := r.Session()
	if id == "" {
		t.Fatalf("Expected a session ID")
	}

	for _, e := range makeEntries(start, 10) {
		if !r.Record(e) {
			t.Fatalf("Record() dropped an entry")
		}
	}
	r.RecordEvent(Event{Time: start, From: flight.PhaseStandby, To: flight.PhasePoweredAscent})

	if err := r.Close(2 * time.Second); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	n := 0
	for _, err := range s.Entries(ctx, id) {
		if err != nil {
			t.Fatalf("Entries() error: %v", err)
		}
		n++
	}
	if n != 10 {
		t.Errorf("Expected 10 entries flushed on close, got %d", n)
	}

	sess, err := s.Session(ctx, id)
	if err != nil || sess.Config == nil || *sess.Config != "settings" {
		t.Errorf("Unexpected session %+v (%v)", sess, err)
	}
	if r.Dropped() != 0 {
		t.Errorf("Expected no drops, got %d", r.Dropped())
	}
}

type blockedStore struct {
	Store
	release chan struct{}
}

func (b *blockedStore) CreateSession(context.Context, string, time.Time, any) error {
	<-b.release
	return nil
}

func (b *blockedStore) InsertEntries(context.Context, string, []Entry) error { return nil }

func TestRecorder_DropsWhenFull(t *testing.T) {
	store := &blockedStore{release: make(chan struct{})}
	r := NewRecorder(store, WithQueueSize(2))

	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer r.Close(time.Second)
	defer close(store.release)

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// the writer is blocked on the session; at most the queue capacity plus
	// the message it already took fit
	for range 10 {
		r.Record(Entry{})
	}

	if r.Dropped() < 7 {
		t.Errorf("Expected at least 7 drops, got %d", r.Dropped())
	}
}

func TestRecorder_CloseTimeout(t *testing.T) {
	store := &blockedStore{release: make(chan struct{})}
	defer close(store.release)

	r := NewRecorder(store)
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := r.Close(10 * time.Millisecond); !errors.Is(err, runstate.ErrJoinTimeout) {
		t.Errorf("Expected ErrJoinTimeout, got %v", err)
	}
	if r.Record(Entry{}) {
		t.Errorf("Expected records to be refused after Close")
	}
}

func TestRecorder_FlushesOnExiting(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run := runstate.New()

	r := NewRecorder(s, WithRunState(run), WithFlushInterval(time.Hour))
	if err := r.Open(ctx); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer r.Close(time.Second)

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	for _, e := range makeEntries(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC), 3) {
		r.Record(e)
	}

	run.Set(runstate.Exiting)

	deadline := time.Now().Add(2 * time.Second)
	for {
		n := 0
		for _, err := range s.Entries(ctx, r.Session()) {
			if err == nil {
				n++
			}
		}
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected 3 entries flushed on EXITING, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
