package app

import (
	"math"
	"sort"
	"time"

	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/storage"
)

// Sample is one flight log entry reduced to what the plot shows
type Sample struct {
	Offset          time.Duration // Since the first entry
	Phase           flight.Phase
	Arm             flight.ArmState
	Altitude        float64
	ProjectedApogee float64
	Target          *float64 // Altitude setpoint while altitude control is enabled
}

// FlightData accumulates the entries of one session
type FlightData struct {
	Session                  *storage.Session
	TimestampStart           time.Time
	TimestampEnd             time.Time
	AltitudeMin, AltitudeMax float64
	Samples                  []Sample
	Events                   []storage.Event
	PhaseCounts              map[flight.Phase]int
}

func NewFlightData(session *storage.Session) *FlightData {
	return &FlightData{
		Session:     session,
		AltitudeMin: math.MaxFloat64,
		AltitudeMax: -math.MaxFloat64,
		PhaseCounts: make(map[flight.Phase]int),
	}
}

// Update adds an entry. Entries are expected in time order.
func (f *FlightData) Update(e storage.Entry) {
	if f.TimestampStart.IsZero() {
		f.TimestampStart = e.Time
	}
	if e.Time.After(f.TimestampEnd) {
		f.TimestampEnd = e.Time
	}

	s := Sample{
		Offset:          e.Time.Sub(f.TimestampStart),
		Phase:           e.Phase,
		Arm:             e.Arm,
		Altitude:        e.Estimate.Altitude,
		ProjectedApogee: e.Estimate.ProjectedApogee,
	}
	f.track(s.Altitude)
	f.track(s.ProjectedApogee)

	if e.Setpoint.EnableAltitude {
		target := e.Setpoint.Altitude
		s.Target = &target
		f.track(target)
	}

	f.Samples = append(f.Samples, s)
	f.PhaseCounts[s.Phase]++
}

func (f *FlightData) track(alt float64) {
	if math.IsNaN(alt) || math.IsInf(alt, 0) {
		return
	}
	f.AltitudeMin = min(f.AltitudeMin, alt)
	f.AltitudeMax = max(f.AltitudeMax, alt)
}

// Duration returns the time covered by the samples
func (f *FlightData) Duration() time.Duration {
	return f.TimestampEnd.Sub(f.TimestampStart)
}

// AltitudeRange returns the plotted altitude range. It always includes the
// ground and is never empty.
func (f *FlightData) AltitudeRange() (lo, hi float64) {
	if len(f.Samples) == 0 || f.AltitudeMin > f.AltitudeMax {
		return 0, 1
	}

	lo, hi = min(f.AltitudeMin, 0), max(f.AltitudeMax, 0)
	if hi-lo < 1 {
		hi = lo + 1
	}
	return lo, hi
}

// PhaseAt returns the phase of the last sample at or before offset
func (f *FlightData) PhaseAt(offset time.Duration) flight.Phase {
	i := sort.Search(len(f.Samples), func(i int) bool { return f.Samples[i].Offset > offset })
	if i == 0 {
		return flight.PhaseWait
	}
	return f.Samples[i-1].Phase
}
