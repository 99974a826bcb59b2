package telemetry

import (
	"sync/atomic"
	"time"
)

// Provider supplies the most recent state estimate. Get returns nil until the
// first estimate is available.
type Provider interface {
	Get() *Estimate
}

// Estimate is a running state estimate of the vehicle
type Estimate struct {
	Time             time.Time `json:"time"`             // Time the estimate was produced
	Roll             float64   `json:"roll"`             // Roll angle in radians
	Pitch            float64   `json:"pitch"`            // Pitch angle in radians
	Yaw              float64   `json:"yaw"`              // Yaw angle in radians
	Altitude         float64   `json:"altitude"`         // Altitude in meters, up positive
	VerticalVelocity float64   `json:"verticalVelocity"` // Vertical velocity in m/s
	VerticalAccel    float64   `json:"verticalAccel"`    // Vertical acceleration in m/s²
	ProjectedApogee  float64   `json:"projectedApogee"`  // Apogee reached from the current state, meters
	BatteryVoltage   float64   `json:"batteryVoltage"`   // Battery voltage in volts
}

// Source is a Provider fed by a single writer. Readers on other goroutines get
// an immutable snapshot.
type Source struct {
	current atomic.Pointer[Estimate]
}

// NewSource creates an empty Source
func NewSource() *Source {
	return &Source{}
}

// Set publishes e as the current estimate
func (s *Source) Set(e Estimate) {
	s.current.Store(&e)
}

// Get returns the current estimate or nil
func (s *Source) Get() *Estimate {
	return s.current.Load()
}
