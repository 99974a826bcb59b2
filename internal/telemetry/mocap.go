package telemetry

import (
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// StandardGravity in m/s²
const StandardGravity = 9.80665

// Pose is a single position fix from a motion capture system
type Pose struct {
	Time     uint32 // Sender time in milliseconds
	Altitude float64
	Roll     float64
	Pitch    float64
	Yaw      float64
	Valid    bool // Tracking was valid when the pose was sampled
}

// WithMocapLogger sets the logger for the estimator
func WithMocapLogger(logger *slog.Logger) func(*MocapEstimator) {
	return func(m *MocapEstimator) {
		m.logger = logger
	}
}

// MocapEstimator derives a state estimate from motion capture poses. Vertical
// velocity and acceleration are finite differences over sender time. A sender
// clock that jumps backwards restarts the differences. It is not safe for
// concurrent Update calls; readers use Get.
type MocapEstimator struct {
	Source

	battery float64

	last    *Pose
	lastVel float64

	skipped  atomic.Uint64
	restarts atomic.Uint64

	logger *slog.Logger
}

// NewMocapEstimator creates an estimator reporting a constant battery voltage
func NewMocapEstimator(batteryVoltage float64, options ...func(*MocapEstimator)) *MocapEstimator {
	m := MocapEstimator{
		battery: batteryVoltage,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// Update folds p into the estimate and publishes it. Poses without valid
// tracking, or repeating the timestamp of the previous pose, are skipped and
// false is returned.
func (m *MocapEstimator) Update(now time.Time, p Pose) (Estimate, bool) {
	if !p.Valid {
		m.skip("tracking lost", p)
		return Estimate{}, false
	}

	var vel, accel float64
	if m.last != nil && p.Time < m.last.Time {
		m.restarts.Add(1)
		m.logger.Warn("sender clock moved backwards, restarting estimate",
			slog.Any("last", m.last.Time), slog.Any("time", p.Time))
		m.last = nil
	}

	if m.last != nil {
		if p.Time == m.last.Time {
			m.skip("repeated pose", p)
			return Estimate{}, false
		}

		dt := float64(p.Time-m.last.Time) / 1000
		vel = (p.Altitude - m.last.Altitude) / dt
		accel = (vel - m.lastVel) / dt
	}

	e := Estimate{
		Time:             now,
		Roll:             p.Roll,
		Pitch:            p.Pitch,
		Yaw:              p.Yaw,
		Altitude:         p.Altitude,
		VerticalVelocity: vel,
		VerticalAccel:    accel,
		ProjectedApogee:  ProjectApogee(p.Altitude, vel),
		BatteryVoltage:   m.battery,
	}

	m.last = &p
	m.lastVel = vel
	m.Set(e)

	return e, true
}

// Skipped returns the number of poses that were not used
func (m *MocapEstimator) Skipped() uint64 {
	return m.skipped.Load()
}

// Restarts returns how many times the sender clock moved backwards
func (m *MocapEstimator) Restarts() uint64 {
	return m.restarts.Load()
}

func (m *MocapEstimator) skip(reason string, p Pose) {
	m.skipped.Add(1)
	m.logger.Debug("pose skipped", slog.String("reason", reason), slog.Any("time", p.Time))
}

// ProjectApogee returns the altitude reached by a ballistic climb from alt at
// vertical velocity vel
func ProjectApogee(alt, vel float64) float64 {
	v := max(vel, 0)
	return alt + v*v/(2*StandardGravity)
}
