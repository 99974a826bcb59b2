package packet

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/roman-kulish/rocket-control/internal/fault"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

// PositionSize is the payload size of the positioning packet
const PositionSize = 4 + 7*4 + 1

// Position is a pose sample from the auxiliary positioning system
type Position struct {
	Time          uint32  // Sender time in milliseconds
	X, Y, Z       float32 // meters, Z up
	QX, QY, QZ    float32 // Attitude quaternion vector part
	QW            float32 // Attitude quaternion scalar part
	TrackingValid bool    // The positioning system had a lock when sampling
}

// DecodePosition decodes a positioning payload
func DecodePosition(p []byte) (Position, error) {
	var pos Position

	if len(p) != PositionSize {
		return pos, fault.Framing("decode position", fmt.Errorf("%w: %d", ErrPayloadSize, len(p)))
	}

	pos.Time = binary.LittleEndian.Uint32(p[0:4])

	fields := []*float32{&pos.X, &pos.Y, &pos.Z, &pos.QX, &pos.QY, &pos.QZ, &pos.QW}
	for i, f := range fields {
		off := 4 + i*4
		*f = math.Float32frombits(binary.LittleEndian.Uint32(p[off : off+4]))
	}

	pos.TrackingValid = p[PositionSize-1] != 0
	return pos, nil
}

// MarshalBinary encodes the positioning payload
func (p Position) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, PositionSize)
	buf = binary.LittleEndian.AppendUint32(buf, p.Time)
	for _, f := range []float32{p.X, p.Y, p.Z, p.QX, p.QY, p.QZ, p.QW} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}

	var valid byte
	if p.TrackingValid {
		valid = 1
	}
	return append(buf, valid), nil
}

// Euler returns the roll, pitch and yaw in radians (Z-Y-X Tait-Bryan angles)
// of the attitude quaternion
func (p Position) Euler() (roll, pitch, yaw float64) {
	w, x, y, z := float64(p.QW), float64(p.QX), float64(p.QY), float64(p.QZ)

	n := math.Sqrt(w*w + x*x + y*y + z*z)
	if n == 0 {
		return 0, 0, 0
	}
	w, x, y, z = w/n, x/n, y/n, z/n

	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	pitch = math.Asin(min(max(2*(w*y-z*x), -1), 1))
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return
}

// Pose converts the sample for the motion capture estimator
func (p Position) Pose() telemetry.Pose {
	roll, pitch, yaw := p.Euler()
	return telemetry.Pose{
		Time:     p.Time,
		Altitude: float64(p.Z),
		Roll:     roll,
		Pitch:    pitch,
		Yaw:      yaw,
		Valid:    p.TrackingValid,
	}
}
