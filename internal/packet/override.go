package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/rocket-control/internal/fault"
	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

const (
	// OverrideSize is the payload size of the basic override packet
	OverrideSize = 12

	// OverrideExtendedSize is the payload size of the override packet carrying
	// an external state estimate
	OverrideExtendedSize = OverrideSize + 4 + 7*8
)

var (
	// ErrPayloadSize is returned for a payload of unexpected length
	ErrPayloadSize = errors.New("unexpected payload size")

	// ErrInvalidField is returned when a field holds a value outside its range
	ErrInvalidField = errors.New("invalid field value")
)

// Override is the packet sent by a supporting system to arm or disarm the
// vehicle and optionally supply the state estimate. Values are immutable once
// decoded.
type Override struct {
	Arm         flight.ArmState // Requested arm state
	UseExternal bool            // Use the state carried here instead of the local estimate
	Status      flight.Phase    // Flight status hint, not validated

	Extended bool // The fields below are present

	Time             uint32  // Sender time or sequence number
	Roll             float64 // radians
	Pitch            float64 // radians
	Yaw              float64 // radians
	ProjectedApogee  float64 // meters
	Altitude         float64 // meters
	VerticalVelocity float64 // m/s
	VerticalAccel    float64 // m/s²
}

// DecodeOverride decodes a basic or extended override payload, told apart by
// length
func DecodeOverride(p []byte) (Override, error) {
	var o Override

	if len(p) != OverrideSize && len(p) != OverrideExtendedSize {
		return o, fault.Framing("decode override", fmt.Errorf("%w: %d", ErrPayloadSize, len(p)))
	}

	o.Arm = flight.ArmState(int32(binary.LittleEndian.Uint32(p[0:4])))
	if !o.Arm.Valid() {
		return o, fault.Framing("decode override", fmt.Errorf("%w: arm state %d", ErrInvalidField, int32(o.Arm)))
	}

	switch useExternal := int32(binary.LittleEndian.Uint32(p[4:8])); useExternal {
	case 0:
	case 1:
		o.UseExternal = true
	default:
		return o, fault.Framing("decode override", fmt.Errorf("%w: use external %d", ErrInvalidField, useExternal))
	}

	o.Status = flight.Phase(int32(binary.LittleEndian.Uint32(p[8:12])))

	if len(p) == OverrideSize {
		return o, nil
	}

	o.Extended = true
	o.Time = binary.LittleEndian.Uint32(p[12:16])

	fields := []*float64{
		&o.Roll,
		&o.Pitch,
		&o.Yaw,
		&o.ProjectedApogee,
		&o.Altitude,
		&o.VerticalVelocity,
		&o.VerticalAccel,
	}
	for i, f := range fields {
		off := 16 + i*8
		*f = math.Float64frombits(binary.LittleEndian.Uint64(p[off : off+8]))
	}

	return o, nil
}

// MarshalBinary encodes the override payload, extended if o.Extended is set
func (o Override) MarshalBinary() ([]byte, error) {
	size := OverrideSize
	if o.Extended {
		size = OverrideExtendedSize
	}

	var useExternal uint32
	if o.UseExternal {
		useExternal = 1
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(o.Arm))
	buf = binary.LittleEndian.AppendUint32(buf, useExternal)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(o.Status))

	if !o.Extended {
		return buf, nil
	}

	buf = binary.LittleEndian.AppendUint32(buf, o.Time)
	for _, f := range []float64{o.Roll, o.Pitch, o.Yaw, o.ProjectedApogee, o.Altitude, o.VerticalVelocity, o.VerticalAccel} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	return buf, nil
}

// Estimate returns the state estimate carried by an extended packet. The
// battery voltage is not part of the packet and is taken from local.
func (o Override) Estimate(now time.Time, local telemetry.Estimate) (telemetry.Estimate, bool) {
	if !o.Extended {
		return telemetry.Estimate{}, false
	}
	return telemetry.Estimate{
		Time:             now,
		Roll:             o.Roll,
		Pitch:            o.Pitch,
		Yaw:              o.Yaw,
		Altitude:         o.Altitude,
		VerticalVelocity: o.VerticalVelocity,
		VerticalAccel:    o.VerticalAccel,
		ProjectedApogee:  o.ProjectedApogee,
		BatteryVoltage:   local.BatteryVoltage,
	}, true
}
