package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roman-kulish/rocket-control/internal/flight"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func toConfigData(config any) (sql.NullString, error) {
	var configData sql.NullString

	switch v := config.(type) {
	case nil:
	case string:
		configData.Valid = true
		configData.String = v

	case []byte:
		configData.Valid = true
		configData.String = string(v)

	default:
		p, err := json.Marshal(config)
		if err != nil {
			return configData, fmt.Errorf("marshaling config: %w", err)
		}

		configData.Valid = true
		configData.String = string(p)
	}

	return configData, nil
}

func appendEntryValues(values []any, sessionID string, e Entry) []any {
	return append(values,
		sessionID,
		e.Time.UTC(),
		int64(e.Loop),
		int32(e.Phase),
		int32(e.Mode),
		int32(e.Arm),
		e.Setpoint.EnableAltitude,
		e.Setpoint.EnableRoll,
		e.Setpoint.EnablePitchYaw,
		e.Setpoint.Roll,
		e.Setpoint.Pitch,
		e.Setpoint.Yaw,
		e.Setpoint.Altitude,
		e.Estimate.Roll,
		e.Estimate.Pitch,
		e.Estimate.Yaw,
		e.Estimate.Altitude,
		e.Estimate.VerticalVelocity,
		e.Estimate.VerticalAccel,
		e.Estimate.ProjectedApogee,
		e.Estimate.BatteryVoltage,
		e.U[0],
		e.U[1],
		e.U[2],
		e.U[3],
	)
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var loop int64
	var phase, mode, arm int32

	err := rows.Scan(
		&e.Time,
		&loop,
		&phase,
		&mode,
		&arm,
		&e.Setpoint.EnableAltitude,
		&e.Setpoint.EnableRoll,
		&e.Setpoint.EnablePitchYaw,
		&e.Setpoint.Roll,
		&e.Setpoint.Pitch,
		&e.Setpoint.Yaw,
		&e.Setpoint.Altitude,
		&e.Estimate.Roll,
		&e.Estimate.Pitch,
		&e.Estimate.Yaw,
		&e.Estimate.Altitude,
		&e.Estimate.VerticalVelocity,
		&e.Estimate.VerticalAccel,
		&e.Estimate.ProjectedApogee,
		&e.Estimate.BatteryVoltage,
		&e.U[0],
		&e.U[1],
		&e.U[2],
		&e.U[3],
	)
	if err != nil {
		return Entry{}, err
	}

	e.Loop = uint64(loop)
	e.Phase = flight.Phase(phase)
	e.Mode = flight.Mode(mode)
	e.Arm = flight.ArmState(arm)
	e.Setpoint.Time = e.Time
	e.Estimate.Time = e.Time
	return e, nil
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var config sql.NullString
	if err := row.Scan(&sess.ID, &sess.StartTime, &config); err != nil {
		return nil, err
	}
	if config.Valid {
		sess.Config = &config.String
	}
	return &sess, nil
}
