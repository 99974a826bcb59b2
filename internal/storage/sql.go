package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      id,
                      start_time,
                      config)
VALUES (?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    config
FROM sessions
ORDER BY start_time`

	selectLatestSessionSQL = `
SELECT
    id,
    start_time,
    config
FROM sessions
ORDER BY start_time DESC
LIMIT 1`

	insertEntriesSQL = `
INSERT INTO entries (session_id,
                     timestamp,
                     loop,
                     phase,
                     mode,
                     arm,
                     sp_enable_altitude,
                     sp_enable_roll,
                     sp_enable_pitch_yaw,
                     sp_roll,
                     sp_pitch,
                     sp_yaw,
                     sp_altitude,
                     roll,
                     pitch,
                     yaw,
                     altitude,
                     vertical_velocity,
                     vertical_accel,
                     projected_apogee,
                     battery_voltage,
                     u_roll,
                     u_pitch,
                     u_yaw,
                     u_altitude)
VALUES `

	entryPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	entryColumns     = 25

	selectEntriesSQL = `
SELECT timestamp,
       loop,
       phase,
       mode,
       arm,
       sp_enable_altitude,
       sp_enable_roll,
       sp_enable_pitch_yaw,
       sp_roll,
       sp_pitch,
       sp_yaw,
       sp_altitude,
       roll,
       pitch,
       yaw,
       altitude,
       vertical_velocity,
       vertical_accel,
       projected_apogee,
       battery_voltage,
       u_roll,
       u_pitch,
       u_yaw,
       u_altitude
FROM entries
WHERE session_id = ?
ORDER BY timestamp, id`

	insertEventSQL = `
INSERT INTO events (session_id,
                    timestamp,
                    from_phase,
                    to_phase)
VALUES (?, ?, ?, ?)`

	selectEventsSQL = `
SELECT timestamp,
       from_phase,
       to_phase
FROM events
WHERE session_id = ?
ORDER BY timestamp, id`
)

var (
	//go:embed schema.sql
	initSchemaSQL string

	//go:embed indexes.sql
	initIndexesSQL string
)
