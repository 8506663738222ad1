package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_telemetry_flight ON telemetry (flight_id, timestep);
CREATE INDEX IF NOT EXISTS idx_flights_iteration ON flights (iteration, trajectory);`

	insertFlightSQL = `
INSERT INTO flights (id,
                     iteration,
                     trajectory,
                     mode,
                     start_time,
                     config)
VALUES (?, ?, ?, ?, ?, ?)`

	finishFlightSQL = `
UPDATE flights
SET end_time = ?,
    ticks    = ?
WHERE id = ?`

	selectFlightSQL = `
SELECT 
    id, 
    iteration, 
    trajectory, 
    mode, 
    start_time, 
    end_time, 
    ticks, 
    config 
FROM flights 
WHERE 
    id = ?`

	selectFlightsSQL = `
SELECT 
    id, 
    iteration, 
    trajectory, 
    mode, 
    start_time, 
    end_time, 
    ticks, 
    config 
FROM flights
ORDER BY start_time, rowid`

	insertTelemetrySQL = `
INSERT INTO telemetry (flight_id,
                       timestep,
                       timestamp,
                       altitude,
                       pitch,
                       roll,
                       yaw)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectTelemetrySQL = `
SELECT 
    id, 
    timestep, 
    timestamp, 
    altitude, 
    pitch, 
    roll, 
    yaw 
FROM telemetry 
WHERE 
    flight_id = ? 
  AND timestep BETWEEN ? AND ? 
ORDER BY timestep`

	upsertPolicySQL = `
INSERT INTO policies (learner,
                      iteration,
                      intercept,
                      weights)
VALUES (?, ?, ?, ?)
ON CONFLICT (learner, iteration) DO UPDATE SET intercept  = excluded.intercept,
                                               weights    = excluded.weights,
                                               created_at = CURRENT_TIMESTAMP`

	selectPoliciesSQL = `
SELECT 
    learner, 
    iteration, 
    intercept, 
    weights 
FROM policies 
WHERE 
    learner = ? 
ORDER BY iteration`
)
