package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/drone-dagger/internal/telemetry"
)

// Flight is one recorded session
type Flight struct {
	ID         string
	Iteration  int
	Trajectory int
	Mode       string
	StartTime  time.Time
	EndTime    *time.Time
	Ticks      int
	Config     *string
}

// TelemetryRecord is a telemetry sample bound to a flight timestep
type TelemetryRecord struct {
	ID       int64
	FlightID string
	Timestep int
	telemetry.Telemetry
}

type flightData struct {
	ID         string
	Iteration  int
	Trajectory int
	Mode       string
	StartTime  time.Time
	EndTime    sql.NullTime
	Ticks      int
	Config     sql.NullString
}

type policyData struct {
	Learner   string
	Iteration int
	Intercept float64
	Weights   string
}
