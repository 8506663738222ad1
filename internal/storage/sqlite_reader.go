package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
)

// TelemetryReader provides an iterator-based interface for reading the telemetry
// of a flight with optional timestep filtering.
type TelemetryReader interface {
	// Flight returns metadata about the flight this reader is accessing.
	Flight() *Flight

	// Next advances the iterator and returns true if there is another record
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current record in the iteration.
	Current() *TelemetryRecord

	// Error returns any error that occurred during iteration.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}

// ReaderOption configures a telemetry reader
type ReaderOption func(*SqliteTelemetryReader)

// WithTimestepRange limits the reader to timesteps in [from, to]
func WithTimestepRange(from, to int) ReaderOption {
	return func(r *SqliteTelemetryReader) {
		r.fromTimestep = &from
		r.toTimestep = &to
	}
}

// SqliteTelemetryReader implements TelemetryReader for the Sqlite backend
type SqliteTelemetryReader struct {
	db *sql.DB

	flightID string
	flight   *Flight

	fromTimestep *int
	toTimestep   *int

	current *TelemetryRecord
	rows    *sql.Rows
	err     error
}

func newSqliteTelemetryReader(ctx context.Context, db *sql.DB, flightID string, opts ...ReaderOption) (*SqliteTelemetryReader, error) {
	tr := &SqliteTelemetryReader{
		db:       db,
		flightID: flightID,
	}
	for _, opt := range opts {
		opt(tr)
	}
	if err := tr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return tr, nil
}

func (tr *SqliteTelemetryReader) init(ctx context.Context) error {
	if tr.db == nil {
		return errors.New("database connection required")
	}
	if tr.flightID == "" {
		return errors.New("flight ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading flight", fn: tr.loadFlight},
		{msg: "initializing filters", fn: tr.initFilters},
		{msg: "initializing query", fn: tr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (tr *SqliteTelemetryReader) loadFlight(ctx context.Context) (err error) {
	stmt, err := tr.db.PrepareContext(ctx, selectFlightSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var data flightData
	err = stmt.QueryRowContext(ctx, tr.flightID).Scan(
		&data.ID, &data.Iteration, &data.Trajectory, &data.Mode, &data.StartTime, &data.EndTime, &data.Ticks, &data.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("flight %s: %w", tr.flightID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("querying flight: %w", err)
	}

	tr.flight = toFlight(&data)
	return nil
}

func (tr *SqliteTelemetryReader) initFilters(context.Context) error {
	if tr.fromTimestep == nil {
		from := 1
		tr.fromTimestep = &from
	}
	if tr.toTimestep == nil {
		to := math.MaxInt32
		tr.toTimestep = &to
	}
	if *tr.fromTimestep > *tr.toTimestep {
		return fmt.Errorf("timestep %d is after timestep %d", *tr.fromTimestep, *tr.toTimestep)
	}
	return nil
}

func (tr *SqliteTelemetryReader) initQuery(ctx context.Context) (err error) {
	tr.rows, err = tr.db.QueryContext(ctx, selectTelemetrySQL, tr.flightID, *tr.fromTimestep, *tr.toTimestep)
	return err
}

func (tr *SqliteTelemetryReader) Flight() *Flight {
	return tr.flight
}

func (tr *SqliteTelemetryReader) Next(ctx context.Context) bool {
	if tr.err != nil || tr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		tr.err = ctx.Err()
		return false
	default:
	}

	if !tr.rows.Next() {
		return false
	}

	rec := TelemetryRecord{FlightID: tr.flightID}
	err := tr.rows.Scan(&rec.ID, &rec.Timestep, &rec.Timestamp, &rec.Altitude, &rec.Pitch, &rec.Roll, &rec.Yaw)
	if err != nil {
		tr.err = fmt.Errorf("scanning telemetry: %w", err)
		return false
	}

	tr.current = &rec
	return true
}

func (tr *SqliteTelemetryReader) Current() *TelemetryRecord {
	return tr.current
}

func (tr *SqliteTelemetryReader) Error() error {
	if tr.err != nil {
		return tr.err
	}
	if tr.rows != nil {
		return tr.rows.Err()
	}
	return nil
}

func (tr *SqliteTelemetryReader) Close() error {
	if tr.rows != nil {
		err := tr.rows.Close()
		tr.current = nil
		tr.rows = nil
		return err
	}
	return nil
}
