package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/drone-dagger/internal/dagger"
	"github.com/roman-kulish/drone-dagger/internal/telemetry"
)

// ErrNotFound is returned when a flight does not exist
var ErrNotFound = errors.New("not found")

var (
	_ Store           = (*SqliteStore)(nil)
	_ TelemetryReader = (*SqliteTelemetryReader)(nil)
)

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the Sqlite database at dbPath. The
// database and its schema are created lazily on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// the read-only connection cannot create the database file
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateFlight(ctx context.Context, iteration, trajectory int, mode string, config any) (flightID string, err error) {
	configData, err := toNullString(config)
	if err != nil {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertFlightSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	id := uuid.NewString()
	if _, err = stmt.ExecContext(ctx, id, iteration, trajectory, mode, time.Now().UTC(), configData); err != nil {
		err = fmt.Errorf("inserting flight: %w", err)
		return
	}

	return id, nil
}

func (s *SqliteStore) FinishFlight(ctx context.Context, flightID string, ticks int) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, finishFlightSQL, time.Now().UTC(), ticks, flightID)
	if err != nil {
		return fmt.Errorf("updating flight: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("flight %s: %w", flightID, ErrNotFound)
	}
	return nil
}

func (s *SqliteStore) Flight(ctx context.Context, flightID string) (flight *Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectFlightSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var data flightData
	err = stmt.QueryRowContext(ctx, flightID).Scan(
		&data.ID, &data.Iteration, &data.Trajectory, &data.Mode, &data.StartTime, &data.EndTime, &data.Ticks, &data.Config)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("flight %s: %w", flightID, ErrNotFound)
		return
	}
	if err != nil {
		err = fmt.Errorf("scanning flight: %w", err)
		return
	}

	return toFlight(&data), nil
}

func (s *SqliteStore) Flights(ctx context.Context) (flights []*Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectFlightsSQL)
	if err != nil {
		err = fmt.Errorf("querying flights: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data flightData
		if err = rows.Scan(&data.ID, &data.Iteration, &data.Trajectory, &data.Mode, &data.StartTime, &data.EndTime, &data.Ticks, &data.Config); err != nil {
			err = fmt.Errorf("scanning flight: %w", err)
			return
		}
		flights = append(flights, toFlight(&data))
	}
	err = rows.Err()
	return
}

// ReadTelemetry creates a reader over the telemetry recorded during a flight,
// ordered by timestep. The returned reader must be closed after use.
func (s *SqliteStore) ReadTelemetry(ctx context.Context, flightID string, opts ...ReaderOption) (*SqliteTelemetryReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteTelemetryReader(ctx, db, flightID, opts...)
}

func (s *SqliteStore) StoreTelemetry(ctx context.Context, flightID string, timestep int, t *telemetry.Telemetry) (telemetryID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertTelemetrySQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, flightID, timestep, t.Timestamp.UTC(), t.Altitude, t.Pitch, t.Roll, t.Yaw)
	if err != nil {
		err = fmt.Errorf("inserting telemetry: %w", err)
		return
	}

	telemetryID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting telemetry ID: %w", err)
	}
	return
}

func (s *SqliteStore) StorePolicy(ctx context.Context, p *dagger.Policy) (err error) {
	data, err := toPolicyData(p)
	if err != nil {
		return err
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if _, err = tx.ExecContext(ctx, upsertPolicySQL, data.Learner, data.Iteration, data.Intercept, data.Weights); err != nil {
		return fmt.Errorf("storing policy: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) Policies(ctx context.Context, learner string) (policies []*dagger.Policy, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectPoliciesSQL, learner)
	if err != nil {
		err = fmt.Errorf("querying policies: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data policyData
		if err = rows.Scan(&data.Learner, &data.Iteration, &data.Intercept, &data.Weights); err != nil {
			err = fmt.Errorf("scanning policy: %w", err)
			return
		}

		var p *dagger.Policy
		if p, err = toPolicy(&data); err != nil {
			return
		}
		policies = append(policies, p)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
