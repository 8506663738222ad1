package storage

import (
	"context"

	"github.com/roman-kulish/drone-dagger/internal/dagger"
	"github.com/roman-kulish/drone-dagger/internal/telemetry"
)

// Store provides an interface for persisting flights, their telemetry and the
// policies trained between flights. All write operations are atomic.
type Store interface {
	// CreateFlight registers a new flight and returns its unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - iteration: DAgger iteration the flight belongs to
	//   - trajectory: Trajectory index within the iteration
	//   - mode: Session mode (exec, test, annotate)
	//   - config: Optional session configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - flightID: Unique identifier of the created flight
	//   - error: If creation fails or context is cancelled
	CreateFlight(ctx context.Context, iteration, trajectory int, mode string, config any) (flightID string, err error)

	// FinishFlight stamps the end time and the number of recorded ticks of a flight.
	FinishFlight(ctx context.Context, flightID string, ticks int) error

	// Flight retrieves a flight by its ID.
	Flight(ctx context.Context, flightID string) (*Flight, error)

	// Flights returns all flights ordered by start time.
	Flights(ctx context.Context) ([]*Flight, error)

	// StoreTelemetry saves the telemetry sample used at a timestep of a flight.
	//
	// Returns:
	//   - telemetryID: Unique identifier for the stored telemetry record
	//   - error: If storage fails or context is cancelled
	StoreTelemetry(ctx context.Context, flightID string, timestep int, t *telemetry.Telemetry) (telemetryID int64, err error)

	// StorePolicy saves a trained policy, replacing an earlier policy of the same
	// learner and iteration.
	StorePolicy(ctx context.Context, p *dagger.Policy) error

	// Policies returns the policies trained with learner, ordered by iteration.
	Policies(ctx context.Context, learner string) ([]*dagger.Policy, error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}
