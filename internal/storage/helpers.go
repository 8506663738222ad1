package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roman-kulish/drone-dagger/internal/dagger"
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

// toNullString encodes an optional configuration value
func toNullString(config any) (sql.NullString, error) {
	switch v := config.(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		return sql.NullString{String: v, Valid: true}, nil
	case []byte:
		return sql.NullString{String: string(v), Valid: true}, nil
	default:
		p, err := json.Marshal(config)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("marshaling config: %w", err)
		}
		return sql.NullString{String: string(p), Valid: true}, nil
	}
}

func toFlight(d *flightData) *Flight {
	f := Flight{
		ID:         d.ID,
		Iteration:  d.Iteration,
		Trajectory: d.Trajectory,
		Mode:       d.Mode,
		StartTime:  d.StartTime,
		Ticks:      d.Ticks,
	}
	if d.EndTime.Valid {
		f.EndTime = &d.EndTime.Time
	}
	if d.Config.Valid {
		f.Config = &d.Config.String
	}
	return &f
}

func toPolicyData(p *dagger.Policy) (*policyData, error) {
	weights, err := json.Marshal(p.Weights)
	if err != nil {
		return nil, fmt.Errorf("marshaling weights: %w", err)
	}

	return &policyData{
		Learner:   p.Learner,
		Iteration: p.Iteration,
		Intercept: p.Intercept,
		Weights:   string(weights),
	}, nil
}

func toPolicy(d *policyData) (*dagger.Policy, error) {
	p := dagger.Policy{
		Learner:   d.Learner,
		Iteration: d.Iteration,
		Intercept: d.Intercept,
	}
	if err := json.Unmarshal([]byte(d.Weights), &p.Weights); err != nil {
		return nil, fmt.Errorf("unmarshaling weights: %w", err)
	}
	return &p, nil
}
