package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"

	"github.com/roman-kulish/drone-dagger/internal/storage"
)

// TelemetrySummary describes the telemetry stored for a flight
type TelemetrySummary struct {
	Flight   *storage.Flight
	Samples  int
	Altitude Summary
	Pitch    Summary
	Roll     Summary
}

// Summary holds the spread of one telemetry channel
type Summary struct {
	Min, Max, Mean, StdDev float64
}

// LatestFlight returns the most recent flight recorded for a trajectory
func LatestFlight(ctx context.Context, store storage.Store, iteration, traj int) (*storage.Flight, error) {
	flights, err := store.Flights(ctx)
	if err != nil {
		return nil, err
	}

	var latest *storage.Flight
	for _, f := range flights {
		if f.Iteration == iteration && f.Trajectory == traj {
			latest = f
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no flight for iteration %d, trajectory %d: %w", iteration, traj, storage.ErrNotFound)
	}
	return latest, nil
}

// SummarizeTelemetry reads the telemetry of the latest flight of a trajectory
func SummarizeTelemetry(ctx context.Context, store *storage.SqliteStore, iteration, traj int) (*TelemetrySummary, error) {
	flight, err := LatestFlight(ctx, store, iteration, traj)
	if err != nil {
		return nil, err
	}

	reader, err := store.ReadTelemetry(ctx, flight.ID)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var altitude, pitch, roll stats.Float64Data
	for reader.Next(ctx) {
		rec := reader.Current()
		altitude = append(altitude, rec.Altitude)
		pitch = append(pitch, rec.Pitch)
		roll = append(roll, rec.Roll)
	}
	if err = reader.Error(); err != nil {
		return nil, err
	}

	s := TelemetrySummary{Flight: flight, Samples: len(altitude)}
	if s.Samples == 0 {
		return &s, nil
	}

	channels := []struct {
		data stats.Float64Data
		dst  *Summary
	}{
		{altitude, &s.Altitude},
		{pitch, &s.Pitch},
		{roll, &s.Roll},
	}
	for _, c := range channels {
		if *c.dst, err = summarize(c.data); err != nil {
			return nil, err
		}
	}

	return &s, nil
}

func summarize(data stats.Float64Data) (s Summary, err error) {
	if s.Min, err = data.Min(); err != nil {
		return s, err
	}
	if s.Max, err = data.Max(); err != nil {
		return s, err
	}
	if s.Mean, err = data.Mean(); err != nil {
		return s, err
	}
	if s.StdDev, err = data.StandardDeviationPopulation(); err != nil {
		return s, err
	}
	return s, nil
}

// LogValue renders the summary as a log group
func (s *TelemetrySummary) LogValue() slog.Value {
	duration := "in progress"
	if s.Flight.EndTime != nil {
		duration = s.Flight.EndTime.Sub(s.Flight.StartTime).Round(time.Millisecond).String()
	}

	channel := func(name string, c Summary) slog.Attr {
		return slog.Group(name,
			slog.String("min", humanize.FtoaWithDigits(c.Min, 2)),
			slog.String("max", humanize.FtoaWithDigits(c.Max, 2)),
			slog.String("mean", humanize.FtoaWithDigits(c.Mean, 2)),
			slog.String("std", humanize.FtoaWithDigits(c.StdDev, 2)),
		)
	}

	return slog.GroupValue(
		slog.String("flight", s.Flight.ID),
		slog.String("mode", s.Flight.Mode),
		slog.String("started", humanize.Time(s.Flight.StartTime)),
		slog.String("duration", duration),
		slog.String("ticks", humanize.Comma(int64(s.Flight.Ticks))),
		slog.String("samples", humanize.Comma(int64(s.Samples))),
		channel("altitude", s.Altitude),
		channel("pitch", s.Pitch),
		channel("roll", s.Roll),
	)
}
