package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roman-kulish/drone-dagger/internal/camera"
	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/dagger"
	"github.com/roman-kulish/drone-dagger/internal/device"
	"github.com/roman-kulish/drone-dagger/internal/features"
	"github.com/roman-kulish/drone-dagger/internal/history"
	"github.com/roman-kulish/drone-dagger/internal/link"
	"github.com/roman-kulish/drone-dagger/internal/pilot"
	"github.com/roman-kulish/drone-dagger/internal/storage"
	"github.com/roman-kulish/drone-dagger/internal/telemetry"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

// Run executes the session selected by config.Session.Mode
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store, err := createStorage(config)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing storage: %s", err.Error()))
		}
	}()

	logger = logger.With(
		slog.String("mode", config.Session.Mode),
		slog.Int("iteration", config.Session.Iteration),
	)

	switch config.Session.Mode {
	case ModeTrain:
		return runTrain(ctx, config, store, logger)

	case ModeAnnotate:
		return runAnnotate(ctx, config, logger)

	case ModeExec, ModeTest:
		return runFlight(ctx, config, store, logger)

	default:
		return fmt.Errorf("unknown mode '%s'", config.Session.Mode)
	}
}

func runFlight(ctx context.Context, config *Config, store storage.Store, logger *slog.Logger) (err error) {
	s := config.Session
	logger = logger.With(slog.Int("trajectory", s.Trajectory))

	var predictor Predictor
	if s.Iteration > 1 {
		trainer, err := createTrainer(ctx, config, store, logger)
		if err != nil {
			return err
		}
		if err = ensurePolicy(ctx, trainer, store, s.Iteration-1); err != nil {
			return err
		}
		predictor = trainer
	}

	dir := trajectory.Dir(s.DataDir, s.Iteration, s.Trajectory)

	mode, err := NewMode(s, predictor)
	if err != nil {
		return err
	}
	if config.Settings.GUI {
		if mode, err = WithOverlay(mode, dir); err != nil {
			return err
		}
	}

	visualOpts := []func(*features.Visual){
		features.WithTileSize(config.Features.TileWidth, config.Features.TileHeight),
	}
	if config.Features.Workers > 0 {
		visualOpts = append(visualOpts, features.WithParallelism(config.Features.Workers))
	}

	visual, err := features.NewVisual(config.Features.Grid, visualOpts...)
	if err != nil {
		return fmt.Errorf("creating visual features: %w", err)
	}

	hist, err := history.New(config.Features.History.Feats, config.Features.History.Length)
	if err != nil {
		return fmt.Errorf("creating history features: %w", err)
	}

	recorder, err := trajectory.NewRecorder(dir, trajectory.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating recorder: %w", err)
	}

	flightID, err := store.CreateFlight(ctx, s.Iteration, s.Trajectory, s.Mode, config)
	if err != nil {
		_ = recorder.Close()
		return fmt.Errorf("creating flight: %w", err)
	}
	logger = logger.With(slog.String("flight", flightID))

	orchestrator := NewOrchestrator(createChannels(config, logger), mode, visual, hist, s,
		WithLogger(logger),
		WithRecorder(recorder),
		WithTelemetryStore(store, flightID),
		WithBlockingReads(s.Iteration == 1),
		WithPilotRequired(s.Iteration == 1),
	)

	logger.Info("starting flight", slog.String("dir", recorder.Dir()))

	err = orchestrator.Run(ctx)

	if fErr := store.FinishFlight(context.WithoutCancel(ctx), flightID, orchestrator.Ticks()); fErr != nil {
		err = errors.Join(err, fmt.Errorf("finishing flight: %w", fErr))
	}

	return err
}

// createTrainer restores the persisted policies of the configured learner
func createTrainer(ctx context.Context, config *Config, store storage.Store, logger *slog.Logger) (*dagger.Trainer, error) {
	opts := []func(*dagger.Trainer){dagger.WithLogger(logger)}
	if config.Session.Alpha > 0 {
		opts = append(opts, dagger.WithAlpha(config.Session.Alpha))
	}

	trainer, err := dagger.NewTrainer(config.Session.DataDir, config.Session.Learning, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trainer: %w", err)
	}

	policies, err := store.Policies(ctx, config.Session.Learning)
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}
	if err = trainer.Load(policies...); err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}

	logger.Debug("policies restored", slog.Int("count", len(policies)))
	return trainer, nil
}

// ensurePolicy trains and stores the policy of iteration unless one is stored already
func ensurePolicy(ctx context.Context, trainer *dagger.Trainer, store storage.Store, iteration int) error {
	if _, ok := trainer.Policy(iteration); ok {
		return nil
	}
	return trainPolicy(ctx, trainer, store, iteration)
}

// trainPolicy aggregates all trajectories through iteration, fits a policy and persists it
func trainPolicy(ctx context.Context, trainer *dagger.Trainer, store storage.Store, iteration int) error {
	if err := trainer.Aggregate(iteration); err != nil {
		return fmt.Errorf("aggregating iteration %d: %w", iteration, err)
	}

	p, err := trainer.Train()
	if err != nil {
		return err
	}

	if err = store.StorePolicy(ctx, p); err != nil {
		return fmt.Errorf("storing policy: %w", err)
	}

	return nil
}

func createChannels(config *Config, logger *slog.Logger) Channels {
	l := config.Links
	opts := []device.Option{
		device.WithLogger(logger),
		device.WithInterval(config.Session.Tick / 2),
	}

	var frames device.Source[camera.Frame]
	if dir, ok := CameraDir(l.Camera); ok {
		frames = camera.NewDirSource(dir)
	} else {
		frames = camera.NewHTTPSource(l.Camera, l.Timeout)
	}

	return Channels{
		Command:   device.NewOutbound("command", link.NewCommandLink(l.Command, link.WithTimeout(l.Timeout)), device.WithLogger(logger)),
		Telemetry: device.NewInbound[telemetry.Telemetry]("telemetry", link.NewTelemetryLink(l.Telemetry, link.WithTimeout(l.Timeout)), opts...),
		Camera:    device.NewInbound("camera", frames, opts...),
		Pilot:     device.NewInbound("pilot", createPilot(l), device.WithLogger(logger)),
	}
}

func createPilot(l LinksConfig) device.Source[command.Command] {
	if l.Pilot == StdinPilot {
		return pilot.NewStream(os.Stdin)
	}
	return pilot.NewRemote(l.Pilot, l.Timeout)
}

func createStorage(config *Config) (*storage.SqliteStore, error) {
	dbPath := config.Storage.Database
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(config.Session.DataDir, dbPath)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return storage.NewSqliteStore(dbPath), nil
}
