package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roman-kulish/drone-dagger/internal/dagger"
	"github.com/roman-kulish/drone-dagger/internal/storage"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

// retrainDelay is how long the watched iteration has to stay quiet before retraining
const retrainDelay = 2 * time.Second

func runTrain(ctx context.Context, config *Config, store storage.Store, logger *slog.Logger) error {
	s := config.Session

	trainer, err := createTrainer(ctx, config, store, logger)
	if err != nil {
		return err
	}

	if err = trainPolicy(ctx, trainer, store, s.Iteration); err != nil {
		if !s.Watch || !errors.Is(err, dagger.ErrEmptyDataset) {
			return err
		}
		logger.Warn(err.Error())
	}

	if !s.Watch {
		return nil
	}

	return watchIteration(ctx, trainer, store, s.DataDir, s.Iteration, logger)
}

// watchIteration retrains whenever trajectories of iteration change, until ctx is done.
// Data integrity errors of a trajectory still being recorded are logged and retried
// on the next change.
func watchIteration(ctx context.Context, trainer *dagger.Trainer, store storage.Store, root string, iteration int, logger *slog.Logger) error {
	dir := trajectory.IterationDir(root, iteration)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating iteration directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err = watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	trajectories, err := trajectory.Trajectories(root, iteration)
	if err != nil {
		return err
	}
	for _, t := range trajectories {
		if err = watcher.Add(t); err != nil {
			return fmt.Errorf("watching %s: %w", t, err)
		}
	}

	logger.Info("watching for trajectories", slog.String("dir", dir))

	timer := time.NewTimer(retrainDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(err.Error())

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err = watcher.Add(event.Name); err != nil {
						logger.Warn(fmt.Sprintf("watching %s: %s", event.Name, err.Error()))
					}
				}
			}

			logger.Debug("trajectory changed", slog.String("path", event.Name), slog.String("op", event.Op.String()))
			timer.Reset(retrainDelay)

		case <-timer.C:
			if err := trainPolicy(ctx, trainer, store, iteration); err != nil {
				if errors.Is(err, dagger.ErrDataIntegrity) || errors.Is(err, dagger.ErrEmptyDataset) {
					logger.Warn(err.Error())
					continue
				}
				return err
			}
		}
	}
}
