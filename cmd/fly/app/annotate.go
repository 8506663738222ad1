package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/drone-dagger/internal/annotate"
	"github.com/roman-kulish/drone-dagger/internal/camera"
	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/device"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

// ErrAnnotationAborted is returned when the pilot lands during annotation
var ErrAnnotationAborted = errors.New("annotation aborted by pilot")

// currentOverlay is rewritten on every pilot command while a frame is being labelled
const currentOverlay = "current.png"

// CommandReader blocks until the next pilot command
type CommandReader interface {
	Read(ctx context.Context) (command.Command, error)
}

func runAnnotate(ctx context.Context, config *Config, logger *slog.Logger) (err error) {
	s := config.Session
	dir := trajectory.Dir(s.DataDir, s.Iteration, s.Trajectory)
	logger = logger.With(slog.Int("trajectory", s.Trajectory))

	p := device.NewInbound("pilot", createPilot(config.Links), device.WithLogger(logger))

	errs, err := p.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting pilot: %w", err)
	}
	defer func() {
		if sErr := p.Stop(s.Join); sErr != nil {
			err = errors.Join(err, sErr)
			return
		}
		for cErr := range errs {
			err = errors.Join(err, cErr)
		}
	}()

	return Annotate(ctx, dir, p, config.Settings.GUI, logger)
}

// Annotate replays a recorded trajectory frame by frame. For every frame the
// pilot steers a correction; the command sent together with A becomes the
// expert label of the frame and an overlay with both commands is saved. The
// expert commands file is replaced only once every frame is labelled; an
// aborted annotation keeps the previous labels.
func Annotate(ctx context.Context, dir string, pilot CommandReader, gui bool, logger *slog.Logger) (err error) {
	drone, err := trajectory.LoadCommands(filepath.Join(dir, trajectory.DroneCommandsFile))
	if err != nil {
		return err
	}

	annotator, err := annotate.NewAnnotator()
	if err != nil {
		return err
	}

	out := filepath.Join(dir, trajectory.AnnotatedDir)
	if err = os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("creating annotation directory: %w", err)
	}

	frames := camera.NewDirSource(dir)
	labels := make([]command.Command, 0, len(drone))

	for {
		frame, err := frames.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		timestep := int(frame.Seq)
		if timestep > len(drone) {
			return fmt.Errorf("%w: frame %d has no drone command", trajectory.ErrMalformed, timestep)
		}

		overlay := annotate.Overlay{Timestep: timestep, Drone: drone[timestep-1]}
		if gui {
			if err = saveOverlay(annotator, frame, overlay, filepath.Join(out, currentOverlay)); err != nil {
				return err
			}
		}

		label, err := readLabel(ctx, pilot, func(cmd command.Command) error {
			if !gui {
				return nil
			}
			overlay.Expert = &cmd
			return saveOverlay(annotator, frame, overlay, filepath.Join(out, currentOverlay))
		})
		if err != nil {
			return fmt.Errorf("labelling %s frame: %w", humanize.Ordinal(timestep), err)
		}

		labels = append(labels, label)

		overlay.Expert = &label
		if err = saveOverlay(annotator, frame, overlay, filepath.Join(out, strconv.Itoa(timestep)+".png")); err != nil {
			return err
		}

		logger.Debug("frame labelled", slog.Int("timestep", timestep), slog.Float64("x", label.X))
	}

	if len(labels) < len(drone) {
		logger.Warn("trajectory has fewer frames than drone commands",
			slog.Int("frames", len(labels)),
			slog.Int("commands", len(drone)),
		)
	}

	if err = trajectory.SaveCommands(filepath.Join(dir, trajectory.ExpertCommandsFile), labels); err != nil {
		return fmt.Errorf("saving expert commands: %w", err)
	}

	logger.Info("trajectory annotated", slog.String("frames", humanize.Comma(int64(len(labels)))))
	return nil
}

// readLabel waits for the pilot to accept a command; every other command is
// passed to preview
func readLabel(ctx context.Context, pilot CommandReader, preview func(command.Command) error) (command.Command, error) {
	for {
		cmd, err := pilot.Read(ctx)
		if err != nil {
			return cmd, err
		}

		if cmd.L {
			return cmd, ErrAnnotationAborted
		}

		if cmd.A {
			cmd.A = false
			return cmd.WithSource(command.Expert), nil
		}

		if err = preview(cmd); err != nil {
			return cmd, err
		}
	}
}

func saveOverlay(annotator *annotate.Annotator, frame camera.Frame, overlay annotate.Overlay, path string) error {
	img, err := annotator.Annotate(frame.Image, overlay)
	if err != nil {
		return fmt.Errorf("drawing overlay: %w", err)
	}

	if err = imaging.Save(img, path); err != nil {
		return fmt.Errorf("saving overlay: %w", err)
	}
	return nil
}
