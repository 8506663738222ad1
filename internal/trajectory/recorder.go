package trajectory

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/roman-kulish/drone-dagger/internal/camera"
	"github.com/roman-kulish/drone-dagger/internal/command"
)

const jpegQuality = 90

// Step is everything recorded for a single timestep
type Step struct {
	Timestep int
	Frame    image.Image
	Features []float64
	Drone    command.Command
	Expert   command.Command
}

// CommandWriter appends JSON command lines to a file
type CommandWriter struct {
	f *os.File
}

// CreateCommandWriter truncates or creates path
func CreateCommandWriter(path string) (*CommandWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	return &CommandWriter{f: f}, nil
}

// Write appends one command line
func (w *CommandWriter) Write(cmd command.Command) error {
	p, err := cmd.Encode()
	if err != nil {
		return err
	}
	_, err = w.f.Write(p)
	return err
}

func (w *CommandWriter) Close() error {
	return w.f.Close()
}

// Recorder persists a trajectory: one frame image per timestep plus the features,
// drone command and expert command rows.
type Recorder struct {
	dir    string
	logger *slog.Logger

	features *os.File
	drone    *CommandWriter
	expert   *CommandWriter
}

// WithLogger sets the logger used to report recorded steps
func WithLogger(logger *slog.Logger) func(r *Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates dir and starts a fresh trajectory in it. Existing dataset
// files in dir are truncated.
func NewRecorder(dir string, options ...func(r *Recorder)) (rec *Recorder, err error) {
	r := Recorder{
		dir:    dir,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating trajectory directory: %w", err)
	}

	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if r.features, err = os.OpenFile(filepath.Join(dir, FeaturesFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err != nil {
		return nil, fmt.Errorf("opening %s: %w", FeaturesFile, err)
	}
	if r.drone, err = CreateCommandWriter(filepath.Join(dir, DroneCommandsFile)); err != nil {
		return nil, err
	}
	if r.expert, err = CreateCommandWriter(filepath.Join(dir, ExpertCommandsFile)); err != nil {
		return nil, err
	}

	return &r, nil
}

// Dir returns the trajectory directory
func (r *Recorder) Dir() string {
	return r.dir
}

// Record persists one timestep. Frame may be nil when no image should be saved.
func (r *Recorder) Record(step Step) error {
	if step.Frame != nil {
		if err := SaveFrame(r.dir, step.Timestep, step.Frame); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(r.features, FormatFeatures(step.Timestep, step.Features)); err != nil {
		return fmt.Errorf("writing features: %w", err)
	}
	if err := r.drone.Write(step.Drone); err != nil {
		return fmt.Errorf("writing drone command: %w", err)
	}
	if err := r.expert.Write(step.Expert); err != nil {
		return fmt.Errorf("writing expert command: %w", err)
	}

	r.logger.Debug("recorded step", slog.Int("timestep", step.Timestep), slog.Int("features", len(step.Features)))
	return nil
}

// Close releases the open dataset files
func (r *Recorder) Close() error {
	var errs []error

	if r.features != nil {
		errs = append(errs, r.features.Close())
		r.features = nil
	}
	if r.drone != nil {
		errs = append(errs, r.drone.Close())
		r.drone = nil
	}
	if r.expert != nil {
		errs = append(errs, r.expert.Close())
		r.expert = nil
	}

	return errors.Join(errs...)
}

// SaveFrame writes img as {timestep}.jpg into dir
func SaveFrame(dir string, timestep int, img image.Image) error {
	if err := imaging.Save(img, camera.FramePath(dir, timestep), imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("saving frame %d: %w", timestep, err)
	}
	return nil
}
