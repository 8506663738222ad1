package app

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/roman-kulish/drone-dagger/internal/annotate"
	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

// Predictor returns the X axis predicted by the policy trained through iteration
type Predictor interface {
	Test(x []float64, iteration int) (float64, error)
}

// NewMode returns the strategy that decides the drone command in flight
// iteration i. Flight iteration i > 1 consults the policy trained through i-1.
func NewMode(session SessionConfig, predictor Predictor) (Mode, error) {
	switch {
	case session.Mode == ModeExec && session.Iteration == 1:
		return expertMode{}, nil

	case session.Mode == ModeExec:
		if predictor == nil {
			return nil, fmt.Errorf("iteration %d needs a policy", session.Iteration)
		}
		return &blendMode{
			predictor: predictor,
			policy:    session.Iteration - 1,
			beta:      Beta(session.BlendDecay, session.Iteration),
		}, nil

	case session.Mode == ModeTest:
		if predictor == nil {
			return nil, fmt.Errorf("iteration %d needs a policy", session.Iteration)
		}
		return &testMode{
			predictor: predictor,
			policy:    session.Iteration - 1,
		}, nil

	default:
		return nil, fmt.Errorf("mode %q does not fly", session.Mode)
	}
}

// Beta returns the expert mixing weight of a flight iteration
func Beta(decay float64, iteration int) float64 {
	return math.Pow(decay, float64(iteration-1))
}

// expertMode forwards the pilot's command unchanged
type expertMode struct{}

func (expertMode) Tick(_ context.Context, in *TickInput) (command.Command, error) {
	return in.Expert, nil
}

func (expertMode) Exit(context.Context) error {
	return nil
}

// blendMode mixes the expert's and the policy's X axis; other axes come from the expert
type blendMode struct {
	predictor Predictor
	policy    int
	beta      float64
}

func (m *blendMode) Tick(_ context.Context, in *TickInput) (command.Command, error) {
	x, err := m.predictor.Test(in.Features, m.policy)
	if err != nil {
		return command.Command{}, err
	}

	cmd := in.Expert
	cmd.X = m.beta*in.Expert.X + (1-m.beta)*x

	return cmd.Clamp().WithSource(command.Policy), nil
}

func (m *blendMode) Exit(context.Context) error {
	return nil
}

// testMode flies X from the policy alone
type testMode struct {
	predictor Predictor
	policy    int
}

func (m *testMode) Tick(_ context.Context, in *TickInput) (command.Command, error) {
	x, err := m.predictor.Test(in.Features, m.policy)
	if err != nil {
		return command.Command{}, err
	}

	cmd := in.Expert
	cmd.X = x

	return cmd.Clamp().WithSource(command.Policy), nil
}

func (m *testMode) Exit(context.Context) error {
	return nil
}

// overlayMode draws the decided and the expert command onto every frame and
// saves it under the trajectory's annotated directory
type overlayMode struct {
	Mode

	annotator *annotate.Annotator
	dir       string
}

// WithOverlay decorates mode with on-disk overlays of every tick
func WithOverlay(mode Mode, trajectoryDir string) (Mode, error) {
	annotator, err := annotate.NewAnnotator()
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(trajectoryDir, trajectory.AnnotatedDir)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating overlay directory: %w", err)
	}

	return &overlayMode{Mode: mode, annotator: annotator, dir: dir}, nil
}

func (m *overlayMode) Tick(ctx context.Context, in *TickInput) (command.Command, error) {
	cmd, err := m.Mode.Tick(ctx, in)
	if err != nil || in.Frame.Image == nil {
		return cmd, err
	}

	expert := in.Expert
	img, err := m.annotator.Annotate(in.Frame.Image, annotate.Overlay{
		Timestep: in.Timestep,
		Drone:    cmd,
		Expert:   &expert,
	})
	if err != nil {
		return cmd, fmt.Errorf("drawing overlay: %w", err)
	}

	path := filepath.Join(m.dir, strconv.Itoa(in.Timestep)+".png")
	if err = imaging.Save(img, path); err != nil {
		return cmd, fmt.Errorf("saving overlay: %w", err)
	}

	return cmd, nil
}
