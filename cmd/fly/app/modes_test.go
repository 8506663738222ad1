package app

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/dagger"
)

// fixedPredictor returns x for the policy of iteration and ErrNoPolicy otherwise
type fixedPredictor struct {
	iteration int
	x         float64
}

func (p fixedPredictor) Test(_ []float64, iteration int) (float64, error) {
	if iteration != p.iteration {
		return 0, dagger.ErrNoPolicy
	}
	return p.x, nil
}

func TestBeta(t *testing.T) {
	tests := []struct {
		decay     float64
		iteration int
		want      float64
	}{
		{0.5, 1, 1},
		{0.5, 2, 0.5},
		{0.5, 3, 0.25},
		{0, 2, 0},
		{1, 5, 1},
	}

	for _, tt := range tests {
		if got := Beta(tt.decay, tt.iteration); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Beta(%v, %d) = %v, want %v", tt.decay, tt.iteration, got, tt.want)
		}
	}
}

func TestNewMode(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		iteration int
		predictor Predictor
		expert    command.Command
		wantX     float64
		wantErr   bool
	}{
		{
			name:      "exec first iteration flies the expert",
			mode:      ModeExec,
			iteration: 1,
			expert:    command.Command{X: 0.4, Y: 0.2},
			wantX:     0.4,
		},
		{
			name:      "exec second iteration blends half and half",
			mode:      ModeExec,
			iteration: 2,
			predictor: fixedPredictor{iteration: 1, x: -0.2},
			expert:    command.Command{X: 0.4, Y: 0.2},
			wantX:     0.1,
		},
		{
			name:      "exec third iteration weighs the policy more",
			mode:      ModeExec,
			iteration: 3,
			predictor: fixedPredictor{iteration: 2, x: 0.8},
			expert:    command.Command{X: 0, Y: 0.2},
			wantX:     0.6,
		},
		{
			name:      "test flies the policy",
			mode:      ModeTest,
			iteration: 2,
			predictor: fixedPredictor{iteration: 1, x: -0.7},
			expert:    command.Command{X: 0.9, Y: 0.2},
			wantX:     -0.7,
		},
		{
			name:      "policy output is clamped",
			mode:      ModeTest,
			iteration: 2,
			predictor: fixedPredictor{iteration: 1, x: 3},
			expert:    command.Command{Y: 0.2},
			wantX:     1,
		},
		{
			name:      "exec without policy",
			mode:      ModeExec,
			iteration: 2,
			wantErr:   true,
		},
		{
			name:      "train does not fly",
			mode:      ModeTrain,
			iteration: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := SessionConfig{Mode: tt.mode, Iteration: tt.iteration, BlendDecay: 0.5}

			mode, err := NewMode(session, tt.predictor)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			cmd, err := mode.Tick(context.Background(), &TickInput{Timestep: 1, Expert: tt.expert})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if math.Abs(cmd.X-tt.wantX) > 1e-12 {
				t.Errorf("expected X %v, got %v", tt.wantX, cmd.X)
			}
			if cmd.Y != tt.expert.Y {
				t.Errorf("expected Y from the expert %v, got %v", tt.expert.Y, cmd.Y)
			}
		})
	}
}

func TestNewMode_WrongPolicy(t *testing.T) {
	// flight iteration 3 must consult the policy trained through iteration 2
	mode, err := NewMode(SessionConfig{Mode: ModeTest, Iteration: 3}, fixedPredictor{iteration: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err = mode.Tick(context.Background(), &TickInput{}); !errors.Is(err, dagger.ErrNoPolicy) {
		t.Errorf("expected ErrNoPolicy, got %v", err)
	}
}
