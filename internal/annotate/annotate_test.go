package annotate

import (
	"image"
	"image/color"
	"testing"

	"github.com/roman-kulish/drone-dagger/internal/command"
)

func TestTarget(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)

	tests := []struct {
		name string
		cmd  command.Command
		want image.Point
	}{
		{name: "hover", cmd: command.Command{}, want: image.Pt(100, 50)},
		{name: "full right", cmd: command.Command{X: 1}, want: image.Pt(200, 50)},
		{name: "half left and up", cmd: command.Command{X: -0.5, Y: 0.5}, want: image.Pt(50, 25)},
		{name: "clamped", cmd: command.Command{Y: -3}, want: image.Pt(100, 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Target(bounds, tt.cmd); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAnnotator_Annotate(t *testing.T) {
	a, err := NewAnnotator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame := image.NewNRGBA(image.Rect(0, 0, 160, 120))
	for i := range frame.Pix {
		frame.Pix[i] = 128
	}

	drone := command.Command{X: 0.5}
	expert := command.Command{X: -0.5}

	img, err := a.Annotate(frame, Overlay{Timestep: 3, Drone: drone, Expert: &expert})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if img.Bounds() != frame.Bounds() {
		t.Fatalf("expected bounds %v, got %v", frame.Bounds(), img.Bounds())
	}

	if got := img.RGBAAt(Target(img.Bounds(), drone).X, 60); got != DroneColor {
		t.Errorf("expected drone crosshair colour, got %v", got)
	}
	if got := img.RGBAAt(Target(img.Bounds(), expert).X, 60); got != ExpertColor {
		t.Errorf("expected expert crosshair colour, got %v", got)
	}

	// the source frame is left untouched
	if got := frame.NRGBAAt(120, 60); got != (color.NRGBA{R: 128, G: 128, B: 128, A: 128}) {
		t.Errorf("source frame modified: %v", got)
	}
}

func TestAnnotator_AnnotateWithoutExpert(t *testing.T) {
	a, err := NewAnnotator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	img, err := a.Annotate(frame, Overlay{Timestep: 1, Drone: command.Command{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := Target(img.Bounds(), command.Command{X: -0.5})
	if got := img.RGBAAt(p.X, p.Y); got == ExpertColor {
		t.Errorf("unexpected expert crosshair")
	}
}
