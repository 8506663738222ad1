package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/roman-kulish/drone-dagger/internal/command"
)

const (
	dpi     float64 = 72
	hinting string  = "full"
	size    float64 = 14
	spacing float64 = 1.1
)

var (
	// DroneColor marks the command the drone flew
	DroneColor = color.RGBA{B: 255, A: 255}

	// ExpertColor marks the expert label
	ExpertColor = color.RGBA{R: 255, A: 255}
)

// Annotator draws drone and expert commands over a recorded frame
type Annotator struct {
	context *freetype.Context
}

func NewAnnotator() (*Annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(size)
	context.SetSrc(image.White)

	switch hinting {
	case "full":
		context.SetHinting(font.HintingFull)
	default:
		context.SetHinting(font.HintingNone)
	}

	return &Annotator{context: context}, nil
}

// Overlay is what gets drawn on a frame
type Overlay struct {
	Timestep int
	Drone    command.Command
	Expert   *command.Command // nil until the pilot labels the frame
}

// Annotate returns a copy of frame with the overlay drawn on it
func (a *Annotator) Annotate(frame image.Image, o Overlay) (*image.RGBA, error) {
	img := image.NewRGBA(frame.Bounds())
	draw.Draw(img, img.Bounds(), frame, frame.Bounds().Min, draw.Src)

	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, Overlay) error
	}{
		{"drawing drone command", a.drawDrone},
		{"drawing expert command", a.drawExpert},
		{"drawing info", a.drawInfo},
	}
	for _, op := range ops {
		if err := op.fn(img, o); err != nil {
			return nil, fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return img, nil
}

func (a *Annotator) drawDrone(img *image.RGBA, o Overlay) error {
	Crosshair(img, o.Drone, DroneColor)
	return nil
}

func (a *Annotator) drawExpert(img *image.RGBA, o Overlay) error {
	if o.Expert != nil {
		Crosshair(img, *o.Expert, ExpertColor)
	}
	return nil
}

func (a *Annotator) drawInfo(img *image.RGBA, o Overlay) error {
	lines := []string{
		fmt.Sprintf("%s frame", humanize.Ordinal(o.Timestep)),
		"drone: " + axes(o.Drone),
	}
	if o.Expert != nil {
		lines = append(lines, "expert: "+axes(*o.Expert))
	}

	pt := freetype.Pt(img.Bounds().Min.X+3, img.Bounds().Min.Y+int(size)+2)
	for _, s := range lines {
		if _, err := a.context.DrawString(s, pt); err != nil {
			return err
		}
		pt.Y += a.context.PointToFixed(size * spacing)
	}

	return nil
}

func axes(c command.Command) string {
	return fmt.Sprintf("X %s  Y %s", humanize.FtoaWithDigits(c.X, 2), humanize.FtoaWithDigits(c.Y, 2))
}

// Target returns where a command points to on an image: the centre moved by X
// half-widths to the right and Y half-heights up
func Target(bounds image.Rectangle, c command.Command) image.Point {
	c = c.Clamp()

	w, h := bounds.Dx(), bounds.Dy()
	center := image.Pt(bounds.Min.X+w/2, bounds.Min.Y+h/2)

	return center.Add(image.Pt(int(c.X*float64(w)/2), int(-c.Y*float64(h)/2)))
}

// Crosshair draws a cross centred on the target of c
func Crosshair(img draw.Image, c command.Command, col color.Color) {
	b := img.Bounds()
	p := Target(b, c)
	arm := max(min(b.Dx(), b.Dy())/20, 2)

	for d := -arm; d <= arm; d++ {
		for t := -1; t <= 1; t++ {
			if q := image.Pt(p.X+d, p.Y+t); q.In(b) {
				img.Set(q.X, q.Y, col)
			}
			if q := image.Pt(p.X+t, p.Y+d); q.In(b) {
				img.Set(q.X, q.Y, col)
			}
		}
	}
}
