package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

const (
	dpi            = 72.0
	fontSize       = 12.0
	tickMarkHeight = 5
	pixelsPerLabel = 120

	stripWidth = 12
	stripGap   = 6

	// Default border sizes in pixels
	defaultTopBorder    = 30
	defaultLeftBorder   = 60
	defaultBottomBorder = 70
	defaultRightBorder  = 20
)

// TrajectoryData is a recorded trajectory loaded for review
type TrajectoryData struct {
	Iteration  int
	Trajectory int

	Rows   []trajectory.Row
	Drone  []command.Command
	Expert []command.Command // nil when the trajectory has no expert labels

	Width  int      // features per row
	Height int      // timesteps
	Bounds []Bounds // color range of every feature column
}

// LoadTrajectory reads the features and commands of a trajectory
func LoadTrajectory(root string, iteration, traj int) (*TrajectoryData, error) {
	dir := trajectory.Dir(root, iteration, traj)

	rows, err := trajectory.LoadFeatures(filepath.Join(dir, trajectory.FeaturesFile))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("trajectory %s has no features", dir)
	}

	drone, err := trajectory.LoadCommands(filepath.Join(dir, trajectory.DroneCommandsFile))
	if err != nil {
		return nil, err
	}

	expert, err := trajectory.LoadCommands(filepath.Join(dir, trajectory.ExpertCommandsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	d := TrajectoryData{
		Iteration:  iteration,
		Trajectory: traj,
		Rows:       rows,
		Drone:      drone,
		Expert:     expert,
		Width:      len(rows[0].Features),
		Height:     len(rows),
	}

	column := make([]float64, d.Height)
	for x := 0; x < d.Width; x++ {
		for y, row := range rows {
			column[y] = row.Features[x]
		}
		d.Bounds = append(d.Bounds, PercentileBounds(column))
	}

	return &d, nil
}

// BorderConfig defines the sizes of white space around the heatmap
type BorderConfig struct {
	Top    int // Space for the feature scale
	Left   int // Space for the timestep scale
	Bottom int // Space for the information bar
	Right  int // Right padding after the command strips
}

// RenderConfig holds all configuration options for heatmap visualization
type RenderConfig struct {
	FontSize     float64
	ColorTheme   ColorTheme
	CellSize     int
	BorderConfig BorderConfig
}

// HeatmapRenderer draws one row per timestep and one column per feature,
// followed by the drone and expert X commands as two strips
type HeatmapRenderer struct {
	config   RenderConfig
	colorMap *ColorMapper
}

// NewHeatmapRenderer creates a new renderer with the given configuration
func NewHeatmapRenderer(config RenderConfig) *HeatmapRenderer {
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.CellSize <= 0 {
		config.CellSize = 1
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &HeatmapRenderer{
		config:   config,
		colorMap: NewColorMapper(config.ColorTheme, Bounds{Min: 0, Max: 1}),
	}
}

// Area returns the rectangle holding the feature cells
func (r *HeatmapRenderer) Area(d *TrajectoryData) image.Rectangle {
	b := r.config.BorderConfig
	return image.Rect(b.Left, b.Top, b.Left+d.Width*r.config.CellSize, b.Top+d.Height*r.config.CellSize)
}

// Render creates an image of the trajectory with annotations
func (r *HeatmapRenderer) Render(d *TrajectoryData) (*image.RGBA, error) {
	area := r.Area(d)
	fullWidth := area.Max.X + 2*(stripGap+stripWidth) + r.config.BorderConfig.Right
	fullHeight := area.Max.Y + r.config.BorderConfig.Bottom

	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	ann, err := newAnnotator(r.config.FontSize)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}

	ops := []struct {
		msg string
		fn  func(*image.RGBA, image.Rectangle, *TrajectoryData) error
	}{
		{"drawing feature scale", ann.drawFeatureScale(r.config.CellSize)},
		{"drawing timestep scale", ann.drawTimestepScale(r.config.CellSize)},
		{"drawing info", ann.drawInfo(r.config.ColorTheme)},
	}
	for _, op := range ops {
		if err = op.fn(img, area, d); err != nil {
			return nil, fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	r.renderFeatures(img, area, d)
	r.renderCommands(img, area, d)

	return img, nil
}

// renderFeatures scales every column by its own bounds
func (r *HeatmapRenderer) renderFeatures(img *image.RGBA, area image.Rectangle, d *TrajectoryData) {
	cell := r.config.CellSize

	for x := 0; x < d.Width; x++ {
		r.colorMap.UpdateBounds(d.Bounds[x])

		for y, row := range d.Rows {
			v := math.NaN()
			if x < len(row.Features) {
				v = row.Features[x]
			}

			rect := image.Rect(0, 0, cell, cell).Add(area.Min).Add(image.Pt(x*cell, y*cell))
			draw.Draw(img, rect, image.NewUniform(r.colorMap.Color(v)), image.Point{}, draw.Src)
		}
	}
}

func (r *HeatmapRenderer) renderCommands(img *image.RGBA, area image.Rectangle, d *TrajectoryData) {
	strips := [][]command.Command{d.Drone, d.Expert}

	for i, cmds := range strips {
		left := area.Max.X + stripGap + i*(stripWidth+stripGap)

		for y := 0; y < d.Height; y++ {
			x := math.NaN()
			if y < len(cmds) {
				x = cmds[y].X
			}

			rect := image.Rect(left, area.Min.Y+y*r.config.CellSize, left+stripWidth, area.Min.Y+(y+1)*r.config.CellSize)
			draw.Draw(img, rect, image.NewUniform(commandColor(x)), image.Point{}, draw.Src)
		}
	}
}

type annotator struct {
	context *freetype.Context
	size    float64
}

func newAnnotator(size float64) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(size)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{context: ctx, size: size}, nil
}

func (a *annotator) bind(img *image.RGBA) {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)
}

func (a *annotator) drawFeatureScale(cell int) func(*image.RGBA, image.Rectangle, *TrajectoryData) error {
	return func(img *image.RGBA, area image.Rectangle, d *TrajectoryData) error {
		a.bind(img)

		step := max(pixelsPerLabel/cell, 1)
		for f := 0; f < d.Width; f += step {
			px := area.Min.X + f*cell

			for i := 0; i < tickMarkHeight; i++ {
				img.Set(px, area.Min.Y-1-i, color.Black)
			}

			if _, err := a.context.DrawString(humanize.Comma(int64(f)), freetype.Pt(px+2, area.Min.Y-tickMarkHeight-2)); err != nil {
				return err
			}
		}
		return nil
	}
}

func (a *annotator) drawTimestepScale(cell int) func(*image.RGBA, image.Rectangle, *TrajectoryData) error {
	return func(img *image.RGBA, area image.Rectangle, d *TrajectoryData) error {
		a.bind(img)

		step := max(pixelsPerLabel/cell, 1)
		for y := 0; y < d.Height; y += step {
			py := area.Min.Y + y*cell

			for i := 0; i < tickMarkHeight; i++ {
				img.Set(area.Min.X-1-i, py, color.Black)
			}

			label := humanize.Comma(int64(d.Rows[y].Timestep))
			if _, err := a.context.DrawString(label, freetype.Pt(3, py+int(a.size))); err != nil {
				return err
			}
		}
		return nil
	}
}

func (a *annotator) drawInfo(theme ColorTheme) func(*image.RGBA, image.Rectangle, *TrajectoryData) error {
	return func(img *image.RGBA, area image.Rectangle, d *TrajectoryData) error {
		a.bind(img)

		labelled := "no expert labels"
		if d.Expert != nil {
			labelled = fmt.Sprintf("%s expert labels", humanize.Comma(int64(len(d.Expert))))
		}

		lines := []string{
			fmt.Sprintf("Iteration %d, %s trajectory", d.Iteration, humanize.Ordinal(d.Trajectory)),
			fmt.Sprintf("%s timesteps x %s features, %s", humanize.Comma(int64(d.Height)), humanize.Comma(int64(d.Width)), labelled),
			fmt.Sprintf("Theme %s, strips: drone X then expert X", theme),
		}

		pt := freetype.Pt(3, area.Max.Y+int(a.size)+10)
		for _, s := range lines {
			if _, err := a.context.DrawString(s, pt); err != nil {
				return err
			}
			pt.Y += a.context.PointToFixed(a.size * 1.3)
		}
		return nil
	}
}
