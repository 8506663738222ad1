package features

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"

	"github.com/disintegration/imaging"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/drone-dagger/internal/tiling"
)

const (
	// MotionLen is the number of motion statistics per tile
	MotionLen = 5

	// LineLen is the number of line endpoint coordinates per tile
	LineLen = 4

	// TextureLen is the number of texture energies per tile
	TextureLen = 8

	// TileLen is the number of visual features per tile
	TileLen = MotionLen + LineLen + TextureLen

	defaultTileWidth  = 64
	defaultTileHeight = 64
)

// Flow computes a dense motion field between two equally sized tiles. u and v
// hold one horizontal and one vertical component per pixel.
type Flow interface {
	Flow(prev, cur *Plane) (u, v []float64)
}

// Lines finds the leading straight line in a tile
type Lines interface {
	Line(p *Plane) (endpoints [LineLen]float64, ok bool)
}

// Texture computes texture energies Y_LL, Cr_LL, Cb_LL, Y_LE, Y_LS, Y_EE, Y_ES, Y_SS
type Texture interface {
	Texture(tile *image.NRGBA) [TextureLen]float64
}

// WithTileSize sets the reference shape every tile is resized to
func WithTileSize(width, height int) func(v *Visual) {
	return func(v *Visual) {
		v.tileWidth, v.tileHeight = width, height
	}
}

// WithFlow replaces the motion primitive
func WithFlow(f Flow) func(v *Visual) {
	return func(v *Visual) {
		v.flow = f
	}
}

// WithLines replaces the line primitive
func WithLines(l Lines) func(v *Visual) {
	return func(v *Visual) {
		v.lines = l
	}
}

// WithTexture replaces the texture primitive
func WithTexture(t Texture) func(v *Visual) {
	return func(v *Visual) {
		v.texture = t
	}
}

// WithParallelism limits the number of tiles processed at once
func WithParallelism(n int) func(v *Visual) {
	return func(v *Visual) {
		v.parallelism = n
	}
}

// Visual extracts motion, line and texture features from every tile of a frame.
// It keeps the previous frame's tiles for motion and is not safe for concurrent use.
type Visual struct {
	grid                  tiling.Grid
	tileWidth, tileHeight int
	parallelism           int

	flow    Flow
	lines   Lines
	texture Texture

	width, height int
	tiles         []tiling.Tile
	prev          []*Plane
}

// NewVisual creates a visual extractor with the default primitives
func NewVisual(grid tiling.Grid, options ...func(v *Visual)) (*Visual, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	v := Visual{
		grid:        grid,
		tileWidth:   defaultTileWidth,
		tileHeight:  defaultTileHeight,
		parallelism: runtime.GOMAXPROCS(0),
		flow:        LucasKanade{Radius: 2},
		lines:       NewHough(),
		texture:     Laws{},
	}

	for _, option := range options {
		option(&v)
	}

	if v.tileWidth < 3 || v.tileHeight < 3 {
		return nil, fmt.Errorf("tile size %dx%d is too small", v.tileWidth, v.tileHeight)
	}

	return &v, nil
}

// Len returns the length of the vector returned by Extract
func (v *Visual) Len() int {
	return v.grid.Count() * TileLen
}

// Extract computes the visual feature vector of img. The vector holds the
// motion block of every tile in row-major tile order, then every line block,
// then every texture block.
func (v *Visual) Extract(ctx context.Context, img image.Image) ([]float64, error) {
	if err := v.layout(img.Bounds()); err != nil {
		return nil, err
	}

	n := len(v.tiles)
	motion := make([][MotionLen]float64, n)
	lines := make([][LineLen]float64, n)
	texture := make([][TextureLen]float64, n)
	planes := make([]*Plane, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(v.parallelism, 1))

	for i, tile := range v.tiles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			rect := tile.Rect().Add(img.Bounds().Min)
			resized := imaging.Resize(imaging.Crop(img, rect), v.tileWidth, v.tileHeight, imaging.Linear)
			planes[i] = Luma(resized)

			var err error
			if motion[i], err = v.motion(v.prev[i], planes[i]); err != nil {
				return fmt.Errorf("tile %d: %w", i, err)
			}

			if endpoints, ok := v.lines.Line(planes[i]); ok {
				lines[i] = endpoints
			}

			texture[i] = v.texture.Texture(resized)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extracting visual features: %w", err)
	}

	v.prev = planes

	out := make([]float64, 0, v.Len())
	for _, m := range motion {
		out = append(out, m[:]...)
	}
	for _, l := range lines {
		out = append(out, l[:]...)
	}
	for _, t := range texture {
		out = append(out, t[:]...)
	}

	return out, nil
}

// Reset forgets the previous frame
func (v *Visual) Reset() {
	v.prev = make([]*Plane, len(v.tiles))
}

// layout computes the tiles once per frame size
func (v *Visual) layout(bounds image.Rectangle) error {
	if v.tiles != nil && bounds.Dx() == v.width && bounds.Dy() == v.height {
		return nil
	}

	windows, err := v.grid.Windows(bounds.Dx(), bounds.Dy())
	if err != nil {
		return err
	}

	v.tiles = v.tiles[:0]
	for _, row := range windows {
		v.tiles = append(v.tiles, row...)
	}

	v.width, v.height = bounds.Dx(), bounds.Dy()
	v.Reset()

	return nil
}

// motion returns min, max and mean flow magnitude and the standard deviation
// of both flow components; zeros without a previous tile
func (v *Visual) motion(prev, cur *Plane) ([MotionLen]float64, error) {
	var out [MotionLen]float64
	if prev == nil {
		return out, nil
	}

	u, w := v.flow.Flow(prev, cur)
	if len(u) == 0 || len(u) != len(w) {
		return out, fmt.Errorf("flow returned %d and %d components", len(u), len(w))
	}

	magnitude := make(stats.Float64Data, len(u))
	for i := range u {
		magnitude[i] = math.Hypot(u[i], w[i])
	}

	var err error
	if out[0], err = magnitude.Min(); err != nil {
		return out, err
	}
	if out[1], err = magnitude.Max(); err != nil {
		return out, err
	}
	if out[2], err = magnitude.Mean(); err != nil {
		return out, err
	}
	if out[3], err = stats.StandardDeviationPopulation(u); err != nil {
		return out, err
	}
	if out[4], err = stats.StandardDeviationPopulation(w); err != nil {
		return out, err
	}

	return out, nil
}
