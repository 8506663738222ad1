package tiling

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrInvalidGrid is returned for grid shapes the tiler cannot honour
var ErrInvalidGrid = errors.New("invalid grid")

// Tile is a rectangular window of an image; the end bounds are exclusive
type Tile struct {
	XStart, XEnd int
	YStart, YEnd int
}

// Rect returns the tile as an image.Rectangle
func (t Tile) Rect() image.Rectangle {
	return image.Rect(t.XStart, t.YStart, t.XEnd, t.YEnd)
}

// Grid describes how a frame is split into tiles
type Grid struct {
	Cols    int     `yaml:"cols"`
	Rows    int     `yaml:"rows"`
	Overlap float64 `yaml:"overlap"` // fraction in [0, 1]
}

// Validate checks the grid on its own, without an image size
func (g Grid) Validate() error {
	switch {
	case g.Cols <= 0 || g.Rows <= 0:
		return fmt.Errorf("%w: %dx%d cells", ErrInvalidGrid, g.Cols, g.Rows)
	case math.IsNaN(g.Overlap) || g.Overlap < 0 || g.Overlap > 1:
		return fmt.Errorf("%w: overlap %v outside [0, 1]", ErrInvalidGrid, g.Overlap)
	}
	return nil
}

// Windows splits a width x height image into a rows x cols matrix of tiles.
//
// Each cell is floor(width/cols) by floor(height/rows) pixels, widened on every
// side by floor(cell*overlap/4) pixels and clamped to the image. The last
// column and row absorb the division remainder, so with no overlap the tiles
// partition the image exactly.
func (g Grid) Windows(width, height int) ([][]Tile, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	switch {
	case width <= 0 || height <= 0:
		return nil, fmt.Errorf("%w: image size %dx%d", ErrInvalidGrid, width, height)
	case g.Cols > width || g.Rows > height:
		return nil, fmt.Errorf("%w: %dx%d cells finer than %dx%d image", ErrInvalidGrid, g.Cols, g.Rows, width, height)
	}

	baseX, baseY := width/g.Cols, height/g.Rows
	overlapX := int(math.Floor(float64(baseX) * g.Overlap / 4))
	overlapY := int(math.Floor(float64(baseY) * g.Overlap / 4))

	tiles := make([][]Tile, g.Rows)
	for r := 0; r < g.Rows; r++ {
		tiles[r] = make([]Tile, g.Cols)

		yStart, yEnd := span(r, g.Rows, baseY, overlapY, height)
		for c := 0; c < g.Cols; c++ {
			xStart, xEnd := span(c, g.Cols, baseX, overlapX, width)
			tiles[r][c] = Tile{XStart: xStart, XEnd: xEnd, YStart: yStart, YEnd: yEnd}
		}
	}

	return tiles, nil
}

// Count returns the number of tiles in the grid
func (g Grid) Count() int {
	return g.Cols * g.Rows
}

func span(i, count, base, overlap, limit int) (start, end int) {
	start = max(base*i-overlap, 0)
	end = min(base*(i+1)+overlap, limit)

	if i == count-1 {
		end = limit
	}
	return start, end
}

// Windows is a shorthand for Grid{cols, rows, overlap}.Windows(width, height)
func Windows(width, height, cols, rows int, overlap float64) ([][]Tile, error) {
	return Grid{Cols: cols, Rows: rows, Overlap: overlap}.Windows(width, height)
}
