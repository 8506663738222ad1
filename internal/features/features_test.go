package features

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/roman-kulish/drone-dagger/internal/tiling"
)

// pattern draws a smooth periodic texture shifted by dx pixels
func pattern(w, h int, dx float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx := float64(x) - dx
			v := 128 + 60*math.Sin(fx/3) + 40*math.Cos(float64(y)/4)
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(v), G: uint8(v), B: uint8(255 - v), A: 255})
		}
	}
	return img
}

type constFlow struct{ u, v float64 }

func (f constFlow) Flow(prev, cur *Plane) ([]float64, []float64) {
	u := make([]float64, len(cur.Pix))
	v := make([]float64, len(cur.Pix))
	for i := range u {
		u[i], v[i] = f.u, f.v
	}
	return u, v
}

type constLines struct{}

func (constLines) Line(p *Plane) ([LineLen]float64, bool) {
	return [LineLen]float64{1, 2, 3, 4}, true
}

type constTexture struct{}

func (constTexture) Texture(tile *image.NRGBA) [TextureLen]float64 {
	return [TextureLen]float64{10, 11, 12, 13, 14, 15, 16, 17}
}

func TestVisual_Layout(t *testing.T) {
	grid := tiling.Grid{Cols: 4, Rows: 2, Overlap: 0.25}

	v, err := NewVisual(grid,
		WithTileSize(8, 8),
		WithFlow(constFlow{u: 3, v: 4}),
		WithLines(constLines{}),
		WithTexture(constTexture{}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img := pattern(64, 32, 0)

	first, err := v.Extract(context.Background(), img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != v.Len() || v.Len() != 8*TileLen {
		t.Fatalf("expected %d features, got %d", v.Len(), len(first))
	}

	n := grid.Count()
	for i := 0; i < n*MotionLen; i++ {
		if first[i] != 0 {
			t.Fatalf("expected zero motion on the first frame, got %v at %d", first[i], i)
		}
	}

	second, err := v.Extract(context.Background(), img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for tile := 0; tile < n; tile++ {
		m := second[tile*MotionLen : (tile+1)*MotionLen]
		if m[0] != 5 || m[1] != 5 || m[2] != 5 || m[3] != 0 || m[4] != 0 {
			t.Errorf("tile %d: unexpected motion block %v", tile, m)
		}

		l := second[n*MotionLen+tile*LineLen : n*MotionLen+(tile+1)*LineLen]
		if l[0] != 1 || l[3] != 4 {
			t.Errorf("tile %d: unexpected line block %v", tile, l)
		}

		tx := second[n*(MotionLen+LineLen)+tile*TextureLen : n*(MotionLen+LineLen)+(tile+1)*TextureLen]
		if tx[0] != 10 || tx[7] != 17 {
			t.Errorf("tile %d: unexpected texture block %v", tile, tx)
		}
	}
}

func TestVisual_DefaultPrimitives(t *testing.T) {
	v, err := NewVisual(tiling.Grid{Cols: 2, Rows: 2, Overlap: 0.25}, WithTileSize(16, 16))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err = v.Extract(context.Background(), pattern(64, 64, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	feats, err := v.Extract(context.Background(), pattern(64, 64, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, f := range feats {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			t.Fatalf("feature %d is not finite: %v", i, f)
		}
	}

	if maxMagnitude := feats[1]; maxMagnitude <= 0 {
		t.Errorf("expected motion between shifted frames, got max magnitude %v", maxMagnitude)
	}

	textureStart := 4 * (MotionLen + LineLen)
	if yLL := feats[textureStart]; yLL <= 0 || yLL > 1 {
		t.Errorf("expected Y_LL energy in (0, 1], got %v", yLL)
	}
}

func TestVisual_GridFinerThanImage(t *testing.T) {
	v, err := NewVisual(tiling.Grid{Cols: 10, Rows: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err = v.Extract(context.Background(), pattern(8, 8, 0)); err == nil {
		t.Errorf("expected an error for a grid finer than the image")
	}
}

func TestLucasKanade_Shift(t *testing.T) {
	prev := Luma(pattern(32, 32, 0))
	cur := Luma(pattern(32, 32, 1))

	u, v := LucasKanade{Radius: 2}.Flow(prev, cur)

	var sumU, sumV float64
	var n int
	for y := 4; y < 28; y++ {
		for x := 4; x < 28; x++ {
			sumU += u[y*32+x]
			sumV += v[y*32+x]
			n++
		}
	}

	meanU, meanV := sumU/float64(n), sumV/float64(n)
	if meanU < 0.5 || meanU > 1.5 {
		t.Errorf("expected horizontal motion close to 1 px, got %v", meanU)
	}
	if math.Abs(meanV) > 0.5 {
		t.Errorf("expected little vertical motion, got %v", meanV)
	}
}

func TestHough_VerticalLine(t *testing.T) {
	p := NewPlane(32, 32)
	for y := 0; y < 32; y++ {
		for x := 16; x < 32; x++ {
			p.Pix[y*32+x] = 255
		}
	}

	line, ok := NewHough().Line(p)
	if !ok {
		t.Fatalf("expected a line")
	}

	if math.Abs(line[0]-line[2]) > 1 {
		t.Errorf("expected a vertical line, got %v", line)
	}
	if math.Abs(line[1]-line[3]) < 16 {
		t.Errorf("expected a long line, got %v", line)
	}
}

func TestHough_Flat(t *testing.T) {
	if _, ok := NewHough().Line(NewPlane(16, 16)); ok {
		t.Errorf("expected no line in a flat tile")
	}
}
