package features

import (
	"math"
)

// Hough finds the strongest straight line among Sobel edge pixels
type Hough struct {
	// EdgeThreshold is the minimal gradient magnitude of an edge pixel, relative to the strongest one
	EdgeThreshold float64

	// MinEdge is the absolute minimal gradient magnitude of an edge pixel
	MinEdge float64

	// MinVotes is the minimal number of edge pixels on a line, relative to the tile's larger side
	MinVotes float64

	// Angles is the number of quantised line orientations
	Angles int
}

// NewHough returns a Hough detector with sensible defaults
func NewHough() Hough {
	return Hough{
		EdgeThreshold: 0.3,
		MinEdge:       64,
		MinVotes:      0.5,
		Angles:        90,
	}
}

// Line returns the endpoints (x1, y1, x2, y2) of the strongest line in p
func (h Hough) Line(p *Plane) (endpoints [LineLen]float64, ok bool) {
	edges := h.edges(p)
	if len(edges) == 0 {
		return endpoints, false
	}

	angles := max(h.Angles, 1)
	cos := make([]float64, angles)
	sin := make([]float64, angles)
	for a := range angles {
		theta := math.Pi * float64(a) / float64(angles)
		cos[a], sin[a] = math.Cos(theta), math.Sin(theta)
	}

	diag := int(math.Ceil(math.Hypot(float64(p.Width), float64(p.Height))))
	bins := 2*diag + 1
	votes := make([]int, angles*bins)

	bestVotes, bestAngle, bestRho := 0, 0, 0
	for _, e := range edges {
		for a := range angles {
			rho := int(math.Round(e.x*cos[a]+e.y*sin[a])) + diag
			k := a*bins + rho
			votes[k]++

			if votes[k] > bestVotes {
				bestVotes, bestAngle, bestRho = votes[k], a, rho-diag
			}
		}
	}

	if float64(bestVotes) < h.MinVotes*float64(max(p.Width, p.Height)) {
		return endpoints, false
	}

	// walk along the line direction to find the extreme edge pixels on it
	c, s := cos[bestAngle], sin[bestAngle]
	lo, hi := math.Inf(1), math.Inf(-1)
	var first, last edge
	for _, e := range edges {
		if math.Abs(e.x*c+e.y*s-float64(bestRho)) > 1 {
			continue
		}

		t := -e.x*s + e.y*c
		if t < lo {
			lo, first = t, e
		}
		if t > hi {
			hi, last = t, e
		}
	}

	return [LineLen]float64{first.x, first.y, last.x, last.y}, true
}

type edge struct {
	x, y float64
}

func (h Hough) edges(p *Plane) []edge {
	magnitude := make([]float64, len(p.Pix))

	var strongest float64
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			gx := p.At(x+1, y-1) + 2*p.At(x+1, y) + p.At(x+1, y+1) -
				p.At(x-1, y-1) - 2*p.At(x-1, y) - p.At(x-1, y+1)
			gy := p.At(x-1, y+1) + 2*p.At(x, y+1) + p.At(x+1, y+1) -
				p.At(x-1, y-1) - 2*p.At(x, y-1) - p.At(x+1, y-1)

			m := math.Hypot(gx, gy)
			magnitude[y*p.Width+x] = m
			strongest = max(strongest, m)
		}
	}

	threshold := max(strongest*h.EdgeThreshold, h.MinEdge)

	var edges []edge
	for i, m := range magnitude {
		if m >= threshold {
			edges = append(edges, edge{x: float64(i % p.Width), y: float64(i / p.Width)})
		}
	}

	return edges
}
