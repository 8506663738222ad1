package features

import "image"

// Plane is a single channel image with float samples in [0, 255]
type Plane struct {
	Width, Height int
	Pix           []float64
}

// NewPlane allocates a zero plane
func NewPlane(width, height int) *Plane {
	return &Plane{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the sample at (x, y), replicating the border outside the plane
func (p *Plane) At(x, y int) float64 {
	x = min(max(x, 0), p.Width-1)
	y = min(max(y, 0), p.Height-1)
	return p.Pix[y*p.Width+x]
}

// Luma converts an NRGBA image into its Rec. 601 luma plane
func Luma(img *image.NRGBA) *Plane {
	b := img.Bounds()
	p := NewPlane(b.Dx(), b.Dy())

	for y := 0; y < p.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+p.Width*4]
		for x := 0; x < p.Width; x++ {
			r, g, bl := float64(row[x*4]), float64(row[x*4+1]), float64(row[x*4+2])
			p.Pix[y*p.Width+x] = 0.299*r + 0.587*g + 0.114*bl
		}
	}

	return p
}
