package features

// minDeterminant rejects windows without enough texture to solve for motion
const minDeterminant = 1e-6

// LucasKanade estimates per-pixel motion by solving the optical flow
// constraint in a (2*Radius+1)^2 window around every pixel
type LucasKanade struct {
	Radius int
}

// Flow returns the horizontal and vertical motion components of every pixel
func (lk LucasKanade) Flow(prev, cur *Plane) (u, v []float64) {
	w, h := cur.Width, cur.Height
	n := w * h

	ix := make([]float64, n)
	iy := make([]float64, n)
	it := make([]float64, n)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			ix[i] = (cur.At(x+1, y) - cur.At(x-1, y) + prev.At(x+1, y) - prev.At(x-1, y)) / 4
			iy[i] = (cur.At(x, y+1) - cur.At(x, y-1) + prev.At(x, y+1) - prev.At(x, y-1)) / 4
			it[i] = cur.Pix[i] - prev.At(x, y)
		}
	}

	u = make([]float64, n)
	v = make([]float64, n)

	r := max(lk.Radius, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sxx, sxy, syy, sxt, syt float64

			for wy := max(y-r, 0); wy <= min(y+r, h-1); wy++ {
				for wx := max(x-r, 0); wx <= min(x+r, w-1); wx++ {
					j := wy*w + wx
					sxx += ix[j] * ix[j]
					sxy += ix[j] * iy[j]
					syy += iy[j] * iy[j]
					sxt += ix[j] * it[j]
					syt += iy[j] * it[j]
				}
			}

			det := sxx*syy - sxy*sxy
			if det < minDeterminant {
				continue
			}

			i := y*w + x
			u[i] = (-syy*sxt + sxy*syt) / det
			v[i] = (sxy*sxt - sxx*syt) / det
		}
	}

	return u, v
}
