package features

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"
)

// Laws 3-tap vectors: level, edge and spot
var (
	lawsL3 = [3]float64{1, 2, 1}
	lawsE3 = [3]float64{-1, 0, 1}
	lawsS3 = [3]float64{-1, 2, -1}
)

// lawsMask is the outer product of two vectors, scaled so that responses stay within [0, 255]
func lawsMask(a, b [3]float64) [9]float64 {
	var k [9]float64
	var sum float64
	for y := range 3 {
		for x := range 3 {
			k[y*3+x] = a[y] * b[x]
			sum += math.Abs(k[y*3+x])
		}
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

var (
	maskLL = lawsMask(lawsL3, lawsL3)
	maskLE = lawsMask(lawsL3, lawsE3)
	maskLS = lawsMask(lawsL3, lawsS3)
	maskEE = lawsMask(lawsE3, lawsE3)
	maskES = lawsMask(lawsE3, lawsS3)
	maskSS = lawsMask(lawsS3, lawsS3)
)

// Laws computes texture energies as the mean absolute response of Laws masks,
// normalised to [0, 1]. The level mask runs over luma and both chroma planes,
// the remaining masks over luma only.
type Laws struct{}

// Texture returns Y_LL, Cr_LL, Cb_LL, Y_LE, Y_LS, Y_EE, Y_ES, Y_SS
func (Laws) Texture(tile *image.NRGBA) [TextureLen]float64 {
	// pack Y, Cr and Cb into the R, G and B channels
	ycc := imaging.AdjustFunc(tile, func(c color.NRGBA) color.NRGBA {
		y, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
		return color.NRGBA{R: y, G: cr, B: cb, A: 255}
	})

	opts := &imaging.ConvolveOptions{Abs: true}

	ll := imaging.Convolve3x3(ycc, maskLL, opts)

	return [TextureLen]float64{
		energy(ll, 0),
		energy(ll, 1),
		energy(ll, 2),
		energy(imaging.Convolve3x3(ycc, maskLE, opts), 0),
		energy(imaging.Convolve3x3(ycc, maskLS, opts), 0),
		energy(imaging.Convolve3x3(ycc, maskEE, opts), 0),
		energy(imaging.Convolve3x3(ycc, maskES, opts), 0),
		energy(imaging.Convolve3x3(ycc, maskSS, opts), 0),
	}
}

// energy is the mean of one channel, scaled to [0, 1]
func energy(img *image.NRGBA, channel int) float64 {
	n := len(img.Pix) / 4
	if n == 0 {
		return 0
	}

	values := make([]float64, n)
	for i := range values {
		values[i] = float64(img.Pix[i*4+channel]) / 255
	}

	return stat.Mean(values, nil)
}
