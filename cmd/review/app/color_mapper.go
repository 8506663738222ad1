package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/montanaflynn/stats"
)

// ColorTheme represents a predefined color scheme for feature values.
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white

	DefaultColorMapSize = 256 // Default number of colors in the map

	// Features are scaled between these percentiles so a few outliers do not
	// wash out the rest of the column
	lowPercentile  = 5
	highPercentile = 95

	// For 20 samples the 5th percentile is the 1st sample; below that the
	// bounds are the column's min and max
	minimumSampleCount = 20
)

var noDataColor = color.Black

// Bounds is the value range mapped onto the color map
type Bounds struct {
	Min float64
	Max float64
}

// PercentileBounds returns the 5th and 95th percentile of values. A flat
// column gets a unit range around its value.
func PercentileBounds(values []float64) Bounds {
	data := stats.Float64Data(values)

	lowFn, highFn := data.Min, data.Max
	if len(values) >= minimumSampleCount {
		lowFn = func() (float64, error) { return data.Percentile(lowPercentile) }
		highFn = func() (float64, error) { return data.Percentile(highPercentile) }
	}

	lo, err := lowFn()
	if err != nil {
		return Bounds{Min: 0, Max: 1}
	}
	hi, err := highFn()
	if err != nil {
		return Bounds{Min: 0, Max: 1}
	}

	if hi-lo < 1e-12 {
		return Bounds{Min: lo - 0.5, Max: lo + 0.5}
	}
	return Bounds{Min: lo, Max: hi}
}

// ColorMapper provides efficient value-to-color mapping with support for
// different color themes
type ColorMapper struct {
	colorMap      []color.Color // Pre-computed colors
	theme         func(float64) colorful.Color
	themeName     ColorTheme
	size          int
	valuePerIndex float64
	boundsMin     float64
}

// NewColorMapper creates a new color mapper with the default size
func NewColorMapper(theme ColorTheme, bounds Bounds) *ColorMapper {
	return NewColorMapperWithSize(theme, bounds, DefaultColorMapSize)
}

// NewColorMapperWithSize creates a new color mapper with size pre-computed colors
func NewColorMapperWithSize(theme ColorTheme, bounds Bounds, size int) *ColorMapper {
	if size <= 1 {
		size = DefaultColorMapSize
	}

	cm := &ColorMapper{
		colorMap:  make([]color.Color, size),
		theme:     getColorTheme(theme),
		themeName: theme,
		size:      size,
	}

	for i := 0; i < cm.size; i++ {
		cm.colorMap[i] = cm.theme(float64(i) / float64(cm.size-1)).Clamped()
	}
	cm.UpdateBounds(bounds)

	return cm
}

// UpdateBounds changes the value range without rebuilding the colors
func (cm *ColorMapper) UpdateBounds(bounds Bounds) {
	cm.boundsMin = bounds.Min
	cm.valuePerIndex = (bounds.Max - bounds.Min) / float64(cm.size-1)
}

// Color returns the color of v; NaN maps to the no-data color
func (cm *ColorMapper) Color(v float64) color.Color {
	if math.IsNaN(v) {
		return noDataColor
	}
	if cm.valuePerIndex <= 0 {
		return cm.colorMap[0]
	}

	index := int((v - cm.boundsMin) / cm.valuePerIndex)
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

// ThemeName returns the current color theme name
func (cm *ColorMapper) ThemeName() ColorTheme {
	return cm.themeName
}

func getColorTheme(theme ColorTheme) func(float64) colorful.Color {
	switch theme {
	case GrayscaleTheme:
		return func(v float64) colorful.Color {
			g := math.Pow(v, 0.7)
			return colorful.Color{R: g, G: g, B: g}
		}

	case JungleTheme:
		return func(v float64) colorful.Color {
			return colorful.Hsv(120-(v*60), 1, 0.3+(math.Pow(v, 0.6)*0.7))
		}

	case ThermalTheme:
		return func(v float64) colorful.Color {
			switch {
			case v < 0.33:
				return colorful.Color{R: v * 3}
			case v < 0.66:
				return colorful.Color{R: 1, G: (v - 0.33) * 3}
			default:
				return colorful.Color{R: 1, G: 1, B: (v - 0.66) * 3}
			}
		}

	case MarineTheme:
		return func(v float64) colorful.Color {
			return colorful.Hsv(240-(v*60), 1-(v*0.8), 0.3+(math.Pow(v, 0.6)*0.7))
		}

	default: // classic
		return func(v float64) colorful.Color {
			return colorful.Hsv(240-(v*240), 0.9+(v*0.1), math.Pow(v, 0.7))
		}
	}
}

// commandColor maps a stick axis in [-1, 1] onto blue, white and red
func commandColor(x float64) color.Color {
	if math.IsNaN(x) {
		return noDataColor
	}

	blue := colorful.Hsv(240, 1, 0.9)
	red := colorful.Hsv(0, 1, 0.9)
	white := colorful.Color{R: 1, G: 1, B: 1}

	x = math.Max(-1, math.Min(1, x))
	if x < 0 {
		return blue.BlendLab(white, 1+x).Clamped()
	}
	return white.BlendLab(red, x).Clamped()
}
