package history

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/telemetry"
)

// Channels is the number of values tracked per sample
const Channels = 4

// spacingEpsilon absorbs rounding in exp(log(x)) before flooring
const spacingEpsilon = 1e-9

// Spacing returns the sorted, deduplicated window widths
// floor(logspace(0, log10(maxLength), numFeats)). It may hold fewer than
// numFeats widths.
func Spacing(numFeats, maxLength int) ([]int, error) {
	if numFeats < 1 || maxLength < 1 {
		return nil, fmt.Errorf("invalid history shape: %d features over %d samples", numFeats, maxLength)
	}

	if numFeats == 1 {
		return []int{1}, nil
	}

	widths := floats.LogSpan(make([]float64, numFeats), 1, float64(maxLength))

	spacing := make([]int, 0, numFeats)
	for _, w := range widths {
		s := int(math.Floor(w + spacingEpsilon))
		spacing = append(spacing, min(max(s, 1), maxLength))
	}

	slices.Sort(spacing)
	return slices.Compact(spacing), nil
}

// Buffer keeps the last maxLength samples of Channels values, most recent first
type Buffer struct {
	rows [Channels][]float64
}

// NewBuffer creates a zero-filled buffer
func NewBuffer(maxLength int) *Buffer {
	var b Buffer
	for i := range b.rows {
		b.rows[i] = make([]float64, maxLength)
	}
	return &b
}

// Update shifts every row right by one and stores sample in column 0
func (b *Buffer) Update(sample [Channels]float64) {
	for i, row := range b.rows {
		copy(row[1:], row[:len(row)-1])
		row[0] = sample[i]
	}
}

// Extract appends, for each width s in spacing, the mean of the first s
// columns of every row
func (b *Buffer) Extract(dst []float64, spacing []int) []float64 {
	for _, s := range spacing {
		for _, row := range b.rows {
			dst = append(dst, mean(row[:s]))
		}
	}
	return dst
}

// mean is a running mean, exact for constant input
func mean(values []float64) float64 {
	var m float64
	for i, v := range values {
		m += (v - m) / float64(i+1)
	}
	return m
}

// History summarises recent commands and telemetry into a fixed size vector
type History struct {
	spacing   []int
	commands  *Buffer
	telemetry *Buffer
}

// New creates a history of maxLength samples compressed into at most
// numFeats window widths
func New(numFeats, maxLength int) (*History, error) {
	spacing, err := Spacing(numFeats, maxLength)
	if err != nil {
		return nil, err
	}

	return &History{
		spacing:   spacing,
		commands:  NewBuffer(maxLength),
		telemetry: NewBuffer(maxLength),
	}, nil
}

// UpdateCommand records the X, Y, Z and R axes of cmd
func (h *History) UpdateCommand(cmd command.Command) {
	h.commands.Update(cmd.Axes())
}

// UpdateTelemetry records altitude, pitch, roll and yaw of t
func (h *History) UpdateTelemetry(t telemetry.Telemetry) {
	h.telemetry.Update(t.Values())
}

// Extract returns the command history features followed by the telemetry history features
func (h *History) Extract() []float64 {
	dst := make([]float64, 0, h.Len())
	dst = h.commands.Extract(dst, h.spacing)
	return h.telemetry.Extract(dst, h.spacing)
}

// Len returns the length of the vector returned by Extract
func (h *History) Len() int {
	return 2 * Channels * len(h.spacing)
}

// Spacing returns the window widths in use
func (h *History) Spacing() []int {
	return slices.Clone(h.spacing)
}
