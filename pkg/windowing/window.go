package windowing

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrInvalidWindow is returned for windows with a non-positive width
var ErrInvalidWindow = errors.New("window width must be positive")

// BitDepth selects the display quantisation
type BitDepth int

const (
	Depth8  BitDepth = 8
	Depth16 BitDepth = 16
)

// MaxLevel returns the largest display value for the depth
func (d BitDepth) MaxLevel() float64 {
	if d == Depth16 {
		return math.MaxUint16
	}
	return math.MaxUint8
}

// Rescale is the linear modality transform from stored to calibrated values
type Rescale struct {
	Slope     float64
	Intercept float64
}

// Identity is the rescale for values that are already calibrated
var Identity = Rescale{Slope: 1}

func (r Rescale) apply(v float64) float64 {
	slope := r.Slope
	if slope == 0 {
		slope = 1
	}
	return v*slope + r.Intercept
}

// Options controls display conversion
type Options struct {
	Depth  BitDepth
	Invert bool
}

// Normalize maps raw values to [0,1]:
// clamp((raw*slope + intercept - (center - width/2)) / width, 0, 1)
func Normalize(raw []float64, r Rescale, s Setting) ([]float64, error) {
	if s.Width <= 0 {
		return nil, fmt.Errorf("%w: %g", ErrInvalidWindow, s.Width)
	}
	out := make([]float64, len(raw))
	lower := s.Lower()
	for i, v := range raw {
		out[i] = clamp01((r.apply(v) - lower) / s.Width)
	}
	return out, nil
}

// Apply windows a width x height buffer into an 8-bit *image.Gray or a
// 16-bit *image.Gray16
func Apply(raw []float64, width, height int, r Rescale, s Setting, opts Options) (image.Image, error) {
	if len(raw) != width*height {
		return nil, fmt.Errorf("buffer has %d values, want %dx%d", len(raw), width, height)
	}
	unit, err := Normalize(raw, r, s)
	if err != nil {
		return nil, err
	}
	return Quantize(unit, width, height, opts), nil
}

// Quantize converts [0,1] values to a grayscale image of the requested depth
func Quantize(unit []float64, width, height int, opts Options) image.Image {
	maxLevel := opts.Depth.MaxLevel()
	level := func(u float64) float64 {
		if opts.Invert {
			u = 1 - u
		}
		return math.Round(clamp01(u) * maxLevel)
	}

	rect := image.Rect(0, 0, width, height)
	if opts.Depth == Depth16 {
		img := image.NewGray16(rect)
		for i, u := range unit {
			v := uint16(level(u))
			img.Pix[2*i] = uint8(v >> 8)
			img.Pix[2*i+1] = uint8(v)
		}
		return img
	}

	img := image.NewGray(rect)
	for i, u := range unit {
		img.Pix[i] = uint8(level(u))
	}
	return img
}

// AutoWindow derives a window from image statistics. CT uses the mean and
// three standard deviations (width capped at 2000); other modalities span
// the 5th to 95th percentile.
func AutoWindow(values []float64, modality string) Setting {
	if len(values) == 0 {
		return Setting{Width: 2000, Center: 1000}
	}
	if modality == "CT" {
		mean, std := stat.MeanStdDev(values, nil)
		return Setting{Width: math.Max(1, math.Min(3*std, 2000)), Center: mean}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	p5 := stat.Quantile(0.05, stat.Empirical, sorted, nil)
	p95 := stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return Setting{Width: math.Max(1, p95-p5), Center: (p95 + p5) / 2}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}
