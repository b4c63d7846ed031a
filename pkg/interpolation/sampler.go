// Package interpolation resolves sub-voxel sample positions in a volume and
// fits smooth paths through control points.
package interpolation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
)

// Method selects how sub-voxel positions are resolved
type Method int

const (
	Trilinear Method = iota
	Nearest
)

// snap is the distance under which an index coordinate is treated as lying
// exactly on the grid
const snap = 1e-6

// Sampler reads a volume at continuous positions. It is safe for concurrent
// use because volumes are never modified after assembly.
type Sampler struct {
	vol        *models.Volume
	method     Method
	background float64
}

// NewSampler creates a sampler that returns background for positions
// outside the grid
func NewSampler(vol *models.Volume, method Method, background float64) *Sampler {
	return &Sampler{vol: vol, method: method, background: background}
}

// Background returns the out-of-volume fill value
func (s *Sampler) Background() float64 { return s.background }

// ToIndex converts a position in the volume frame (mm) to index coordinates
func (s *Sampler) ToIndex(p r3.Vec) (x, y, z float64) {
	return snapIndex(p.X / s.vol.Spacing.X), snapIndex(p.Y / s.vol.Spacing.Y), snapIndex(p.Z / s.vol.Spacing.Z)
}

// Sample returns the value at p (mm, volume frame) and whether p lies inside
// the grid
func (s *Sampler) Sample(p r3.Vec) (float64, bool) {
	x, y, z := s.ToIndex(p)
	if !s.vol.Contains(x, y, z) {
		return s.background, false
	}
	return s.at(x, y, z), true
}

// At returns the value at index coordinates, background outside the grid
func (s *Sampler) At(x, y, z float64) float64 {
	x, y, z = snapIndex(x), snapIndex(y), snapIndex(z)
	if !s.vol.Contains(x, y, z) {
		return s.background
	}
	return s.at(x, y, z)
}

func (s *Sampler) at(x, y, z float64) float64 {
	v := s.vol
	if s.method == Nearest {
		return v.At(int(math.Round(x)), int(math.Round(y)), int(math.Round(z)))
	}

	x0, fx := split(x, v.Width)
	y0, fy := split(y, v.Height)
	z0, fz := split(z, v.Depth)
	x1, y1, z1 := next(x0, v.Width), next(y0, v.Height), next(z0, v.Depth)

	c00 := lerp(v.At(x0, y0, z0), v.At(x1, y0, z0), fx)
	c10 := lerp(v.At(x0, y1, z0), v.At(x1, y1, z0), fx)
	c01 := lerp(v.At(x0, y0, z1), v.At(x1, y0, z1), fx)
	c11 := lerp(v.At(x0, y1, z1), v.At(x1, y1, z1), fx)

	return lerp(lerp(c00, c10, fy), lerp(c01, c11, fy), fz)
}

func split(c float64, n int) (int, float64) {
	i := int(math.Floor(c))
	if i >= n-1 {
		return n - 1, 0
	}
	return i, c - float64(i)
}

func next(i, n int) int {
	if i+1 >= n {
		return i
	}
	return i + 1
}

func lerp(a, b, t float64) float64 {
	if t == 0 {
		return a
	}
	return a + (b-a)*t
}

func snapIndex(c float64) float64 {
	if r := math.Round(c); math.Abs(c-r) < snap {
		return r
	}
	return c
}
