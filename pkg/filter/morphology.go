// Package filter provides voxel-grid filters used before surface extraction:
// binary morphology on masks and separable gaussian smoothing.
package filter

import (
	"fmt"
	"sync"
)

// Mask is a binary voxel grid laid out like a volume, index z*W*H + y*W + x
type Mask struct {
	Bits   []bool
	Width  int
	Height int
	Depth  int
}

// NewMask allocates an empty mask
func NewMask(width, height, depth int) *Mask {
	return &Mask{Bits: make([]bool, width*height*depth), Width: width, Height: height, Depth: depth}
}

// Threshold builds a mask of the voxels whose value lies in [lo, hi]
func Threshold(data []float64, width, height, depth int, lo, hi float64) (*Mask, error) {
	if len(data) != width*height*depth {
		return nil, fmt.Errorf("data length %d does not match %dx%dx%d", len(data), width, height, depth)
	}
	m := NewMask(width, height, depth)
	for i, v := range data {
		m.Bits[i] = v >= lo && v <= hi
	}
	return m, nil
}

// Get reports whether (x, y, z) is set; out-of-grid voxels are unset
func (m *Mask) Get(x, y, z int) bool {
	if x < 0 || y < 0 || z < 0 || x >= m.Width || y >= m.Height || z >= m.Depth {
		return false
	}
	return m.Bits[z*m.Width*m.Height+y*m.Width+x]
}

// Count returns the number of set voxels
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Values converts the mask to 0/1 floats for surface extraction
func (m *Mask) Values() []float64 {
	out := make([]float64, len(m.Bits))
	for i, b := range m.Bits {
		if b {
			out[i] = 1
		}
	}
	return out
}

// 6-connected neighbourhood
var neighbours = [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}

// Dilate sets every voxel that has a set voxel in its 6-neighbourhood
func Dilate(m *Mask) *Mask {
	return morph(m, func(x, y, z int) bool {
		if m.Get(x, y, z) {
			return true
		}
		for _, n := range neighbours {
			if m.Get(x+n[0], y+n[1], z+n[2]) {
				return true
			}
		}
		return false
	})
}

// Erode keeps only voxels whose whole 6-neighbourhood is set. Neighbours
// outside the grid count as unset.
func Erode(m *Mask) *Mask {
	return morph(m, func(x, y, z int) bool {
		if !m.Get(x, y, z) {
			return false
		}
		for _, n := range neighbours {
			if !m.Get(x+n[0], y+n[1], z+n[2]) {
				return false
			}
		}
		return true
	})
}

// Close fills small holes and gaps: iterations dilations followed by the
// same number of erosions
func Close(m *Mask, iterations int) *Mask {
	out := m
	for i := 0; i < iterations; i++ {
		out = Dilate(out)
	}
	for i := 0; i < iterations; i++ {
		out = Erode(out)
	}
	return out
}

// morph evaluates keep for every voxel, one goroutine per slice
func morph(m *Mask, keep func(x, y, z int) bool) *Mask {
	out := NewMask(m.Width, m.Height, m.Depth)
	var wg sync.WaitGroup
	for z := 0; z < m.Depth; z++ {
		wg.Add(1)
		go func(z int) {
			defer wg.Done()
			base := z * m.Width * m.Height
			for y := 0; y < m.Height; y++ {
				for x := 0; x < m.Width; x++ {
					out.Bits[base+y*m.Width+x] = keep(x, y, z)
				}
			}
		}(z)
	}
	wg.Wait()
	return out
}
