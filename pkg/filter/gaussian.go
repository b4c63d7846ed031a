package filter

import (
	"fmt"
	"math"
	"sync"
)

// GaussianKernel returns a normalised 1D kernel of radius ceil(3*sigma)
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// Gaussian smooths a volume buffer with a separable gaussian of the given
// sigma (in voxels). Borders are clamped. The input is not modified.
//
// Parameters:
//   - data: voxel values, index z*W*H + y*W + x
//   - width, height, depth: grid dimensions
//   - sigma: standard deviation in voxels; zero or less returns a copy
func Gaussian(data []float64, width, height, depth int, sigma float64) ([]float64, error) {
	if len(data) != width*height*depth {
		return nil, fmt.Errorf("data length %d does not match %dx%dx%d", len(data), width, height, depth)
	}
	out := make([]float64, len(data))
	copy(out, data)
	if sigma <= 0 {
		return out, nil
	}

	kernel := GaussianKernel(sigma)
	strides := [3]int{1, width, width * height}
	sizes := [3]int{width, height, depth}
	for axis := 0; axis < 3; axis++ {
		if sizes[axis] < 2 {
			continue
		}
		out = convolveAxis(out, width, height, depth, kernel, strides[axis], sizes[axis], axis)
	}
	return out, nil
}

// convolveAxis applies kernel along one axis, parallel over slices
func convolveAxis(src []float64, width, height, depth int, kernel []float64, stride, size, axis int) []float64 {
	dst := make([]float64, len(src))
	radius := len(kernel) / 2

	var wg sync.WaitGroup
	for z := 0; z < depth; z++ {
		wg.Add(1)
		go func(z int) {
			defer wg.Done()
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					idx := z*width*height + y*width + x
					pos := [3]int{x, y, z}[axis]
					sum := 0.0
					for k := -radius; k <= radius; k++ {
						p := pos + k
						if p < 0 {
							p = 0
						} else if p >= size {
							p = size - 1
						}
						sum += kernel[k+radius] * src[idx+(p-pos)*stride]
					}
					dst[idx] = sum
				}
			}
		}(z)
	}
	wg.Wait()
	return dst
}
