package volume

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
)

// Downsample returns a new volume whose voxels are the mean of factor³
// blocks of the source. Partial blocks at the edges average what they cover.
func Downsample(v *models.Volume, factor int) (*models.Volume, error) {
	if factor < 1 {
		return nil, fmt.Errorf("downsample factor must be positive, got %d", factor)
	}
	if factor == 1 {
		return v, nil
	}

	w := ceilDiv(v.Width, factor)
	h := ceilDiv(v.Height, factor)
	d := ceilDiv(v.Depth, factor)

	out := &models.Volume{
		SeriesID:  v.SeriesID,
		Modality:  v.Modality,
		Width:     w,
		Height:    h,
		Depth:     d,
		Origin:    v.Origin,
		Row:       v.Row,
		Col:       v.Col,
		Normal:    v.Normal,
		Spacing:   r3.Scale(float64(factor), v.Spacing),
		Positions: make([]float64, d),
		Data:      make([]float64, w*h*d),
		Warnings:  append([]string(nil), v.Warnings...),

		RescaleSlope:     v.RescaleSlope,
		RescaleIntercept: v.RescaleIntercept,
		RescaleType:      v.RescaleType,
	}

	for z := 0; z < d; z++ {
		out.Positions[z] = v.Positions[z*factor]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var sum float64
				var n int
				for dz := 0; dz < factor && z*factor+dz < v.Depth; dz++ {
					for dy := 0; dy < factor && y*factor+dy < v.Height; dy++ {
						for dx := 0; dx < factor && x*factor+dx < v.Width; dx++ {
							sum += v.At(x*factor+dx, y*factor+dy, z*factor+dz)
							n++
						}
					}
				}
				out.Data[out.Index(x, y, z)] = sum / float64(n)
			}
		}
	}

	out.ContentHash = contentHash(out)
	return out, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
