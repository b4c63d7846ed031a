package dicomio

import (
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
)

// NewUID returns a DICOM UID derived from a random UUID under the 2.25 root
func NewUID() string {
	id := uuid.New()
	return "2.25." + new(big.Int).SetBytes(id[:]).String()
}

// Phantom describes a synthetic CT series: a water cylinder along z,
// surrounded by air, holding a bone sphere at its centre
type Phantom struct {
	SeriesID string
	Size     int
	Slices   int
	// PixelSpacing and SliceGap are in mm
	PixelSpacing float64
	SliceGap     float64
}

// DefaultPhantom returns a 64x64x32 phantom with 1mm pixels and 2mm slices
func DefaultPhantom() Phantom {
	return Phantom{Size: 64, Slices: 32, PixelSpacing: 1, SliceGap: 2}
}

// Hounsfield values of the phantom materials
const (
	phantomAir   = -1000
	phantomWater = 0
	phantomBone  = 700
)

// Generate builds the phantom slices. Stored values carry the usual -1024
// intercept.
func (p Phantom) Generate() []models.Slice {
	if p.SeriesID == "" {
		p.SeriesID = NewUID()
	}
	n := p.Size
	c := float64(n-1) / 2
	cz := float64(p.Slices-1) / 2 * p.SliceGap
	body := 0.4 * float64(n) * p.PixelSpacing
	ball := 0.2 * float64(n) * p.PixelSpacing

	out := make([]models.Slice, p.Slices)
	for k := range out {
		z := float64(k) * p.SliceGap
		pixels := make([]float64, n*n)
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				dx := (float64(x) - c) * p.PixelSpacing
				dy := (float64(y) - c) * p.PixelSpacing
				hu := float64(phantomAir)
				if math.Hypot(dx, dy) <= body {
					hu = phantomWater
				}
				if math.Sqrt(dx*dx+dy*dy+(z-cz)*(z-cz)) <= ball {
					hu = phantomBone
				}
				pixels[y*n+x] = hu + 1024
			}
		}
		pos := r3.Vec{X: -c * p.PixelSpacing, Y: -c * p.PixelSpacing, Z: z}
		out[k] = models.Slice{
			SeriesID:         p.SeriesID,
			InstanceNumber:   k + 1,
			Rows:             n,
			Cols:             n,
			Pixels:           pixels,
			Position:         &pos,
			Orientation:      [6]float64{1, 0, 0, 0, 1, 0},
			PixelSpacing:     [2]float64{p.PixelSpacing, p.PixelSpacing},
			SliceThickness:   p.SliceGap,
			RescaleSlope:     1,
			RescaleIntercept: -1024,
			RescaleType:      "HU",
			Modality:         "CT",
		}
	}
	return out
}

// WriteSeries writes slices to dir as one DICOM file per slice and returns
// the written paths
func WriteSeries(dir string, slices []models.Slice) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(slices))
	for _, s := range slices {
		path := filepath.Join(dir, fmt.Sprintf("IM%04d.dcm", s.InstanceNumber))
		if err := WriteFile(path, s, NewUID()); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
