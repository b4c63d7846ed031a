package reconstruction

import (
	"image"
	"time"

	"dicomrecon/pkg/stl"
	"dicomrecon/pkg/windowing"
)

// Image is one output plane. Values holds calibrated intensities (or
// composited opacity-weighted intensity in [0,1] for rendered projections)
// in row-major order; Display is the windowed rendition.
type Image struct {
	Width  int
	Height int
	// Spacing is the physical size of a pixel in mm: column, row
	Spacing [2]float64
	Values  []float64
	Window  windowing.Setting
	Display image.Image
}

// At returns the value at column x, row y
func (i *Image) At(x, y int) float64 {
	return i.Values[y*i.Width+x]
}

// SizeBytes returns the memory held by the image buffers
func (i *Image) SizeBytes() int64 {
	n := int64(len(i.Values)) * 8
	switch d := i.Display.(type) {
	case nil:
	case *image.Gray:
		n += int64(len(d.Pix))
	case *image.Gray16:
		n += int64(len(d.Pix))
	default:
		b := d.Bounds()
		n += int64(b.Dx()*b.Dy()) * 4
	}
	return n
}

// Result is a completed reconstruction. Results are shared between callers
// and the cache and must not be modified.
type Result struct {
	RequestID   string
	Fingerprint string
	SeriesID    string
	Kind        Kind

	Images []Image
	Mesh   *stl.Mesh

	Calibration *windowing.CalibrationReport
	Warnings    []string

	CreatedAt time.Time
	Elapsed   time.Duration
}

// SizeBytes returns the memory held by the result
func (r *Result) SizeBytes() int64 {
	var n int64
	for i := range r.Images {
		n += r.Images[i].SizeBytes()
	}
	if r.Mesh != nil {
		n += r.Mesh.SizeBytes()
	}
	return n
}

// forRequest returns a shallow copy addressed to another request
func (r *Result) forRequest(id string) *Result {
	out := *r
	out.RequestID = id
	return &out
}
