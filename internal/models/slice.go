package models

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Slice represents a single 2D DICOM image with the metadata needed
// to place it in a series volume
type Slice struct {
	// SeriesID is the stable identifier of the series this slice belongs to
	SeriesID string

	// InstanceNumber is informational only; it is never used for ordering
	InstanceNumber int

	// SourcePath is the file the slice was read from, if any
	SourcePath string

	// Rows and Cols are the matrix dimensions of Pixels
	Rows int
	Cols int

	// Pixels holds stored values in row-major order
	Pixels []float64

	// Position is the patient-space position of the first transmitted pixel.
	// A nil Position means the metadata was absent.
	Position *r3.Vec

	// Orientation holds the row direction cosines followed by the column
	// direction cosines. All zeroes means the metadata was absent.
	Orientation [6]float64

	// PixelSpacing is (row spacing, column spacing) in mm, DICOM order
	PixelSpacing [2]float64

	// SliceThickness is the nominal slice thickness in mm
	SliceThickness float64

	RescaleSlope     float64
	RescaleIntercept float64
	RescaleType      string

	// Modality is the DICOM modality code (CT, MR, ...)
	Modality string
}

// RowDirection returns the unit vector along a row (increasing column index)
func (s *Slice) RowDirection() r3.Vec {
	return r3.Vec{X: s.Orientation[0], Y: s.Orientation[1], Z: s.Orientation[2]}
}

// ColumnDirection returns the unit vector along a column (increasing row index)
func (s *Slice) ColumnDirection() r3.Vec {
	return r3.Vec{X: s.Orientation[3], Y: s.Orientation[4], Z: s.Orientation[5]}
}

// HasOrientation reports whether both direction cosine triplets are present
func (s *Slice) HasOrientation() bool {
	return r3.Norm(s.RowDirection()) > 0 && r3.Norm(s.ColumnDirection()) > 0
}

// Slope returns the rescale slope, treating an unset slope as identity
func (s *Slice) Slope() float64 {
	if s.RescaleSlope == 0 {
		return 1
	}
	return s.RescaleSlope
}

// Calibrated returns the pixel buffer with the modality rescale applied
func (s *Slice) Calibrated() []float64 {
	out := make([]float64, len(s.Pixels))
	slope := s.Slope()
	for i, v := range s.Pixels {
		out[i] = v*slope + s.RescaleIntercept
	}
	return out
}

// Volume represents an ordered, spacing-aware voxel grid assembled from the
// slices of one series. Volumes are immutable once assembled.
type Volume struct {
	SeriesID string
	Modality string

	// Data holds calibrated values as a 1D array, index z*Width*Height + y*Width + x
	Data []float64

	// Width is the number of columns, Height the number of rows and Depth
	// the number of slices
	Width  int
	Height int
	Depth  int

	// Spacing is the physical voxel size in mm along x (columns), y (rows)
	// and z (slices)
	Spacing r3.Vec

	// Origin is the patient-space position of the first voxel
	Origin r3.Vec

	// Row, Col and Normal are the patient-space unit axes of the grid
	Row    r3.Vec
	Col    r3.Vec
	Normal r3.Vec

	// Positions is the projection of every slice position on Normal, ascending
	Positions []float64

	// Rescale records the modality transform the slices were calibrated
	// with. Data already has it applied.
	RescaleSlope     float64
	RescaleIntercept float64
	RescaleType      string

	// ContentHash identifies the exact geometry and voxel content
	ContentHash string

	// Warnings lists non-fatal irregularities found during assembly
	Warnings []string
}

// Index returns the flat index of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the voxel value at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Contains reports whether the continuous index coordinate lies inside the grid
func (v *Volume) Contains(x, y, z float64) bool {
	return x >= 0 && y >= 0 && z >= 0 &&
		x <= float64(v.Width-1) && y <= float64(v.Height-1) && z <= float64(v.Depth-1)
}

// Extent returns the physical size of the grid in mm along each axis
func (v *Volume) Extent() r3.Vec {
	return r3.Vec{
		X: float64(v.Width-1) * v.Spacing.X,
		Y: float64(v.Height-1) * v.Spacing.Y,
		Z: float64(v.Depth-1) * v.Spacing.Z,
	}
}

// Center returns the centre of the grid in the volume frame (mm)
func (v *Volume) Center() r3.Vec {
	return r3.Scale(0.5, v.Extent())
}

// MinSpacing returns the smallest voxel dimension
func (v *Volume) MinSpacing() float64 {
	return math.Min(v.Spacing.X, math.Min(v.Spacing.Y, v.Spacing.Z))
}

// Range returns the minimum and maximum voxel value
func (v *Volume) Range() (lo, hi float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	lo, hi = v.Data[0], v.Data[0]
	for _, d := range v.Data[1:] {
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	return lo, hi
}

// SizeBytes returns the memory held by the voxel buffer
func (v *Volume) SizeBytes() int64 {
	return int64(len(v.Data)) * 8
}
