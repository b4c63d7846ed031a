// Package volume assembles ordered DICOM slices into spacing-aware voxel grids.
package volume

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"dicomrecon/internal/models"
)

// Options controls the geometric tolerances used during assembly
type Options struct {
	// PositionTolerance is the distance in mm under which two slice
	// positions along the normal are considered duplicates
	PositionTolerance float64

	// OrientationTolerance is the allowed deviation of direction cosines
	OrientationTolerance float64

	// SpacingTolerance is the allowed relative difference in pixel spacing
	SpacingTolerance float64

	// GapTolerance is the relative deviation from the median slice gap
	// above which a gap is flagged in the volume warnings
	GapTolerance float64
}

// DefaultOptions returns the tolerances used when none are configured
func DefaultOptions() Options {
	return Options{
		PositionTolerance:    0.01,
		OrientationTolerance: 1e-3,
		SpacingTolerance:     1e-3,
		GapTolerance:         0.1,
	}
}

type orderedSlice struct {
	index    int
	position float64
	slice    *models.Slice
}

// Assemble stacks the slices of one series into a volume. Slices are ordered
// by the projection of their position onto the series normal; instance
// numbers and file names are ignored.
func Assemble(slices []models.Slice, opts Options) (*models.Volume, error) {
	if len(slices) == 0 {
		return nil, &IncompleteSeriesError{SliceIndex: -1, Field: "no slices"}
	}
	opts = withDefaults(opts)

	ref := &slices[0]
	for i := range slices {
		if err := checkComplete(&slices[i], i); err != nil {
			return nil, err
		}
	}
	for i := range slices[1:] {
		if err := checkConsistent(ref, &slices[i+1], i+1, opts); err != nil {
			return nil, err
		}
	}

	row := r3.Unit(ref.RowDirection())
	col := r3.Unit(ref.ColumnDirection())
	normal := r3.Unit(r3.Cross(row, col))

	ordered := make([]orderedSlice, len(slices))
	for i := range slices {
		ordered[i] = orderedSlice{
			index:    i,
			position: r3.Dot(*slices[i].Position, normal),
			slice:    &slices[i],
		}
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].position < ordered[b].position
	})

	for i := 1; i < len(ordered); i++ {
		if ordered[i].position-ordered[i-1].position < opts.PositionTolerance {
			s := ordered[i]
			return nil, &InconsistentGeometryError{
				SeriesID:   ref.SeriesID,
				SliceIndex: s.index,
				Source:     s.slice.SourcePath,
				Reason: fmt.Sprintf("duplicate slice position %.3f mm (matches slice %d)",
					s.position, ordered[i-1].index),
			}
		}
	}

	width, height, depth := ref.Cols, ref.Rows, len(ordered)
	vol := &models.Volume{
		SeriesID:         ref.SeriesID,
		Modality:         ref.Modality,
		Width:            width,
		Height:           height,
		Depth:            depth,
		Origin:           *ordered[0].slice.Position,
		Row:              row,
		Col:              col,
		Normal:           normal,
		Positions:        make([]float64, depth),
		Data:             make([]float64, width*height*depth),
		RescaleSlope:     ref.Slope(),
		RescaleIntercept: ref.RescaleIntercept,
		RescaleType:      ref.RescaleType,
	}

	plane := width * height
	for z, s := range ordered {
		vol.Positions[z] = s.position
		copy(vol.Data[z*plane:(z+1)*plane], s.slice.Calibrated())
	}

	sliceSpacing, warnings := sliceGap(vol.Positions, ref.SliceThickness, opts.GapTolerance)
	vol.Spacing = r3.Vec{X: ref.PixelSpacing[1], Y: ref.PixelSpacing[0], Z: sliceSpacing}
	vol.Warnings = warnings
	vol.ContentHash = contentHash(vol)

	return vol, nil
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.PositionTolerance <= 0 {
		opts.PositionTolerance = def.PositionTolerance
	}
	if opts.OrientationTolerance <= 0 {
		opts.OrientationTolerance = def.OrientationTolerance
	}
	if opts.SpacingTolerance <= 0 {
		opts.SpacingTolerance = def.SpacingTolerance
	}
	if opts.GapTolerance <= 0 {
		opts.GapTolerance = def.GapTolerance
	}
	return opts
}

func checkComplete(s *models.Slice, i int) error {
	missing := func(field string) error {
		return &IncompleteSeriesError{SeriesID: s.SeriesID, SliceIndex: i, Source: s.SourcePath, Field: field}
	}
	switch {
	case s.Position == nil:
		return missing("image position")
	case !s.HasOrientation():
		return missing("image orientation")
	case s.PixelSpacing[0] <= 0 || s.PixelSpacing[1] <= 0:
		return missing("pixel spacing")
	case s.Rows <= 0 || s.Cols <= 0:
		return missing("matrix dimensions")
	case len(s.Pixels) != s.Rows*s.Cols:
		return missing(fmt.Sprintf("pixel data (have %d values, want %d)", len(s.Pixels), s.Rows*s.Cols))
	}
	return nil
}

func checkConsistent(ref, s *models.Slice, i int, opts Options) error {
	bad := func(format string, args ...any) error {
		return &InconsistentGeometryError{
			SeriesID:   ref.SeriesID,
			SliceIndex: i,
			Source:     s.SourcePath,
			Reason:     fmt.Sprintf(format, args...),
		}
	}
	if s.SeriesID != ref.SeriesID {
		return bad("series %q does not match %q", s.SeriesID, ref.SeriesID)
	}
	if s.Modality != ref.Modality {
		return bad("modality %q does not match %q", s.Modality, ref.Modality)
	}
	if s.Rows != ref.Rows || s.Cols != ref.Cols {
		return bad("matrix %dx%d does not match %dx%d", s.Cols, s.Rows, ref.Cols, ref.Rows)
	}
	for k := 0; k < 2; k++ {
		if relDiff(s.PixelSpacing[k], ref.PixelSpacing[k]) > opts.SpacingTolerance {
			return bad("pixel spacing %v does not match %v", s.PixelSpacing, ref.PixelSpacing)
		}
	}
	for k := 0; k < 6; k++ {
		if math.Abs(s.Orientation[k]-ref.Orientation[k]) > opts.OrientationTolerance {
			return bad("orientation %v does not match %v", s.Orientation, ref.Orientation)
		}
	}
	return nil
}

func relDiff(a, b float64) float64 {
	return math.Abs(a-b) / math.Max(math.Abs(a), math.Abs(b))
}

// sliceGap returns the median distance between consecutive slices and
// warnings for gaps that deviate from it
func sliceGap(positions []float64, thickness, tolerance float64) (float64, []string) {
	if len(positions) < 2 {
		if thickness > 0 {
			return thickness, nil
		}
		return 1, nil
	}

	gaps := make([]float64, len(positions)-1)
	for i := range gaps {
		gaps[i] = positions[i+1] - positions[i]
	}
	sorted := append([]float64(nil), gaps...)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	var warnings []string
	for i, g := range gaps {
		if math.Abs(g-median)/median > tolerance {
			warnings = append(warnings,
				fmt.Sprintf("irregular gap of %.3f mm between slices %d and %d (median %.3f mm)", g, i, i+1, median))
		}
	}
	return median, warnings
}

func contentHash(v *models.Volume) string {
	h := sha256.New()
	var buf [8]byte
	writeFloat := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	fmt.Fprintf(h, "%s|%s|%d|%d|%d|%s|", v.SeriesID, v.Modality, v.Width, v.Height, v.Depth, v.RescaleType)
	writeFloat(v.RescaleSlope)
	writeFloat(v.RescaleIntercept)
	for _, p := range v.Positions {
		writeFloat(p)
	}
	for _, d := range v.Data {
		writeFloat(d)
	}
	return hex.EncodeToString(h.Sum(nil))
}
