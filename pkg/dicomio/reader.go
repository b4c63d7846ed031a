// Package dicomio reads slices from DICOM files and raster image stacks and
// writes slices back to DICOM.
package dicomio

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
)

// ErrNoPixelData is returned for DICOM objects without an image, such as
// DICOMDIR files or structured reports
var ErrNoPixelData = errors.New("no pixel data")

// ReadFile parses one DICOM file into a slice
func ReadFile(path string) (models.Slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return models.Slice{}, fmt.Errorf("failed to parse DICOM file %s: %w", path, err)
	}
	s, err := fromDataset(&ds)
	if err != nil {
		return models.Slice{}, fmt.Errorf("%s: %w", path, err)
	}
	s.SourcePath = path
	return s, nil
}

// Read parses a DICOM stream of size bytes into a slice
func Read(r io.Reader, size int64) (models.Slice, error) {
	ds, err := dicom.Parse(r, size, nil)
	if err != nil {
		return models.Slice{}, fmt.Errorf("failed to parse DICOM stream: %w", err)
	}
	return fromDataset(&ds)
}

func fromDataset(ds *dicom.Dataset) (models.Slice, error) {
	s := models.Slice{
		SeriesID:    firstString(ds, tag.SeriesInstanceUID),
		Modality:    firstString(ds, tag.Modality),
		RescaleType: firstString(ds, tag.RescaleType),
	}
	s.InstanceNumber, _ = strconv.Atoi(firstString(ds, tag.InstanceNumber))
	s.Rows = firstInt(ds, tag.Rows)
	s.Cols = firstInt(ds, tag.Columns)

	if pos := floats(ds, tag.ImagePositionPatient); len(pos) == 3 {
		s.Position = &r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}
	}
	if o := floats(ds, tag.ImageOrientationPatient); len(o) == 6 {
		copy(s.Orientation[:], o)
	}
	if ps := floats(ds, tag.PixelSpacing); len(ps) == 2 {
		s.PixelSpacing = [2]float64{ps[0], ps[1]}
	}
	if v := floats(ds, tag.SliceThickness); len(v) > 0 {
		s.SliceThickness = v[0]
	}
	s.RescaleSlope = 1
	if v := floats(ds, tag.RescaleSlope); len(v) > 0 {
		s.RescaleSlope = v[0]
	}
	if v := floats(ds, tag.RescaleIntercept); len(v) > 0 {
		s.RescaleIntercept = v[0]
	}

	pixels, err := pixelData(ds, firstInt(ds, tag.PixelRepresentation) == 1)
	if err != nil {
		return s, err
	}
	if s.Rows*s.Cols != len(pixels) {
		return s, fmt.Errorf("pixel data holds %d values, want %dx%d", len(pixels), s.Cols, s.Rows)
	}
	s.Pixels = pixels
	return s, nil
}

// pixelData returns the stored values of the first frame
func pixelData(ds *dicom.Dataset, signed bool) ([]float64, error) {
	e, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}
	info, ok := e.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, ErrNoPixelData
	}
	f := info.Frames[0]
	if f.Encapsulated {
		return nil, errors.New("compressed transfer syntaxes are not supported")
	}

	switch nf := f.NativeData.(type) {
	case *frame.NativeFrame[uint8]:
		return convert(nf.RawData, func(v uint8) float64 {
			if signed {
				return float64(int8(v))
			}
			return float64(v)
		}), nil
	case *frame.NativeFrame[uint16]:
		return convert(nf.RawData, func(v uint16) float64 {
			if signed {
				return float64(int16(v))
			}
			return float64(v)
		}), nil
	case *frame.NativeFrame[uint32]:
		return convert(nf.RawData, func(v uint32) float64 {
			if signed {
				return float64(int32(v))
			}
			return float64(v)
		}), nil
	case *frame.NativeFrame[int16]:
		return convert(nf.RawData, func(v int16) float64 { return float64(v) }), nil
	}
	return nil, fmt.Errorf("unsupported pixel layout %T", f.NativeData)
}

func convert[T any](raw []T, fn func(T) float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = fn(v)
	}
	return out
}

func strs(ds *dicom.Dataset, t tag.Tag) []string {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	v, _ := e.Value.GetValue().([]string)
	return v
}

func firstString(ds *dicom.Dataset, t tag.Tag) string {
	if v := strs(ds, t); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func firstInt(ds *dicom.Dataset, t tag.Tag) int {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return 0
	}
	switch v := e.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0]
		}
	case []string:
		if len(v) > 0 {
			n, _ := strconv.Atoi(strings.TrimSpace(v[0]))
			return n
		}
	}
	return 0
}

// floats parses a decimal string element. Values may arrive as separate
// strings or as one backslash-delimited string.
func floats(ds *dicom.Dataset, t tag.Tag) []float64 {
	var parts []string
	for _, s := range strs(ds, t) {
		parts = append(parts, strings.Split(s, `\`)...)
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		out = append(out, f)
	}
	return out
}
