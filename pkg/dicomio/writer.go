package dicomio

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomrecon/internal/models"
)

type field struct {
	t tag.Tag
	v interface{}
}

// explicitVRLittleEndian is the transfer syntax used for written files
const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// ctImageStorage is the SOP class of written slices
const ctImageStorage = "1.2.840.10008.5.1.4.1.1.2"

// WriteFile writes s as an uncompressed 16-bit DICOM file
func WriteFile(path string, s models.Slice, instanceUID string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := Write(f, s, instanceUID); err != nil {
		return fmt.Errorf("write DICOM file %s: %w", path, err)
	}
	return f.Close()
}

// Write encodes s as an uncompressed 16-bit DICOM object. Stored values are
// rounded and clamped to the unsigned 16-bit range.
func Write(w io.Writer, s models.Slice, instanceUID string) error {
	if len(s.Pixels) != s.Rows*s.Cols {
		return fmt.Errorf("slice holds %d values, want %dx%d", len(s.Pixels), s.Cols, s.Rows)
	}

	modality := s.Modality
	if modality == "" {
		modality = "OT"
	}
	slope := s.RescaleSlope
	if slope == 0 {
		slope = 1
	}

	elems := []*dicom.Element{}
	add := func(t tag.Tag, v interface{}) error {
		e, err := dicom.NewElement(t, v)
		if err != nil {
			return fmt.Errorf("element %v: %w", t, err)
		}
		elems = append(elems, e)
		return nil
	}

	values := []field{
		{tag.MediaStorageSOPClassUID, []string{ctImageStorage}},
		{tag.MediaStorageSOPInstanceUID, []string{instanceUID}},
		{tag.TransferSyntaxUID, []string{explicitVRLittleEndian}},
		{tag.SOPClassUID, []string{ctImageStorage}},
		{tag.SOPInstanceUID, []string{instanceUID}},
		{tag.Modality, []string{modality}},
		{tag.SeriesInstanceUID, []string{s.SeriesID}},
		{tag.InstanceNumber, []string{strconv.Itoa(s.InstanceNumber)}},
		{tag.PixelSpacing, decimals(s.PixelSpacing[:]...)},
		{tag.SliceThickness, decimals(s.SliceThickness)},
		{tag.RescaleSlope, decimals(slope)},
		{tag.RescaleIntercept, decimals(s.RescaleIntercept)},
		{tag.Rows, []int{s.Rows}},
		{tag.Columns, []int{s.Cols}},
		{tag.BitsAllocated, []int{16}},
		{tag.BitsStored, []int{16}},
		{tag.HighBit, []int{15}},
		{tag.PixelRepresentation, []int{0}},
		{tag.SamplesPerPixel, []int{1}},
		{tag.PhotometricInterpretation, []string{"MONOCHROME2"}},
	}
	if s.RescaleType != "" {
		values = append(values, field{tag.RescaleType, []string{s.RescaleType}})
	}
	for _, kv := range values {
		if err := add(kv.t, kv.v); err != nil {
			return err
		}
	}
	if s.Position != nil {
		if err := add(tag.ImagePositionPatient, decimals(s.Position.X, s.Position.Y, s.Position.Z)); err != nil {
			return err
		}
	}
	if s.HasOrientation() {
		if err := add(tag.ImageOrientationPatient, decimals(s.Orientation[:]...)); err != nil {
			return err
		}
	}

	nf := frame.NewNativeFrame[uint16](16, s.Rows, s.Cols, s.Rows*s.Cols, 1)
	for i, v := range s.Pixels {
		nf.RawData[i] = uint16(math.Max(0, math.Min(math.MaxUint16, math.Round(v))))
	}
	if err := add(tag.PixelData, dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: nf}},
	}); err != nil {
		return err
	}

	sort.SliceStable(elems, func(i, j int) bool {
		a, b := elems[i].Tag, elems[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
	return dicom.Write(w, dicom.Dataset{Elements: elems})
}

func decimals(vs ...float64) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = strconv.FormatFloat(v, 'g', 10, 64)
	}
	return out
}
