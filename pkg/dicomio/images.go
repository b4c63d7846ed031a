package dicomio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
)

// ImageStack describes a directory of raster slices exported without
// DICOM metadata
type ImageStack struct {
	// SeriesID names the stack; the directory name is used when empty
	SeriesID string
	// SliceGap is the distance between consecutive slices in mm
	SliceGap float64
	// PixelSpacing is the in-plane pixel size in mm
	PixelSpacing float64
	Modality     string
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true, ".bmp": true}

// LoadImageDir reads JPEG, PNG, TIFF and BMP slices from dir into an axial
// series. Files are ordered by the number embedded in their name, and the
// 16-bit luminance of each pixel becomes its stored value.
func LoadImageDir(dir string, stack ImageStack) ([]models.Slice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	if stack.SeriesID == "" {
		stack.SeriesID = filepath.Base(filepath.Clean(dir))
	}
	if stack.SliceGap <= 0 {
		stack.SliceGap = 1
	}
	if stack.PixelSpacing <= 0 {
		stack.PixelSpacing = 1
	}
	if stack.Modality == "" {
		stack.Modality = "OT"
	}

	slices := make([]models.Slice, 0, len(files))
	for i, name := range files {
		path := filepath.Join(dir, name)
		img, err := loadImage(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		b := img.Bounds()
		pos := r3.Vec{Z: float64(i) * stack.SliceGap}
		slices = append(slices, models.Slice{
			SeriesID:       stack.SeriesID,
			InstanceNumber: i + 1,
			SourcePath:     path,
			Rows:           b.Dy(),
			Cols:           b.Dx(),
			Pixels:         imageToFloat(img),
			Position:       &pos,
			Orientation:    [6]float64{1, 0, 0, 0, 1, 0},
			PixelSpacing:   [2]float64{stack.PixelSpacing, stack.PixelSpacing},
			SliceThickness: stack.SliceGap,
			RescaleSlope:   1,
			Modality:       stack.Modality,
		})
	}
	return slices, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

// imageToFloat converts an image to its 16-bit luminance values
func imageToFloat(img image.Image) []float64 {
	b := img.Bounds()
	out := make([]float64, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out[y*b.Dx()+x] = float64(g.Y)
		}
	}
	return out
}
