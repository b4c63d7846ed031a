// Package visualization writes reconstruction results to disk: display
// images as PNG, calibrated planes as raw float buffers and surfaces as STL.
package visualization

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"dicomrecon/pkg/reconstruction"
	"dicomrecon/pkg/stl"
	"dicomrecon/pkg/windowing"
)

// ExportOptions selects what SaveResult writes
type ExportOptions struct {
	// Prefix names the output files; the result kind is used when empty
	Prefix string
	// Raw also writes the calibrated values of each image as little endian
	// float32, one file per image
	Raw bool
}

// SaveResult writes every image and the mesh of res into outputDir and
// returns the written paths
func SaveResult(res *reconstruction.Result, outputDir string, opts ExportOptions) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = res.Kind.String()
	}

	var written []string
	for i := range res.Images {
		img := &res.Images[i]
		name := prefix
		if len(res.Images) > 1 {
			name = fmt.Sprintf("%s_%03d", prefix, i)
		}

		path := filepath.Join(outputDir, name+".png")
		if err := SaveImage(img, path); err != nil {
			return written, err
		}
		written = append(written, path)

		if opts.Raw {
			path = filepath.Join(outputDir, fmt.Sprintf("%s_%dx%d.f32", name, img.Width, img.Height))
			if err := SaveRaw(img, path); err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}

	if res.Mesh != nil {
		path := filepath.Join(outputDir, prefix+".stl")
		if err := stl.SaveToSTL(path, res.Mesh.Triangles()); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// SaveImage encodes the display rendition of img as PNG. Images returned
// without a display rendition are windowed on their own value range.
func SaveImage(img *reconstruction.Image, filename string) error {
	display, err := Display(img)
	if err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, display); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return file.Close()
}

// Display returns img.Display, building an 8-bit rendition when it is absent
func Display(img *reconstruction.Image) (image.Image, error) {
	if img.Display != nil {
		return img.Display, nil
	}
	if len(img.Values) != img.Width*img.Height || len(img.Values) == 0 {
		return nil, fmt.Errorf("image holds %d values, want %dx%d", len(img.Values), img.Width, img.Height)
	}
	w := img.Window
	if w.Width <= 0 {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range img.Values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		w = windowing.Setting{Center: (lo + hi) / 2, Width: math.Max(hi-lo, 1)}
	}
	unit, err := windowing.Normalize(img.Values, windowing.Identity, w)
	if err != nil {
		return nil, err
	}
	return windowing.Quantize(unit, img.Width, img.Height, windowing.Options{Depth: windowing.Depth8}), nil
}

// SaveRaw writes the values of img as little endian float32 in row-major order
func SaveRaw(img *reconstruction.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteRaw(file, img.Values); err != nil {
		return err
	}
	return file.Close()
}

// WriteRaw encodes values as little endian float32
func WriteRaw(w io.Writer, values []float64) error {
	bw := bufio.NewWriter(w)
	var buf [4]byte
	for _, v := range values {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(v)))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
