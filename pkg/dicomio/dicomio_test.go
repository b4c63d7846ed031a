package dicomio

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
	"dicomrecon/pkg/volume"
)

// ctSlice builds a small CT slice whose stored values encode their position
func ctSlice(series string, k int) models.Slice {
	rows, cols := 3, 4
	pixels := make([]float64, rows*cols)
	for i := range pixels {
		pixels[i] = float64(1024 + 10*k + i)
	}
	pos := r3.Vec{X: -50, Y: -60, Z: 2.5 * float64(k)}
	return models.Slice{
		SeriesID:         series,
		InstanceNumber:   k + 1,
		Rows:             rows,
		Cols:             cols,
		Pixels:           pixels,
		Position:         &pos,
		Orientation:      [6]float64{1, 0, 0, 0, 1, 0},
		PixelSpacing:     [2]float64{0.5, 0.75},
		SliceThickness:   2.5,
		RescaleSlope:     1,
		RescaleIntercept: -1024,
		RescaleType:      "HU",
		Modality:         "CT",
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	in := ctSlice("1.2.826.0.1.1", 3)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in, "1.2.826.0.1.1.3"))

	out, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	assert.Equal(t, in.SeriesID, out.SeriesID)
	assert.Equal(t, in.InstanceNumber, out.InstanceNumber)
	assert.Equal(t, "CT", out.Modality)
	assert.Equal(t, "HU", out.RescaleType)
	assert.Equal(t, in.Rows, out.Rows)
	assert.Equal(t, in.Cols, out.Cols)
	assert.Equal(t, in.Pixels, out.Pixels)
	require.NotNil(t, out.Position)
	assert.Equal(t, *in.Position, *out.Position)
	assert.Equal(t, in.Orientation, out.Orientation)
	assert.Equal(t, in.PixelSpacing, out.PixelSpacing)
	assert.Equal(t, 2.5, out.SliceThickness)
	assert.Equal(t, 1.0, out.RescaleSlope)
	assert.Equal(t, -1024.0, out.RescaleIntercept)
}

func TestWriteRejectsMismatchedBuffer(t *testing.T) {
	s := ctSlice("1.2.3", 0)
	s.Pixels = s.Pixels[:5]
	assert.Error(t, Write(&bytes.Buffer{}, s, "1.2.3.0"))
}

func TestWriteOmitsMissingGeometry(t *testing.T) {
	s := ctSlice("1.2.3", 0)
	s.Position = nil
	s.Orientation = [6]float64{}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s, "1.2.3.0"))
	out, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Nil(t, out.Position)
	assert.False(t, out.HasOrientation())

	// the assembler reports the missing field
	_, err = volume.Assemble([]models.Slice{out}, volume.DefaultOptions())
	var ise *volume.IncompleteSeriesError
	assert.ErrorAs(t, err, &ise)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	for k := 0; k < 4; k++ {
		require.NoError(t, WriteFile(filepath.Join(dir, fmt.Sprintf("a%02d.dcm", k)), ctSlice("1.2.1", k), fmt.Sprintf("1.2.1.%d", k)))
	}
	sub := filepath.Join(dir, "other")
	require.NoError(t, os.Mkdir(sub, 0755))
	for k := 0; k < 2; k++ {
		require.NoError(t, WriteFile(filepath.Join(sub, fmt.Sprintf("b%02d.dcm", k)), ctSlice("1.2.2", k), fmt.Sprintf("1.2.2.%d", k)))
	}
	// ignored by name
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0644))

	series, err := LoadDir(context.Background(), dir, LoadOptions{Workers: 2})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "1.2.1", series[0].ID)
	assert.Len(t, series[0].Slices, 4)
	assert.Equal(t, "CT", series[0].Modality)
	assert.Len(t, series[1].Slices, 2)

	_, err = Find(series, "")
	assert.Error(t, err)
	s, err := Find(series, "1.2.2")
	require.NoError(t, err)
	assert.Len(t, s.Slices, 2)
	_, err = Find(series, "9.9")
	assert.Error(t, err)

	vol, err := volume.Assemble(series[0].Slices, volume.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, vol.Depth)
	assert.InDelta(t, 2.5, vol.Spacing.Z, 1e-9)
	// stored 1024 + i is i HU after rescale
	assert.Equal(t, 0.0, vol.At(0, 0, 0))
}

func TestLoadDirEmpty(t *testing.T) {
	_, err := LoadDir(context.Background(), t.TempDir(), LoadOptions{})
	assert.Error(t, err)
}

func writePNG(t *testing.T, path string, w, h int, value uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoadImageDir(t *testing.T) {
	dir := t.TempDir()
	// numeric order, not lexical
	writePNG(t, filepath.Join(dir, "slice10.png"), 5, 4, 30)
	writePNG(t, filepath.Join(dir, "slice2.png"), 5, 4, 20)
	writePNG(t, filepath.Join(dir, "slice1.png"), 5, 4, 10)

	slices, err := LoadImageDir(dir, ImageStack{SeriesID: "stack", SliceGap: 3, PixelSpacing: 0.5})
	require.NoError(t, err)
	require.Len(t, slices, 3)

	for i, want := range []uint8{10, 20, 30} {
		s := slices[i]
		assert.Equal(t, 5, s.Cols)
		assert.Equal(t, 4, s.Rows)
		assert.Equal(t, float64(color.Gray16Model.Convert(color.Gray{Y: want}).(color.Gray16).Y), s.Pixels[0])
		assert.Equal(t, float64(i)*3, s.Position.Z)
		assert.Equal(t, "OT", s.Modality)
	}

	vol, err := volume.Assemble(slices, volume.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, vol.Depth)
	assert.InDelta(t, 3, vol.Spacing.Z, 1e-9)
	assert.InDelta(t, 0.5, vol.Spacing.X, 1e-9)
}

func TestLoadImageDirEmpty(t *testing.T) {
	_, err := LoadImageDir(t.TempDir(), ImageStack{})
	assert.Error(t, err)
}

func TestExtractNumber(t *testing.T) {
	assert.Equal(t, 12, extractNumber("IMG_0012.jpg"))
	assert.Equal(t, 0, extractNumber("cover.png"))
	assert.Equal(t, 7, extractNumber(filepath.Join("dir9", "s7.png")))
}

func TestNewUID(t *testing.T) {
	a, b := NewUID(), NewUID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "2.25."))
	assert.LessOrEqual(t, len(a), 64)
	for _, c := range a {
		assert.True(t, c == '.' || (c >= '0' && c <= '9'), "unexpected character %q", c)
	}
}

func TestPhantomRoundTrip(t *testing.T) {
	p := Phantom{SeriesID: "1.2.9", Size: 16, Slices: 5, PixelSpacing: 1, SliceGap: 2}
	dir := t.TempDir()
	paths, err := WriteSeries(dir, p.Generate())
	require.NoError(t, err)
	require.Len(t, paths, 5)

	series, err := LoadDir(context.Background(), dir, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, series, 1)
	vol, err := volume.Assemble(series[0].Slices, volume.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 16, vol.Width)
	assert.Equal(t, 5, vol.Depth)
	assert.InDelta(t, 2, vol.Spacing.Z, 1e-9)

	assert.Equal(t, float64(phantomAir), vol.At(0, 0, 0))
	// the centre of the middle slice lies in the bone sphere
	assert.Equal(t, float64(phantomBone), vol.At(8, 8, 2))
	// inside the body but outside the sphere
	assert.Equal(t, float64(phantomWater), vol.At(8, 3, 0))
}

func TestPhantomGeneratesSeriesID(t *testing.T) {
	p := DefaultPhantom()
	p.Slices = 2
	slices := p.Generate()
	require.Len(t, slices, 2)
	assert.NotEmpty(t, slices[0].SeriesID)
	assert.Equal(t, slices[0].SeriesID, slices[1].SeriesID)
}
