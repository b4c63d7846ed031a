package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/pkg/config"
	"dicomrecon/pkg/dicomio"
	"dicomrecon/pkg/reconstruction"
	"dicomrecon/pkg/windowing"
)

func testVolumeDir(t *testing.T) string {
	t.Helper()
	cfg = config.DefaultConfig()
	lg = log.New(&bytes.Buffer{})

	dir := t.TempDir()
	p := dicomio.Phantom{SeriesID: "1.2.840.1", Size: 16, Slices: 6, PixelSpacing: 1, SliceGap: 2}
	_, err := dicomio.WriteSeries(dir, p.Generate())
	require.NoError(t, err)
	return dir
}

func TestParseVec(t *testing.T) {
	v, err := parseVec("1, -2.5,3")
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 1, Y: -2.5, Z: 3}, v)

	_, err = parseVec("1,2")
	assert.Error(t, err)
	_, err = parseVec("1,x,3")
	assert.Error(t, err)
}

func TestParsePath(t *testing.T) {
	path, err := parsePath("0,0,0; 1,2,3;")
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{}, {X: 1, Y: 2, Z: 3}}, path)

	_, err = parsePath("0,0,0;1,2")
	assert.Error(t, err)
}

func TestRequestFromFlags(t *testing.T) {
	dir := testVolumeDir(t)
	src := sourceFlags{input: dir}
	vol, err := src.load(t.Context())
	require.NoError(t, err)

	f := reconstructFlags{
		kind:       "mip",
		plane:      "oblique",
		index:      reconstruction.CenterIndex,
		u:          "1,0,0",
		v:          "0,0,1",
		slab:       4,
		preset:     "bone",
		depth:      16,
		background: "-1000",
		tissue:     "bone",
		downsample: 1,
	}
	req, err := f.request(vol)
	require.NoError(t, err)
	assert.Equal(t, reconstruction.MIP, req.Kind)
	assert.Equal(t, reconstruction.Oblique, req.Plane.Orientation)
	assert.Equal(t, vol.Center(), req.Plane.Point)
	assert.Equal(t, r3.Vec{Z: 1}, req.Plane.V)
	assert.Equal(t, windowing.Depth16, req.Format.Depth)
	assert.Equal(t, reconstruction.Background{Mode: reconstruction.BackgroundValue, Value: -1000}, req.Background)

	f = reconstructFlags{kind: "curved", plane: "axial", path: "0,0,0;10,0,0", up: "0,0,1", threshold: "100,200"}
	req, err = f.request(vol)
	require.NoError(t, err)
	assert.Equal(t, reconstruction.CurvedMPR, req.Kind)
	assert.Len(t, req.Path, 2)
	require.NotNil(t, req.Threshold)
	assert.Equal(t, 200.0, req.Threshold.Max)

	_, err = (&reconstructFlags{kind: "hologram"}).request(vol)
	assert.ErrorIs(t, err, reconstruction.ErrInvalidRequest)
}

func TestLoadRequiresSource(t *testing.T) {
	cfg = config.DefaultConfig()
	_, err := (&sourceFlags{}).load(t.Context())
	assert.Error(t, err)
}

func TestReconstructCommand(t *testing.T) {
	dir := testVolumeDir(t)
	out := filepath.Join(t.TempDir(), "out")

	rootCmd.SetArgs([]string{"reconstruct", "--test-mode", "--log-level", "error",
		"-i", dir, "--kind", "mpr", "--plane", "coronal", "--preset", "bone", "-o", out})
	require.NoError(t, rootCmd.Execute())

	_, err := os.Stat(filepath.Join(out, "mpr.png"))
	assert.NoError(t, err)
}
