package reconstruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/pkg/windowing"
)

func TestFingerprint(t *testing.T) {
	vol := hotVoxels("fp")
	cfg := DefaultConfig()

	normalized := func(r Request) Request {
		t.Helper()
		n, err := r.normalize(cfg)
		require.NoError(t, err)
		return n
	}
	base := normalized(Request{Volume: vol, Kind: MPR, Preset: "lung"})

	t.Run("stable", func(t *testing.T) {
		assert.Equal(t, base.Fingerprint(), base.Fingerprint())
		assert.Len(t, base.Fingerprint(), 64)
	})

	t.Run("ignores request id", func(t *testing.T) {
		other := normalized(Request{ID: "abc", Volume: vol, Kind: MPR, Preset: "lung"})
		assert.Equal(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("preset equals its window", func(t *testing.T) {
		lung, err := windowing.Preset("lung")
		require.NoError(t, err)
		other := normalized(Request{Volume: vol, Kind: MPR, Window: lung})
		assert.Equal(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("irrelevant fields are dropped", func(t *testing.T) {
		other := normalized(Request{Volume: vol, Kind: MPR, Preset: "lung", Tissue: "lung", Surface: true, CurvedWidth: 3})
		assert.Equal(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("parameters change it", func(t *testing.T) {
		for name, r := range map[string]Request{
			"kind":       {Volume: vol, Kind: MIP, Preset: "lung"},
			"window":     {Volume: vol, Kind: MPR, Preset: "bone"},
			"plane":      {Volume: vol, Kind: MPR, Preset: "lung", Plane: Plane{Index: 1}},
			"format":     {Volume: vol, Kind: MPR, Preset: "lung", Format: Format{Invert: true}},
			"series":     {Volume: hotVoxels("other"), Kind: MPR, Preset: "lung"},
			"downsample": {Volume: vol, Kind: MPR, Preset: "lung", Downsample: 2},
		} {
			assert.NotEqual(t, base.Fingerprint(), normalized(r).Fingerprint(), name)
		}
	})

	t.Run("content changes it", func(t *testing.T) {
		changed := *vol
		changed.ContentHash = "different"
		other := normalized(Request{Volume: &changed, Kind: MPR, Preset: "lung"})
		assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())
	})
}

func TestNormalizeDefaults(t *testing.T) {
	vol := hotVoxels("norm")
	cfg := DefaultConfig()

	r, err := Request{Volume: vol, Kind: Bone3D}.normalize(cfg)
	require.NoError(t, err)
	assert.Equal(t, "bone", r.Tissue)
	assert.Equal(t, windowing.Depth8, r.Format.Depth)
	assert.Equal(t, 1, r.Downsample)

	r, err = Request{Volume: vol, Kind: CurvedMPR, Up: r3.Vec{Y: 3}}.normalize(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.CurvedWidth, r.CurvedWidth)
	assert.Equal(t, r3.Vec{Y: 1}, r.Up)

	r, err = Request{
		Volume: vol,
		Kind:   MPR,
		Plane:  Plane{Orientation: Oblique, U: r3.Vec{X: 2}, V: r3.Vec{X: 1, Y: 1}},
	}.normalize(cfg)
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 1}, r.Plane.U)
	assert.InDelta(t, 1, r.Plane.V.Y, 1e-12)
	assert.InDelta(t, 0, r.Plane.V.X, 1e-12)

	_, err = Request{Volume: vol, Kind: Bone3D, Threshold: &Range{Min: 5, Max: 1}}.normalize(cfg)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"mpr":           MPR,
		"MIP":           MIP,
		"minip":         MinIP,
		"bone":          Bone3D,
		"Bone3D":        Bone3D,
		"vr":            VolumeRender,
		"volume-render": VolumeRender,
		"curved":        CurvedMPR,
		"curved_mpr":    CurvedMPR,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("hologram")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, "volume_render", VolumeRender.String())
	assert.False(t, Kind(0).Valid())
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestParseOrientation(t *testing.T) {
	o, err := ParseOrientation("Coronal")
	require.NoError(t, err)
	assert.Equal(t, Coronal, o)

	o, err = ParseOrientation("")
	require.NoError(t, err)
	assert.Equal(t, Axial, o)

	_, err = ParseOrientation("diagonal")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestTransferFunction(t *testing.T) {
	_, err := NewTransferFunction([]TransferPoint{{Value: 1, Opacity: 1}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	tf, err := NewTransferFunction([]TransferPoint{
		{Value: 100, Opacity: 1},
		{Value: 0, Opacity: 0},
		{Value: 50, Opacity: 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, tf.Opacity(-10))
	assert.InDelta(t, 0.1, tf.Opacity(25), 1e-12)
	assert.InDelta(t, 0.6, tf.Opacity(75), 1e-12)
	assert.Equal(t, 1.0, tf.Opacity(500))

	ramp := Ramp(0, 10)
	assert.InDelta(t, 0.5, ramp.Opacity(5), 1e-12)

	// a collapsed ramp still rises
	flat := Ramp(3, 3)
	assert.Equal(t, 0.0, flat.Opacity(3))
	assert.Equal(t, 1.0, flat.Opacity(4))
}

func TestEstimateShrinksWithDownsample(t *testing.T) {
	vol := sphere("est", 32, 8)
	full := estimate(Request{Volume: vol, Kind: Bone3D, Surface: true, Downsample: 1})
	half := estimate(Request{Volume: vol, Kind: Bone3D, Surface: true, Downsample: 2})
	assert.Greater(t, full, half)

	e := New(Config{MaxWorkingSet: full})
	defer e.Close()
	assert.NoError(t, e.checkMemory(Request{Volume: vol, Kind: Bone3D, Surface: true, Downsample: 1}))
}

func TestEstimateCountsSourceVolume(t *testing.T) {
	vol := newVolume("est-mpr", "CT", 64, 64, 64, func(x, y, z int) float64 { return 0 })
	for _, kind := range []Kind{MPR, MIP, MinIP, VolumeRender} {
		full := estimate(Request{Volume: vol, Kind: kind, Downsample: 1})
		half := estimate(Request{Volume: vol, Kind: kind, Downsample: 2})
		assert.Greater(t, full, 4*half, kind.String())
	}
}

func TestEstimateSizesCurvedFromPath(t *testing.T) {
	vol := newVolume("est-curve", "CT", 64, 64, 8, func(x, y, z int) float64 { return 0 })
	short := Request{Volume: vol, Kind: CurvedMPR, CurvedWidth: 20, Downsample: 1,
		Path: []r3.Vec{{X: 2, Y: 2, Z: 1}, {X: 12.5, Y: 2, Z: 1}}}
	long := short
	long.Path = []r3.Vec{{X: 2, Y: 2, Z: 1}, {X: 60, Y: 2, Z: 1}}

	assert.Greater(t, estimate(long), estimate(short))
	// 11 rows of 21 columns on top of the source volume
	assert.Equal(t, int64(64*64*8*8+11*21*10), estimate(short))

	short.Downsample = 2
	assert.Less(t, estimate(short), estimate(long))
}

func TestSuggestDownsampleFits(t *testing.T) {
	vol := sphere("suggest", 32, 8)
	req := Request{Volume: vol, Kind: MIP, Downsample: 1}
	limit := estimate(Request{Volume: vol, Kind: MIP, Downsample: 3})

	f := suggestDownsample(req, limit)
	assert.Equal(t, 3, f)
	req.Downsample = f
	assert.LessOrEqual(t, estimate(req), limit)

	// nothing fits: fall back to the largest dimension
	assert.Equal(t, 32, suggestDownsample(Request{Volume: vol, Kind: MIP, Downsample: 1}, 1))
}

func TestErrors(t *testing.T) {
	ce := &CancelledError{RequestID: "r", Percent: 40}
	assert.ErrorIs(t, ce, ErrCancelled)
	assert.Equal(t, "reconstruction r cancelled at 40%", ce.Error())
	assert.False(t, IsRetryable(ce))

	oom := &OutOfMemoryError{Required: 10, Limit: 5, SuggestedDownsample: 2}
	assert.True(t, IsRetryable(oom))
	assert.Contains(t, oom.Error(), "downsample factor 2")

	ide := &InsufficientDataError{Kind: MPR, Reason: "sagittal plane crosses the slice stack", Have: 1, Need: 2}
	assert.Equal(t, "insufficient data for mpr: sagittal plane crosses the slice stack (have 1, need 2)", ide.Error())
}
