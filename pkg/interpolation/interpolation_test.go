package interpolation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
)

// rampVolume returns a volume whose value is x + 10*y + 100*z
func rampVolume(w, h, d int, spacing r3.Vec) *models.Volume {
	data := make([]float64, w*h*d)
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[z*w*h+y*w+x] = float64(x + 10*y + 100*z)
			}
		}
	}
	return &models.Volume{Data: data, Width: w, Height: h, Depth: d, Spacing: spacing}
}

func TestTrilinearOnGrid(t *testing.T) {
	vol := rampVolume(4, 3, 2, r3.Vec{X: 1, Y: 1, Z: 1})
	s := NewSampler(vol, Trilinear, -1)

	for z := 0; z < 2; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				assert.Equal(t, vol.At(x, y, z), s.At(float64(x), float64(y), float64(z)))
			}
		}
	}
}

func TestTrilinearBetweenVoxels(t *testing.T) {
	vol := rampVolume(4, 3, 2, r3.Vec{X: 1, Y: 1, Z: 1})
	s := NewSampler(vol, Trilinear, -1)

	// a linear field is reproduced exactly
	assert.InDelta(t, 1.5+10*0.25+100*0.5, s.At(1.5, 0.25, 0.5), 1e-9)
	assert.InDelta(t, 3+20+100, s.At(3, 2, 1), 1e-9)
}

func TestSamplerBackground(t *testing.T) {
	vol := rampVolume(4, 3, 2, r3.Vec{X: 1, Y: 1, Z: 1})
	s := NewSampler(vol, Trilinear, -2048)

	assert.Equal(t, -2048.0, s.At(-0.5, 0, 0))
	assert.Equal(t, -2048.0, s.At(0, 0, 1.5))

	v, ok := s.Sample(r3.Vec{X: 10})
	assert.False(t, ok)
	assert.Equal(t, -2048.0, v)
	assert.Equal(t, -2048.0, s.Background())
}

func TestSampleInMillimetres(t *testing.T) {
	vol := rampVolume(4, 3, 3, r3.Vec{X: 0.5, Y: 0.7, Z: 2.5})
	s := NewSampler(vol, Trilinear, 0)

	// 0.7*2 is not exactly representable, the sampler must still land on row 2
	v, ok := s.Sample(r3.Vec{X: 1.5, Y: 0.7 * 2, Z: 5})
	require.True(t, ok)
	assert.InDelta(t, 3+20+200, v, 1e-9)

	v, ok = s.Sample(r3.Vec{X: 0.25, Y: 0, Z: 1.25})
	require.True(t, ok)
	assert.InDelta(t, 0.5+50, v, 1e-9)
}

func TestNearest(t *testing.T) {
	vol := rampVolume(4, 3, 2, r3.Vec{X: 1, Y: 1, Z: 1})
	s := NewSampler(vol, Nearest, 0)
	assert.Equal(t, 2.0+10+100, s.At(1.6, 1.2, 0.7))
}

func TestFitCurveStraightLine(t *testing.T) {
	c, err := FitCurve([]r3.Vec{{X: 0}, {X: 10}})
	require.NoError(t, err)
	assert.InDelta(t, 10, c.Length(), 1e-9)

	p := c.At(4)
	assert.InDelta(t, 4, p.X, 1e-6)
	assert.InDelta(t, 0, p.Y, 1e-9)

	tan := c.Tangent(5)
	assert.InDelta(t, 1, tan.X, 1e-9)

	// clamped to the ends
	assert.InDelta(t, 0, c.At(-3).X, 1e-9)
	assert.InDelta(t, 10, c.At(30).X, 1e-9)
}

func TestFitCurvePassesThroughControlPoints(t *testing.T) {
	pts := []r3.Vec{{X: 0, Y: 0}, {X: 10, Y: 5}, {X: 20, Y: 0}, {X: 30, Y: -5}}
	c, err := FitCurve(pts)
	require.NoError(t, err)

	chord := 0.0
	for i := 1; i < len(pts); i++ {
		chord += r3.Norm(r3.Sub(pts[i], pts[i-1]))
	}
	// the arc is never shorter than the polyline through the control points
	assert.GreaterOrEqual(t, c.Length(), chord-1e-6)

	start, end := c.At(0), c.At(c.Length())
	assert.InDelta(t, 0, r3.Norm(r3.Sub(start, pts[0])), 1e-6)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(end, pts[3])), 1e-6)

	// the curve advances monotonically in x for this shape
	prev := math.Inf(-1)
	for s := 0.0; s <= c.Length(); s += c.Length() / 50 {
		x := c.At(s).X
		assert.Greater(t, x, prev-1e-9)
		prev = x
	}
}

func TestFitCurveRejectsDegenerateInput(t *testing.T) {
	_, err := FitCurve([]r3.Vec{{X: 1}})
	assert.ErrorIs(t, err, ErrDegenerateCurve)

	_, err = FitCurve([]r3.Vec{{X: 1}, {X: 1}, {X: 3}})
	assert.ErrorIs(t, err, ErrDegenerateCurve)
}
