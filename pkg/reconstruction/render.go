package reconstruction

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
	"dicomrecon/pkg/interpolation"
	"dicomrecon/pkg/windowing"
)

// TransferPoint is one control point of an opacity transfer function
type TransferPoint struct {
	Value   float64
	Opacity float64
}

// TransferFunction maps intensity to opacity by piecewise-linear
// interpolation between control points, constant beyond the ends
type TransferFunction struct {
	fn     interp.PiecewiseLinear
	lo, hi TransferPoint
}

// NewTransferFunction builds a transfer function from at least two points
// with distinct values
func NewTransferFunction(points []TransferPoint) (*TransferFunction, error) {
	if len(points) < 2 {
		return nil, invalidf("transfer function needs 2 points, have %d", len(points))
	}
	pts := append([]TransferPoint(nil), points...)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Value < pts[j].Value })

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i] = p.Value, clamp01(p.Opacity)
	}
	tf := &TransferFunction{lo: pts[0], hi: pts[len(pts)-1]}
	if err := tf.fn.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("%w: transfer function: %v", ErrInvalidRequest, err)
	}
	return tf, nil
}

// Ramp returns a transfer function rising from transparent at lo to
// opaque at hi
func Ramp(lo, hi float64) *TransferFunction {
	if hi <= lo {
		hi = lo + 1
	}
	tf, _ := NewTransferFunction([]TransferPoint{{Value: lo}, {Value: hi, Opacity: 1}})
	return tf
}

// Opacity returns the opacity of intensity v
func (t *TransferFunction) Opacity(v float64) float64 {
	switch {
	case v <= t.lo.Value:
		return clamp01(t.lo.Opacity)
	case v >= t.hi.Value:
		return clamp01(t.hi.Opacity)
	}
	return clamp01(t.fn.Predict(v))
}

// compositor accumulates samples front to back along each ray
type compositor struct {
	sampler *interpolation.Sampler
	// mask, when set, limits contributions to voxels where it is 1
	mask   *interpolation.Sampler
	tf     *TransferFunction
	window windowing.Setting
	// scale converts transfer opacity into per-sample opacity
	scale float64
	// stop ends a ray once accumulated opacity reaches it
	stop float64
}

func (c *compositor) ray(base, dn r3.Vec, k int) float64 {
	color, alpha := 0.0, 0.0
	lower := c.window.Lower()
	for i := -k; i <= k; i++ {
		p := r3.Add(base, r3.Scale(float64(i), dn))
		v, ok := c.sampler.Sample(p)
		if !ok {
			continue
		}
		if c.mask != nil {
			if m, _ := c.mask.Sample(p); m < 0.5 {
				continue
			}
		}
		a := c.tf.Opacity(v) * c.scale
		if a <= 0 {
			continue
		}
		intensity := clamp01((v - lower) / c.window.Width)
		color += (1 - alpha) * a * intensity
		alpha += (1 - alpha) * a
		if alpha >= c.stop {
			break
		}
	}
	return color
}

// composite renders every pixel of g with c
func composite(r *run, vol *models.Volume, req Request, g grid, c *compositor) ([]float64, error) {
	k := g.steps(vol, req.SlabThickness)
	out := make([]float64, g.width*g.height)
	err := r.rows(g.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < g.width; x++ {
				out[y*g.width+x] = c.ray(g.at(x, y), g.dn, k)
			}
		}
	})
	return out, err
}

// volumeRender composites the whole volume with an opacity ramp spanning
// the display window
func volumeRender(r *run, vol *models.Volume, req Request) ([]Image, error) {
	g, err := planeGrid(req.Kind, vol, req.Plane)
	if err != nil {
		return nil, err
	}
	window := req.Window
	if window.IsZero() {
		window = windowing.AutoWindow(vol.Data, vol.Modality)
	}
	cfg := r.engine.cfg
	c := &compositor{
		sampler: interpolation.NewSampler(vol, interpolation.Trilinear, background(vol, req.Background)),
		tf:      Ramp(window.Lower(), window.Upper()),
		window:  window,
		scale:   cfg.OpacityScale,
		stop:    cfg.EarlyTermination,
	}
	r.phase(0, 95)
	out, err := composite(r, vol, req, g, c)
	if err != nil {
		return nil, err
	}
	return []Image{{Width: g.width, Height: g.height, Spacing: g.spacing(), Values: out, Window: unitWindow}}, nil
}

// unitWindow displays values already normalised to [0,1]
var unitWindow = windowing.Setting{Width: 1, Center: 0.5}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}
