package interpolation

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerateCurve is returned when control points cannot define a path
var ErrDegenerateCurve = errors.New("degenerate curve")

// densify is the number of arc-length probes per control segment
const densify = 32

// Curve is a smooth path through ordered control points. Each coordinate is
// a natural cubic spline over the chord-length parameter; positions along
// the curve are addressed by arc length.
type Curve struct {
	x, y, z interp.FittablePredictor
	arcToT  *interp.PiecewiseLinear
	length  float64
}

// FitCurve fits a curve through at least two distinct control points
func FitCurve(points []r3.Vec) (*Curve, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 control points, have %d", ErrDegenerateCurve, len(points))
	}

	knots := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		d := r3.Norm(r3.Sub(points[i], points[i-1]))
		if d == 0 {
			return nil, fmt.Errorf("%w: control points %d and %d coincide", ErrDegenerateCurve, i-1, i)
		}
		knots[i] = knots[i-1] + d
	}

	xs, ys, zs := make([]float64, len(points)), make([]float64, len(points)), make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}

	c := &Curve{x: newSpline(len(points)), y: newSpline(len(points)), z: newSpline(len(points))}
	for _, fit := range []struct {
		p  interp.FittablePredictor
		vs []float64
	}{{c.x, xs}, {c.y, ys}, {c.z, zs}} {
		if err := fit.p.Fit(knots, fit.vs); err != nil {
			return nil, fmt.Errorf("fit spline: %w", err)
		}
	}

	if err := c.buildArcTable(knots[len(knots)-1], len(points)-1); err != nil {
		return nil, err
	}
	return c, nil
}

func newSpline(n int) interp.FittablePredictor {
	if n < 3 {
		return &interp.PiecewiseLinear{}
	}
	return &interp.NaturalCubic{}
}

// buildArcTable integrates the curve length numerically and stores the
// inverse mapping from arc length to the chord parameter
func (c *Curve) buildArcTable(tMax float64, segments int) error {
	steps := segments * densify
	ts := make([]float64, steps+1)
	arcs := make([]float64, steps+1)
	prev := c.position(0)
	for i := 1; i <= steps; i++ {
		t := tMax * float64(i) / float64(steps)
		p := c.position(t)
		ts[i] = t
		arcs[i] = arcs[i-1] + r3.Norm(r3.Sub(p, prev))
		prev = p
	}
	c.length = arcs[steps]

	c.arcToT = &interp.PiecewiseLinear{}
	if err := c.arcToT.Fit(arcs, ts); err != nil {
		return fmt.Errorf("%w: %v", ErrDegenerateCurve, err)
	}
	return nil
}

func (c *Curve) position(t float64) r3.Vec {
	return r3.Vec{X: c.x.Predict(t), Y: c.y.Predict(t), Z: c.z.Predict(t)}
}

// Length returns the arc length of the curve in the units of the control points
func (c *Curve) Length() float64 { return c.length }

// At returns the point at arc length s, clamped to the curve
func (c *Curve) At(s float64) r3.Vec {
	return c.position(c.param(s))
}

// Tangent returns the unit direction of travel at arc length s
func (c *Curve) Tangent(s float64) r3.Vec {
	h := c.length / float64(densify*8)
	a, b := c.At(s-h), c.At(s+h)
	d := r3.Sub(b, a)
	if r3.Norm(d) == 0 {
		return r3.Vec{}
	}
	return r3.Unit(d)
}

func (c *Curve) param(s float64) float64 {
	switch {
	case s <= 0:
		return 0
	case s >= c.length:
		s = c.length
	}
	return c.arcToT.Predict(s)
}
