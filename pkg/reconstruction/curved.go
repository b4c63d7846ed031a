package reconstruction

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
	"dicomrecon/pkg/interpolation"
)

// curved straightens the volume along a spline through the request path.
// Row y samples the curve at arc length y*step; columns span CurvedWidth
// across the curve, perpendicular to both the tangent and Up.
func curved(r *run, vol *models.Volume, req Request) ([]Image, error) {
	if len(req.Path) < 2 {
		return nil, &InsufficientDataError{Kind: CurvedMPR, Reason: "curve control points", Have: len(req.Path), Need: 2}
	}
	curve, err := interpolation.FitCurve(req.Path)
	if err != nil {
		if errors.Is(err, interpolation.ErrDegenerateCurve) {
			return nil, invalidf("%v", err)
		}
		return nil, err
	}

	step := vol.MinSpacing()
	height := int(math.Floor(curve.Length()/step)) + 1
	width := int(math.Floor(req.CurvedWidth/step)) + 1
	half := float64(width-1) / 2

	s := interpolation.NewSampler(vol, interpolation.Trilinear, background(vol, req.Background))
	out := make([]float64, width*height)
	r.phase(0, 95)
	err = r.rows(height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			arc := float64(y) * step
			centre := curve.At(arc)
			lateral := lateralAxis(curve.Tangent(arc), req.Up)
			for x := 0; x < width; x++ {
				p := r3.Add(centre, r3.Scale((float64(x)-half)*step, lateral))
				v, _ := s.Sample(p)
				out[y*width+x] = v
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return []Image{{Width: width, Height: height, Spacing: [2]float64{step, step}, Values: out}}, nil
}

// lateralAxis returns the unit direction across the curve. When the
// tangent is parallel to up a fixed fallback axis is used.
func lateralAxis(tangent, up r3.Vec) r3.Vec {
	for _, u := range []r3.Vec{up, {Y: 1}, {X: 1}} {
		l := r3.Cross(tangent, u)
		if r3.Norm(l) > 1e-6 {
			return r3.Unit(l)
		}
	}
	return r3.Vec{X: 1}
}
