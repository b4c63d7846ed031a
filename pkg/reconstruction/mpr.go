package reconstruction

import (
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
	"dicomrecon/pkg/interpolation"
)

// mpr resamples the volume on the request plane with trilinear
// interpolation
func mpr(r *run, vol *models.Volume, req Request) ([]Image, error) {
	g, err := planeGrid(req.Kind, vol, req.Plane)
	if err != nil {
		return nil, err
	}
	s := interpolation.NewSampler(vol, interpolation.Trilinear, background(vol, req.Background))

	out := make([]float64, g.width*g.height)
	r.phase(0, 95)
	err = r.rows(g.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < g.width; x++ {
				v, _ := s.Sample(g.at(x, y))
				out[y*g.width+x] = v
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return []Image{{Width: g.width, Height: g.height, Spacing: g.spacing(), Values: out}}, nil
}

// project casts one ray per output pixel along the plane normal and keeps
// the maximum (MIP) or minimum (MinIP) sample inside the volume. The slab
// thickness bounds the ray around the plane.
func project(r *run, vol *models.Volume, req Request) ([]Image, error) {
	g, err := planeGrid(req.Kind, vol, req.Plane)
	if err != nil {
		return nil, err
	}
	bg := background(vol, req.Background)
	s := interpolation.NewSampler(vol, interpolation.Trilinear, bg)
	k := g.steps(vol, req.SlabThickness)
	better := func(v, best float64) bool { return v > best }
	if req.Kind == MinIP {
		better = func(v, best float64) bool { return v < best }
	}

	out := make([]float64, g.width*g.height)
	r.phase(0, 95)
	err = r.rows(g.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < g.width; x++ {
				base := g.at(x, y)
				best, found := 0.0, false
				for i := -k; i <= k; i++ {
					v, ok := s.Sample(r3.Add(base, r3.Scale(float64(i), g.dn)))
					if !ok {
						continue
					}
					if !found || better(v, best) {
						best, found = v, true
					}
				}
				if !found {
					best = bg
				}
				out[y*g.width+x] = best
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return []Image{{Width: g.width, Height: g.height, Spacing: g.spacing(), Values: out}}, nil
}
