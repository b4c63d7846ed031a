package reconstruction

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
)

// grid maps output pixels to positions in the volume frame (mm). Pixel
// (x, y) sits at origin + x*du + y*dv; projections step along dn.
type grid struct {
	origin r3.Vec
	du     r3.Vec
	dv     r3.Vec
	dn     r3.Vec
	width  int
	height int
}

func (g grid) at(x, y int) r3.Vec {
	return r3.Add(g.origin, r3.Add(r3.Scale(float64(x), g.du), r3.Scale(float64(y), g.dv)))
}

func (g grid) spacing() [2]float64 {
	return [2]float64{r3.Norm(g.du), r3.Norm(g.dv)}
}

// steps returns how many dn steps cover half a slab of the given
// thickness; zero thickness covers the whole volume
func (g grid) steps(vol *models.Volume, thickness float64) int {
	step := r3.Norm(g.dn)
	if step == 0 {
		return 0
	}
	half := thickness / 2
	if thickness <= 0 {
		half = r3.Norm(vol.Extent()) + step
	}
	return int(math.Floor(half/step + 1e-9))
}

// planeGrid lays out the output plane. Axis-aligned planes sample the
// native voxel grid; oblique planes are square, centred on the plane
// point, with the smallest voxel dimension as pixel size and the volume
// diagonal as extent.
func planeGrid(kind Kind, vol *models.Volume, p Plane) (grid, error) {
	sx, sy, sz := vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z

	index := func(n int) (int, error) {
		if p.Index == CenterIndex {
			return n / 2, nil
		}
		if p.Index < 0 || p.Index >= n {
			return 0, invalidf("%s plane index %d outside [0, %d)", p.Orientation, p.Index, n)
		}
		return p.Index, nil
	}
	needSlices := func() error {
		if vol.Depth < 2 {
			return &InsufficientDataError{
				Kind:   kind,
				Reason: p.Orientation.String() + " plane crosses the slice stack",
				Have:   vol.Depth,
				Need:   2,
			}
		}
		return nil
	}

	switch p.Orientation {
	case Axial:
		k, err := index(vol.Depth)
		if err != nil {
			return grid{}, err
		}
		return grid{
			origin: r3.Vec{Z: float64(k) * sz},
			du:     r3.Vec{X: sx},
			dv:     r3.Vec{Y: sy},
			dn:     r3.Vec{Z: sz},
			width:  vol.Width,
			height: vol.Height,
		}, nil

	case Sagittal:
		if err := needSlices(); err != nil {
			return grid{}, err
		}
		i, err := index(vol.Width)
		if err != nil {
			return grid{}, err
		}
		return grid{
			origin: r3.Vec{X: float64(i) * sx},
			du:     r3.Vec{Y: sy},
			dv:     r3.Vec{Z: sz},
			dn:     r3.Vec{X: sx},
			width:  vol.Height,
			height: vol.Depth,
		}, nil

	case Coronal:
		if err := needSlices(); err != nil {
			return grid{}, err
		}
		j, err := index(vol.Height)
		if err != nil {
			return grid{}, err
		}
		return grid{
			origin: r3.Vec{Y: float64(j) * sy},
			du:     r3.Vec{X: sx},
			dv:     r3.Vec{Z: sz},
			dn:     r3.Vec{Y: sy},
			width:  vol.Width,
			height: vol.Depth,
		}, nil

	case Oblique:
		normal := r3.Cross(p.U, p.V)
		if math.Abs(normal.Z) < 1-1e-9 {
			if err := needSlices(); err != nil {
				return grid{}, err
			}
		}
		s := vol.MinSpacing()
		extent := r3.Norm(vol.Extent())
		n := int(math.Ceil(extent/s)) + 1
		half := float64(n-1) / 2 * s
		origin := r3.Sub(p.Point, r3.Add(r3.Scale(half, p.U), r3.Scale(half, p.V)))
		return grid{
			origin: origin,
			du:     r3.Scale(s, p.U),
			dv:     r3.Scale(s, p.V),
			dn:     r3.Scale(s, r3.Unit(normal)),
			width:  n,
			height: n,
		}, nil
	}
	return grid{}, invalidf("unknown orientation %d", int(p.Orientation))
}

// background resolves the out-of-volume fill value
func background(vol *models.Volume, b Background) float64 {
	if b.Mode == BackgroundValue {
		return b.Value
	}
	lo, _ := vol.Range()
	return lo
}
