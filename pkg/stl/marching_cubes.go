// Package stl extracts iso-surfaces from voxel grids and writes them as
// binary STL meshes.
package stl

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Triangle is one facet of an extracted surface, vertices ordered
// counter-clockwise around Normal
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// MarchingCubes extracts the iso-surface of a scalar grid. Each cell is
// split into six tetrahedra sharing its main diagonal, which avoids the
// ambiguous configurations of the 256-case cube table and always yields a
// watertight surface.
type MarchingCubes struct {
	data     []float64
	width    int
	height   int
	depth    int
	isoLevel float64
	xScale   float32
	yScale   float32
	zScale   float32
}

// cube corner offsets
var corners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// six tetrahedra around the 0-6 diagonal
var tetrahedra = [6][4]int{
	{0, 5, 1, 6}, {0, 1, 2, 6}, {0, 2, 3, 6},
	{0, 3, 7, 6}, {0, 7, 4, 6}, {0, 4, 5, 6},
}

// NewMarchingCubes creates an extractor for data laid out z*W*H + y*W + x.
// Voxels with a value at or above isoLevel are inside the surface.
func NewMarchingCubes(data []float64, width, height, depth int, isoLevel float64) *MarchingCubes {
	return &MarchingCubes{
		data:     data,
		width:    width,
		height:   height,
		depth:    depth,
		isoLevel: isoLevel,
		xScale:   1,
		yScale:   1,
		zScale:   1,
	}
}

// SetScale sets the physical size of a voxel along each axis
func (mc *MarchingCubes) SetScale(x, y, z float32) {
	mc.xScale, mc.yScale, mc.zScale = x, y, z
}

// Layers returns the number of cell layers along z
func (mc *MarchingCubes) Layers() int {
	if mc.depth < 2 {
		return 0
	}
	return mc.depth - 1
}

// GenerateTriangles extracts the whole surface, one goroutine per layer.
// The order of the result is deterministic.
func (mc *MarchingCubes) GenerateTriangles() []Triangle {
	layers := make([][]Triangle, mc.Layers())
	var wg sync.WaitGroup
	for z := range layers {
		wg.Add(1)
		go func(z int) {
			defer wg.Done()
			layers[z] = mc.GenerateLayers(z, z+1)
		}(z)
	}
	wg.Wait()

	var out []Triangle
	for _, l := range layers {
		out = append(out, l...)
	}
	return out
}

// GenerateLayers extracts the surface crossing cell layers [z0, z1)
func (mc *MarchingCubes) GenerateLayers(z0, z1 int) []Triangle {
	if z1 > mc.Layers() {
		z1 = mc.Layers()
	}
	var out []Triangle
	var pos [8]r3.Vec
	var val [8]float64
	for z := z0; z < z1; z++ {
		for y := 0; y < mc.height-1; y++ {
			for x := 0; x < mc.width-1; x++ {
				inside := 0
				for i, c := range corners {
					cx, cy, cz := x+c[0], y+c[1], z+c[2]
					val[i] = mc.data[cz*mc.width*mc.height+cy*mc.width+cx]
					pos[i] = r3.Vec{
						X: float64(cx) * float64(mc.xScale),
						Y: float64(cy) * float64(mc.yScale),
						Z: float64(cz) * float64(mc.zScale),
					}
					if val[i] >= mc.isoLevel {
						inside++
					}
				}
				if inside == 0 || inside == 8 {
					continue
				}
				for _, tet := range tetrahedra {
					out = mc.polygonise(out, tet, &pos, &val)
				}
			}
		}
	}
	return out
}

// polygonise appends the triangles of one tetrahedron
func (mc *MarchingCubes) polygonise(out []Triangle, tet [4]int, pos *[8]r3.Vec, val *[8]float64) []Triangle {
	var in, outside []int
	for _, c := range tet {
		if val[c] >= mc.isoLevel {
			in = append(in, c)
		} else {
			outside = append(outside, c)
		}
	}

	// facets face from the inside corners toward the outside ones
	outward := r3.Sub(centroid(pos, outside), centroid(pos, in))

	edge := func(a, b int) r3.Vec { return mc.interpolate(pos[a], pos[b], val[a], val[b]) }

	switch len(in) {
	case 1:
		a := in[0]
		return appendFacet(out, edge(a, outside[0]), edge(a, outside[1]), edge(a, outside[2]), outward)
	case 3:
		b := outside[0]
		return appendFacet(out, edge(in[0], b), edge(in[1], b), edge(in[2], b), outward)
	case 2:
		p, q := in[0], in[1]
		r, s := outside[0], outside[1]
		pr, ps, qs, qr := edge(p, r), edge(p, s), edge(q, s), edge(q, r)
		out = appendFacet(out, pr, ps, qs, outward)
		return appendFacet(out, pr, qs, qr, outward)
	}
	return out
}

// interpolate finds the iso crossing on the edge a-b
func (mc *MarchingCubes) interpolate(a, b r3.Vec, va, vb float64) r3.Vec {
	if va == vb {
		return r3.Scale(0.5, r3.Add(a, b))
	}
	t := (mc.isoLevel - va) / (vb - va)
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

func centroid(pos *[8]r3.Vec, idx []int) r3.Vec {
	var c r3.Vec
	for _, i := range idx {
		c = r3.Add(c, pos[i])
	}
	return r3.Scale(1/float64(len(idx)), c)
}

// appendFacet orients and appends a triangle, dropping degenerate ones
func appendFacet(out []Triangle, a, b, c, outward r3.Vec) []Triangle {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if r3.Norm(n) < 1e-12 {
		return out
	}
	if r3.Dot(n, outward) < 0 {
		b, c = c, b
		n = r3.Scale(-1, n)
	}
	n = r3.Unit(n)
	return append(out, Triangle{
		Normal:  vec32(n),
		Vertex1: vec32(a),
		Vertex2: vec32(b),
		Vertex3: vec32(c),
	})
}

func vec32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}
