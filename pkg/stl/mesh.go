package stl

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh is an indexed triangle surface. Shared vertices are stored once and
// carry an area-weighted normal.
type Mesh struct {
	Vertices [][3]float32
	Normals  [][3]float32
	Faces    [][3]uint32
}

// weldPoint is a kd-tree entry remembering its vertex index
type weldPoint struct {
	pos   [3]float64
	index int
}

func (p weldPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.pos[d] - c.(weldPoint).pos[d]
}

func (p weldPoint) Dims() int { return 3 }

// Distance returns the squared euclidean distance
func (p weldPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(weldPoint)
	dx, dy, dz := p.pos[0]-q.pos[0], p.pos[1]-q.pos[1], p.pos[2]-q.pos[2]
	return dx*dx + dy*dy + dz*dz
}

// Weld merges triangle corners closer than tolerance into shared vertices
// and drops facets that collapse as a result
func Weld(triangles []Triangle, tolerance float64) *Mesh {
	m := &Mesh{}
	tree := &kdtree.Tree{}
	tol2 := tolerance * tolerance

	lookup := func(v [3]float32) uint32 {
		p := weldPoint{pos: [3]float64{float64(v[0]), float64(v[1]), float64(v[2])}}
		if len(m.Vertices) > 0 {
			if near, d := tree.Nearest(p); near != nil && d <= tol2 {
				return uint32(near.(weldPoint).index)
			}
		}
		p.index = len(m.Vertices)
		tree.Insert(p, false)
		m.Vertices = append(m.Vertices, v)
		return uint32(p.index)
	}

	for _, t := range triangles {
		f := [3]uint32{lookup(t.Vertex1), lookup(t.Vertex2), lookup(t.Vertex3)}
		if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] {
			continue
		}
		m.Faces = append(m.Faces, f)
	}
	m.computeNormals()
	return m
}

func (m *Mesh) computeNormals() {
	acc := make([]r3.Vec, len(m.Vertices))
	for _, f := range m.Faces {
		a, b, c := m.vertex(f[0]), m.vertex(f[1]), m.vertex(f[2])
		// the cross product length is twice the facet area
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		for _, i := range f {
			acc[i] = r3.Add(acc[i], n)
		}
	}
	m.Normals = make([][3]float32, len(acc))
	for i, n := range acc {
		if r3.Norm(n) > 0 {
			m.Normals[i] = vec32(r3.Unit(n))
		}
	}
}

func (m *Mesh) vertex(i uint32) r3.Vec {
	v := m.Vertices[i]
	return r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

// Triangles expands the mesh back into independent facets
func (m *Mesh) Triangles() []Triangle {
	out := make([]Triangle, 0, len(m.Faces))
	for _, f := range m.Faces {
		a, b, c := m.vertex(f[0]), m.vertex(f[1]), m.vertex(f[2])
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		if r3.Norm(n) > 0 {
			n = r3.Unit(n)
		}
		out = append(out, Triangle{
			Normal:  vec32(n),
			Vertex1: m.Vertices[f[0]],
			Vertex2: m.Vertices[f[1]],
			Vertex3: m.Vertices[f[2]],
		})
	}
	return out
}

// Bounds returns the axis-aligned bounding box of the vertices
func (m *Mesh) Bounds() (lo, hi [3]float32) {
	if len(m.Vertices) == 0 {
		return lo, hi
	}
	for i := 0; i < 3; i++ {
		lo[i], hi[i] = math.MaxFloat32, -math.MaxFloat32
	}
	for _, v := range m.Vertices {
		for i := 0; i < 3; i++ {
			lo[i] = min(lo[i], v[i])
			hi[i] = max(hi[i], v[i])
		}
	}
	return lo, hi
}

// SizeBytes returns the memory held by the mesh buffers
func (m *Mesh) SizeBytes() int64 {
	return int64(len(m.Vertices))*12 + int64(len(m.Normals))*12 + int64(len(m.Faces))*12
}
