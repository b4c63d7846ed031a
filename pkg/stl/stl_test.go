package stl

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sphereVolume returns a size^3 binary volume holding a sphere of radius size/4
func sphereVolume(size int) []float64 {
	data := make([]float64, size*size*size)
	radius := float64(size) / 4.0
	center := float64(size) / 2.0
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx, dy, dz := float64(x)-center, float64(y)-center, float64(z)-center
				if math.Sqrt(dx*dx+dy*dy+dz*dz) < radius {
					data[z*size*size+y*size+x] = 1.0
				}
			}
		}
	}
	return data
}

// cornerVolume is a 2x2x2 grid with only the first voxel inside
var cornerVolume = []float64{
	1, 0,
	0, 0,

	0, 0,
	0, 0,
}

func TestMarchingCubes(t *testing.T) {
	size := 20
	center := float32(size) / 2
	mc := NewMarchingCubes(sphereVolume(size), size, size, size, 0.5)
	triangles := mc.GenerateTriangles()

	require.GreaterOrEqual(t, len(triangles), 100)

	// sample normals point away from the sphere centre
	for _, tri := range triangles[:10] {
		c := [3]float32{
			(tri.Vertex1[0]+tri.Vertex2[0]+tri.Vertex3[0])/3 - center,
			(tri.Vertex1[1]+tri.Vertex2[1]+tri.Vertex3[1])/3 - center,
			(tri.Vertex1[2]+tri.Vertex2[2]+tri.Vertex3[2])/3 - center,
		}
		mag := float32(math.Sqrt(float64(c[0]*c[0] + c[1]*c[1] + c[2]*c[2])))
		dot := (c[0]*tri.Normal[0] + c[1]*tri.Normal[1] + c[2]*tri.Normal[2]) / mag
		assert.Greater(t, dot, float32(-0.5))
	}

	// consistent outward winding encloses a positive volume close to the sphere's
	vol := 0.0
	for _, tri := range Weld(triangles, 1e-4).Triangles() {
		a, b, c := tri.Vertex1, tri.Vertex2, tri.Vertex3
		cross := [3]float64{
			float64(b[1]*c[2] - b[2]*c[1]),
			float64(b[2]*c[0] - b[0]*c[2]),
			float64(b[0]*c[1] - b[1]*c[0]),
		}
		vol += (float64(a[0])*cross[0] + float64(a[1])*cross[1] + float64(a[2])*cross[2]) / 6
	}
	r := float64(size) / 4
	assert.InDelta(t, 4.0/3.0*math.Pi*r*r*r, vol, 200)
}

func TestGenerateTrianglesDeterministic(t *testing.T) {
	data := sphereVolume(12)
	a := NewMarchingCubes(data, 12, 12, 12, 0.5).GenerateTriangles()
	b := NewMarchingCubes(data, 12, 12, 12, 0.5).GenerateTriangles()
	assert.Equal(t, a, b)

	mc := NewMarchingCubes(data, 12, 12, 12, 0.5)
	var layered []Triangle
	for z := 0; z < mc.Layers(); z += 4 {
		layered = append(layered, mc.GenerateLayers(z, z+4)...)
	}
	assert.Equal(t, a, layered)
}

func TestSetScale(t *testing.T) {
	mc := NewMarchingCubes(cornerVolume, 2, 2, 2, 0.5)
	mc.SetScale(2.5, 1.5, 3.0)
	scaled := mc.GenerateTriangles()
	require.NotEmpty(t, scaled)

	plain := NewMarchingCubes(cornerVolume, 2, 2, 2, 0.5).GenerateTriangles()
	require.Len(t, plain, len(scaled))

	for i := range plain {
		for _, pair := range [][2][3]float32{
			{plain[i].Vertex1, scaled[i].Vertex1},
			{plain[i].Vertex2, scaled[i].Vertex2},
			{plain[i].Vertex3, scaled[i].Vertex3},
		} {
			assert.InDelta(t, pair[0][0]*2.5, pair[1][0], 1e-5)
			assert.InDelta(t, pair[0][1]*1.5, pair[1][1], 1e-5)
			assert.InDelta(t, pair[0][2]*3.0, pair[1][2], 1e-5)
		}
	}
}

func TestTriangleInterpolation(t *testing.T) {
	triangles := NewMarchingCubes(cornerVolume, 2, 2, 2, 0.5).GenerateTriangles()
	require.NotEmpty(t, triangles)

	for _, tri := range triangles {
		assert.True(t, hasInterpolatedVertex(tri))
		assert.NotEqual(t, [3]float32{}, tri.Normal)
		// the crossing sits half way along each edge leaving the corner
		for _, v := range [][3]float32{tri.Vertex1, tri.Vertex2, tri.Vertex3} {
			for _, c := range v {
				assert.True(t, c == 0 || c == 0.5)
			}
		}
	}
}

func TestWeldSharesVertices(t *testing.T) {
	triangles := NewMarchingCubes(sphereVolume(16), 16, 16, 16, 0.5).GenerateTriangles()
	mesh := Weld(triangles, 1e-4)

	require.NotEmpty(t, mesh.Faces)
	assert.Less(t, len(mesh.Vertices), 3*len(triangles))
	assert.Len(t, mesh.Normals, len(mesh.Vertices))
	assert.LessOrEqual(t, len(mesh.Faces), len(triangles))

	// a closed surface: every edge is shared by exactly two faces
	edges := map[[2]uint32]int{}
	for _, f := range mesh.Faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			if a > b {
				a, b = b, a
			}
			edges[[2]uint32{a, b}]++
		}
	}
	for e, n := range edges {
		assert.Equal(t, 2, n, "edge %v", e)
	}

	lo, hi := mesh.Bounds()
	for i := 0; i < 3; i++ {
		assert.Greater(t, hi[i], lo[i])
	}
	assert.Positive(t, mesh.SizeBytes())
	assert.Len(t, mesh.Triangles(), len(mesh.Faces))
}

func TestSaveToSTL(t *testing.T) {
	triangles := []Triangle{{
		Normal:  [3]float32{0, 0, 1},
		Vertex1: [3]float32{0, 0, 0},
		Vertex2: [3]float32{1, 0, 0},
		Vertex3: [3]float32{0, 1, 0},
	}}

	path := filepath.Join(t.TempDir(), "surface.stl")
	require.NoError(t, SaveToSTL(path, triangles))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(80+4+50), info.Size())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	back, err := ReadSTL(f)
	require.NoError(t, err)
	assert.Equal(t, triangles, back)
}

func TestReadSTLTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSTL(&buf, make([]Triangle, 2)))
	_, err := ReadSTL(bytes.NewReader(buf.Bytes()[:buf.Len()-10]))
	assert.Error(t, err)
}

func hasInterpolatedVertex(tri Triangle) bool {
	for _, v := range [][3]float32{tri.Vertex1, tri.Vertex2, tri.Vertex3} {
		for _, c := range v {
			if math.Abs(float64(c)-math.Round(float64(c))) > 0.001 {
				return true
			}
		}
	}
	return false
}

func BenchmarkMarchingCubes(b *testing.B) {
	data := sphereVolume(32)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewMarchingCubes(data, 32, 32, 32, 0.5).GenerateTriangles()
	}
}
