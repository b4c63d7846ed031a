package reconstruction

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
	"dicomrecon/pkg/windowing"
)

// CenterIndex selects the middle slice of the volume along the plane axis
const CenterIndex = -1

// Plane positions a reconstruction. Axis-aligned orientations use Index
// (CenterIndex for the middle); Oblique uses Point and the in-plane
// directions U (columns) and V (rows), all in the volume frame in mm.
type Plane struct {
	Orientation Orientation
	Index       int
	Point       r3.Vec
	U           r3.Vec
	V           r3.Vec
}

// Format controls the display rendition of result images
type Format struct {
	Depth  windowing.BitDepth
	Invert bool
	// RawOnly skips display conversion; only Values are returned
	RawOnly bool
}

// BackgroundMode selects the fill for samples outside the volume
type BackgroundMode int

const (
	// BackgroundMinimum fills with the volume minimum
	BackgroundMinimum BackgroundMode = iota
	// BackgroundValue fills with Background.Value
	BackgroundValue
)

// Background is the out-of-volume fill
type Background struct {
	Mode  BackgroundMode
	Value float64
}

// Range is an inclusive intensity interval
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies in the range
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Request is an immutable description of one reconstruction
type Request struct {
	// ID identifies the request for progress and cancellation. It is not
	// part of the fingerprint; an empty ID is generated.
	ID string

	Volume *models.Volume
	Kind   Kind
	Plane  Plane

	// SlabThickness limits projection rays to this many mm around the
	// plane; zero projects through the whole volume
	SlabThickness float64

	// Window is used for display; Preset, when set, takes precedence and a
	// zero window with no preset is derived from the output statistics
	Window windowing.Setting
	Preset string

	Format     Format
	Background Background

	// Tissue names the Bone3D intensity range: bone, vessel, soft_tissue,
	// lung or auto. Threshold overrides it.
	Tissue    string
	Threshold *Range
	// Surface selects mesh extraction instead of a projection for Bone3D
	Surface bool

	// Path holds the CurvedMPR control points in mm, volume frame
	Path []r3.Vec
	// CurvedWidth is the lateral extent of the straightened image in mm
	CurvedWidth float64
	// Up orients the lateral direction of CurvedMPR
	Up r3.Vec

	// Downsample reduces the volume by this factor before reconstruction
	Downsample int
}

// tissueRanges are the Bone3D presets in HU
var tissueRanges = map[string]Range{
	"bone":        {Min: 300, Max: math.Inf(1)},
	"vessel":      {Min: 150, Max: 600},
	"soft_tissue": {Min: -100, Max: 300},
	"lung":        {Min: -1000, Max: -400},
}

// normalize validates r and fills defaults. The result is what gets
// fingerprinted, so equivalent requests share a cache entry.
func (r Request) normalize(cfg Config) (Request, error) {
	if r.Volume == nil {
		return r, invalidf("no volume")
	}
	v := r.Volume
	if v.Width < 1 || v.Height < 1 || v.Depth < 1 || len(v.Data) != v.Width*v.Height*v.Depth {
		return r, invalidf("volume %s has inconsistent dimensions", v.SeriesID)
	}
	if !r.Kind.Valid() {
		return r, invalidf("unknown kind %d", int(r.Kind))
	}

	if r.Preset != "" {
		s, err := windowing.Preset(r.Preset)
		if err != nil {
			return r, err
		}
		r.Window = s
		r.Preset = ""
	}
	if r.Window.Width < 0 || (r.Window.Width == 0 && r.Window.Center != 0) {
		return r, fmt.Errorf("%w: %w", ErrInvalidRequest, windowing.ErrInvalidWindow)
	}

	switch r.Format.Depth {
	case 0:
		r.Format.Depth = windowing.Depth8
	case windowing.Depth8, windowing.Depth16:
	default:
		return r, invalidf("unsupported bit depth %d", r.Format.Depth)
	}

	if r.Downsample == 0 {
		r.Downsample = 1
	}
	if r.Downsample < 1 {
		return r, invalidf("downsample factor %d", r.Downsample)
	}
	if r.SlabThickness < 0 || math.IsNaN(r.SlabThickness) {
		return r, invalidf("slab thickness %g", r.SlabThickness)
	}
	if r.Background.Mode == BackgroundMinimum {
		r.Background.Value = 0
	}

	if r.Plane.Orientation == Oblique {
		u, vv, err := obliqueBasis(r.Plane.U, r.Plane.V)
		if err != nil {
			return r, err
		}
		r.Plane.U, r.Plane.V = u, vv
	} else {
		r.Plane.Point, r.Plane.U, r.Plane.V = r3.Vec{}, r3.Vec{}, r3.Vec{}
		if r.Plane.Index < CenterIndex {
			return r, invalidf("plane index %d", r.Plane.Index)
		}
	}

	switch r.Kind {
	case Bone3D:
		if r.Tissue == "" {
			r.Tissue = "bone"
		}
		if _, ok := tissueRanges[r.Tissue]; !ok && r.Tissue != "auto" {
			return r, invalidf("unknown tissue %q", r.Tissue)
		}
		if r.Threshold != nil && r.Threshold.Min > r.Threshold.Max {
			return r, invalidf("threshold min %g above max %g", r.Threshold.Min, r.Threshold.Max)
		}
	case CurvedMPR:
		if r.CurvedWidth == 0 {
			r.CurvedWidth = cfg.CurvedWidth
		}
		if r.CurvedWidth <= 0 {
			return r, invalidf("curved width %g", r.CurvedWidth)
		}
		if r3.Norm(r.Up) == 0 {
			r.Up = r3.Vec{Z: 1}
		}
		r.Up = r3.Unit(r.Up)
	}
	if r.Kind != Bone3D {
		r.Tissue, r.Threshold, r.Surface = "", nil, false
	}
	if r.Kind != CurvedMPR {
		r.Path, r.CurvedWidth, r.Up = nil, 0, r3.Vec{}
	}
	return r, nil
}

// obliqueBasis returns unit U and the component of V orthogonal to U
func obliqueBasis(u, v r3.Vec) (r3.Vec, r3.Vec, error) {
	if r3.Norm(u) == 0 || r3.Norm(v) == 0 {
		return u, v, invalidf("oblique plane needs two direction vectors")
	}
	u = r3.Unit(u)
	v = r3.Sub(v, r3.Scale(r3.Dot(u, v), u))
	if r3.Norm(v) < 1e-9 {
		return u, v, invalidf("oblique directions are parallel")
	}
	return u, r3.Unit(v), nil
}

// Fingerprint returns a deterministic hex digest of every parameter that
// affects the output, including the identity and content of the volume
func (r Request) Fingerprint() string {
	h := sha256.New()
	field := func(name string, v interface{}) { fmt.Fprintf(h, "%s=%v\n", name, v) }

	if r.Volume != nil {
		field("series", r.Volume.SeriesID)
		field("content", r.Volume.ContentHash)
	}
	field("kind", r.Kind)
	field("orientation", r.Plane.Orientation)
	field("index", r.Plane.Index)
	vec(h, "point", r.Plane.Point)
	vec(h, "u", r.Plane.U)
	vec(h, "v", r.Plane.V)
	field("slab", r.SlabThickness)
	field("window", fmt.Sprintf("%v/%v", r.Window.Width, r.Window.Center))
	field("preset", r.Preset)
	field("format", fmt.Sprintf("%d/%t/%t", r.Format.Depth, r.Format.Invert, r.Format.RawOnly))
	field("background", fmt.Sprintf("%d/%v", r.Background.Mode, r.Background.Value))
	field("tissue", r.Tissue)
	if r.Threshold != nil {
		field("threshold", fmt.Sprintf("%v/%v", r.Threshold.Min, r.Threshold.Max))
	}
	field("surface", r.Surface)
	field("path", len(r.Path))
	for _, p := range r.Path {
		vec(h, "p", p)
	}
	field("curved_width", r.CurvedWidth)
	vec(h, "up", r.Up)
	field("downsample", r.Downsample)

	return hex.EncodeToString(h.Sum(nil))
}

func vec(h hash.Hash, name string, v r3.Vec) {
	fmt.Fprintf(h, "%s=%v,%v,%v\n", name, v.X, v.Y, v.Z)
}
