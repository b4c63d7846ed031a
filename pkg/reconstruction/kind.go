package reconstruction

import (
	"fmt"
	"strings"
)

// Kind is the closed set of reconstruction types
type Kind int

const (
	MPR Kind = iota + 1
	MIP
	MinIP
	Bone3D
	VolumeRender
	CurvedMPR
)

var kindNames = map[Kind]string{
	MPR:          "mpr",
	MIP:          "mip",
	MinIP:        "minip",
	Bone3D:       "bone3d",
	VolumeRender: "volume_render",
	CurvedMPR:    "curved_mpr",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the defined kinds
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind resolves a kind name; dashes, spaces and case are ignored
func ParseKind(s string) (Kind, error) {
	name := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch name {
	case "bone", "bone_3d":
		return Bone3D, nil
	case "volume", "vr", "volumerender":
		return VolumeRender, nil
	case "curved", "curvedmpr":
		return CurvedMPR, nil
	}
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown reconstruction kind %q", ErrInvalidRequest, s)
}

// Orientation selects how a plane is specified
type Orientation int

const (
	Axial Orientation = iota
	Sagittal
	Coronal
	Oblique
)

func (o Orientation) String() string {
	switch o {
	case Axial:
		return "axial"
	case Sagittal:
		return "sagittal"
	case Coronal:
		return "coronal"
	case Oblique:
		return "oblique"
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// ParseOrientation resolves an orientation name
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "axial", "":
		return Axial, nil
	case "sagittal":
		return Sagittal, nil
	case "coronal":
		return Coronal, nil
	case "oblique":
		return Oblique, nil
	}
	return 0, fmt.Errorf("%w: unknown orientation %q", ErrInvalidRequest, s)
}
