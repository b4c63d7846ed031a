package reconstruction

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"dicomrecon/internal/models"
	"dicomrecon/pkg/filter"
	"dicomrecon/pkg/interpolation"
	"dicomrecon/pkg/stl"
	"dicomrecon/pkg/windowing"
)

// tissue is the output of segmentation: the voxels to show and the range
// they were selected from
type tissue struct {
	mask     *filter.Mask
	rng      Range
	warnings []string
}

// segment thresholds the volume to the requested tissue and closes small
// gaps in the mask. Non-CT data and the "auto" tissue use a fraction of the
// mean positive intensity after light smoothing.
func segment(r *run, vol *models.Volume, req Request) (*tissue, error) {
	cfg := r.engine.cfg
	out := &tissue{}
	data := vol.Data

	switch {
	case req.Threshold != nil:
		out.rng = *req.Threshold
	case req.Tissue == "auto" || vol.Modality != "CT":
		if req.Tissue != "auto" {
			out.warnings = append(out.warnings,
				fmt.Sprintf("%s tissue range needs hounsfield units; using an automatic threshold for %s", req.Tissue, vol.Modality))
		}
		smoothed, err := filter.Gaussian(vol.Data, vol.Width, vol.Height, vol.Depth, cfg.SmoothingSigma)
		if err != nil {
			return nil, err
		}
		data = smoothed
		out.rng = Range{Min: autoThreshold(smoothed, cfg.AutoThresholdFraction), Max: math.Inf(1)}
	default:
		out.rng = tissueRanges[req.Tissue]
	}
	if err := r.checkpoint(10); err != nil {
		return nil, err
	}

	mask, err := filter.Threshold(data, vol.Width, vol.Height, vol.Depth, out.rng.Min, out.rng.Max)
	if err != nil {
		return nil, err
	}
	if err := r.checkpoint(20); err != nil {
		return nil, err
	}
	if cfg.ClosingIterations > 0 {
		mask = filter.Close(mask, cfg.ClosingIterations)
	}
	if err := r.checkpoint(30); err != nil {
		return nil, err
	}
	if mask.Count() == 0 {
		out.warnings = append(out.warnings, fmt.Sprintf("no voxels in range [%g, %g]", out.rng.Min, out.rng.Max))
	}
	out.mask = mask
	return out, nil
}

// autoThreshold returns fraction times the mean of the positive values
func autoThreshold(values []float64, fraction float64) float64 {
	var positive []float64
	for _, v := range values {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	if len(positive) == 0 {
		return 0
	}
	return fraction * stat.Mean(positive, nil)
}

// boneSurface extracts the tissue surface as a welded mesh in mm
func boneSurface(r *run, vol *models.Volume, t *tissue) (*stl.Mesh, error) {
	mc := stl.NewMarchingCubes(t.mask.Values(), vol.Width, vol.Height, vol.Depth, 0.5)
	mc.SetScale(float32(vol.Spacing.X), float32(vol.Spacing.Y), float32(vol.Spacing.Z))

	layers := mc.Layers()
	parts := make([][]stl.Triangle, (layers+r.bandRows-1)/r.bandRows)
	r.phase(30, 90)
	err := r.rows(layers, func(z0, z1 int) {
		parts[z0/r.bandRows] = mc.GenerateLayers(z0, z1)
	})
	if err != nil {
		return nil, err
	}

	var triangles []stl.Triangle
	for _, p := range parts {
		triangles = append(triangles, p...)
	}
	mesh := stl.Weld(triangles, 1e-3*vol.MinSpacing())
	if err := r.checkpoint(95); err != nil {
		return nil, err
	}
	return mesh, nil
}

// boneProjection renders the segmented tissue with an opacity ramp over
// its intensity range
func boneProjection(r *run, vol *models.Volume, req Request, t *tissue) ([]Image, error) {
	g, err := planeGrid(req.Kind, vol, req.Plane)
	if err != nil {
		return nil, err
	}

	maskVol := &models.Volume{
		Data:    t.mask.Values(),
		Width:   vol.Width,
		Height:  vol.Height,
		Depth:   vol.Depth,
		Spacing: vol.Spacing,
	}

	hi := t.rng.Max
	if math.IsInf(hi, 1) {
		_, hi = vol.Range()
	}
	window := req.Window
	if window.IsZero() {
		window = windowing.Setting{Width: math.Max(hi-t.rng.Min, 1), Center: (hi + t.rng.Min) / 2}
	}

	cfg := r.engine.cfg
	c := &compositor{
		sampler: interpolation.NewSampler(vol, interpolation.Trilinear, background(vol, req.Background)),
		mask:    interpolation.NewSampler(maskVol, interpolation.Nearest, 0),
		tf:      Ramp(t.rng.Min, math.Min(hi, t.rng.Min+cfg.TissueRampWidth)),
		window:  window,
		scale:   cfg.OpacityScale,
		stop:    cfg.EarlyTermination,
	}
	r.phase(30, 95)
	out, err := composite(r, vol, req, g, c)
	if err != nil {
		return nil, err
	}
	return []Image{{Width: g.width, Height: g.height, Spacing: g.spacing(), Values: out, Window: unitWindow}}, nil
}
