package reconstruction

import (
	"context"
	"fmt"
	"math"
	"time"

	"dicomrecon/internal/models"
	"dicomrecon/pkg/interpolation"
	"dicomrecon/pkg/progress"
	"dicomrecon/pkg/volume"
	"dicomrecon/pkg/windowing"
)

// compute produces the result for a normalised request. It runs inside the
// cache's single flight, so at most one compute per fingerprint is active.
func (e *Engine) compute(ctx context.Context, cancel context.CancelCauseFunc, h *progress.Handle, req Request, fp string) (*Result, error) {
	r := &run{
		ctx:         ctx,
		cancel:      cancel,
		handle:      h,
		fingerprint: fp,
		engine:      e,
		workers:     e.cfg.Workers,
		bandRows:    e.cfg.BandRows,
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, r.cancelled(h.Percent())
	}
	defer e.sem.Release(1)

	if e.onCompute != nil {
		e.onCompute(fp)
	}
	if e.metrics != nil {
		e.metrics.Active.Inc()
		defer e.metrics.Active.Dec()
	}
	start := time.Now()

	vol := req.Volume
	if req.Downsample > 1 {
		var err error
		if vol, err = volume.Downsample(vol, req.Downsample); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Fingerprint: fp,
		SeriesID:    vol.SeriesID,
		Kind:        req.Kind,
	}
	res.Warnings = append(res.Warnings, vol.Warnings...)

	var err error
	switch req.Kind {
	case MPR:
		res.Images, err = mpr(r, vol, req)
	case MIP, MinIP:
		res.Images, err = project(r, vol, req)
	case VolumeRender:
		res.Images, err = volumeRender(r, vol, req)
	case CurvedMPR:
		res.Images, err = curved(r, vol, req)
	case Bone3D:
		err = e.bone(r, vol, req, res)
	}
	if err != nil {
		return nil, err
	}

	if report := e.calibrate(req.Volume); report != nil {
		res.Calibration = report
		if report.Warning != nil {
			res.Warnings = append(res.Warnings, report.Warning.Error())
			e.log.Warn("calibration out of tolerance", "series", vol.SeriesID, "issues", report.Warning.Issues)
		}
	}

	if !req.Format.RawOnly {
		for i := range res.Images {
			if err := display(&res.Images[i], req, vol.Modality); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("image %d not windowed: %v", i, err))
				e.log.Warn("display rendition skipped", "series", vol.SeriesID, "image", i, "err", err)
			}
		}
	}

	res.CreatedAt = time.Now()
	res.Elapsed = res.CreatedAt.Sub(start)
	return res, nil
}

func (e *Engine) bone(r *run, vol *models.Volume, req Request, res *Result) error {
	if req.Surface && vol.Depth < 2 {
		return &InsufficientDataError{Kind: Bone3D, Reason: "surface extraction needs a slice stack", Have: vol.Depth, Need: 2}
	}
	t, err := segment(r, vol, req)
	if err != nil {
		return err
	}
	res.Warnings = append(res.Warnings, t.warnings...)
	if req.Surface {
		res.Mesh, err = boneSurface(r, vol, t)
		return err
	}
	res.Images, err = boneProjection(r, vol, req, t)
	return err
}

// display windows an image for viewing. Rendered projections carry their
// own unit window; otherwise the request window or an automatic one is used.
// On error the image keeps its values and has no display buffer.
func display(img *Image, req Request, modality string) error {
	if img.Window.IsZero() {
		img.Window = req.Window
		if img.Window.IsZero() {
			img.Window = windowing.AutoWindow(img.Values, modality)
		}
	}
	unit, err := windowing.Normalize(img.Values, windowing.Identity, img.Window)
	if err != nil {
		return err
	}
	img.Display = windowing.Quantize(unit, img.Width, img.Height, windowing.Options{
		Depth:  req.Format.Depth,
		Invert: req.Format.Invert,
	})
	return nil
}

// calibrate validates hounsfield values on the middle slice of CT volumes
func (e *Engine) calibrate(vol *models.Volume) *windowing.CalibrationReport {
	if vol.Modality != "CT" {
		return nil
	}
	n := vol.Width * vol.Height
	z := vol.Depth / 2
	report := windowing.ValidateHounsfield(windowing.Input{
		Values:   vol.Data[z*n : (z+1)*n],
		Width:    vol.Width,
		Height:   vol.Height,
		Modality:    vol.Modality,
		RescaleType: vol.RescaleType,
		Rescale:     windowing.Rescale{Slope: vol.RescaleSlope, Intercept: vol.RescaleIntercept},
	}, e.cfg.Tolerances)
	return &report
}

// checkMemory estimates the working set of req and rejects it when it
// exceeds the configured limit
func (e *Engine) checkMemory(req Request) error {
	limit := e.cfg.MaxWorkingSet
	if limit <= 0 {
		return nil
	}
	required := estimate(req)
	if required <= limit {
		return nil
	}
	return &OutOfMemoryError{Required: required, Limit: limit, SuggestedDownsample: suggestDownsample(req, limit)}
}

// suggestDownsample returns the smallest factor above the requested one
// whose estimate fits limit, never less than 2
func suggestDownsample(req Request, limit int64) int {
	v := req.Volume
	most := max(v.Width, v.Height, v.Depth, 2)
	for f := max(req.Downsample+1, 2); f <= most; f++ {
		req.Downsample = f
		if estimate(req) <= limit {
			return f
		}
	}
	return most
}

// estimate approximates the bytes a request allocates while computing
func estimate(req Request) int64 {
	v := req.Volume
	f := req.Downsample
	w, h, d := ceilDiv(v.Width, f), ceilDiv(v.Height, f), ceilDiv(v.Depth, f)
	voxels := int64(w) * int64(h) * int64(d)

	// the working volume, the source itself when f is 1
	n := voxels * 8

	// output pixels: values plus 16-bit display
	var pixels int64
	switch req.Kind {
	case CurvedMPR:
		pixels = curvedPixels(req, v.MinSpacing()*float64(f))
	case Bone3D:
		if req.Surface {
			pixels = 0
		} else {
			pixels = planePixels(req.Plane, w, h, d)
		}
	default:
		pixels = planePixels(req.Plane, w, h, d)
	}
	n += pixels * 10

	if req.Kind == Bone3D {
		// threshold, dilate and erode masks, float copy for extraction,
		// and smoothing buffers
		n += voxels * (3 + 8 + 16)
		if !req.Surface {
			n += voxels * 8
		}
	}
	return n
}

func planePixels(p Plane, w, h, d int) int64 {
	switch p.Orientation {
	case Sagittal:
		return int64(h) * int64(d)
	case Coronal:
		return int64(w) * int64(d)
	case Oblique:
		diag := math.Sqrt(float64(w*w + h*h + d*d))
		n := int64(diag) + 2
		return n * n
	}
	return int64(w) * int64(h)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// curvedPixels sizes the straightened image the same way curved does
func curvedPixels(req Request, step float64) int64 {
	if len(req.Path) < 2 || step <= 0 {
		return 0
	}
	curve, err := interpolation.FitCurve(req.Path)
	if err != nil {
		return 0
	}
	rows := int64(math.Floor(curve.Length()/step)) + 1
	cols := int64(math.Floor(req.CurvedWidth/step)) + 1
	return rows * cols
}
