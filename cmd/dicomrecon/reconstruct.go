package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomrecon/internal/models"
	"dicomrecon/pkg/dicomio"
	"dicomrecon/pkg/metrics"
	"dicomrecon/pkg/progress"
	"dicomrecon/pkg/reconstruction"
	"dicomrecon/pkg/visualization"
	"dicomrecon/pkg/volume"
	"dicomrecon/pkg/windowing"
)

// sourceFlags select the input series of a command
type sourceFlags struct {
	input        string
	images       string
	series       string
	sliceGap     float64
	pixelSpacing float64
	modality     string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.input, "input", "i", "", "Directory containing DICOM files")
	cmd.Flags().StringVar(&s.images, "images", "", "Directory containing JPEG/PNG/TIFF/BMP slices instead of DICOM")
	cmd.Flags().StringVar(&s.series, "series", "", "SeriesInstanceUID to load when the directory holds several")
	cmd.Flags().Float64Var(&s.sliceGap, "gap", 1.5, "Inter-slice gap in mm for image stacks")
	cmd.Flags().Float64Var(&s.pixelSpacing, "pixel-spacing", 1, "Pixel size in mm for image stacks")
	cmd.Flags().StringVar(&s.modality, "modality", "", "Modality of image stacks [default: OT]")
}

// load reads and assembles the selected series
func (s *sourceFlags) load(ctx context.Context) (*models.Volume, error) {
	var slices []models.Slice
	switch {
	case s.images != "":
		var err error
		slices, err = dicomio.LoadImageDir(s.images, dicomio.ImageStack{
			SeriesID:     s.series,
			SliceGap:     s.sliceGap,
			PixelSpacing: s.pixelSpacing,
			Modality:     s.modality,
		})
		if err != nil {
			return nil, err
		}
	case s.input != "":
		all, err := dicomio.LoadDir(ctx, s.input, dicomio.LoadOptions{Workers: cfg.Engine.Workers, Logger: lg})
		if err != nil {
			return nil, err
		}
		series, err := dicomio.Find(all, s.series)
		if err != nil {
			return nil, err
		}
		slices = series.Slices
	default:
		return nil, errors.New("one of --input or --images is required")
	}

	vol, err := volume.Assemble(slices, cfg.AssemblyOptions())
	if err != nil {
		return nil, err
	}
	lg.Info("assembled volume",
		"series", vol.SeriesID,
		"modality", vol.Modality,
		"dims", fmt.Sprintf("%dx%dx%d", vol.Width, vol.Height, vol.Depth),
		"spacing", fmt.Sprintf("%.3gx%.3gx%.3g", vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z))
	for _, w := range vol.Warnings {
		lg.Warn("assembly", "warning", w)
	}
	return vol, nil
}

var (
	source      sourceFlags
	recon       reconstructFlags
	showMetrics bool
)

type reconstructFlags struct {
	kind        string
	plane       string
	index       int
	point       string
	u           string
	v           string
	slab        float64
	preset      string
	center      float64
	width       float64
	depth       int
	invert      bool
	background  string
	tissue      string
	threshold   string
	surface     bool
	path        string
	curvedWidth float64
	up          string
	downsample  int
	autoRetry   bool
	output      string
	prefix      string
	raw         bool
}

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct",
	Short: "Reconstruct an image or surface from a series",
	Long: `Reconstruct loads a series, assembles it into a volume and runs one
reconstruction: mpr, mip, minip, bone3d, volume_render or curved_mpr.
Images are written as PNG and surfaces as binary STL.`,
	Example: `  dicomrecon reconstruct -i ./study --kind mpr --plane sagittal --preset bone
  dicomrecon reconstruct -i ./study --kind mip --plane coronal --slab 20
  dicomrecon reconstruct -i ./study --kind bone3d --surface -o mesh
  dicomrecon reconstruct -i ./study --kind curved --path "0,0,10;20,5,30;40,0,50"`,
	RunE: runReconstruct,
}

func init() {
	source.register(reconstructCmd)
	f := reconstructCmd.Flags()
	f.StringVarP(&recon.kind, "kind", "k", "mpr", "Reconstruction kind")
	f.StringVarP(&recon.plane, "plane", "p", "axial", "Plane orientation (axial|sagittal|coronal|oblique)")
	f.IntVar(&recon.index, "index", reconstruction.CenterIndex, "Slice index along the plane axis, -1 for the centre")
	f.StringVar(&recon.point, "point", "", "Oblique plane centre x,y,z in mm [default: volume centre]")
	f.StringVar(&recon.u, "u", "1,0,0", "Oblique plane column direction x,y,z")
	f.StringVar(&recon.v, "v", "0,1,0", "Oblique plane row direction x,y,z")
	f.Float64Var(&recon.slab, "slab", 0, "Projection slab thickness in mm, 0 for the whole volume")
	f.StringVar(&recon.preset, "preset", "", "Window preset name (see 'dicomrecon presets')")
	f.Float64Var(&recon.center, "window-center", 0, "Window center")
	f.Float64Var(&recon.width, "window-width", 0, "Window width [default: automatic]")
	f.IntVar(&recon.depth, "depth", 8, "Display bit depth (8|16)")
	f.BoolVar(&recon.invert, "invert", false, "Invert display intensities")
	f.StringVar(&recon.background, "background", "", "Fill value outside the volume [default: volume minimum]")
	f.StringVar(&recon.tissue, "tissue", "bone", "Tissue range for bone3d (bone|vessel|soft_tissue|lung|auto)")
	f.StringVar(&recon.threshold, "threshold", "", "Explicit bone3d range min,max overriding --tissue")
	f.BoolVar(&recon.surface, "surface", false, "Extract a bone3d surface mesh instead of a projection")
	f.StringVar(&recon.path, "path", "", "Curved MPR control points x,y,z;x,y,z;...")
	f.Float64Var(&recon.curvedWidth, "curved-width", 0, "Curved MPR lateral extent in mm [default: from config]")
	f.StringVar(&recon.up, "up", "0,0,1", "Curved MPR lateral orientation x,y,z")
	f.IntVar(&recon.downsample, "downsample", 1, "Reduce the volume by this factor first")
	f.BoolVar(&recon.autoRetry, "auto-downsample", true, "Retry with the suggested factor when the memory limit is exceeded")
	f.StringVarP(&recon.output, "output", "o", "output", "Output directory")
	f.StringVar(&recon.prefix, "prefix", "", "Output file prefix [default: kind]")
	f.BoolVar(&recon.raw, "raw", false, "Also write calibrated values as float32 files")
	f.BoolVar(&showMetrics, "metrics", false, "Print engine metrics after the run")
}

func runReconstruct(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vol, err := source.load(ctx)
	if err != nil {
		return err
	}
	req, err := recon.request(vol)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	engine := reconstruction.New(cfg.EngineConfig(),
		reconstruction.WithLogger(lg),
		reconstruction.WithMetrics(metrics.New(reg)))
	defer engine.Close()

	res, err := run(ctx, engine, req)
	var oom *reconstruction.OutOfMemoryError
	if errors.As(err, &oom) && recon.autoRetry {
		lg.Warn("memory limit exceeded, retrying downsampled",
			"required", oom.Required, "limit", oom.Limit, "downsample", oom.SuggestedDownsample)
		req.ID = ""
		req.Downsample = oom.SuggestedDownsample
		res, err = run(ctx, engine, req)
	}
	if err != nil {
		return err
	}

	paths, err := visualization.SaveResult(res, recon.output, visualization.ExportOptions{
		Prefix: recon.prefix,
		Raw:    recon.raw,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nReconstruction completed in %.2f seconds\n", res.Elapsed.Seconds())
	fmt.Printf("Kind: %s  Series: %s\n", res.Kind, res.SeriesID)
	if res.Mesh != nil {
		fmt.Printf("Surface: %d vertices, %d triangles\n", len(res.Mesh.Vertices), len(res.Mesh.Faces))
	}
	if res.Calibration != nil {
		fmt.Printf("Calibration: %s\n", res.Calibration.Status)
	}
	for _, w := range res.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	for _, p := range paths {
		fmt.Printf("Wrote %s\n", p)
	}

	if showMetrics {
		return printMetrics(reg)
	}
	return nil
}

// run executes req and logs progress at every quarter
func run(ctx context.Context, engine *reconstruction.Engine, req reconstruction.Request) (*reconstruction.Result, error) {
	job := engine.Start(ctx, req)
	go logProgress(job.Handle())
	return job.Wait()
}

func logProgress(h *progress.Handle) {
	for _, p := range []float64{25, 50, 75} {
		select {
		case <-h.Reached(p):
		case <-h.Done():
			return
		}
		if h.State().Terminal() {
			return
		}
		lg.Info("progress", "request", h.ID(), "percent", h.Percent())
	}
}

func printMetrics(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	fmt.Println()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return err
		}
	}
	return nil
}

// request translates the flags into a reconstruction request
func (f *reconstructFlags) request(vol *models.Volume) (reconstruction.Request, error) {
	kind, err := reconstruction.ParseKind(f.kind)
	if err != nil {
		return reconstruction.Request{}, err
	}
	orientation, err := reconstruction.ParseOrientation(f.plane)
	if err != nil {
		return reconstruction.Request{}, err
	}

	req := reconstruction.Request{
		Volume:        vol,
		Kind:          kind,
		Plane:         reconstruction.Plane{Orientation: orientation, Index: f.index},
		SlabThickness: f.slab,
		Preset:        f.preset,
		Window:        windowing.Setting{Center: f.center, Width: f.width},
		Format: reconstruction.Format{
			Depth:  windowing.BitDepth(f.depth),
			Invert: f.invert,
		},
		Tissue:      f.tissue,
		Surface:     f.surface,
		CurvedWidth: f.curvedWidth,
		Downsample:  f.downsample,
	}

	if orientation == reconstruction.Oblique {
		req.Plane.Point = vol.Center()
		if f.point != "" {
			if req.Plane.Point, err = parseVec(f.point); err != nil {
				return req, fmt.Errorf("--point: %w", err)
			}
		}
		if req.Plane.U, err = parseVec(f.u); err != nil {
			return req, fmt.Errorf("--u: %w", err)
		}
		if req.Plane.V, err = parseVec(f.v); err != nil {
			return req, fmt.Errorf("--v: %w", err)
		}
	}
	if f.background != "" {
		v, err := strconv.ParseFloat(f.background, 64)
		if err != nil {
			return req, fmt.Errorf("--background: %w", err)
		}
		req.Background = reconstruction.Background{Mode: reconstruction.BackgroundValue, Value: v}
	}
	if f.threshold != "" {
		r, err := parseRange(f.threshold)
		if err != nil {
			return req, fmt.Errorf("--threshold: %w", err)
		}
		req.Threshold = &r
	}
	if kind == reconstruction.CurvedMPR {
		if req.Path, err = parsePath(f.path); err != nil {
			return req, fmt.Errorf("--path: %w", err)
		}
		if req.Up, err = parseVec(f.up); err != nil {
			return req, fmt.Errorf("--up: %w", err)
		}
	}
	return req, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma separated values, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseVec(s string) (r3.Vec, error) {
	v, err := parseFloats(s, 3)
	if err != nil {
		return r3.Vec{}, err
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseRange(s string) (reconstruction.Range, error) {
	v, err := parseFloats(s, 2)
	if err != nil {
		return reconstruction.Range{}, err
	}
	return reconstruction.Range{Min: v[0], Max: v[1]}, nil
}

func parsePath(s string) ([]r3.Vec, error) {
	var path []r3.Vec
	for _, p := range strings.Split(s, ";") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		v, err := parseVec(p)
		if err != nil {
			return nil, err
		}
		path = append(path, v)
	}
	return path, nil
}
