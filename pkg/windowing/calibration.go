package windowing

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Reference Hounsfield values
const (
	WaterHU = 0.0
	AirHU   = -1000.0
)

// CalibrationStatus summarises a Hounsfield validation
type CalibrationStatus string

const (
	CalibrationValid         CalibrationStatus = "valid"
	CalibrationInvalid       CalibrationStatus = "invalid"
	CalibrationNotApplicable CalibrationStatus = "not_applicable"
	CalibrationUnknown       CalibrationStatus = "unknown"
)

// Tolerances bound the accepted deviation from reference values
type Tolerances struct {
	Water      float64 `yaml:"water"`
	Air        float64 `yaml:"air"`
	Noise      float64 `yaml:"noise"`
	MinSamples int     `yaml:"minSamples"`
}

// DefaultTolerances returns water ±5 HU, air ±50 HU and a 10 HU noise limit
func DefaultTolerances() Tolerances {
	return Tolerances{Water: 5, Air: 50, Noise: 10, MinSamples: 100}
}

// CalibrationWarning flags data whose calibrated values disagree with the
// Hounsfield reference points. It is not fatal.
type CalibrationWarning struct {
	Issues []string
}

func (w *CalibrationWarning) Error() string {
	return "hounsfield calibration out of tolerance: " + strings.Join(w.Issues, "; ")
}

// CalibrationReport is the outcome of ValidateHounsfield
type CalibrationReport struct {
	Status  CalibrationStatus
	WaterHU *float64
	AirHU   *float64
	NoiseHU *float64
	Notes   []string
	Warning *CalibrationWarning
}

// Input describes the buffer to validate
type Input struct {
	Values      []float64 // calibrated values
	Width       int
	Height      int
	Modality    string
	RescaleType string
	Rescale     Rescale
}

// ValidateHounsfield compares calibrated values against the water and air
// reference points. Water is the median of values in (-50, 50) HU, air the
// median of values below -900 HU; each estimate needs at least MinSamples
// candidates. Noise is the standard deviation of the central 10% region.
func ValidateHounsfield(in Input, tol Tolerances) CalibrationReport {
	report := CalibrationReport{Status: CalibrationUnknown}
	if in.Modality != "CT" {
		report.Status = CalibrationNotApplicable
		report.Notes = append(report.Notes, "hounsfield units only apply to CT")
		return report
	}
	if tol.MinSamples <= 0 {
		tol.MinSamples = DefaultTolerances().MinSamples
	}

	if in.Rescale.Slope != 0 && math.Abs(in.Rescale.Slope-1) > 0.01 {
		report.Notes = append(report.Notes, fmt.Sprintf("unusual rescale slope %g", in.Rescale.Slope))
	}
	if in.RescaleType != "" && in.RescaleType != "HU" {
		report.Notes = append(report.Notes, fmt.Sprintf("rescale type is %q, not HU", in.RescaleType))
	}

	var issues []string
	if water, ok := medianWithin(in.Values, -50, 50, tol.MinSamples); ok {
		report.WaterHU = &water
		if dev := math.Abs(water - WaterHU); dev > tol.Water {
			issues = append(issues, fmt.Sprintf("water deviation %.1f HU (expected 0 ± %g HU)", dev, tol.Water))
		}
	}
	if air, ok := medianWithin(in.Values, math.Inf(-1), -900, tol.MinSamples); ok {
		report.AirHU = &air
		if dev := math.Abs(air - AirHU); dev > tol.Air {
			issues = append(issues, fmt.Sprintf("air deviation %.1f HU (expected -1000 ± %g HU)", dev, tol.Air))
		}
	}
	if region := centerRegion(in.Values, in.Width, in.Height, 0.1); len(region) > tol.MinSamples {
		noise := stat.StdDev(region, nil)
		report.NoiseHU = &noise
		if noise > tol.Noise {
			report.Notes = append(report.Notes, fmt.Sprintf("high noise level %.1f HU std dev", noise))
		}
	}

	if len(issues) > 0 {
		report.Status = CalibrationInvalid
		report.Warning = &CalibrationWarning{Issues: issues}
		return report
	}
	report.Status = CalibrationValid
	return report
}

// medianWithin returns the median of values strictly inside (lo, hi) when at
// least minSamples qualify
func medianWithin(values []float64, lo, hi float64, minSamples int) (float64, bool) {
	var picked []float64
	for _, v := range values {
		if v > lo && v < hi {
			picked = append(picked, v)
		}
	}
	if len(picked) <= minSamples {
		return 0, false
	}
	sort.Float64s(picked)
	return stat.Quantile(0.5, stat.Empirical, picked, nil), true
}

func centerRegion(values []float64, width, height int, fraction float64) []float64 {
	if width <= 0 || height <= 0 || len(values) < width*height {
		return nil
	}
	rw, rh := int(float64(width)*fraction), int(float64(height)*fraction)
	x0, y0 := width/2-rw/2, height/2-rh/2
	region := make([]float64, 0, rw*rh)
	for y := y0; y < y0+rh; y++ {
		region = append(region, values[y*width+x0:y*width+x0+rw]...)
	}
	return region
}
