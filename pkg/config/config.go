// Package config provides configuration loading and management for dicomrecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"dicomrecon/pkg/reconstruction"
	"dicomrecon/pkg/volume"
	"dicomrecon/pkg/windowing"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Engine parameters
	Engine struct {
		// Workers is the number of goroutines computing bands of one request
		Workers int `yaml:"workers"`

		// MaxConcurrent bounds the reconstructions computing at the same time
		MaxConcurrent int `yaml:"maxConcurrent"`

		// BandRows is the number of output rows between progress checkpoints
		BandRows int `yaml:"bandRows"`

		// MaxWorkingSetMB rejects requests whose estimated memory use exceeds
		// it; zero disables the check
		MaxWorkingSetMB int64 `yaml:"maxWorkingSetMB"`
	} `yaml:"engine"`

	// Result cache parameters
	Cache struct {
		// BudgetMB is the total size of cached results
		BudgetMB int64 `yaml:"budgetMB"`
	} `yaml:"cache"`

	// Volume assembly tolerances
	Assembly struct {
		PositionTolerance    float64 `yaml:"positionTolerance"`
		OrientationTolerance float64 `yaml:"orientationTolerance"`
		SpacingTolerance     float64 `yaml:"spacingTolerance"`
		GapTolerance         float64 `yaml:"gapTolerance"`
	} `yaml:"assembly"`

	// Hounsfield calibration tolerances
	Calibration windowing.Tolerances `yaml:"calibration"`

	// Rendering parameters
	Rendering struct {
		// CurvedWidth is the default lateral extent of curved MPR in mm
		CurvedWidth float64 `yaml:"curvedWidth"`

		OpacityScale     float64 `yaml:"opacityScale"`
		EarlyTermination float64 `yaml:"earlyTermination"`
		TissueRampWidth  float64 `yaml:"tissueRampWidth"`

		// ClosingIterations is the number of dilate/erode passes applied to
		// tissue masks
		ClosingIterations int `yaml:"closingIterations"`

		// SmoothingSigma and AutoThresholdFraction control automatic tissue
		// thresholds on non-CT data
		SmoothingSigma        float64 `yaml:"smoothingSigma"`
		AutoThresholdFraction float64 `yaml:"autoThresholdFraction"`
	} `yaml:"rendering"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// Format is one of text, json, logfmt
		Format string `yaml:"format"`

		// File redirects logs to a file instead of stderr
		File string `yaml:"file"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	engine := reconstruction.DefaultConfig()

	cfg.Engine.Workers = runtime.NumCPU()
	cfg.Engine.MaxConcurrent = engine.MaxConcurrent
	cfg.Engine.BandRows = engine.BandRows
	cfg.Engine.MaxWorkingSetMB = 2048

	cfg.Cache.BudgetMB = engine.CacheBudget >> 20

	opts := volume.DefaultOptions()
	cfg.Assembly.PositionTolerance = opts.PositionTolerance
	cfg.Assembly.OrientationTolerance = opts.OrientationTolerance
	cfg.Assembly.SpacingTolerance = opts.SpacingTolerance
	cfg.Assembly.GapTolerance = opts.GapTolerance

	cfg.Calibration = windowing.DefaultTolerances()

	cfg.Rendering.CurvedWidth = engine.CurvedWidth
	cfg.Rendering.OpacityScale = engine.OpacityScale
	cfg.Rendering.EarlyTermination = engine.EarlyTermination
	cfg.Rendering.TissueRampWidth = engine.TissueRampWidth
	cfg.Rendering.ClosingIterations = engine.ClosingIterations
	cfg.Rendering.SmoothingSigma = engine.SmoothingSigma
	cfg.Rendering.AutoThresholdFraction = engine.AutoThresholdFraction

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Encode writes cfg as YAML
func Encode(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	return enc.Close()
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate reports every out-of-range value in the configuration
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Engine.Workers >= 0, "engine.workers must not be negative, got %d", c.Engine.Workers)
	check(c.Engine.MaxConcurrent >= 0, "engine.maxConcurrent must not be negative, got %d", c.Engine.MaxConcurrent)
	check(c.Engine.BandRows >= 0, "engine.bandRows must not be negative, got %d", c.Engine.BandRows)
	check(c.Engine.MaxWorkingSetMB >= 0, "engine.maxWorkingSetMB must not be negative, got %d", c.Engine.MaxWorkingSetMB)
	check(c.Cache.BudgetMB > 0, "cache.budgetMB must be positive, got %d", c.Cache.BudgetMB)

	check(c.Assembly.PositionTolerance >= 0, "assembly.positionTolerance must not be negative")
	check(c.Assembly.OrientationTolerance >= 0, "assembly.orientationTolerance must not be negative")
	check(c.Assembly.SpacingTolerance >= 0, "assembly.spacingTolerance must not be negative")
	check(c.Assembly.GapTolerance >= 0, "assembly.gapTolerance must not be negative")

	check(c.Calibration.Water > 0 && c.Calibration.Air > 0 && c.Calibration.Noise > 0,
		"calibration tolerances must be positive")

	check(c.Rendering.CurvedWidth > 0, "rendering.curvedWidth must be positive, got %g", c.Rendering.CurvedWidth)
	check(c.Rendering.OpacityScale > 0 && c.Rendering.OpacityScale <= 1,
		"rendering.opacityScale must be in (0, 1], got %g", c.Rendering.OpacityScale)
	check(c.Rendering.EarlyTermination > 0 && c.Rendering.EarlyTermination <= 1,
		"rendering.earlyTermination must be in (0, 1], got %g", c.Rendering.EarlyTermination)
	check(c.Rendering.ClosingIterations >= 0, "rendering.closingIterations must not be negative")
	check(c.Rendering.SmoothingSigma >= 0, "rendering.smoothingSigma must not be negative")
	check(c.Rendering.AutoThresholdFraction > 0, "rendering.autoThresholdFraction must be positive")

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json", "logfmt":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json, logfmt", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// EngineConfig converts the configuration into reconstruction engine settings
func (c *Config) EngineConfig() reconstruction.Config {
	return reconstruction.Config{
		Workers:               c.Engine.Workers,
		MaxConcurrent:         c.Engine.MaxConcurrent,
		BandRows:              c.Engine.BandRows,
		CacheBudget:           c.Cache.BudgetMB << 20,
		MaxWorkingSet:         c.Engine.MaxWorkingSetMB << 20,
		CurvedWidth:           c.Rendering.CurvedWidth,
		OpacityScale:          c.Rendering.OpacityScale,
		EarlyTermination:      c.Rendering.EarlyTermination,
		TissueRampWidth:       c.Rendering.TissueRampWidth,
		ClosingIterations:     c.Rendering.ClosingIterations,
		SmoothingSigma:        c.Rendering.SmoothingSigma,
		AutoThresholdFraction: c.Rendering.AutoThresholdFraction,
		Tolerances:            c.Calibration,
	}
}

// AssemblyOptions converts the assembly section into volume assembler options
func (c *Config) AssemblyOptions() volume.Options {
	return volume.Options{
		PositionTolerance:    c.Assembly.PositionTolerance,
		OrientationTolerance: c.Assembly.OrientationTolerance,
		SpacingTolerance:     c.Assembly.SpacingTolerance,
		GapTolerance:         c.Assembly.GapTolerance,
	}
}
