package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dicomrecon/pkg/config"
	"dicomrecon/pkg/dicomio"
	"dicomrecon/pkg/windowing"
)

var seriesCmd = &cobra.Command{
	Use:   "series <dir>",
	Short: "List the DICOM series found in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, err := dicomio.LoadDir(cmd.Context(), args[0], dicomio.LoadOptions{Workers: cfg.Engine.Workers, Logger: lg})
		if err != nil {
			return err
		}
		for _, s := range all {
			first := s.Slices[0]
			fmt.Printf("%s  %-3s  %d slices  %dx%d\n", s.ID, s.Modality, len(s.Slices), first.Cols, first.Rows)
		}
		return nil
	},
}

var calibrateSource sourceFlags

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Check the Hounsfield calibration of a CT series",
	Long: `Calibrate assembles a series and compares the water and air estimates of
its middle slice against their reference values.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		vol, err := calibrateSource.load(cmd.Context())
		if err != nil {
			return err
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
		}, cfg.Calibration)

		fmt.Printf("Series: %s\n", vol.SeriesID)
		fmt.Printf("Status: %s\n", report.Status)
		printHU("Water", report.WaterHU)
		printHU("Air", report.AirHU)
		printHU("Noise", report.NoiseHU)
		for _, note := range report.Notes {
			fmt.Printf("Note: %s\n", note)
		}
		if report.Warning != nil {
			lg.Warn("calibration out of tolerance", "series", vol.SeriesID, "issues", report.Warning.Issues)
		}
		return nil
	},
}

func printHU(label string, v *float64) {
	if v == nil {
		fmt.Printf("%-6s n/a\n", label+":")
		return
	}
	fmt.Printf("%-6s %.1f HU\n", label+":", *v)
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the window presets",
	Run: func(_ *cobra.Command, _ []string) {
		for _, name := range windowing.PresetNames() {
			s, _ := windowing.Preset(name)
			fmt.Printf("%-14s center %6g  width %6g\n", name, s.Center, s.Width)
		}
	},
}

var phantom = dicomio.DefaultPhantom()

var phantomCmd = &cobra.Command{
	Use:   "phantom <dir>",
	Short: "Write a synthetic CT series",
	Long: `Phantom writes a CT series of a water cylinder in air holding a bone
sphere. It is useful to try reconstructions without patient data.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		paths, err := dicomio.WriteSeries(args[0], phantom.Generate())
		if err != nil {
			return err
		}
		lg.Info("wrote phantom", "dir", args[0], "files", len(paths))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		path := "dicomrecon.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.CreateDefaultConfigFile(path); err != nil {
			return err
		}
		abs, _ := filepath.Abs(path)
		fmt.Printf("Wrote %s\n", abs)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(_ *cobra.Command, _ []string) error {
		var b strings.Builder
		if err := config.Encode(&b, cfg); err != nil {
			return err
		}
		fmt.Print(b.String())
		return nil
	},
}

func init() {
	calibrateSource.register(calibrateCmd)

	phantomCmd.Flags().StringVar(&phantom.SeriesID, "series", "", "SeriesInstanceUID [default: random]")
	phantomCmd.Flags().IntVar(&phantom.Size, "size", phantom.Size, "Rows and columns per slice")
	phantomCmd.Flags().IntVar(&phantom.Slices, "slices", phantom.Slices, "Number of slices")
	phantomCmd.Flags().Float64Var(&phantom.PixelSpacing, "pixel-spacing", phantom.PixelSpacing, "Pixel size in mm")
	phantomCmd.Flags().Float64Var(&phantom.SliceGap, "gap", phantom.SliceGap, "Slice spacing in mm")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
