// Package main provides the dicomrecon command line tool. It loads DICOM
// series (or raster image stacks), assembles them into volumes and runs
// multiplanar, projection, surface and curved reconstructions.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"dicomrecon/internal/logger"
	"dicomrecon/pkg/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	logFile    string
	testMode   bool
	version    = "0.1.0"

	cfg       *config.Config
	lg        *log.Logger
	logCloser io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dicomrecon",
	Short: "Volumetric reconstruction of DICOM series",
	Long: `dicomrecon assembles DICOM slices into a calibrated volume and derives
multiplanar reformats, intensity projections, bone surfaces, volume renderings
and curved reformats from it.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("dicomrecon v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug|info|warn|error) [default: from config]")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Set log format (text|json|logfmt)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&testMode, "test-mode", false, "Omit timestamps from log output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(reconstructCmd)
	rootCmd.AddCommand(seriesCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(phantomCmd)
	rootCmd.AddCommand(configCmd)
}

// initConfig loads the configuration and builds the logger; flags override
// the logging section of the file
func initConfig(_ *cobra.Command, _ []string) error {
	var err error
	if configPath == "" {
		cfg = config.DefaultConfig()
	} else if cfg, err = config.LoadConfig(configPath); err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}

	lg, logCloser, err = logger.New(logger.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		File:     cfg.Logging.File,
		TestMode: testMode,
	})
	if err != nil {
		return fmt.Errorf("error configuring logger: %w", err)
	}
	return nil
}
