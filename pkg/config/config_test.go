package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomrecon/pkg/volume"
	"dicomrecon/pkg/windowing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Positive(t, cfg.Engine.Workers)
	assert.Equal(t, int64(512), cfg.Cache.BudgetMB)
	assert.Equal(t, windowing.DefaultTolerances(), cfg.Calibration)
	assert.Equal(t, volume.DefaultOptions(), cfg.AssemblyOptions())
	assert.Equal(t, 40.0, cfg.Rendering.CurvedWidth)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Rendering, cfg.Rendering)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Cache.BudgetMB = 64
	cfg.Rendering.CurvedWidth = 25
	cfg.Logging.Format = "json"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(64), loaded.Cache.BudgetMB)
	assert.Equal(t, 25.0, loaded.Rendering.CurvedWidth)
	assert.Equal(t, "json", loaded.Logging.Format)
	assert.Equal(t, cfg.Calibration, loaded.Calibration)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("cache:\n  budgetMB: 8\ncalibration:\n  water: 3\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8), cfg.Cache.BudgetMB)
	assert.Equal(t, 3.0, cfg.Calibration.Water)
	assert.Equal(t, 50.0, cfg.Calibration.Air)
	assert.Equal(t, DefaultConfig().Engine.BandRows, cfg.Engine.BandRows)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("rendering:\n  opacityScale: 3\nlogging:\n  level: loud\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opacityScale")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [unclosed"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "error parsing config file")
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "maxConcurrent:")
	assert.Contains(t, string(data), "minSamples: 100")
}

func TestEngineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxWorkingSetMB = 3
	cfg.Cache.BudgetMB = 2

	ec := cfg.EngineConfig()
	assert.Equal(t, int64(3<<20), ec.MaxWorkingSet)
	assert.Equal(t, int64(2<<20), ec.CacheBudget)
	assert.Equal(t, cfg.Rendering.OpacityScale, ec.OpacityScale)
	assert.Equal(t, cfg.Calibration, ec.Tolerances)
}

func TestEncode(t *testing.T) {
	var b strings.Builder
	require.NoError(t, Encode(&b, DefaultConfig()))
	assert.Contains(t, b.String(), "logging:\n  level: info\n")
}
