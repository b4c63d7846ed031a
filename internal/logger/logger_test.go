package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, log.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, log.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, log.InfoLevel, parseLogLevel(""))
	assert.Equal(t, log.InfoLevel, parseLogLevel("chatty"))
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, Options{Level: "info", Format: "json", TestMode: true})

	l.Debug("hidden")
	l.Info("reconstruction finished", "kind", "mip")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"reconstruction finished"`)
	assert.Contains(t, out, `"kind":"mip"`)
}

func TestLogfmtOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, Options{Level: "debug", Format: "logfmt", TestMode: true})

	l.Debug("cache", "entries", 3)
	assert.Contains(t, buf.String(), "entries=3")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recon.log")
	l, closer, err := New(Options{File: path, Format: "logfmt", TestMode: true})
	require.NoError(t, err)

	l.Warn("calibration out of tolerance", "series", "1.2.3")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "series=1.2.3")
}

func TestFileOutputError(t *testing.T) {
	_, _, err := New(Options{File: filepath.Join(t.TempDir(), "missing", "recon.log")})
	assert.Error(t, err)
}
