// Package logger builds the structured loggers used by dicomrecon.
// Library packages receive a *log.Logger explicitly; this package only
// constructs one from configuration.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// Options selects level, output format and destination
type Options struct {
	Level  string
	Format string
	// File appends logs to this path instead of stderr
	File string
	// Prefix is shown before every message, e.g. a component name
	Prefix string
	// TestMode drops timestamps so output is deterministic
	TestMode bool
}

// New creates a logger. The returned closer releases the log file, if any.
func New(opts Options) (*log.Logger, io.Closer, error) {
	var output io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, err
		}
		output, closer = file, file
	}
	return NewWriter(output, opts), closer, nil
}

// NewWriter creates a logger writing to w
func NewWriter(w io.Writer, opts Options) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		Level:           parseLogLevel(opts.Level),
		Formatter:       parseFormatter(opts.Format),
		ReportTimestamp: !opts.TestMode,
		Prefix:          opts.Prefix,
	})
	if opts.TestMode {
		l.SetTimeFormat("")
	}
	if l.GetLevel() != log.DebugLevel {
		return l
	}
	l.SetStyles(levelStyles())
	return l
}

// parseLogLevel converts string to log level
func parseLogLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

func parseFormatter(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// levelStyles highlights the keys that identify a reconstruction when
// debugging in a terminal
func levelStyles() *log.Styles {
	styles := log.DefaultStyles()
	styles.Keys["request"] = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	styles.Keys["fingerprint"] = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	styles.Keys["series"] = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	styles.Keys["err"] = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styles.Values["err"] = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	return styles
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
