package logging

import (
	"io"
	"log/slog"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// NewConsoleLogger returns a human-oriented logger for terminal programs.
// charmbracelet/log implements slog.Handler, so the result is still a
// SlogLogger and behaves like the server one.
func NewConsoleLogger(w io.Writer, verbose bool) *SlogLogger {
	level := charmlog.InfoLevel
	if verbose {
		level = charmlog.DebugLevel
	}
	h := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	return NewSlogLogger(slog.New(h))
}
