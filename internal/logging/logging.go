// Package logging configures the process-wide structured logger. The
// teacher calls into a single logging seam (Server.logf in
// types_server.go); forgeserve keeps that single-seam shape but backs it
// with zerolog instead of *log.Logger, matching the ambient stack of the
// wider example corpus (see DESIGN.md).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. format is "console" (human-readable, for a
// terminal) or "json" (the default for production); any other value
// produces JSON output.
func New(format string, level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
