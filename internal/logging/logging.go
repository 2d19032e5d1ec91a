// Package logging configures the zerolog logger shared by all pipeline
// components.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the root logger. Verbose enables debug-level events.
func New(out io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: out}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Default logs to stderr at info level.
func Default() zerolog.Logger {
	return New(os.Stderr, false)
}

// Component derives a sub-logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
