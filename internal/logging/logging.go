// Package logging configures the daemon's zerolog logger, modeled on the
// level/format knobs the teacher's config.go documents for LOG_LEVEL and
// LOG_FORMAT but routed through a constructor instead of implicit globals.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a logger for the given level ("debug", "info", "warn",
// "error") and format ("json" for production, "console" for local runs).
func New(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, err
	}

	var writer = os.Stdout
	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"})
	} else {
		logger = zerolog.New(writer)
	}
	return logger.Level(lvl).With().Timestamp().Logger(), nil
}
