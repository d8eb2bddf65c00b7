// Package logging builds the single zerolog.Logger instance threaded
// through every component of the broadcaster.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Config controls the logger's output format and level.
type Config struct {
	JSON  bool
	Level string
}

// New builds a zerolog.Logger per cfg. JSON output is used only when
// cfg.JSON is true; otherwise (the default) a human-readable console
// writer is used.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer = os.Stdout
	base := zerolog.New(writer).With().Timestamp().Caller()

	if cfg.JSON {
		return base.Logger().Level(level)
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
	return zerolog.New(console).With().Timestamp().Logger().Level(level)
}
