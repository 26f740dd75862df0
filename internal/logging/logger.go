// Package logging configures the process-wide zerolog.Logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/config"
)

// New returns a configured zerolog.Logger for the given config.
func New(cfg *config.Config) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr}

	lvl := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		lvl = parsed
	} else if cfg.IsDevelopment() {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(out).With().Timestamp().Logger()
}
