package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the root logger's verbosity and PII-redaction policy.
type Config struct {
	Level    string // debug, info, warn, error
	Sanitize bool
	Secret   string
	Output   io.Writer // defaults to os.Stderr
}

// New builds the engine's root zerolog.Logger. Individual components call
// Component to get a sub-logger tagged with their name, one
// component-scoped logger per package.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the given component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// NewSanitizer builds a Sanitizer from the same config used for New.
func NewSanitizer(cfg Config) Sanitizer {
	return Sanitizer{Enabled: cfg.Sanitize, Secret: cfg.Secret}
}
