// Package logging configures the process-wide zerolog logger and hands out
// component-scoped child loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Init configures the root logger. Safe to call multiple times; only the
// first call takes effect. Format is "console" (human-readable, default)
// or "json" (for production/headless deployments), selected by the
// PMC_LOG_FORMAT environment variable when format is left empty.
func Init(level zerolog.Level, format string) {
	once.Do(func() {
		if format == "" {
			format = strings.ToLower(os.Getenv("PMC_LOG_FORMAT"))
		}

		var w io.Writer = os.Stderr
		if format != "json" {
			w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		}

		zerolog.SetGlobalLevel(level)
		logger = zerolog.New(w).With().Timestamp().Logger()
	})
}

// WithComponent returns a child logger tagged with the given component
// name. Components call this once at construction time and keep the
// result as a struct field, following the pattern used throughout this
// codebase's stores and workers.
func WithComponent(name string) zerolog.Logger {
	Init(zerolog.InfoLevel, "")
	return logger.With().Str("component", name).Logger()
}
