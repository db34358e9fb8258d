// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog. Development gets a human-readable console
// writer; production emits JSON lines.
func Setup(level string, production bool) {
	SetupWriter(os.Stdout, level, production)
}

// SetupWriter is Setup with an explicit output, used by tests.
func SetupWriter(out io.Writer, level string, production bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	// log.Ctx falls back to this when a context carries no logger
	zerolog.DefaultContextLogger = &log.Logger

	if production {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}

	cw := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = out
		w.TimeFormat = time.RFC3339
	})
	log.Logger = zerolog.New(cw).With().Timestamp().Logger()
}
