// Package logging configures the process-wide zerolog logger the way the
// teacher's agentd does: console-pretty in development, JSON to stdout in
// production, level driven by a single env-sourced setting.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. level is one of
// trace/debug/info/warn/error (case-insensitive); pretty switches to a
// human-readable console writer for local development.
func Init(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w = os.Stdout
	if pretty {
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		log.Logger = zerolog.New(cw).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
}
