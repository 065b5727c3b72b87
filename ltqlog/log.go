// Package ltqlog provides the structured logger shared by worker,
// scheduler, app, broker, and the CLI, mirroring the teacher repo's
// pkg/logger/logger.go: zerolog, JSON on stdout when LTQ_ENV is
// "production", pretty console output on stderr otherwise.
package ltqlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the package-level logger. Components take it via With() so their
// lines carry a "component" field, or accept a caller-supplied
// zerolog.Logger through a constructor option.
var Log zerolog.Logger

func init() {
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()

	if os.Getenv("LTQ_ENV") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// SetLevel parses level ("debug", "info", "warn", "error") and applies it
// to the package logger. An unrecognized level leaves the current level
// unchanged and returns an error.
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	Log = Log.Level(lvl)
	return nil
}
