// Package logger holds the process-wide zerolog logger used by every stepq component.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	// Default to JSON output for production
	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()

	// Pretty print for development if requested
	if os.Getenv("APP_ENV") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// SetLevel adjusts the global level from a textual name ("debug", "info", ...).
// Unknown names leave the level untouched and return false.
func SetLevel(level string) bool {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return false
	}
	Log = Log.Level(lvl)
	return true
}

// For returns a child of the global logger tagged with the component name.
// It reads Log on every call so tests that swap Log see the replacement.
func For(component string) *zerolog.Logger {
	l := Log.With().Str("component", component).Logger()
	return &l
}
