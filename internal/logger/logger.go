// Package logger configures the process-wide zerolog instance. Components
// derive their own loggers from New with a component field attached.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger at the given level, writing human-readable
// console output. An unknown level falls back to info.
func New(levelStr string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}
