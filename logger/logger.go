// Package logger builds the process logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var pid = os.Getpid()

// New returns a JSON logger on stderr, or a human readable one when
// console is set.
func New(debug, console bool) zerolog.Logger {
	return NewWriter(os.Stderr, debug, console)
}

func NewWriter(w io.Writer, debug, console bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if console {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05.0000",
			PartsOrder: []string{
				zerolog.TimestampFieldName,
				zerolog.LevelFieldName,
				"mod",
				zerolog.MessageFieldName,
			},
			FieldsExclude: []string{"mod", "pid"},
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(level).With().Timestamp().Int("pid", pid).Logger()
}
