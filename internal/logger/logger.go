// Package logger builds the zerolog logger shared by all components.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// New creates a logger writing to stdout and, when logFile is set, appending to that file.
// Unknown levels fall back to info.
func New(level string, logFile string) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"},
	}

	var closer io.Closer = nopCloser{}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return zerolog.Nop(), nil, err
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writers = append(writers, file)
		closer = file
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return l, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
