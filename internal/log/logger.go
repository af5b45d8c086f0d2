package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog logger with the given level string (debug, info, warn, error).
func New(level string) *zerolog.Logger {
	return build(parseLevel(level), os.Stdout)
}

// NewWithFile builds a logger that writes to stdout and, when path is non-empty,
// appends to the given file as well. The client uses this because it often runs
// embedded with no terminal attached.
func NewWithFile(level, path string) *zerolog.Logger {
	lvl := parseLevel(level)
	if path == "" {
		return build(lvl, os.Stdout)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger := build(lvl, os.Stdout)
		logger.Warn().Err(err).Str("path", path).Msg("failed to open log file, logging to stdout only")
		return logger
	}
	return build(lvl, io.MultiWriter(os.Stdout, f))
}

func build(lvl zerolog.Level, out io.Writer) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    out != os.Stdout,
	}

	logger := zerolog.New(output).Level(lvl).With().Timestamp().Logger()
	return &logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
