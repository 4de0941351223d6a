package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so packages can accept an injected logger
// without importing zerolog themselves.
type Logger = zerolog.Logger

// NewLogger logs to stderr; see NewLoggerTo.
func NewLogger(appEnv string) zerolog.Logger {
	return NewLoggerTo(os.Stderr, appEnv)
}

// NewLoggerTo builds the process logger for appEnv. Development gets debug
// level and human-readable console lines, test only warnings and errors,
// everything else JSON at info. The CLI passes stderr so stdout stays clean
// for results.
func NewLoggerTo(out io.Writer, appEnv string) zerolog.Logger {
	env := strings.ToLower(strings.TrimSpace(appEnv))
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(levelFor(env)).With().Timestamp().Logger()
}

func levelFor(env string) zerolog.Level {
	switch env {
	case "development":
		return zerolog.DebugLevel
	case "test":
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// DiscardLogger is the default for components built without a logger.
func DiscardLogger() *Logger {
	l := zerolog.Nop()
	return &l
}
