package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	logger zerolog.Logger
	silent = true
	format = FormatText
)

const (
	LOG_DEBUG = "debug"
	LOG_INFO  = "info"
	LOG_WARN  = "warn"
	LOG_ERROR = "error"
	LOG_FATAL = "fatal"
	LOG_PANIC = "panic"

	FormatText = "text"
	FormatJSON = "json"
)

func init() {
	// Silent until a command decides otherwise. The MCP server and the TUI
	// own stdout/stderr and must opt in explicitly.
	rebuild()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetSilentMode routes log output to stderr or discards it entirely
func SetSilentMode(s bool) {
	silent = s
	rebuild()
}

// SetFormat switches between console output and line-delimited JSON. Daemons
// log JSON for collectors; interactive commands want the console writer.
func SetFormat(f string) {
	if f != FormatJSON {
		f = FormatText
	}
	format = f
	rebuild()
}

func rebuild() {
	var output io.Writer
	switch {
	case silent:
		output = io.Discard
	case format == FormatJSON:
		output = os.Stderr
	default:
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	logger = zerolog.New(output).With().Timestamp().Logger()
}

// New returns the shared logger instance
func New() zerolog.Logger {
	return logger
}

// Component returns a logger tagged with a component name, e.g. "channel" or
// "relay". Long-lived structs hold one of these, so configure output before
// constructing them.
func Component(name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// SetLevel sets the global log level
func SetLevel(level string) {
	switch level {
	case LOG_DEBUG:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case LOG_INFO:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case LOG_WARN:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case LOG_ERROR:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case LOG_FATAL:
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case LOG_PANIC:
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
