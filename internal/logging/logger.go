package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New builds the process logger and installs it as the zerolog global.
func New(app, level, format string) (zerolog.Logger, error) {
	return newLogger(os.Stdout, app, level, format)
}

func newLogger(out io.Writer, app, level, format string) (zerolog.Logger, error) {
	lvl, ok := parseLevel(level)
	if !ok && strings.TrimSpace(level) != "" {
		return zerolog.Nop(), fmt.Errorf("logging: unknown level %q", level)
	}

	var w io.Writer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case FormatJSON:
		w = out
	default:
		return zerolog.Nop(), fmt.Errorf("logging: unknown format %q", format)
	}

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger, nil
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
