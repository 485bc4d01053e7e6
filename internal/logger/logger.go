package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"checkpoint-service/internal/config"
)

// New builds the process-wide logger. Components derive from it with
// log.With().Str("component", ...).
func New(cfg config.LogConfig, app config.AppConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", app.Name).
		Str("env", app.Env).
		Logger()
}
