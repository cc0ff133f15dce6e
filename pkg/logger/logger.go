// Package logger builds the bridge's slog loggers.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	charmLog "github.com/charmbracelet/log"

	"onebridge/pkg/config"
)

const (
	envFormat    = "ONEBRIDGE_LOG_FORMAT"
	envLevel     = "ONEBRIDGE_LOG_LEVEL"
	envAddSource = "ONEBRIDGE_LOG_ADD_SOURCE"
)

// settings is the logging config after env overrides and defaults.
type settings struct {
	json      bool
	level     slog.Level
	addSource bool
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	format := firstNonEmpty(os.Getenv(envFormat), cfg.Format, "text")
	levelText := firstNonEmpty(os.Getenv(envLevel), cfg.Level, "info")

	var s settings
	switch format {
	case "json":
		s.json = true
	case "text":
	default:
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	switch levelText {
	case "debug", "info", "warn", "error":
		_ = s.level.UnmarshalText([]byte(levelText))
	case "warning":
		s.level = slog.LevelWarn
	default:
		return settings{}, fmt.Errorf("unsupported log level %q", levelText)
	}

	s.addSource = cfg.AddSource
	if env := strings.TrimSpace(os.Getenv(envAddSource)); env != "" {
		s.addSource = env == "1" || strings.EqualFold(env, "true") || strings.EqualFold(env, "yes") || strings.EqualFold(env, "on")
	}
	return s, nil
}

// New builds the process logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds the process logger writing to writer.
func NewWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if s.json {
		return slog.New(&entryHandler{
			level:     s.level,
			addSource: s.addSource,
			writer:    writer,
			mu:        &sync.Mutex{},
		}), nil
	}

	return slog.New(charmLog.NewWithOptions(writer, charmLog.Options{
		Level:           charmLog.Level(s.level),
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		Formatter:       charmLog.TextFormatter,
	})), nil
}

// Component returns log tagged with the given component name.
func Component(log *slog.Logger, name string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With(KeyComponent, name)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
