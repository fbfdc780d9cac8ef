// Package observability builds the process logger and carries it through
// request contexts.
package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/tvstream/internal/config"
)

// Attribute keys shared by every component.
const (
	KeyComponent = "component"
	KeyChannel   = "channel"
	KeySession   = "session_id"
)

// SecretTag marks a struct field for redaction: `masq:"secret"`.
const SecretTag = "secret"

type loggerKey struct{}

// NewLogger returns a JSON or text logger writing to w. Fields tagged with
// SecretTag and any field named SessionKey are redacted.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	redact := masq.New(
		masq.WithTag(SecretTag),
		masq.WithFieldName("SessionKey"),
	)

	opts := &slog.HandlerOptions{
		Level:     Level(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(cfg.TimeFormat))
					return a
				}
			}
			return redact(groups, a)
		},
	}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Level parses a level name. "warning" is accepted for warn; anything
// unrecognized is info.
func Level(name string) slog.Level {
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WithComponent tags log lines with the emitting component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(KeyComponent, component))
}

// WithChannel tags log lines with the channel being streamed.
func WithChannel(logger *slog.Logger, channel string) *slog.Logger {
	return logger.With(slog.String(KeyChannel, channel))
}

// WithSession tags log lines with a server-side session id.
func WithSession(logger *slog.Logger, id string) *slog.Logger {
	return logger.With(slog.String(KeySession, id))
}

// LoggerFromContext returns the request logger, or the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}
