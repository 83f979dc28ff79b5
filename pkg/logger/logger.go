// Package logger is a context-carrying wrapper around zerolog. Fields added
// with the With* helpers ride on the context and show up on every later entry.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/entitlements-backend/pkg/env"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	WarnStack   bool
	Output      io.Writer
	// Format is json or console. Empty reads ENT_LOG_FORMAT, then LOG_FORMAT.
	Format string
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return &Logger{
		base: zerolog.New(writer(opts)).
			Level(opts.Level).
			With().
			Timestamp().
			Str("service", opts.ServiceName).
			Logger(),
		warnStack: opts.WarnStack,
	}
}

func writer(opts Options) io.Writer {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	format := opts.Format
	if format == "" {
		format = env.First(FormatJSON, "ENT_LOG_FORMAT", "LOG_FORMAT")
	}
	if strings.EqualFold(format, FormatConsole) {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return out
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if scoped, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return scoped
		}
	}
	return &l.base
}

func (l *Logger) extend(ctx context.Context, build func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	scoped := build(l.from(ctx).With()).Logger()
	return context.WithValue(ctx, ctxKey{}, &scoped)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Interface(key, value)
	})
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Fields(fields)
	})
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("request_id", requestID)
	})
}

func (l *Logger) WithUserID(ctx context.Context, userID string) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("user_id", userID)
	})
}

// WithSubject attaches the (user, platform) pair most entitlement logs are keyed on.
func (l *Logger) WithSubject(ctx context.Context, userID, platform string) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("user_id", userID).Str("platform", platform)
	})
}

func (l *Logger) WithJob(ctx context.Context, job string) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("job", job)
	})
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.from(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

// Warn includes a stack trace when the logger was built with WarnStack.
func (l *Logger) Warn(ctx context.Context, msg string) {
	ev := l.from(ctx).Warn()
	if l.warnStack {
		ev = ev.Str("stack", stack())
	}
	ev.Msg(msg)
}

// Error always includes a stack trace; err may be nil.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.from(ctx).Error().Err(err).Str("stack", stack()).Msg(msg)
}

func stack() string {
	return strings.TrimSpace(string(debug.Stack()))
}
