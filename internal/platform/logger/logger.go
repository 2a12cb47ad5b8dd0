package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       string
	Format      string
	Output      io.Writer
}

func New(opts Options) zerolog.Logger {
	var output io.Writer = opts.Output
	if output == nil {
		output = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger().
		Level(ParseLevel(opts.Level))
}

func ParseLevel(value string) zerolog.Level {
	levelString := strings.ToLower(strings.TrimSpace(value))
	if levelString == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(levelString); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

// From returns the logger bound to ctx, or a disabled logger when none is bound.
func From(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

func WithField(ctx context.Context, key string, value any) context.Context {
	l := zerolog.Ctx(ctx).With().Interface(key, value).Logger()
	return l.WithContext(ctx)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	l := zerolog.Ctx(ctx).With().Str("request_id", requestID).Logger()
	return l.WithContext(ctx)
}

func WithPrincipal(ctx context.Context, principalID string) context.Context {
	l := zerolog.Ctx(ctx).With().Str("principal_id", principalID).Logger()
	return l.WithContext(ctx)
}
