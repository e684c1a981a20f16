// Package logging configures the process-wide slog logger and carries
// request ids through contexts.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string
	Format     string // "text" or "json"
	FilePath   string // empty keeps logs on stdout only
	MaxSizeMB  int
	MaxBackups int
}

// ParseLevel accepts slog names plus WARNING and CRITICAL.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger writing to out and, when FilePath is set, to a
// size-rotated file. The returned closer releases the file.
func New(opts Options, out io.Writer) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	w := out
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to ensure log dir: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		w = io.MultiWriter(out, rotating)
		closer = rotating
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), closer, nil
}

// Setup installs the logger from New as the slog default.
func Setup(opts Options) (io.Closer, error) {
	logger, closer, err := New(opts, os.Stdout)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

// WithRequestID stores a fresh request id in ctx.
func WithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, uuid.NewString())
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// FromContext returns the default logger, tagged with the request id
// when ctx has one.
func FromContext(ctx context.Context) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return slog.With("request_id", id)
	}
	return slog.Default()
}
