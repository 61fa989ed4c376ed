// Package pdlogger provides the structured logger used throughout the
// scheduler, transport and executor. It wraps log/slog with a fanout
// handler so a single log call can reach both the console and a
// pipeline-scoped log file.
package pdlogger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the interface every component logs through. It is small and
// stable so that call sites never depend on slog directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	With(args ...any) Logger
}

var _ Logger = (*appLogger)(nil)

type appLogger struct {
	logger *slog.Logger
}

// Config controls how New builds a Logger.
type Config struct {
	Debug  bool
	Format string // "text" or "json"
	Writer io.Writer
	Quiet  bool // suppress the console handler
}

// Option mutates a Config.
type Option func(*Config)

// WithDebug enables debug-level logging and source locations.
func WithDebug() Option { return func(c *Config) { c.Debug = true } }

// WithFormat selects "text" or "json" output.
func WithFormat(format string) Option { return func(c *Config) { c.Format = format } }

// WithWriter adds a second handler writing to w (e.g. a per-pipeline log
// file), in addition to the console handler unless WithQuiet is also set.
func WithWriter(w io.Writer) Option { return func(c *Config) { c.Writer = w } }

// WithQuiet suppresses the stderr console handler.
func WithQuiet() Option { return func(c *Config) { c.Quiet = true } }

// New builds a Logger from the given options.
func New(opts ...Option) Logger {
	cfg := &Config{Format: "text"}
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: cfg.Debug}

	var handlers []slog.Handler
	if !cfg.Quiet {
		handlers = append(handlers, newHandler(os.Stderr, cfg.Format, handlerOpts))
	}
	if cfg.Writer != nil {
		handlers = append(handlers, newGuardedHandler(newHandler(cfg.Writer, cfg.Format, handlerOpts)))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, newHandler(io.Discard, cfg.Format, handlerOpts))
	}

	return &appLogger{logger: slog.New(slogmulti.Fanout(handlers...))}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (l *appLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *appLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *appLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *appLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *appLogger) With(args ...any) Logger {
	return &appLogger{logger: l.logger.With(args...)}
}

// guardedHandler serializes writes to a shared file handler so concurrent
// callers (RPC handlers, executor pollers) never interleave partial log
// lines when writing to the same underlying file.
type guardedHandler struct {
	mu      sync.Mutex
	handler slog.Handler
}

func newGuardedHandler(h slog.Handler) *guardedHandler { return &guardedHandler{handler: h} }

func (g *guardedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return g.handler.Enabled(ctx, level)
}

func (g *guardedHandler) Handle(ctx context.Context, record slog.Record) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handler.Handle(ctx, record)
}

func (g *guardedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &guardedHandler{handler: g.handler.WithAttrs(attrs)}
}

func (g *guardedHandler) WithGroup(name string) slog.Handler {
	return &guardedHandler{handler: g.handler.WithGroup(name)}
}
