// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package logger provides a context-aware logger built on [slog].
package logger

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

type ctxKey string

const loggerKey ctxKey = "logger"

// Logf is a printf-style logging function.
type Logf func(format string, args ...any)

// Write implements [io.Writer], logging p as a single message.
func (f Logf) Write(p []byte) (int, error) {
	f("%s", p)
	return len(p), nil
}

// fanout sends log records to every attached handler.
type fanout struct {
	mu       sync.RWMutex
	handlers []slog.Handler
}

func (h *fanout) snapshot() []slog.Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.handlers)
}

func (h *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.snapshot() {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.snapshot() {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (h *fanout) WithGroup(name string) slog.Handler {
	return h.derive(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (h *fanout) derive(f func(slog.Handler) slog.Handler) slog.Handler {
	handlers := h.snapshot()
	for i, handler := range handlers {
		handlers[i] = f(handler)
	}
	return &fanout{handlers: handlers}
}

func (h *fanout) attach(handler slog.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, handler)
}

func (h *fanout) detach(handler slog.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = slices.DeleteFunc(h.handlers, func(x slog.Handler) bool { return x == handler })
}

// Logger encapsulates an [slog.Logger] and allows attaching and detaching
// multiple [slog.Handler] at runtime.
//
// Its Level controls the level of handlers created by [Logger.AttachTerminal].
type Logger struct {
	*slog.Logger
	Level   *slog.LevelVar
	handler *fanout
}

// New creates a new Logger with no handlers.
// Its LevelVar is initialized to LevelInfo if level is nil.
func New(level *slog.LevelVar) *Logger {
	if level == nil {
		level = new(slog.LevelVar)
		level.Set(slog.LevelInfo)
	}
	h := new(fanout)
	return &Logger{
		Logger:  slog.New(h),
		Level:   level,
		handler: h,
	}
}

// Attach attaches a handler to the logger.
func (l *Logger) Attach(h slog.Handler) { l.handler.attach(h) }

// Detach detaches a handler from the logger.
func (l *Logger) Detach(h slog.Handler) { l.handler.detach(h) }

// AttachTerminal attaches a human-friendly handler writing to w and returns
// it. Colors are used only when color is true.
func (l *Logger) AttachTerminal(w io.Writer, color bool) slog.Handler {
	h := tint.NewHandler(w, &tint.Options{
		Level:      l.Level,
		TimeFormat: time.TimeOnly,
		NoColor:    !color,
	})
	l.Attach(h)
	return h
}

var defaultLogger = newDefaultLogger()

func newDefaultLogger() *Logger {
	l := New(nil)
	l.Attach(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: l.Level}))
	return l
}

// Put returns a new context with the provided [Logger].
func Put(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// Get retrieves the [Logger] from the context.
//
// If the context has no [Logger], it returns a default [Logger] that discards
// all messages.
func Get(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// IsDefault reports whether l is the default [Logger].
func IsDefault(l *Logger) bool { return l == defaultLogger }

// Debug logs a debug message.
func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	Get(ctx).LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs an info message.
func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	Get(ctx).LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs a warning message.
func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	Get(ctx).LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs an error message.
func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	Get(ctx).LogAttrs(ctx, slog.LevelError, msg, attrs...)
}
