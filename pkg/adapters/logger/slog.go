// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-zkauth.
//
// go-zkauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jeremyhahn/go-zkauth/pkg/correlation"
)

const redactedValue = "[REDACTED]"

// Keys whose values are never written: credentials, seeds, tokens.
var sensitiveKeyParts = []string{"credential", "token", "secret", "seed", "authorization", "cookie", "magiclink"}

// SlogConfig configures NewSlogAdapter.
type SlogConfig struct {
	Level Level

	// Output defaults to os.Stderr.
	Output io.Writer

	// JSON selects a JSONHandler instead of a TextHandler.
	JSON bool

	AddSource bool

	// Handler replaces the handler built from Output and JSON. Redaction
	// and correlation still apply.
	Handler slog.Handler
}

// SlogAdapter implements Logger on log/slog.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a slog-backed Logger. Every record passes through
// a handler that redacts sensitive keys and stamps the correlation ID of
// the context it was logged with.
func NewSlogAdapter(config *SlogConfig) *SlogAdapter {
	if config == nil {
		config = &SlogConfig{}
	}
	inner := config.Handler
	if inner == nil {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		opts := &slog.HandlerOptions{
			Level:     slog.Level(config.Level) * 4,
			AddSource: config.AddSource,
		}
		if config.JSON {
			inner = slog.NewJSONHandler(out, opts)
		} else {
			inner = slog.NewTextHandler(out, opts)
		}
	}
	return &SlogAdapter{logger: slog.New(&guardHandler{next: inner})}
}

// Slog returns the underlying slog.Logger for libraries that want one.
func (l *SlogAdapter) Slog() *slog.Logger {
	return l.logger
}

func (l *SlogAdapter) Debug(msg string, fields ...Field) {
	l.Log(context.Background(), LevelDebug, msg, fields...)
}

func (l *SlogAdapter) Info(msg string, fields ...Field) {
	l.Log(context.Background(), LevelInfo, msg, fields...)
}

func (l *SlogAdapter) Warn(msg string, fields ...Field) {
	l.Log(context.Background(), LevelWarn, msg, fields...)
}

func (l *SlogAdapter) Error(msg string, fields ...Field) {
	l.Log(context.Background(), LevelError, msg, fields...)
}

// Log writes msg at level. The correlation ID carried by ctx, if any, is
// attached.
func (l *SlogAdapter) Log(ctx context.Context, level Level, msg string, fields ...Field) {
	l.logger.LogAttrs(ctx, slog.Level(level)*4, msg, attrs(fields)...)
}

func (l *SlogAdapter) With(fields ...Field) Logger {
	args := make([]any, 0, len(fields))
	for _, a := range attrs(fields) {
		args = append(args, a)
	}
	return &SlogAdapter{logger: l.logger.With(args...)}
}

// FromContext returns l with the correlation ID from ctx attached, so
// components that only hold a Logger still tag their lines.
func FromContext(ctx context.Context, l Logger) Logger {
	if ctx == nil || l == nil {
		return l
	}
	if id := correlation.ID(ctx); id != "" {
		return l.With(String(correlationKey, id))
	}
	return l
}

const correlationKey = "correlation_id"

func attrs(fields []Field) []slog.Attr {
	out := make([]slog.Attr, len(fields))
	for i, f := range fields {
		out[i] = slog.Any(f.Key, f.Value)
	}
	return out
}

// guardHandler redacts sensitive attributes and stamps correlation IDs
// before records reach the wrapped handler.
type guardHandler struct {
	next          slog.Handler
	hasCorrelated bool
}

func (h *guardHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *guardHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	stamped := h.hasCorrelated
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == correlationKey {
			stamped = true
		}
		out.AddAttrs(redact(a))
		return true
	})
	if !stamped {
		if id := correlation.ID(ctx); id != "" {
			out.AddAttrs(slog.String(correlationKey, id))
		}
	}
	return h.next.Handle(ctx, out)
}

func (h *guardHandler) WithAttrs(as []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(as))
	correlated := h.hasCorrelated
	for i, a := range as {
		if a.Key == correlationKey {
			correlated = true
		}
		clean[i] = redact(a)
	}
	return &guardHandler{next: h.next.WithAttrs(clean), hasCorrelated: correlated}
}

func (h *guardHandler) WithGroup(name string) slog.Handler {
	return &guardHandler{next: h.next.WithGroup(name), hasCorrelated: h.hasCorrelated}
}

func redact(a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, redactedValue)
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = redact(g)
		}
		return slog.Group(a.Key, clean...)
	}
	return a
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
