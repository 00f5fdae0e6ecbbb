// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// NewLogger builds a logger that stamps trace_id, span_id and the ids set by
// WithRequest from the context onto every record. format is "json" or "text".
func NewLogger(output io.Writer, level, format string) *slog.Logger {
	return slog.New(newSlogHandler(output, ParseLevel(level), format))
}

// NewLeveledLogger is NewLogger with a level that can change at runtime,
// typically a *slog.LevelVar updated on config reload.
func NewLeveledLogger(output io.Writer, level slog.Leveler, format string) *slog.Logger {
	return slog.New(newSlogHandler(output, level, format))
}

func newSlogHandler(output io.Writer, level slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return &traceHandler{next: base}
}

type requestKey struct{}

type requestIDs struct {
	session string
	request string
}

// WithRequest tags ctx so records logged with it carry session_id and
// request_id, whichever logger writes them.
func WithRequest(ctx context.Context, sessionID, requestID string) context.Context {
	return context.WithValue(ctx, requestKey{}, requestIDs{session: sessionID, request: requestID})
}

// traceHandler stamps span and request ids found in the context.
type traceHandler struct {
	next slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, attr := range contextAttrs(ctx) {
		if !recordHasAttr(record, attr.Key) {
			record.AddAttrs(attr)
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name)}
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()))
	}
	if ids, ok := ctx.Value(requestKey{}).(requestIDs); ok {
		if ids.session != "" {
			attrs = append(attrs, slog.String("session_id", ids.session))
		}
		if ids.request != "" {
			attrs = append(attrs, slog.String("request_id", ids.request))
		}
	}
	return attrs
}

func recordHasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
