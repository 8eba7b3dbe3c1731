// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package logging provides structured logging with OpenTelemetry trace context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// redactedKeys are attribute keys whose values never reach the log output.
// "code" is not listed: errutil.LogError uses it for oops codes.
var redactedKeys = map[string]bool{
	"password":         true,
	"new_password":     true,
	"confirm_password": true,
	"otp":              true,
	"token":            true,
	"reset_token":      true,
	"secret":           true,
	"database_url":     true,
}

const redacted = "[REDACTED]"

// Options configures Setup.
type Options struct {
	Service string
	Version string
	// Format is "json" or "text". Empty means json.
	Format string
	// Level is debug, info, warn or error. Empty means info.
	Level string
}

// traceHandler stamps records with the service identity and the active span.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{handler: h.handler.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{handler: h.handler.WithGroup(name), service: h.service, version: h.version}
}

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, oops.Code("LOG_LEVEL_INVALID").With("level", name).Errorf("unknown log level %q", name)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[a.Key] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// New builds a logger writing to w, or os.Stderr when w is nil.
func New(opts Options, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	var base slog.Handler
	if opts.Format == "text" {
		base = slog.NewTextHandler(w, handlerOpts)
	} else {
		base = slog.NewJSONHandler(w, handlerOpts)
	}

	return slog.New(&traceHandler{handler: base, service: opts.Service, version: opts.Version}), nil
}

// Setup builds a debug-level logger. format is "json" or "text".
func Setup(service, version, format string, w io.Writer) *slog.Logger {
	//nolint:errcheck // "debug" always parses
	logger, _ := New(Options{Service: service, Version: version, Format: format, Level: "debug"}, w)
	return logger
}

// SetDefault installs a logger built from opts as the slog default.
func SetDefault(opts Options) (*slog.Logger, error) {
	logger, err := New(opts, nil)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
