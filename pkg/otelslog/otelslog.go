// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelslog correlates log records with the span active in the
// record's context.
package otelslog

import (
	"context"
	"io"
	"log/slog"

	"github.com/z5labs/evhttp/pkg/slogfield"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Formats.
const (
	JSON = "json"
	Text = "text"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config describes the root log handler of a process.
type Config struct {
	Level slog.Level `config:"level"`

	// Format is "json" or "text". Empty means "json".
	Format string `config:"format" validate:"omitempty,oneof=json text"`
}

// Option configures a Handler.
type Option func(*Handler)

// Group nests the trace and span ids under name. An empty name adds them
// at the top level of the record. The default group is "otel".
func Group(name string) Option {
	return func(h *Handler) {
		h.group = name
	}
}

// SpanEvents mirrors records at or above lvl onto the active span as
// span events.
func SpanEvents(lvl slog.Level) Option {
	return func(h *Handler) {
		h.spanEvents = true
		h.eventLevel = lvl
	}
}

// Handler adds the trace id and span id of the active span to every record
// before passing it on.
type Handler struct {
	slog       slog.Handler
	group      string
	spanEvents bool
	eventLevel slog.Level
}

// NewHandler wraps h.
func NewHandler(h slog.Handler, opts ...Option) *Handler {
	oh := &Handler{
		slog:  h,
		group: "otel",
	}
	for _, opt := range opts {
		opt(oh)
	}
	return oh
}

// FromConfig builds a json or text handler writing to w and wraps it.
func FromConfig(w io.Writer, cfg Config, opts ...Option) (*Handler, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}

	ho := &slog.HandlerOptions{Level: cfg.Level}
	var h slog.Handler
	switch cfg.Format {
	case Text:
		h = slog.NewTextHandler(w, ho)
	default:
		h = slog.NewJSONHandler(w, ho)
	}
	return NewHandler(h, opts...), nil
}

// Enabled implements the slog.Handler interface.
func (h *Handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.slog.Enabled(ctx, lvl)
}

// Handle implements the slog.Handler interface.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	span := trace.SpanFromContext(ctx)
	spanCtx := span.SpanContext()
	if !spanCtx.IsValid() {
		return h.slog.Handle(ctx, record)
	}

	if h.spanEvents && record.Level >= h.eventLevel && span.IsRecording() {
		span.AddEvent(record.Message, trace.WithAttributes(
			attribute.String("log.severity", record.Level.String()),
		))
	}

	ids := []any{
		slogfield.String("trace_id", spanCtx.TraceID().String()),
		slogfield.String("span_id", spanCtx.SpanID().String()),
	}

	r := record.Clone()
	if h.group == "" {
		r.Add(ids...)
	} else {
		r.AddAttrs(slog.Group(h.group, ids...))
	}
	return h.slog.Handle(ctx, r)
}

// WithAttrs implements the slog.Handler interface.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(h.slog.WithAttrs(attrs))
}

// WithGroup implements the slog.Handler interface.
func (h *Handler) WithGroup(name string) slog.Handler {
	return h.with(h.slog.WithGroup(name))
}

func (h *Handler) with(sh slog.Handler) *Handler {
	return &Handler{
		slog:       sh,
		group:      h.group,
		spanEvents: h.spanEvents,
		eventLevel: h.eventLevel,
	}
}
