// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package maskslog hides sensitive attribute values before they are logged.
package maskslog

import (
	"context"
	"log/slog"
	"net/url"
)

// Mask rewrites a sensitive attribute.
type Mask func(slog.Attr) slog.Attr

// Option configures a Handler.
type Option func(*Handler)

// Attr masks every attribute named key, including ones nested in groups.
func Attr(key string, m Mask) Option {
	return func(h *Handler) {
		h.masks[key] = m
	}
}

// Redact replaces the value of a with "****" whatever its kind.
func Redact(a slog.Attr) slog.Attr {
	return slog.String(a.Key, "****")
}

// URLPassword replaces the password of a URL valued attribute with "xxxxx".
// Values which do not parse as URLs are redacted entirely.
func URLPassword(a slog.Attr) slog.Attr {
	u, err := url.Parse(a.Value.String())
	if err != nil {
		return Redact(a)
	}
	return slog.String(a.Key, u.Redacted())
}

// Handler applies its masks to the attributes of every record and to the
// attributes added through WithAttrs.
type Handler struct {
	slog  slog.Handler
	masks map[string]Mask
}

// NewHandler wraps h.
func NewHandler(h slog.Handler, opts ...Option) *Handler {
	mh := &Handler{
		slog:  h,
		masks: make(map[string]Mask),
	}
	for _, opt := range opts {
		opt(mh)
	}
	return mh
}

// Enabled implements the slog.Handler interface.
func (h *Handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.slog.Enabled(ctx, lvl)
}

// Handle implements the slog.Handler interface.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if len(h.masks) == 0 {
		return h.slog.Handle(ctx, record)
	}

	attrs := make([]slog.Attr, 0, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.mask(a))
		return true
	})

	r := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	r.AddAttrs(attrs...)
	return h.slog.Handle(ctx, r)
}

func (h *Handler) mask(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		masked := make([]any, len(group))
		for i, ga := range group {
			masked[i] = h.mask(ga)
		}
		return slog.Group(a.Key, masked...)
	}

	m, ok := h.masks[a.Key]
	if !ok {
		return a
	}
	return m(a)
}

// WithAttrs implements the slog.Handler interface.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.mask(a)
	}
	return &Handler{
		slog:  h.slog.WithAttrs(masked),
		masks: h.masks,
	}
}

// WithGroup implements the slog.Handler interface.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		slog:  h.slog.WithGroup(name),
		masks: h.masks,
	}
}
