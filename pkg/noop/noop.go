// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package noop holds the do-nothing defaults used when no logger is configured.
package noop

import (
	"context"
	"log/slog"
)

// LogHandler discards every record.
type LogHandler struct{}

func (LogHandler) Enabled(_ context.Context, _ slog.Level) bool  { return false }
func (LogHandler) Handle(_ context.Context, _ slog.Record) error { return nil }
func (h LogHandler) WithAttrs(_ []slog.Attr) slog.Handler        { return h }
func (h LogHandler) WithGroup(name string) slog.Handler          { return h }

// Logger returns a logger backed by [LogHandler].
func Logger() *slog.Logger {
	return slog.New(LogHandler{})
}
