// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package event

import (
	"context"
	"log/slog"

	"github.com/z5labs/evhttp/fault"
	"github.com/z5labs/evhttp/pkg/noop"
	"github.com/z5labs/evhttp/pkg/slogfield"
)

// Standard is an [Emitter] with the "error" and "exit" contract every
// component of this module follows. Embed it by value.
//
// Errors emitted while nothing listens for "error" are forwarded to the
// delegate set with [Standard.DelegateErrorsTo], or logged when there is none.
type Standard struct {
	Emitter

	delegate *Standard
	log      *slog.Logger
}

// SetLogHandler sets the handler used to report unhandled errors.
func (s *Standard) SetLogHandler(h slog.Handler) {
	s.log = slog.New(h)
}

// Logger returns the logger of s, which discards records by default.
func (s *Standard) Logger() *slog.Logger {
	if s.log == nil {
		s.log = slog.New(noop.LogHandler{})
	}
	return s.log
}

// DelegateErrorsTo forwards unhandled errors of s to other.
// A nil other removes the delegate.
func (s *Standard) DelegateErrorsTo(other *Standard) {
	s.delegate = other
}

// OnError registers f for the "error" event.
func (s *Standard) OnError(f func(*fault.Error)) (CallbackID, error) {
	return s.On(Error, Func1(f))
}

// OnExit registers f for the "exit" event.
func (s *Standard) OnExit(f func()) (CallbackID, error) {
	return s.On(Exit, Func(f))
}

// EmitExit emits "exit".
func (s *Standard) EmitExit() error {
	return s.Emit(Exit)
}

// EmitError emits err as "error".
func (s *Standard) EmitError(err *fault.Error) error {
	seen := make(map[*Standard]struct{})
	for d := s; d != nil; d = d.delegate {
		if _, ok := seen[d]; ok {
			break
		}
		seen[d] = struct{}{}

		if d.ListenerCount(Error) > 0 {
			return d.Emit(Error, err)
		}
	}
	s.Logger().LogAttrs(
		context.Background(),
		slog.LevelError,
		"unhandled error event",
		slogfield.Error(err),
	)
	return nil
}

// EmitErrorAt emits a new error with a description and where row.
func (s *Standard) EmitErrorAt(description, where string) error {
	return s.EmitError(fault.New(description).With(fault.Where, where))
}

// EmitChildError emits a new error which wraps child.
func (s *Standard) EmitChildError(child *fault.Error, description, where string) error {
	e := fault.New(description).With(fault.Where, where)
	if err := e.AddChild(child); err != nil {
		return err
	}
	return s.EmitError(e)
}

// EmitCodeError emits a new error describing an I/O or system error code.
func (s *Standard) EmitCodeError(code error, description, where string) error {
	return s.EmitError(fault.FromCode(description, code).With(fault.Where, where))
}

// EmitExceptionError emits a new error which captures cause.
func (s *Standard) EmitExceptionError(cause error, description, where string) error {
	return s.EmitError(fault.FromException(description, cause).With(fault.Where, where))
}
