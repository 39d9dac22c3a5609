// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package evhttp

import (
	"context"
	"fmt"

	"github.com/z5labs/evhttp/config"
)

// App is what a binary runs once its config is read, typically a
// web.Server listening and driving its reactor until ctx is done.
type App interface {
	Run(context.Context) error
}

// AppFunc is a func variant of the [App] interface.
type AppFunc func(context.Context) error

// Run implements the [App] interface.
func (f AppFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// AppBuilder wires sockets, sites and services from a config of type T.
// Build runs before any reactor starts, so it must not block on I/O.
type AppBuilder[T any] interface {
	Build(ctx context.Context, cfg T) (App, error)
}

// AppBuilderFunc is a func variant of the [AppBuilder] interface.
type AppBuilderFunc[T any] func(context.Context, T) (App, error)

// Build implements the [AppBuilder] interface.
func (f AppBuilderFunc[T]) Build(ctx context.Context, cfg T) (App, error) {
	return f(ctx, cfg)
}

// Validator is implemented by config types able to check themselves.
type Validator interface {
	Validate() error
}

// Run is the life of a server binary in four stages, each failing with its
// own error type: the config sources are read in order, decoded into T,
// validated if T or *T implements [Validator], then handed to builder. The
// built [App] runs until it returns; reactors and listeners started by it
// are expected to stop once ctx is done.
func Run[T any](ctx context.Context, builder AppBuilder[T], srcs ...config.Source) error {
	m, err := config.Read(srcs...)
	if err != nil {
		return ConfigReadError{Cause: err}
	}

	var cfg T
	err = m.Unmarshal(&cfg)
	if err != nil {
		return ConfigUnmarshalError{Cause: err}
	}

	err = validateConfig(&cfg)
	if err != nil {
		return ConfigValidateError{Cause: err}
	}

	app, err := builder.Build(ctx, cfg)
	if err != nil {
		return BuildError{Cause: err}
	}

	err = app.Run(ctx)
	if err != nil {
		return RunError{Cause: err}
	}
	return nil
}

func validateConfig(cfg any) error {
	if v, ok := cfg.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// ConfigReadError is returned by [Run] when a config source fails.
type ConfigReadError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigReadError) Error() string {
	return fmt.Sprintf("failed to read config: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigReadError) Unwrap() error {
	return e.Cause
}

// ConfigUnmarshalError is returned by [Run] when a value does not fit its
// field, e.g. "ipv5" for an IP version.
type ConfigUnmarshalError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigUnmarshalError) Error() string {
	return fmt.Sprintf("failed to decode config: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigUnmarshalError) Unwrap() error {
	return e.Cause
}

// ConfigValidateError is returned by [Run] when the decoded config rejects
// itself, e.g. a port clash or a static root that does not exist.
type ConfigValidateError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigValidateError) Error() string {
	return fmt.Sprintf("invalid config: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigValidateError) Unwrap() error {
	return e.Cause
}

// BuildError is returned by [Run] when the [AppBuilder] fails.
type BuildError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e BuildError) Error() string {
	return fmt.Sprintf("failed to build app: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e BuildError) Unwrap() error {
	return e.Cause
}

// RunError is returned by [Run] when the [App] fails, e.g. the listen port
// is taken.
type RunError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e RunError) Error() string {
	return fmt.Sprintf("failed to run app: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e RunError) Unwrap() error {
	return e.Cause
}
