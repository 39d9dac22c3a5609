// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app wraps an evhttp.App with common run time behaviour.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/z5labs/evhttp"
	"github.com/z5labs/evhttp/internal/try"
	"github.com/z5labs/evhttp/lifecycle"
)

// Recover will wrap the given [evhttp.App] with panic recovery.
// A recovered panic is returned as a [try.PanicError] which unwraps to
// the panic value if it was an error.
func Recover(app evhttp.App) evhttp.App {
	return evhttp.AppFunc(func(ctx context.Context) (err error) {
		defer try.Recover(&err)

		return app.Run(ctx)
	})
}

// WithSignalNotifications cancels the [context.Context] passed to app.Run
// once one of signals is received.
func WithSignalNotifications(app evhttp.App, signals ...os.Signal) evhttp.App {
	return evhttp.AppFunc(func(ctx context.Context) error {
		sigCtx, cancel := signal.NotifyContext(ctx, signals...)
		defer cancel()

		return app.Run(sigCtx)
	})
}

// WithLifecycle runs app with lc in its context and runs lc's post run
// hooks once app returns, even if it panics.
func WithLifecycle(app evhttp.App, lc *lifecycle.Context) evhttp.App {
	return evhttp.AppFunc(func(ctx context.Context) (err error) {
		defer runPostRun(ctx, lc, &err)

		return app.Run(lifecycle.NewContext(ctx, lc))
	})
}

func runPostRun(ctx context.Context, lc *lifecycle.Context, err *error) {
	// Hooks still get to run after ctx was cancelled by a signal.
	hookErr := lc.PostRun().Run(context.WithoutCancel(ctx))

	// errors.Join will not return an error if both
	// *err and hookErr are nil.
	*err = errors.Join(*err, hookErr)
}
