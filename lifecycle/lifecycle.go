// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package lifecycle registers work to run around an app's Run method.
package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// Hook is work performed at a fixed point relative to an app's Run.
type Hook interface {
	Run(context.Context) error
}

// HookFunc is a func variant of the [Hook] interface.
type HookFunc func(context.Context) error

// Run implements the [Hook] interface.
func (f HookFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type multiHook []Hook

// Run runs every hook, even after one fails, and joins their errors.
func (mh multiHook) Run(ctx context.Context) error {
	var errs []error
	for _, h := range mh {
		err := h.Run(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiHook returns a [Hook] running hooks in order.
func MultiHook(hooks ...Hook) Hook {
	return multiHook(hooks)
}

// Context collects hooks while an app is built and run.
type Context struct {
	mu       sync.Mutex
	postRuns multiHook
}

// PostRun returns the hooks registered with OnPostRun, most recent first,
// so resources are released in the reverse order they were acquired.
func (c *Context) PostRun() Hook {
	c.mu.Lock()
	defer c.mu.Unlock()

	hooks := make(multiHook, len(c.postRuns))
	for i, h := range c.postRuns {
		hooks[len(hooks)-1-i] = h
	}
	return hooks
}

// OnPostRun registers hook to run after the app's Run returns, whether it
// failed or not.
func (c *Context) OnPostRun(hook Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.postRuns = append(c.postRuns, hook)
}

type key struct{}

var contextKey = &key{}

// NewContext returns a copy of parent carrying c.
func NewContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, contextKey, c)
}

// FromContext returns the [Context] carried by ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	lc, ok := ctx.Value(contextKey).(*Context)
	return lc, ok
}
