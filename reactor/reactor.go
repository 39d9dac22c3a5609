// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package reactor provides the runtime handle every socket and server in this
// module is bound to.
//
// A [Reactor] owns one or more workers. Each worker runs posted callbacks one
// at a time, in the order they were posted. A [Strand] is a handle on a single
// worker, so everything posted through the same Strand is serialized. Sockets
// pin themselves to a Strand, which is what lets their event emitters run
// without locks.
package reactor

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/z5labs/evhttp/internal/try"
	"github.com/z5labs/evhttp/pkg/noop"
	"github.com/z5labs/evhttp/pkg/slogfield"

	"golang.org/x/sync/errgroup"
)

// Mode selects how many workers a Reactor runs.
type Mode int

const (
	// Single runs every callback on one worker.
	Single Mode = iota

	// OnePerCore runs one worker per available CPU. Callbacks of distinct
	// strands may then run concurrently.
	OnePerCore
)

// String implements the [fmt.Stringer] interface.
func (m Mode) String() string {
	switch m {
	case Single:
		return "single"
	case OnePerCore:
		return "one_per_core"
	default:
		return "unknown"
	}
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "single":
		*m = Single
	case "one_per_core":
		*m = OnePerCore
	default:
		return UnknownModeError{Mode: string(b)}
	}
	return nil
}

// UnknownModeError is returned when decoding an unsupported mode name.
type UnknownModeError struct {
	Mode string
}

// Error implements the [builtin.error] interface.
func (e UnknownModeError) Error() string {
	return "reactor: unknown mode: " + e.Mode
}

// ErrAlreadyRunning is returned by Run if the Reactor is already running.
var ErrAlreadyRunning = errors.New("reactor: already running")

// ErrStopped is returned when work is posted to a stopped Reactor.
var ErrStopped = errors.New("reactor: stopped")

// Option configures a Reactor.
type Option func(*Reactor)

// WithMode sets the worker mode. The default is [Single].
func WithMode(m Mode) Option {
	return func(r *Reactor) {
		r.mode = m
	}
}

// Workers overrides the worker count chosen by the mode.
func Workers(n int) Option {
	return func(r *Reactor) {
		if n > 0 {
			r.workerCount = n
		}
	}
}

// LogHandler configures the handler used to report recovered panics.
func LogHandler(h slog.Handler) Option {
	return func(r *Reactor) {
		r.log = slog.New(h)
	}
}

// Reactor runs posted callbacks on a fixed set of workers.
type Reactor struct {
	mode        Mode
	workerCount int
	log         *slog.Logger

	workers []*worker
	next    atomic.Uint64
	running atomic.Bool
}

// New returns a Reactor. Callbacks may be posted before [Reactor.Run] is
// called; they run once the workers start.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		mode: Single,
		log:  slog.New(noop.LogHandler{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workerCount == 0 {
		r.workerCount = 1
		if r.mode == OnePerCore {
			r.workerCount = runtime.GOMAXPROCS(0)
		}
	}

	r.workers = make([]*worker, r.workerCount)
	for i := range r.workers {
		r.workers[i] = &worker{
			id:     i,
			log:    r.log,
			signal: make(chan struct{}, 1),
		}
	}
	return r
}

// Mode returns the configured mode.
func (r *Reactor) Mode() Mode {
	return r.mode
}

// Strand returns a handle on one worker. Workers are handed out round robin.
func (r *Reactor) Strand() Strand {
	n := r.next.Add(1) - 1
	return Strand{w: r.workers[n%uint64(len(r.workers))]}
}

// Run starts the workers and blocks until ctx is cancelled. Callbacks still
// queued when ctx is cancelled are dropped.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		g.Go(func() error {
			return w.run(gctx)
		})
	}
	return g.Wait()
}

// Strand serializes the callbacks posted through it.
type Strand struct {
	w *worker
}

// ID identifies the worker behind the strand.
func (s Strand) ID() int {
	return s.w.id
}

// Valid reports whether s was obtained from a Reactor.
func (s Strand) Valid() bool {
	return s.w != nil
}

// Post queues f. It returns [ErrStopped] if the Reactor has stopped.
func (s Strand) Post(f func()) error {
	return s.w.post(f)
}

// AfterFunc posts f once d has elapsed. The returned timer can stop it.
func (s Strand) AfterFunc(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, func() {
		_ = s.w.post(f)
	})
}

// Exec posts f and waits for it to finish.
func (s Strand) Exec(ctx context.Context, f func()) error {
	done := make(chan struct{})
	err := s.Post(func() {
		defer close(done)
		f()
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

type worker struct {
	id  int
	log *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	signal  chan struct{}
}

func (w *worker) post(f func()) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	w.queue = append(w.queue, f)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
	return nil
}

func (w *worker) take() []func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	q := w.queue
	w.queue = nil
	return q
}

func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	w.queue = nil
}

func (w *worker) run(ctx context.Context) error {
	defer w.stop()

	for {
		for _, f := range w.take() {
			if ctx.Err() != nil {
				return nil
			}
			w.exec(ctx, f)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-w.signal:
		}
	}
}

func (w *worker) exec(ctx context.Context, f func()) {
	err := try.Call(f)
	if err == nil {
		return
	}
	w.log.LogAttrs(
		ctx,
		slog.LevelError,
		"recovered from panic in reactor callback",
		slogfield.Strand(w.id),
		slogfield.Error(err),
	)
}
