// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package event implements named-event dispatch.
//
// An [Emitter] maps event names to ordered listener lists. Listeners are
// registered through typed adapters ([Func], [Func1], [Func2], [Func3]) and
// invoked in insertion order on [Emitter.Emit]. An Emitter is not safe for
// concurrent use; every Emitter in this module is confined to a single
// reactor strand.
//
// A handful of event names carry defined semantics:
//
//   - "error" and "exit", see [Standard].
//   - "listener_added" and "listener_removed", emitted with the event name and
//     the [CallbackID] whenever a listener is registered or removed.
//   - "<event>_selfdestruct", dispatched automatically and last after
//     "<event>" has been dispatched. Its listeners run exactly once.
package event

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
)

// Reserved event names.
const (
	Error           = "error"
	Exit            = "exit"
	ListenerAdded   = "listener_added"
	ListenerRemoved = "listener_removed"

	selfDestructSuffix = "_selfdestruct"
)

// MaxDepth is the deepest nesting of Emit calls allowed on one Emitter.
const MaxDepth = 100

var (
	// ErrEmptyEvent is returned for an empty event name.
	ErrEmptyEvent = errors.New("event: empty event name")

	// ErrMaxListeners is returned when the listener cap of an event is reached.
	ErrMaxListeners = errors.New("event: max listeners reached")

	// ErrArityMismatch is returned when a listener does not accept the payload.
	ErrArityMismatch = errors.New("event: listener arity mismatch")

	// ErrCallbackLoop is returned when emission nesting exceeds MaxDepth.
	ErrCallbackLoop = errors.New("event: callback loop detected")

	// ErrAlreadyArmed is returned when arming a second terminal event.
	ErrAlreadyArmed = errors.New("event: a different terminal event is already armed")
)

// SelfDestruct returns the name of the self-destruct event of name.
func SelfDestruct(name string) string {
	return name + selfDestructSuffix
}

// CallbackID identifies one registered listener. Ids are unique per process
// and increase monotonically.
type CallbackID uint64

var lastID atomic.Uint64

func nextID() CallbackID {
	return CallbackID(lastID.Add(1))
}

// RunMode controls how many times a listener fires.
type RunMode int

const (
	RunMany RunMode = iota
	RunOnce
)

// ListenerError wraps a failure raised by a listener during emission.
type ListenerError struct {
	Event string
	ID    CallbackID
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ListenerError) Error() string {
	return fmt.Sprintf("event: listener %d for %q failed: %s", e.ID, e.Event, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ListenerError) Unwrap() error {
	return e.Cause
}

// ArityError reports a payload which a listener cannot accept.
type ArityError struct {
	Event    string
	Expected []reflect.Type
	Got      []reflect.Type
}

// Error implements the [builtin.error] interface.
func (e ArityError) Error() string {
	return fmt.Sprintf("event: listener for %q expects %s but got %s", e.Event, typeList(e.Expected), typeList(e.Got))
}

// Unwrap returns [ErrArityMismatch].
func (ArityError) Unwrap() error {
	return ErrArityMismatch
}

func typeList(ts []reflect.Type) string {
	ss := make([]string, len(ts))
	for i, t := range ts {
		if t == nil {
			ss[i] = "nil"
			continue
		}
		ss[i] = t.String()
	}
	return "(" + strings.Join(ss, ", ") + ")"
}

// Listener is a type erased callable together with the argument types it
// accepts. Construct one with [Func], [Func1], [Func2] or [Func3].
type Listener struct {
	types []reflect.Type
	call  func(args []any)
}

// Arity returns the number of arguments the listener accepts.
// Zero arity listeners accept any payload and ignore it.
func (l Listener) Arity() int {
	return len(l.types)
}

// Func adapts a listener which ignores the event payload.
func Func(f func()) Listener {
	return Listener{
		call: func([]any) { f() },
	}
}

// Func1 adapts a single argument listener.
func Func1[A any](f func(A)) Listener {
	return Listener{
		types: []reflect.Type{typeOf[A]()},
		call: func(args []any) {
			f(as[A](args[0]))
		},
	}
}

// Func2 adapts a two argument listener.
func Func2[A, B any](f func(A, B)) Listener {
	return Listener{
		types: []reflect.Type{typeOf[A](), typeOf[B]()},
		call: func(args []any) {
			f(as[A](args[0]), as[B](args[1]))
		},
	}
}

// Func3 adapts a three argument listener.
func Func3[A, B, C any](f func(A, B, C)) Listener {
	return Listener{
		types: []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C]()},
		call: func(args []any) {
			f(as[A](args[0]), as[B](args[1]), as[C](args[2]))
		},
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func as[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}

// accepts reports whether args can be passed to the listener.
func (l Listener) accepts(args []any) bool {
	if len(l.types) == 0 {
		return true
	}
	if len(l.types) != len(args) {
		return false
	}
	for i, t := range l.types {
		if !assignable(args[i], t) {
			return false
		}
	}
	return true
}

func assignable(v any, t reflect.Type) bool {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return true
		default:
			return false
		}
	}
	return reflect.TypeOf(v).AssignableTo(t)
}

// matches reports whether the listener can serve a declared schema.
func (l Listener) matches(schema []reflect.Type) bool {
	if len(l.types) == 0 {
		return true
	}
	if len(l.types) != len(schema) {
		return false
	}
	for i, t := range schema {
		if !t.AssignableTo(l.types[i]) {
			return false
		}
	}
	return true
}

type callback struct {
	id       CallbackID
	listener Listener
	mode     RunMode
	invoked  bool
	removed  bool
}
