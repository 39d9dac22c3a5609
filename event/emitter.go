// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package event

import (
	"reflect"
	"slices"
	"strings"

	"github.com/z5labs/evhttp/internal/try"
)

// Emitter dispatches named events to registered listeners.
//
// The zero value is ready to use.
type Emitter struct {
	listeners    map[string][]*callback
	schemas      map[string][]reflect.Type
	maxListeners int
	depth        int
	armed        string
}

// Type returns the reflect.Type of T, for use with [Emitter.Declare].
func Type[T any]() reflect.Type {
	return typeOf[T]()
}

// SetMaxListeners caps the number of listeners per event. Zero means unlimited.
func (e *Emitter) SetMaxListeners(n int) {
	if n < 0 {
		n = 0
	}
	e.maxListeners = n
}

// MaxListeners returns the per event listener cap.
func (e *Emitter) MaxListeners() int {
	return e.maxListeners
}

// Declare fixes the payload types of an event. Listeners registered for a
// declared event must either ignore the payload or accept exactly these types.
func (e *Emitter) Declare(name string, types ...reflect.Type) error {
	if name == "" {
		return ErrEmptyEvent
	}
	if e.schemas == nil {
		e.schemas = make(map[string][]reflect.Type)
	}
	e.schemas[name] = types
	return nil
}

// On registers l to run on every emission of name.
func (e *Emitter) On(name string, l Listener) (CallbackID, error) {
	return e.AddListener(name, l, RunMany)
}

// Once registers l to run on the next emission of name only.
func (e *Emitter) Once(name string, l Listener) (CallbackID, error) {
	return e.AddListener(name, l, RunOnce)
}

// AddListener registers l for name and emits "listener_added".
func (e *Emitter) AddListener(name string, l Listener, mode RunMode) (CallbackID, error) {
	if name == "" {
		return 0, ErrEmptyEvent
	}
	if l.call == nil {
		return 0, ArityError{Event: name}
	}
	if schema, ok := e.schemas[name]; ok && !l.matches(schema) {
		return 0, ArityError{Event: name, Expected: schema, Got: l.types}
	}
	if e.maxListeners > 0 && len(e.listeners[name]) >= e.maxListeners {
		return 0, ErrMaxListeners
	}
	if e.listeners == nil {
		e.listeners = make(map[string][]*callback)
	}

	cb := &callback{
		id:       nextID(),
		listener: l,
		mode:     mode,
	}
	e.listeners[name] = append(e.listeners[name], cb)

	if name == ListenerAdded {
		return cb.id, nil
	}
	return cb.id, e.Emit(ListenerAdded, name, cb.id)
}

// RemoveListener unregisters the listener with the given id. It reports
// whether a listener was removed.
func (e *Emitter) RemoveListener(name string, id CallbackID) (bool, error) {
	cbs := e.listeners[name]
	i := slices.IndexFunc(cbs, func(cb *callback) bool { return cb.id == id })
	if i < 0 {
		return false, nil
	}
	cbs[i].removed = true
	e.setListeners(name, slices.Delete(cbs, i, i+1))

	if name == ListenerRemoved {
		return true, nil
	}
	return true, e.Emit(ListenerRemoved, name, id)
}

// RemoveAllCallbacks drops every listener registered for name.
func (e *Emitter) RemoveAllCallbacks(name string) {
	for _, cb := range e.listeners[name] {
		cb.removed = true
	}
	delete(e.listeners, name)
}

// ListenerCount returns the number of listeners registered for name.
func (e *Emitter) ListenerCount(name string) int {
	return len(e.listeners[name])
}

// Arm marks name as the terminal event of this emitter. Once name has been
// dispatched its listeners are dropped. Only one event may be armed.
func (e *Emitter) Arm(name string) error {
	if name == "" {
		return ErrEmptyEvent
	}
	if e.armed != "" && e.armed != name {
		return ErrAlreadyArmed
	}
	e.armed = name
	return nil
}

// Armed returns the armed terminal event, if any.
func (e *Emitter) Armed() string {
	return e.armed
}

// Emit invokes the listeners of name in registration order.
//
// Zero arity listeners are called without arguments, every other listener
// must accept args exactly. A listener that panics stops the pass and its
// panic is returned as a [ListenerError]. Run-once listeners which were
// invoked are removed once the pass ends, whether or not it failed.
//
// After a successful pass the "<name>_selfdestruct" listeners run, exactly
// once each.
func (e *Emitter) Emit(name string, args ...any) error {
	if name == "" {
		return ErrEmptyEvent
	}
	if e.depth >= MaxDepth {
		return ErrCallbackLoop
	}

	err := e.dispatch(name, e.listeners[name], args)
	e.sweep(name)
	if err != nil {
		return err
	}

	if name == e.armed {
		e.RemoveAllCallbacks(name)
	}
	if strings.HasSuffix(name, selfDestructSuffix) {
		return nil
	}

	sd := SelfDestruct(name)
	cbs := e.listeners[sd]
	if len(cbs) == 0 {
		return nil
	}
	if e.depth >= MaxDepth {
		return ErrCallbackLoop
	}
	delete(e.listeners, sd)
	return e.dispatch(sd, cbs, nil)
}

func (e *Emitter) dispatch(name string, cbs []*callback, args []any) error {
	e.depth++
	defer func() { e.depth-- }()

	for _, cb := range slices.Clone(cbs) {
		if cb.removed {
			continue
		}
		if !cb.listener.accepts(args) {
			return ArityError{Event: name, Expected: cb.listener.types, Got: typesOf(args)}
		}

		cb.invoked = true
		err := try.Call(func() {
			cb.listener.call(args)
		})
		if err != nil {
			return ListenerError{Event: name, ID: cb.id, Cause: err}
		}
	}
	return nil
}

func (e *Emitter) sweep(name string) {
	cbs, ok := e.listeners[name]
	if !ok {
		return
	}
	e.setListeners(name, slices.DeleteFunc(cbs, func(cb *callback) bool {
		if cb.mode == RunOnce && cb.invoked {
			cb.removed = true
			return true
		}
		return false
	}))
}

func (e *Emitter) setListeners(name string, cbs []*callback) {
	if len(cbs) == 0 {
		delete(e.listeners, name)
		return
	}
	e.listeners[name] = cbs
}

func typesOf(args []any) []reflect.Type {
	ts := make([]reflect.Type, len(args))
	for i, a := range args {
		ts[i] = reflect.TypeOf(a)
	}
	return ts
}
