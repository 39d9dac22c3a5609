// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fault provides a structured, chainable error value.
//
// An [Error] is an ordered list of name/value rows, always starting with a
// "description" row. It may capture an underlying Go error (the exception)
// and may have exactly one child [Error], which forms a cause chain. Once a
// child is attached the parent is frozen and rejects further rows.
package fault

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// Well known row names.
const (
	Description = "description"
	Where       = "where"
	Category    = "category"
	Message     = "message"
	ErrorCode   = "error_code"
)

var (
	// ErrFrozen is returned when adding a row to a frozen Error.
	ErrFrozen = errors.New("fault: error is frozen")

	// ErrNotFound is returned by Get for an absent row name.
	ErrNotFound = errors.New("fault: row not found")

	// ErrAlreadyHasChild is returned when attaching a second child.
	ErrAlreadyHasChild = errors.New("fault: error already has a child")

	// ErrCycle is returned when attaching a child would make the chain cyclic.
	ErrCycle = errors.New("fault: child would create a cycle")
)

// Row is a single name/value pair of an Error.
type Row struct {
	Name  string
	Value string
}

// Error is a structured error value.
//
// The zero value is not usable, use [New], [FromCode] or [FromException].
type Error struct {
	rows      []Row
	child     *Error
	exception error
	frozen    bool
}

// New returns an Error with the given description.
func New(description string) *Error {
	return &Error{
		rows: []Row{{Name: Description, Value: description}},
	}
}

// FromCode returns an Error describing an operating system or I/O error code.
// The code is recorded in the category, message and error_code rows.
func FromCode(description string, code error) *Error {
	e := New(description)
	if code == nil {
		return e
	}
	e.rows = append(e.rows,
		Row{Name: Category, Value: categoryOf(code)},
		Row{Name: Message, Value: code.Error()},
		Row{Name: ErrorCode, Value: strconv.Itoa(codeOf(code))},
	)
	e.exception = code
	return e
}

// FromException returns an Error which captures cause as its exception.
func FromException(description string, cause error) *Error {
	e := New(description)
	e.exception = cause
	return e
}

// Add appends a row. It fails with [ErrFrozen] once the Error is frozen.
func (e *Error) Add(name, value string) error {
	if e.frozen {
		return ErrFrozen
	}
	e.rows = append(e.rows, Row{Name: name, Value: value})
	return nil
}

// With is a chaining form of [Error.Add] that ignores ErrFrozen.
func (e *Error) With(name, value string) *Error {
	_ = e.Add(name, value)
	return e
}

// Get returns the value of the first row with the given name.
func (e *Error) Get(name string) (string, error) {
	for _, r := range e.rows {
		if r.Name == name {
			return r.Value, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Description returns the description row.
func (e *Error) Description() string {
	return e.rows[0].Value
}

// Rows returns a copy of the rows in insertion order.
func (e *Error) Rows() []Row {
	rows := make([]Row, len(e.rows))
	copy(rows, e.rows)
	return rows
}

// Freeze marks the Error read only. Freezing is permanent.
func (e *Error) Freeze() {
	e.frozen = true
}

// Frozen reports whether rows can still be added.
func (e *Error) Frozen() bool {
	return e.frozen
}

// AddChild attaches child as the cause of e and freezes e.
func (e *Error) AddChild(child *Error) error {
	if e.child != nil {
		return ErrAlreadyHasChild
	}
	for c := child; c != nil; c = c.child {
		if c == e {
			return ErrCycle
		}
	}
	e.child = child
	e.frozen = true
	return nil
}

// Child returns the attached child, if any.
func (e *Error) Child() *Error {
	return e.child
}

// Exception returns the error captured directly by e.
func (e *Error) Exception() error {
	return e.exception
}

// HasException reports whether e or any Error in its chain captured an exception.
func (e *Error) HasException() bool {
	for c := e; c != nil; c = c.child {
		if c.exception != nil {
			return true
		}
	}
	return false
}

// Rethrow returns the deepest captured exception in the chain, or nil.
// Callers propagate it as their own return value.
func (e *Error) Rethrow() error {
	var deepest error
	for c := e; c != nil; c = c.child {
		if c.exception != nil {
			deepest = c.exception
		}
	}
	return deepest
}

// Error implements the [builtin.error] interface.
func (e *Error) Error() string {
	var sb strings.Builder
	e.render(&sb, "")
	return strings.TrimRight(sb.String(), "\n")
}

// Unwrap exposes the exception and the child to [errors.Is] and [errors.As].
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.exception != nil {
		errs = append(errs, e.exception)
	}
	if e.child != nil {
		errs = append(errs, e.child)
	}
	return errs
}

func (e *Error) render(sb *strings.Builder, prefix string) {
	for _, r := range e.rows {
		sb.WriteString(prefix)
		sb.WriteString(r.Name)
		sb.WriteString(": ")
		sb.WriteString(r.Value)
		sb.WriteByte('\n')
	}
	if e.exception != nil {
		sb.WriteString(prefix)
		sb.WriteString("exception: ")
		sb.WriteString(e.exception.Error())
		sb.WriteByte('\n')
	}
	if e.child != nil {
		e.child.render(sb, prefix+"> ")
	}
}

func categoryOf(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return "system"
	}
	return "generic"
}

func codeOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return -1
}
