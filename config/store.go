// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"

	"github.com/z5labs/evhttp/config/key"
)

// UnknownKeyerError occurs when a source sets a value with a key.Keyer
// other than key.Name or key.Chain.
type UnknownKeyerError struct {
	Key key.Keyer
}

// Error implements the [builtin.error] interface.
func (e UnknownKeyerError) Error() string {
	return fmt.Sprintf("config source tried setting config value with unknown key.Keyer: %s", e.Key.Key())
}

// EmptyKeyChainError occurs when a value is set with an empty key.Chain.
type EmptyKeyChainError struct {
	Value any
}

// Error implements the [builtin.error] interface.
func (e EmptyKeyChainError) Error() string {
	return fmt.Sprintf("attempted to set value to an empty key chain: %v", e.Value)
}

// UnexpectedKeyValueTypeError represents the situation when
// a source tries nesting a key under one which holds a plain value.
type UnexpectedKeyValueTypeError struct {
	Key          string
	ExpectedType string
}

// Error implements the [builtin.error] interface.
func (e UnexpectedKeyValueTypeError) Error() string {
	return fmt.Sprintf("expected key value to be a %s: %s", e.ExpectedType, e.Key)
}

type inMemoryStore map[string]any

func (m inMemoryStore) Set(k key.Keyer, v any) error {
	names, err := flatten(nil, k)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return EmptyKeyChainError{Value: v}
	}
	return setPath(m, names, v)
}

func (m inMemoryStore) get(k key.Keyer) (any, bool) {
	names, err := flatten(nil, k)
	if err != nil || len(names) == 0 {
		return nil, false
	}

	var cur any = map[string]any(m)
	for _, name := range names {
		sub, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = sub[name]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func flatten(names []string, k key.Keyer) ([]string, error) {
	switch x := k.(type) {
	case key.Name:
		return append(names, string(x)), nil
	case key.Chain:
		var err error
		for _, sub := range x {
			names, err = flatten(names, sub)
			if err != nil {
				return nil, err
			}
		}
		return names, nil
	default:
		return nil, UnknownKeyerError{Key: k}
	}
}

func setPath(m map[string]any, names []string, v any) error {
	if len(names) == 1 {
		m[names[0]] = v
		return nil
	}

	root := names[0]
	old, ok := m[root]
	if !ok {
		old = make(map[string]any)
		m[root] = old
	}

	sub, ok := old.(map[string]any)
	if !ok {
		return UnexpectedKeyValueTypeError{
			Key:          root,
			ExpectedType: "map[string]any",
		}
	}
	return setPath(sub, names[1:], v)
}
