// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package key names config values, possibly nested.
package key

import (
	"strings"
)

// Keyer is a common interface all value key types must implement.
type Keyer interface {
	Key() string
}

// Chain is a nested key, outermost first.
type Chain []Keyer

// Key implements the [Keyer] interface. The names are joined with '.'.
func (k Chain) Key() string {
	ss := make([]string, len(k))
	for i := range k {
		ss[i] = k[i].Key()
	}
	return strings.Join(ss, ".")
}

// Name is a single key.
type Name string

// Key implements the [Keyer] interface.
func (k Name) Key() string {
	return string(k)
}

// Parse splits a dotted path like "server.listen.port" into a Chain.
// Empty segments are dropped.
func Parse(path string) Chain {
	var chain Chain
	for _, s := range strings.Split(path, ".") {
		if s == "" {
			continue
		}
		chain = append(chain, Name(s))
	}
	return chain
}
