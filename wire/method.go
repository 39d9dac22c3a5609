// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package wire

import "strings"

// Method is an HTTP request method.
type Method int

const (
	Options Method = iota
	Get
	Head
	Post
	Put
	Delete
	Trace
	Connect

	// Any is a wildcard for route registration. It never appears on the wire.
	Any
)

var methodNames = [...]string{
	Options: "OPTIONS",
	Get:     "GET",
	Head:    "HEAD",
	Post:    "POST",
	Put:     "PUT",
	Delete:  "DELETE",
	Trace:   "TRACE",
	Connect: "CONNECT",
	Any:     "ANY",
}

// String implements the [fmt.Stringer] interface.
func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return "UNKNOWN"
	}
	return methodNames[m]
}

// Matches reports whether m and other match, treating Any as a wildcard on
// either side.
func (m Method) Matches(other Method) bool {
	return m == Any || other == Any || m == other
}

// ParseMethod resolves a method name case-insensitively. "*" is accepted as
// an alias of Any.
func ParseMethod(s string) (Method, error) {
	if s == "*" {
		return Any, nil
	}
	for i, name := range methodNames {
		if strings.EqualFold(s, name) {
			return Method(i), nil
		}
	}
	return 0, ErrInvalidMethod
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (m *Method) UnmarshalText(b []byte) error {
	v, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
