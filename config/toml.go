// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"io"

	"github.com/BurntSushi/toml"
)

// Toml is a Source reading a TOML document from an io.Reader.
type Toml struct {
	r io.Reader
}

// FromToml returns a Source applying the TOML document read from r.
func FromToml(r io.Reader) Toml {
	return Toml{r: r}
}

// InvalidTomlError is returned when the document fails to decode.
type InvalidTomlError struct {
	Source string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e InvalidTomlError) Error() string {
	return describe(TOML, e.Source, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidTomlError) Unwrap() error {
	return e.Cause
}

// Apply implements the Source interface.
func (src Toml) Apply(store Store) error {
	return applyDocument(store, src.r, decodeToml, func(source string, cause error) error {
		return InvalidTomlError{Source: source, Cause: cause}
	})
}

func decodeToml(b []byte, m *map[string]any) error {
	return toml.Unmarshal(b, m)
}
