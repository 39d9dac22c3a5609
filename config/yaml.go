// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"io"

	"gopkg.in/yaml.v3"
)

// Yaml is a Source reading a YAML mapping from an io.Reader. An empty
// document applies nothing.
type Yaml struct {
	r io.Reader
}

// FromYaml returns a Source applying the YAML mapping read from r.
func FromYaml(r io.Reader) Yaml {
	return Yaml{r: r}
}

// InvalidYamlError is returned when the document is not a YAML mapping.
type InvalidYamlError struct {
	Source string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e InvalidYamlError) Error() string {
	return describe(YAML, e.Source, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidYamlError) Unwrap() error {
	return e.Cause
}

// Apply implements the Source interface.
func (src Yaml) Apply(store Store) error {
	return applyDocument(store, src.r, decodeYaml, func(source string, cause error) error {
		return InvalidYamlError{Source: source, Cause: cause}
	})
}

func decodeYaml(b []byte, m *map[string]any) error {
	var v any
	err := yaml.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		*m = t
		return nil
	case map[any]any:
		*m = stringKeys(t)
		return nil
	}
	return ErrNotATable
}
