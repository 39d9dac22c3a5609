// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"encoding/json"
	"io"
)

// Json is a Source reading a JSON object from an io.Reader. The reader is
// closed after Apply if it implements io.Closer.
type Json struct {
	r io.Reader
}

// FromJson returns a Source applying the JSON object read from r.
func FromJson(r io.Reader) Json {
	return Json{r: r}
}

// InvalidJsonError is returned when the document is not a JSON object.
// Source names the file it came from, when known.
type InvalidJsonError struct {
	Source string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e InvalidJsonError) Error() string {
	return describe(JSON, e.Source, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidJsonError) Unwrap() error {
	return e.Cause
}

// Apply implements the Source interface.
func (src Json) Apply(store Store) error {
	return applyDocument(store, src.r, decodeJson, func(source string, cause error) error {
		return InvalidJsonError{Source: source, Cause: cause}
	})
}

func decodeJson(b []byte, m *map[string]any) error {
	var v any
	err := json.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	t, ok := v.(map[string]any)
	if !ok {
		return ErrNotATable
	}
	*m = t
	return nil
}
