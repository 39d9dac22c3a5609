// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/z5labs/evhttp/internal/try"
)

// Format names a document format a Source can be decoded from.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	TOML Format = "toml"
)

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON, true
	case ".yaml", ".yml":
		return YAML, true
	case ".toml":
		return TOML, true
	}
	return "", false
}

// UnsupportedFormatError is returned by FromFile for a path whose extension
// maps to no known Format.
type UnsupportedFormatError struct {
	Path string
}

// Error implements the [builtin.error] interface.
func (e UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported config format: %s", e.Path)
}

// FromFile returns a Source reading path in the format its extension names.
func FromFile(path string, opts ...FileReaderOption) Source {
	format, ok := FormatOf(path)
	if !ok {
		return SourceFunc(func(Store) error {
			return UnsupportedFormatError{Path: path}
		})
	}

	r := NewFileReader(path, opts...)
	switch format {
	case JSON:
		return FromJson(r)
	case YAML:
		return FromYaml(r)
	default:
		return FromToml(r)
	}
}

// ErrNotATable is wrapped by format errors when a document does not decode
// into a table of keys, e.g. a JSON array at the top level.
var ErrNotATable = errors.New("document is not a table of keys")

// sourceName returns the name of r for error messages, if it has one.
func sourceName(r io.Reader) string {
	n, ok := r.(interface{ Name() string })
	if !ok {
		return ""
	}
	return n.Name()
}

func describe(format Format, source string, cause error) string {
	if source == "" {
		return fmt.Sprintf("invalid %s: %s", format, cause)
	}
	return fmt.Sprintf("invalid %s in %s: %s", format, source, cause)
}

// applyDocument reads all of r, decodes it into a table and applies it.
// Decode failures are passed to invalid along with the reader's name.
func applyDocument(
	store Store,
	r io.Reader,
	decode func([]byte, *map[string]any) error,
	invalid func(source string, cause error) error,
) (err error) {
	defer try.Close(&err, r)

	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var m map[string]any
	err = decode(b, &m)
	if err != nil {
		return invalid(sourceName(r), err)
	}
	return Map(m).Apply(store)
}
