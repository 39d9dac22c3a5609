// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package wire

import (
	"strconv"
	"strings"
)

// Header is a single header line. Name keeps the case it was parsed or set with.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Lookups compare names case-insensitively.
type Headers []Header

// Get returns the value of the first header called name.
func (hs Headers) Get(name string) string {
	v, _ := hs.Lookup(name)
	return v
}

// Lookup is like Get but also reports whether the header is present.
func (hs Headers) Lookup(name string) (string, bool) {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Values returns every value of the headers called name, in order.
func (hs Headers) Values(name string) []string {
	var vs []string
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			vs = append(vs, h.Value)
		}
	}
	return vs
}

// Has reports whether a header called name is present.
func (hs Headers) Has(name string) bool {
	_, ok := hs.Lookup(name)
	return ok
}

// Add appends a header line.
func (hs *Headers) Add(name, value string) {
	*hs = append(*hs, Header{Name: name, Value: value})
}

// Set replaces the value of the first header called name and drops any
// others, or appends it when absent.
func (hs *Headers) Set(name, value string) {
	for i, h := range *hs {
		if !strings.EqualFold(h.Name, name) {
			continue
		}
		(*hs)[i].Value = value
		rest := (*hs)[i+1:]
		rest.del(name)
		*hs = append((*hs)[:i+1], rest...)
		return
	}
	hs.Add(name, value)
}

// Del removes every header called name.
func (hs *Headers) Del(name string) {
	hs.del(name)
}

func (hs *Headers) del(name string) {
	kept := (*hs)[:0]
	for _, h := range *hs {
		if !strings.EqualFold(h.Name, name) {
			kept = append(kept, h)
		}
	}
	*hs = kept
}

// ContentLength parses the Content-Length header. ok is false when it is
// missing or not a non-negative decimal.
func (hs Headers) ContentLength() (n int64, ok bool) {
	v, present := hs.Lookup("Content-Length")
	if !present {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// AppendTo appends the headers as "Name: Value\r\n" lines.
func (hs Headers) AppendTo(b []byte) []byte {
	for _, h := range hs {
		b = append(b, h.Name...)
		b = append(b, ": "...)
		b = append(b, h.Value...)
		b = append(b, "\r\n"...)
	}
	return b
}

// headers parses { field-name ":" OWS field-value CRLF } up to and including
// the terminating empty line.
func (p *parser) headers() (Headers, error) {
	var hs Headers
	for {
		if p.accept("\r\n") {
			return hs, nil
		}
		if p.done() {
			return nil, p.fail("headers", ErrMalformed)
		}

		name := p.span(isTokenChar)
		if name == "" {
			return nil, p.fail("field-name", ErrBadHeader)
		}
		if !p.accept(":") {
			return nil, p.fail("field-name", ErrBadHeader)
		}
		p.span(isOWS)

		value := p.span(func(c byte) bool {
			return c != '\r' && c != '\n'
		})
		if err := p.expect("field-value", "\r\n"); err != nil {
			return nil, err
		}
		hs = append(hs, Header{Name: name, Value: strings.TrimRight(value, " \t")})
	}
}

func isOWS(c byte) bool {
	return c == ' ' || c == '\t'
}
