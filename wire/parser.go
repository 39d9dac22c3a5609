// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package wire parses and serializes the HTTP/1.1 request preamble, response
// heads and URLs.
//
// Parsers are recursive descent recognizers over a byte slice they do not
// retain. Paths, queries and fragments are kept exactly as they appear on
// the wire; use [Decode] to percent-decode them.
package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is the cause of a ParseError for input that does not
	// follow the grammar.
	ErrMalformed = errors.New("wire: malformed input")

	// ErrInvalidMethod is returned for unknown request methods.
	ErrInvalidMethod = errors.New("wire: invalid method")

	// ErrBadVersion is returned for an unparsable HTTP version.
	ErrBadVersion = errors.New("wire: bad http version")

	// ErrBadPort is returned for a port that is not a 16 bit decimal.
	ErrBadPort = errors.New("wire: bad port")

	// ErrBadHeader is returned for a header line without a valid field name.
	ErrBadHeader = errors.New("wire: bad header")

	// ErrBadStatus is returned for an unparsable response status code.
	ErrBadStatus = errors.New("wire: bad status code")

	// ErrBadPercentEscape is returned by Decode for a dangling or non hex escape.
	ErrBadPercentEscape = errors.New("wire: bad percent escape")
)

// ParseError reports where parsing failed.
type ParseError struct {
	Offset int
	Rule   string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e ParseError) Error() string {
	return fmt.Sprintf("%s: %s at offset %d", e.Cause, e.Rule, e.Offset)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ParseError) Unwrap() error {
	return e.Cause
}

type parser struct {
	in  []byte
	pos int
}

func (p *parser) done() bool {
	return p.pos >= len(p.in)
}

func (p *parser) peek() byte {
	if p.done() {
		return 0
	}
	return p.in[p.pos]
}

func (p *parser) fail(rule string, cause error) error {
	return ParseError{Offset: p.pos, Rule: rule, Cause: cause}
}

// accept consumes s if the input continues with it.
func (p *parser) accept(s string) bool {
	if len(p.in)-p.pos < len(s) || string(p.in[p.pos:p.pos+len(s)]) != s {
		return false
	}
	p.pos += len(s)
	return true
}

func (p *parser) expect(rule, s string) error {
	if !p.accept(s) {
		return p.fail(rule, ErrMalformed)
	}
	return nil
}

// span consumes bytes while ok holds and returns them.
func (p *parser) span(ok func(byte) bool) string {
	start := p.pos
	for !p.done() && ok(p.in[p.pos]) {
		p.pos++
	}
	return string(p.in[start:p.pos])
}

func (p *parser) digit(rule string, cause error) (uint8, error) {
	c := p.peek()
	if p.done() || !isDigit(c) {
		return 0, p.fail(rule, cause)
	}
	p.pos++
	return c - '0', nil
}

// version parses "HTTP/" DIGIT "." DIGIT.
func (p *parser) version() (uint8, uint8, error) {
	if err := p.expect("http-version", "HTTP/"); err != nil {
		return 0, 0, p.fail("http-version", ErrBadVersion)
	}
	major, err := p.digit("http-version", ErrBadVersion)
	if err != nil {
		return 0, 0, err
	}
	if !p.accept(".") {
		return 0, 0, p.fail("http-version", ErrBadVersion)
	}
	minor, err := p.digit("http-version", ErrBadVersion)
	if err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isAlpha(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isCTL(c byte) bool {
	return c < 0x20 || c == 0x7f
}

// isTokenChar excludes controls and the separators ()<>@,;:\"/[]?={} SP HT.
func isTokenChar(c byte) bool {
	if isCTL(c) || c >= 0x80 {
		return false
	}
	switch c {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']', '?', '=', '{', '}', ' ', '\t':
		return false
	}
	return true
}
