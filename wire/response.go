// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package wire

import (
	"net/http"
	"strconv"
)

// ResponseHead is a parsed status line and header block.
type ResponseHead struct {
	Major   uint8
	Minor   uint8
	Status  int
	Reason  string
	Headers Headers
}

// Reason returns the standard reason phrase for code.
func Reason(code int) string {
	if s := http.StatusText(code); s != "" {
		return s
	}
	return "Unknown"
}

// AppendStatusLine appends "HTTP/" major "." minor SP code SP reason CRLF.
func AppendStatusLine(b []byte, major, minor uint8, code int, reason string) []byte {
	b = append(b, "HTTP/"...)
	b = strconv.AppendUint(b, uint64(major), 10)
	b = append(b, '.')
	b = strconv.AppendUint(b, uint64(minor), 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, reason...)
	return append(b, "\r\n"...)
}

// ParseResponseHead parses a response preamble ending with the empty line.
func ParseResponseHead(b []byte) (*ResponseHead, error) {
	p := &parser{in: b}

	major, minor, err := p.version()
	if err != nil {
		return nil, err
	}
	if err := p.expect("status-line", " "); err != nil {
		return nil, err
	}

	status := 0
	for i := 0; i < 3; i++ {
		d, err := p.digit("status-code", ErrBadStatus)
		if err != nil {
			return nil, err
		}
		status = status*10 + int(d)
	}
	if status < 100 {
		return nil, p.fail("status-code", ErrBadStatus)
	}

	var reason string
	if p.accept(" ") {
		reason = p.span(func(c byte) bool {
			return c != '\r' && c != '\n'
		})
	}
	if err := p.expect("status-line", "\r\n"); err != nil {
		return nil, err
	}

	hs, err := p.headers()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.fail("response", ErrMalformed)
	}
	return &ResponseHead{
		Major:   major,
		Minor:   minor,
		Status:  status,
		Reason:  reason,
		Headers: hs,
	}, nil
}
