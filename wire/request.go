// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package wire

import (
	"strconv"
	"strings"
)

// Body is an optional request body used when serializing a request.
type Body struct {
	ContentType string
	Data        []byte
}

// Request is a parsed request preamble.
type Request struct {
	Method  Method
	URL     AbsPath
	Major   uint8
	Minor   uint8
	Headers Headers

	// Body is only used by AppendTo. ParseRequest never consumes body bytes.
	Body *Body
}

// Host returns the name part of the Host header, without any port.
func (r *Request) Host() string {
	h := r.Headers.Get("Host")
	if strings.HasPrefix(h, "[") {
		if end := strings.IndexByte(h, ']'); end > 0 {
			return h[1:end]
		}
		return h
	}
	if i := strings.IndexByte(h, ':'); i >= 0 {
		return h[:i]
	}
	return h
}

// KeepAlive reports whether the client asked for the connection to stay open.
func (r *Request) KeepAlive() bool {
	conn := r.Headers.Get("Connection")
	if r.Major == 1 && r.Minor == 0 {
		return strings.EqualFold(conn, "keep-alive")
	}
	return !strings.EqualFold(conn, "close")
}

// ParseRequest parses a full request preamble, which must end with the
// empty line and nothing after it.
func ParseRequest(b []byte) (*Request, error) {
	p := &parser{in: b}

	r, err := p.request()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.fail("request", ErrMalformed)
	}
	return r, nil
}

func (p *parser) request() (*Request, error) {
	name := p.span(isTokenChar)
	if name == "" {
		return nil, p.fail("method", ErrMalformed)
	}
	method, err := ParseMethod(name)
	if err != nil || method == Any {
		return nil, ParseError{Offset: p.pos - len(name), Rule: "method", Cause: ErrInvalidMethod}
	}
	if err := p.expect("request-line", " "); err != nil {
		return nil, err
	}

	url, err := p.absPath()
	if err != nil {
		return nil, err
	}
	if err := p.expect("request-line", " "); err != nil {
		return nil, err
	}

	major, minor, err := p.version()
	if err != nil {
		return nil, err
	}
	if err := p.expect("request-line", "\r\n"); err != nil {
		return nil, err
	}

	hs, err := p.headers()
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:  method,
		URL:     url,
		Major:   major,
		Minor:   minor,
		Headers: hs,
	}, nil
}

// AppendTo appends the serialized request to b. When a body is present its
// Content-Type and Content-Length headers are written unless already set.
func (r *Request) AppendTo(b []byte) []byte {
	b = append(b, r.Method.String()...)
	b = append(b, ' ')
	b = append(b, r.URL.String()...)
	b = append(b, " HTTP/"...)
	b = strconv.AppendUint(b, uint64(r.Major), 10)
	b = append(b, '.')
	b = strconv.AppendUint(b, uint64(r.Minor), 10)
	b = append(b, "\r\n"...)
	b = r.Headers.AppendTo(b)

	if r.Body != nil {
		if r.Body.ContentType != "" && !r.Headers.Has("Content-Type") {
			b = Headers{{Name: "Content-Type", Value: r.Body.ContentType}}.AppendTo(b)
		}
		if !r.Headers.Has("Content-Length") {
			b = Headers{{Name: "Content-Length", Value: strconv.Itoa(len(r.Body.Data))}}.AppendTo(b)
		}
	}
	b = append(b, "\r\n"...)

	if r.Body != nil {
		b = append(b, r.Body.Data...)
	}
	return b
}

// Bytes returns the serialized request.
func (r *Request) Bytes() []byte {
	return r.AppendTo(nil)
}
