// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package web

import (
	"context"
	"errors"
	"io"

	"github.com/z5labs/evhttp/event"
	"github.com/z5labs/evhttp/stream"
	"github.com/z5labs/evhttp/wire"
)

// DefaultMaxBodySize caps the body ReadBody accepts.
const DefaultMaxBodySize = 1 << 20

var (
	// ErrBodyTooLarge is passed to ReadBody callbacks when Content-Length
	// exceeds the connection's body limit.
	ErrBodyTooLarge = errors.New("web: request body too large")

	// ErrBodyRead is returned by ReadBody when called more than once.
	ErrBodyRead = errors.New("web: request body already read")
)

// Request is a parsed request preamble bound to the connection it arrived on.
type Request struct {
	*wire.Request

	conn     *Connection
	ctx      context.Context
	bodyRead bool
}

// Connection returns the connection the request arrived on.
func (r *Request) Connection() *Connection {
	return r.conn
}

// Context carries the request's trace span.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Path returns the percent-decoded request path, or the raw path if it
// holds a bad escape.
func (r *Request) Path() string {
	p, err := wire.Decode(r.URL.Path)
	if err != nil {
		return r.URL.Path
	}
	return p
}

// ReadBody reads exactly Content-Length bytes following the preamble and
// passes them to f on the connection's strand. Bytes already buffered by the
// socket are used first. Without a Content-Length f receives an empty body.
// If the peer closes early f receives what arrived and [io.ErrUnexpectedEOF].
func (r *Request) ReadBody(f func(body []byte, err error)) error {
	if r.bodyRead {
		return ErrBodyRead
	}
	r.bodyRead = true

	sock := r.conn.sock
	n, ok := r.Headers.ContentLength()
	if !ok || n == 0 {
		return sock.Strand().Post(func() {
			f(nil, nil)
		})
	}
	if n > r.conn.maxBodySize {
		return sock.Strand().Post(func() {
			f(nil, ErrBodyTooLarge)
		})
	}

	done := false
	finish := func(body []byte, err error) {
		if done {
			return
		}
		done = true
		f(body, err)
	}

	size := int(n)
	sock.SetFraming(stream.Exactly(size))
	if size > sock.MaxReadSize() {
		sock.SetMaxReadSize(size)
	}
	err := sock.OnceData(func(frame []byte, eof bool) {
		if len(frame) < size {
			finish(frame, io.ErrUnexpectedEOF)
			return
		}
		finish(frame, nil)
	})
	if err != nil {
		return err
	}
	_, err = sock.Once(stream.EOF, event.Func(func() {
		finish(nil, io.ErrUnexpectedEOF)
	}))
	if err != nil {
		return err
	}
	return sock.ReadAsync()
}
