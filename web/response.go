// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package web

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/z5labs/evhttp/stream"
	"github.com/z5labs/evhttp/wire"
)

var (
	// ErrCommitted is returned by Reset once bytes have reached the socket.
	ErrCommitted = errors.New("web: response already committed")

	// ErrResponseClosed is returned by operations on a closed Response.
	ErrResponseClosed = errors.New("web: response closed")

	// ErrBodySent is returned by body writes after Send, unless the
	// response was switched to streaming with PrepareRawWrite.
	ErrBodySent = errors.New("web: response body already sent")
)

// Response builds the reply to one request and writes it to the socket in
// three stages: status line, headers, then Content-Length and body. Each
// stage is sent at most once.
//
// A Response must only be used from the strand of its socket.
type Response struct {
	Status  int
	Reason  string
	Headers wire.Headers

	sock  *stream.Socket
	major uint8
	minor uint8
	head  bool
	body  []byte

	statusSent  bool
	headersSent bool
	bodySent    bool
	raw         bool
	closed      bool

	now    func() time.Time
	onSend func(status int, size int64)
}

func newResponse(sock *stream.Socket) *Response {
	return &Response{
		Status: http.StatusOK,
		Reason: wire.Reason(http.StatusOK),
		sock:   sock,
		major:  1,
		minor:  1,
		now:    time.Now,
	}
}

// Socket returns the socket the response is written to.
func (r *Response) Socket() *stream.Socket {
	return r.sock
}

// SetStatus sets the status code and its standard reason phrase.
func (r *Response) SetStatus(code int) {
	r.Status = code
	r.Reason = wire.Reason(code)
}

// Body returns the buffered body.
func (r *Response) Body() []byte {
	return r.body
}

// Committed reports whether any part of the response reached the socket.
func (r *Response) Committed() bool {
	return r.statusSent
}

// Sent reports whether the whole preamble has been sent.
func (r *Response) Sent() bool {
	return r.bodySent
}

// Write buffers b as body, or streams it to the socket after PrepareRawWrite.
// After a plain Send it fails with ErrBodySent.
func (r *Response) Write(b []byte) (int, error) {
	if r.closed {
		return 0, ErrResponseClosed
	}
	if !r.bodySent {
		r.body = append(r.body, b...)
		return len(b), nil
	}
	if !r.raw {
		return 0, ErrBodySent
	}
	if r.head {
		return len(b), nil
	}
	if err := r.sock.WriteAsync(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// WriteString is Write for strings.
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// WriteFile buffers the file at path as body, or after PrepareRawWrite
// streams it to the socket, reading it off the strand.
func (r *Response) WriteFile(path string) error {
	if r.closed {
		return ErrResponseClosed
	}
	if !r.bodySent {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		r.body = append(r.body, b...)
		return nil
	}
	if !r.raw {
		return ErrBodySent
	}
	if r.head {
		return nil
	}
	return r.sock.SendFileAsync(path)
}

// Send writes whatever stages have not been sent yet. Calling it again has
// no effect.
func (r *Response) Send() error {
	if r.closed {
		return ErrResponseClosed
	}
	if r.bodySent {
		return nil
	}

	b := r.preamble(nil, int64(len(r.body)))
	if !r.head {
		b = append(b, r.body...)
	}
	r.bodySent = true
	r.notify(int64(len(r.body)))
	return r.sock.WriteAsync(b)
}

// PrepareRawWrite sends the status line and headers with the given
// Content-Length, then switches to streaming: later calls to Write and
// WriteFile go straight to the socket. The buffered body is discarded.
func (r *Response) PrepareRawWrite(length int64) error {
	if r.closed {
		return ErrResponseClosed
	}
	if r.bodySent {
		return ErrCommitted
	}

	b := r.preamble(nil, length)
	r.body = nil
	r.bodySent = true
	r.raw = true
	r.notify(length)
	return r.sock.WriteAsync(b)
}

func (r *Response) preamble(b []byte, length int64) []byte {
	if !r.statusSent {
		reason := r.Reason
		if reason == "" {
			reason = wire.Reason(r.Status)
		}
		b = wire.AppendStatusLine(b, r.major, r.minor, r.Status, reason)
		r.statusSent = true
	}
	if !r.headersSent {
		if !r.Headers.Has("Date") {
			r.Headers.Add("Date", r.now().UTC().Format(http.TimeFormat))
		}
		r.Headers.Del("Content-Length")
		b = r.Headers.AppendTo(b)
		r.headersSent = true
	}
	b = append(b, "Content-Length: "...)
	b = strconv.AppendInt(b, length, 10)
	return append(b, "\r\n\r\n"...)
}

func (r *Response) notify(size int64) {
	if r.onSend != nil {
		r.onSend(r.Status, size)
	}
}

// End appends payload to the body, sends the response and half closes the
// socket once every write has completed.
func (r *Response) End(payload ...[]byte) error {
	if r.closed {
		return ErrResponseClosed
	}
	if !r.bodySent {
		for _, p := range payload {
			r.body = append(r.body, p...)
		}
	} else {
		for _, p := range payload {
			if _, err := r.Write(p); err != nil {
				return err
			}
		}
	}
	if err := r.Send(); err != nil {
		return err
	}
	r.closed = true
	return r.sock.End()
}

// Close closes the socket. If send is true the response is sent first and
// the socket closes once it has been written.
func (r *Response) Close(send bool) error {
	if r.closed {
		return nil
	}
	if !send {
		r.closed = true
		return r.sock.Close(true)
	}
	if err := r.Send(); err != nil {
		return err
	}
	r.closed = true
	return r.sock.CloseAfterWrites()
}

// Reset clears status, headers and body. It fails with ErrCommitted once
// anything was written and with ErrResponseClosed after Close.
func (r *Response) Reset() error {
	if r.closed {
		return ErrResponseClosed
	}
	if r.statusSent {
		return ErrCommitted
	}
	r.SetStatus(http.StatusOK)
	r.Headers = nil
	r.body = nil
	return nil
}

// OnWriteCompletion registers f for every completed socket write.
func (r *Response) OnWriteCompletion(f func(n int)) error {
	return r.sock.OnWriteCompletion(f)
}

// OnAllWritesCompleted registers f for when the write queue drains after End.
func (r *Response) OnAllWritesCompleted(f func()) error {
	return r.sock.OnAllWritesCompleted(f)
}
