// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package web

import (
	"context"
	"net/http"

	"github.com/z5labs/evhttp/event"
	"github.com/z5labs/evhttp/pkg/slogfield"
	"github.com/z5labs/evhttp/stream"
	"github.com/z5labs/evhttp/wire"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Events emitted by a Connection, besides "error".
const (
	// RequestMade carries the *Request and its *Response.
	RequestMade = "request_made"

	// ConnectionClosed is emitted once the underlying socket has closed.
	ConnectionClosed = "closed"
)

// State is the stage a Connection is in.
type State int

const (
	// StateRequest waits for a request preamble.
	StateRequest State = iota

	// StateMessage is handling a request.
	StateMessage

	// StateClosed is terminal.
	StateClosed
)

// String implements the [fmt.Stringer] interface.
func (s State) String() string {
	switch s {
	case StateRequest:
		return "request"
	case StateMessage:
		return "message"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PageErrorFunc answers a request with an error page. req is nil when the
// preamble could not be parsed.
type PageErrorFunc func(req *Request, resp *Response, code int)

// Connection serves one request on an accepted socket. Its events are
// emitted on the socket's strand.
type Connection struct {
	event.Standard

	id          uuid.UUID
	sock        *stream.Socket
	state       State
	maxBodySize int64
	pageError   PageErrorFunc

	span     trace.Span
	requests metric.Int64Counter
	written  metric.Int64Counter
}

// NewConnection wraps sock. pageError produces the 400 and 500 responses;
// nil sends the plain default pages.
func NewConnection(sock *stream.Socket, pageError PageErrorFunc) *Connection {
	c := &Connection{
		id:          uuid.New(),
		sock:        sock,
		maxBodySize: DefaultMaxBodySize,
		pageError:   pageError,
	}
	if c.pageError == nil {
		c.pageError = defaultPageError
	}

	meter := otel.Meter("web")
	c.requests, _ = meter.Int64Counter(
		"evhttp.server.requests",
		metric.WithDescription("Requests parsed by connections."),
	)
	c.written, _ = meter.Int64Counter(
		"evhttp.server.bytes_written",
		metric.WithUnit("By"),
	)

	c.Declare(RequestMade, event.Type[*Request](), event.Type[*Response]())
	c.Declare(ConnectionClosed)
	c.Arm(ConnectionClosed)
	c.sock.DelegateErrorsTo(&c.Standard)
	return c
}

// ID uniquely identifies the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Socket returns the underlying socket.
func (c *Connection) Socket() *stream.Socket {
	return c.sock
}

// State returns the current state.
func (c *Connection) State() State {
	return c.state
}

// SetMaxBodySize changes the largest body Request.ReadBody accepts.
func (c *Connection) SetMaxBodySize(n int64) {
	if n > 0 {
		c.maxBodySize = n
	}
}

// OnRequest registers f for the "request_made" event.
func (c *Connection) OnRequest(f func(*Request, *Response)) error {
	_, err := c.On(RequestMade, event.Func2(f))
	return err
}

// OnClosed registers f for the "closed" event.
func (c *Connection) OnClosed(f func()) error {
	_, err := c.On(ConnectionClosed, event.Func(f))
	return err
}

// Start frames the socket on the end of the preamble and reads the request.
// It must run on the socket's strand.
func (c *Connection) Start() error {
	c.sock.SetFraming(stream.DoubleNewline())
	if err := c.sock.OnceData(c.onData); err != nil {
		return err
	}
	if err := c.sock.OnClosed(c.onClosed); err != nil {
		return err
	}
	if err := c.sock.OnWriteCompletion(c.onWritten); err != nil {
		return err
	}
	return c.sock.ReadAsync()
}

// Close closes the socket at once.
func (c *Connection) Close() error {
	return c.sock.Close(true)
}

func (c *Connection) onData(frame []byte, eof bool) {
	c.state = StateMessage
	resp := newResponse(c.sock)

	wr, err := wire.ParseRequest(frame)
	if err != nil {
		c.Logger().Debug(
			"malformed request preamble",
			slogfield.ConnectionID(c.id.String()),
			slogfield.Error(err),
		)
		c.pageError(nil, resp, http.StatusBadRequest)
		c.EmitExceptionError(err, "Error parsing http request", "web.Connection")
		return
	}

	ctx, span := otel.Tracer("web").Start(
		context.Background(),
		"Connection.Request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", wr.Method.String()),
			attribute.String("url.path", wr.URL.Path),
			attribute.String("server.address", wr.Host()),
			attribute.String("evhttp.connection.id", c.id.String()),
		),
	)
	c.span = span
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", wr.Method.String()),
	))

	resp.major, resp.minor = wr.Major, wr.Minor
	resp.head = wr.Method == wire.Head
	resp.onSend = func(status int, size int64) {
		span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.Int64("http.response.body.size", size),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, wire.Reason(status))
		}
	}

	req := &Request{
		Request: wr,
		conn:    c,
		ctx:     ctx,
	}
	err = c.Emit(RequestMade, req, resp)
	if err == nil {
		return
	}
	span.RecordError(err)
	if resp.Reset() == nil {
		c.pageError(req, resp, http.StatusInternalServerError)
	} else {
		resp.Close(false)
	}
	c.EmitExceptionError(err, "Error handling http request", "web.Connection")
}

func (c *Connection) onWritten(n int) {
	c.written.Add(context.Background(), int64(n))
}

func (c *Connection) onClosed() {
	c.state = StateClosed
	if c.span != nil {
		c.span.End()
	}
	if err := c.Emit(ConnectionClosed); err != nil {
		c.EmitExceptionError(err, "Error in event listener", ConnectionClosed)
	}
}
