// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package stream implements a duplex byte stream over a reactor strand.
//
// A [Socket] wraps a [net.Conn], optionally upgraded to TLS. Blocking reads
// and writes run on helper goroutines and their completions are posted back
// to the socket's strand, so every event a Socket emits is emitted on that
// strand. Methods of a Socket must only be called from its strand.
package stream

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/z5labs/evhttp/event"
	"github.com/z5labs/evhttp/reactor"
)

// Events emitted by a Socket, besides "error".
const (
	// Connect is emitted once a client socket is connected.
	Connect = "connect"

	// DataReceived carries one frame and whether the peer closed its side.
	DataReceived = "data_received"

	// EOF is emitted once the peer has closed its side.
	EOF = "eof"

	// Closed is emitted once the socket is fully closed. It is the terminal
	// event of every Socket.
	Closed = "closed"

	// WriteCompletion is emitted with the byte count of each finished WriteAsync.
	WriteCompletion = "write_completion"

	// AllWritesCompleted is emitted when no write is pending after End.
	AllWritesCompleted = "all_writes_completed"
)

var (
	// ErrClosed is returned by operations on a closed Socket.
	ErrClosed = errors.New("stream: socket closed")

	// ErrEnded is returned when writing after End.
	ErrEnded = errors.New("stream: socket ended")

	// ErrNotConnected is returned by I/O on a Socket with no connection.
	ErrNotConnected = errors.New("stream: socket not connected")

	// ErrAlreadyConnected is returned by Connect on a connected Socket.
	ErrAlreadyConnected = errors.New("stream: socket already connected")

	// ErrReadInProgress is returned when a read is already outstanding.
	ErrReadInProgress = errors.New("stream: read already in progress")

	// ErrCanceled is the error code of operations aborted by Cancel.
	ErrCanceled = errors.New("stream: operation canceled")
)

// DefaultLinger bounds how long End waits for the peer to close after the
// write side has been shut down.
const DefaultLinger = 5 * time.Second

// Option configures a Socket.
type Option func(*Socket)

// MaxReadSize caps the size of a single frame.
func MaxReadSize(n int) Option {
	return func(s *Socket) {
		if n > 0 {
			s.maxReadSize = n
		}
	}
}

// Framing sets the initial framing mode. The default is [Newline].
func Framing(f Framer) Option {
	return func(s *Socket) {
		s.framer = f
	}
}

// TLS enables TLS. Accepted sockets act as the server side of the handshake,
// connecting sockets as the client side.
func TLS(cfg *tls.Config) Option {
	return func(s *Socket) {
		s.tlsConfig = cfg
	}
}

// Linger overrides [DefaultLinger].
func Linger(d time.Duration) Option {
	return func(s *Socket) {
		s.linger = d
	}
}

// LogHandler sets the handler used for errors nobody listens for.
func LogHandler(h slog.Handler) Option {
	return func(s *Socket) {
		s.SetLogHandler(h)
	}
}

// Socket is a framed, event emitting duplex stream.
type Socket struct {
	event.Standard

	strand      reactor.Strand
	conn        net.Conn
	tlsConfig   *tls.Config
	maxReadSize int
	linger      time.Duration

	framer     Framer
	acc        []byte
	reading    bool
	connecting bool

	writes  *writeQueue
	pending int

	ended           bool
	closed          bool
	canceled        bool
	closeAfterWrite bool
}

// New returns an unconnected Socket bound to strand. Use [Socket.Connect] to
// connect it.
func New(strand reactor.Strand, opts ...Option) *Socket {
	s := &Socket{
		strand:      strand,
		maxReadSize: DefaultMaxReadSize,
		linger:      DefaultLinger,
		framer:      Newline(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Declare(DataReceived, event.Type[[]byte](), event.Type[bool]())
	s.Declare(WriteCompletion, event.Type[int]())
	s.Declare(Connect)
	s.Declare(EOF)
	s.Declare(Closed)
	s.Declare(AllWritesCompleted)
	s.Arm(Closed)
	return s
}

// Accepted returns a Socket for a connection produced by a listener. When
// TLS is configured the handshake runs before the first read completes.
func Accepted(strand reactor.Strand, conn net.Conn, opts ...Option) *Socket {
	s := New(strand, opts...)
	if s.tlsConfig != nil {
		conn = tls.Server(conn, s.tlsConfig)
	}
	s.conn = conn
	return s
}

// Strand returns the strand the Socket is bound to.
func (s *Socket) Strand() reactor.Strand {
	return s.strand
}

// LocalAddr returns the local address, or nil if not connected.
func (s *Socket) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// RemoteAddr returns the remote address, or nil if not connected.
func (s *Socket) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// IsTLS reports whether the connection is TLS wrapped.
func (s *Socket) IsTLS() bool {
	_, ok := s.conn.(*tls.Conn)
	return ok
}

// IsClosed reports whether Close has run.
func (s *Socket) IsClosed() bool {
	return s.closed
}

// IsEnded reports whether End has been called.
func (s *Socket) IsEnded() bool {
	return s.ended
}

// PendingWrites returns the number of outstanding async writes.
func (s *Socket) PendingWrites() int {
	return s.pending
}

// SetFraming replaces the framing mode used by subsequent reads.
func (s *Socket) SetFraming(f Framer) {
	s.framer = f
}

// SetMaxReadSize changes the frame size cap.
func (s *Socket) SetMaxReadSize(n int) {
	if n > 0 {
		s.maxReadSize = n
	}
}

// MaxReadSize returns the frame size cap.
func (s *Socket) MaxReadSize() int {
	return s.maxReadSize
}

// Buffered returns the number of bytes read from the connection but not yet
// delivered in a frame.
func (s *Socket) Buffered() int {
	return len(s.acc)
}

// Close shuts down both directions at once. Pending writes are dropped.
// If emit is true "closed" is emitted.
func (s *Socket) Close(emit bool) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.reading = false

	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}
	if s.writes != nil {
		s.writes.stop()
	}
	if emit {
		s.emit(Closed)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Cancel aborts the outstanding read and write. They complete with an error
// whose code is [ErrCanceled].
func (s *Socket) Cancel() {
	if s.conn == nil || s.closed {
		return
	}
	s.canceled = true
	s.conn.SetDeadline(time.Unix(1, 0))
}

func (s *Socket) clearCancel() {
	if !s.canceled {
		return
	}
	s.canceled = false
	s.conn.SetDeadline(time.Time{})
}

// emit dispatches name and reports listener failures as "error".
func (s *Socket) emit(name string, args ...any) {
	err := s.Emit(name, args...)
	if err == nil {
		return
	}
	s.EmitExceptionError(err, "Error in event listener", name)
}

// post runs f on the strand unless the socket has closed by then.
func (s *Socket) post(f func()) {
	s.strand.Post(func() {
		if s.closed {
			return
		}
		f()
	})
}

func (s *Socket) codeOf(err error) error {
	if s.canceled && errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrCanceled
	}
	return err
}
