// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package tcp accepts TCP connections and hands them out as stream sockets.
package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/z5labs/evhttp/event"
	"github.com/z5labs/evhttp/pkg/slogfield"
	"github.com/z5labs/evhttp/reactor"
	"github.com/z5labs/evhttp/stream"
)

// Events emitted by an Acceptor, besides "error".
const (
	// Listening is emitted once the listener is bound.
	Listening = "listening"

	// Connection is emitted with each accepted *stream.Socket.
	Connection = "connection"
)

// IPVersion selects the address family an Acceptor listens on.
type IPVersion int

const (
	IPv4 IPVersion = iota
	IPv6
	IPv4v6
)

// String implements the [fmt.Stringer] interface.
func (v IPVersion) String() string {
	switch v {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case IPv4v6:
		return "ipv4_v6"
	default:
		return "unknown"
	}
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (v *IPVersion) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ipv4":
		*v = IPv4
	case "ipv6":
		*v = IPv6
	case "", "ipv4_v6":
		*v = IPv4v6
	default:
		return UnknownIPVersionError{Version: string(b)}
	}
	return nil
}

// UnknownIPVersionError is returned when decoding an unsupported IP version.
type UnknownIPVersionError struct {
	Version string
}

// Error implements the [builtin.error] interface.
func (e UnknownIPVersionError) Error() string {
	return "tcp: unknown ip version: " + e.Version
}

// network returns the network name and wildcard host for v. IPv6 listeners
// created by the net package are v6 only, dual stack listeners use "tcp"
// with an unspecified host.
func (v IPVersion) network() (string, string) {
	switch v {
	case IPv4:
		return "tcp4", "0.0.0.0"
	case IPv6:
		return "tcp6", "::"
	default:
		return "tcp", ""
	}
}

// ErrListening is returned by Listen if the Acceptor is already listening.
var ErrListening = errors.New("tcp: already listening")

const (
	minBackoff = 5 * time.Millisecond
	maxBackoff = time.Second
)

// Option configures an Acceptor.
type Option func(*Acceptor)

// Host binds the listener to a specific host instead of the wildcard address.
func Host(host string) Option {
	return func(a *Acceptor) {
		a.host = host
	}
}

// SocketOptions are applied to every accepted socket.
func SocketOptions(opts ...stream.Option) Option {
	return func(a *Acceptor) {
		a.socketOpts = append(a.socketOpts, opts...)
	}
}

// LogHandler configures the logger.
func LogHandler(h slog.Handler) Option {
	return func(a *Acceptor) {
		a.SetLogHandler(h)
	}
}

// Acceptor listens on a port and emits a "connection" per accepted socket.
//
// Events are emitted on the Acceptor's strand. Each accepted socket is bound
// to its own strand, taken round robin from the reactor; listeners must post
// work on the socket to [stream.Socket.Strand].
type Acceptor struct {
	event.Standard

	reactor    *reactor.Reactor
	strand     reactor.Strand
	host       string
	socketOpts []stream.Option

	ls      net.Listener
	backlog int
	closed  bool
}

// New returns an Acceptor bound to strand which takes socket strands from r.
func New(r *reactor.Reactor, strand reactor.Strand, opts ...Option) *Acceptor {
	a := &Acceptor{
		reactor: r,
		strand:  strand,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.Declare(Listening)
	a.Declare(Connection, event.Type[*stream.Socket]())
	return a
}

// OnConnection registers f for the "connection" event.
func (a *Acceptor) OnConnection(f func(*stream.Socket)) error {
	_, err := a.On(Connection, event.Func1(f))
	return err
}

// OnListening registers f for the "listening" event.
func (a *Acceptor) OnListening(f func()) error {
	_, err := a.On(Listening, event.Func(f))
	return err
}

// Addr returns the bound address, or nil before Listen.
func (a *Acceptor) Addr() net.Addr {
	if a.ls == nil {
		return nil
	}
	return a.ls.Addr()
}

// Backlog returns the requested backlog. The net package sizes the kernel
// queue itself, so the value is advisory.
func (a *Acceptor) Backlog() int {
	return a.backlog
}

// Listen binds port for the given IP version, emits "listening" and starts
// accepting. Port 0 picks an ephemeral port.
func (a *Acceptor) Listen(ctx context.Context, port uint16, ver IPVersion, backlog int) error {
	if a.ls != nil {
		return ErrListening
	}

	network, host := ver.network()
	if a.host != "" {
		host = a.host
	}

	var lc net.ListenConfig
	ls, err := lc.Listen(ctx, network, net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return err
	}
	a.ls = ls
	a.backlog = backlog

	a.Logger().InfoContext(
		ctx,
		"listening",
		slogfield.LocalAddr(ls.Addr()),
		slogfield.String("ip_version", ver.String()),
		slogfield.Int("backlog", backlog),
	)
	a.emit(Listening)

	go a.accept(ls)
	return nil
}

// Close stops accepting. Sockets already handed out are unaffected.
func (a *Acceptor) Close() error {
	if a.ls == nil || a.closed {
		return nil
	}
	a.closed = true
	err := a.ls.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (a *Acceptor) accept(ls net.Listener) {
	backoff := time.Duration(0)
	for {
		conn, err := ls.Accept()
		if err == nil {
			backoff = 0
			a.handoff(conn)
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if isTooManyFiles(err) {
			// the listener survives, back off until descriptors free up
			a.strand.Post(func() {
				a.EmitCodeError(err, "Error accepting connection", "tcp.Acceptor.Listen")
			})
			backoff = min(max(2*backoff, minBackoff), maxBackoff)
			time.Sleep(backoff)
			continue
		}

		a.strand.Post(func() {
			if a.closed {
				return
			}
			a.EmitCodeError(err, "Error accepting connection", "tcp.Acceptor.Listen")
		})
		return
	}
}

func (a *Acceptor) handoff(conn net.Conn) {
	strand := a.reactor.Strand()
	s := stream.Accepted(strand, conn, a.socketOpts...)

	err := a.strand.Post(func() {
		if a.closed {
			s.Strand().Post(func() { s.Close(false) })
			return
		}
		a.emit(Connection, s)
	})
	if err != nil {
		conn.Close()
	}
}

func (a *Acceptor) emit(name string, args ...any) {
	err := a.Emit(name, args...)
	if err == nil {
		return
	}
	a.EmitExceptionError(err, "Error in event listener", name)
}

func isTooManyFiles(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}
