// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package web serves HTTP/1.1 over the reactor.
//
// A [Server] accepts sockets, wraps each in a [Connection] which parses one
// request preamble, and dispatches the request to a [Site]. Handlers build
// the reply through a [Response]. Every callback for a connection runs on
// the strand of its socket.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/z5labs/evhttp/event"
	"github.com/z5labs/evhttp/fault"
	"github.com/z5labs/evhttp/internal/fixedpool"
	"github.com/z5labs/evhttp/pkg/health"
	"github.com/z5labs/evhttp/pkg/noop"
	"github.com/z5labs/evhttp/pkg/slogfield"
	"github.com/z5labs/evhttp/reactor"
	"github.com/z5labs/evhttp/stream"
	"github.com/z5labs/evhttp/tcp"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultShutdownTimeout bounds how long Run waits for the server strand
// while shutting down.
const DefaultShutdownTimeout = 5 * time.Second

var validate = validator.New(validator.WithRequiredStructEnabled())

// ListenConfig is where a Server listens.
type ListenConfig struct {
	Host      string        `config:"host" validate:"omitempty,hostname|ip"`
	Port      uint16        `config:"port"`
	IPVersion tcp.IPVersion `config:"ip_version"`
	Backlog   int           `config:"backlog" validate:"gte=0"`
}

// Validate checks the struct tags of c.
func (c ListenConfig) Validate() error {
	return validate.Struct(c)
}

type serverOptions struct {
	logHandler      slog.Handler
	tlsConfig       *tls.Config
	socketOpts      []stream.Option
	maxBodySize     int64
	shutdownTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// LogHandler sets the handler for the server and everything it creates.
func LogHandler(h slog.Handler) ServerOption {
	return func(so *serverOptions) {
		so.logHandler = h
	}
}

// TLSConfig serves HTTPS with cfg.
func TLSConfig(cfg *tls.Config) ServerOption {
	return func(so *serverOptions) {
		so.tlsConfig = cfg
	}
}

// SocketOptions are applied to every accepted socket.
func SocketOptions(opts ...stream.Option) ServerOption {
	return func(so *serverOptions) {
		so.socketOpts = append(so.socketOpts, opts...)
	}
}

// MaxBodySize caps what Request.ReadBody accepts.
func MaxBodySize(n int64) ServerOption {
	return func(so *serverOptions) {
		so.maxBodySize = n
	}
}

// ShutdownTimeout overrides [DefaultShutdownTimeout].
func ShutdownTimeout(d time.Duration) ServerOption {
	return func(so *serverOptions) {
		so.shutdownTimeout = d
	}
}

// Server accepts connections and dispatches their requests to a Site.
//
// The Server's own events, including errors forwarded from its connections,
// are emitted on the strand it was created with.
type Server struct {
	event.Standard

	reactor         *reactor.Reactor
	strand          reactor.Strand
	site            *Site
	acceptor        *tcp.Acceptor
	maxBodySize     int64
	shutdownTimeout time.Duration

	// conns is only touched on the server strand
	conns   map[uuid.UUID]*Connection
	healthy health.Binary
}

// NewServer returns a Server which takes strands from r and routes with site.
func NewServer(r *reactor.Reactor, site *Site, opts ...ServerOption) *Server {
	so := &serverOptions{
		logHandler:      noop.LogHandler{},
		maxBodySize:     DefaultMaxBodySize,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(so)
	}

	socketOpts := append([]stream.Option{stream.LogHandler(so.logHandler)}, so.socketOpts...)
	if so.tlsConfig != nil {
		socketOpts = append(socketOpts, stream.TLS(so.tlsConfig))
	}

	strand := r.Strand()
	s := &Server{
		reactor:         r,
		strand:          strand,
		site:            site,
		maxBodySize:     so.maxBodySize,
		shutdownTimeout: so.shutdownTimeout,
		conns:           make(map[uuid.UUID]*Connection),
	}
	s.SetLogHandler(so.logHandler)
	s.healthy.Set(false)

	s.acceptor = tcp.New(
		r,
		strand,
		tcp.LogHandler(so.logHandler),
		tcp.SocketOptions(socketOpts...),
	)
	s.acceptor.DelegateErrorsTo(&s.Standard)
	s.acceptor.OnConnection(s.onConnection)
	return s
}

// Site returns the routing table.
func (s *Server) Site() *Site {
	return s.site
}

// Strand returns the strand the server's events are emitted on.
func (s *Server) Strand() reactor.Strand {
	return s.strand
}

// Healthy reports whether the server is listening.
func (s *Server) Healthy(ctx context.Context) bool {
	return s.healthy.Healthy(ctx)
}

// Addr returns the listening address, or nil before ListenOn.
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

// Connections returns the number of live connections. It must be called
// on the server strand.
func (s *Server) Connections() int {
	return len(s.conns)
}

// Listen validates cfg and calls ListenOn.
func (s *Server) Listen(ctx context.Context, cfg ListenConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Host != "" {
		tcp.Host(cfg.Host)(s.acceptor)
	}
	return s.ListenOn(ctx, cfg.Port, cfg.IPVersion, cfg.Backlog)
}

// ListenOn binds port and starts accepting. It must be called on the server
// strand or before the reactor runs.
func (s *Server) ListenOn(ctx context.Context, port uint16, ver tcp.IPVersion, backlog int) error {
	err := s.acceptor.Listen(ctx, port, ver, backlog)
	if err != nil {
		s.Logger().ErrorContext(ctx, "failed to listen for connections", slogfield.Error(err))
		return err
	}
	s.healthy.Set(true)
	return nil
}

// Run runs the reactor until ctx is done, then stops accepting, closes
// live connections and stops the reactor.
func (s *Server) Run(ctx context.Context) error {
	rctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()

	return fixedpool.Wait(
		ctx,
		func(context.Context) error {
			err := s.reactor.Run(rctx)
			if errors.Is(err, reactor.ErrAlreadyRunning) {
				<-ctx.Done()
				return nil
			}
			return err
		},
		func(ctx context.Context) error {
			defer stop()

			<-ctx.Done()
			return s.shutdown()
		},
	)
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var conns []*Connection
	err := s.strand.Exec(ctx, func() {
		conns = s.close()
	})
	if errors.Is(err, reactor.ErrStopped) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, c := range conns {
		err := c.Socket().Strand().Exec(ctx, func() {
			c.Close()
		})
		if err != nil && !errors.Is(err, reactor.ErrStopped) {
			return err
		}
	}
	return nil
}

func (s *Server) close() []*Connection {
	s.healthy.Set(false)
	if err := s.acceptor.Close(); err != nil {
		s.EmitCodeError(err, "Error closing acceptor", "web.Server.Run")
	}

	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.Logger().Info("server stopped", slogfield.Int("connections", len(conns)))
	return conns
}

func (s *Server) onConnection(sock *stream.Socket) {
	c := NewConnection(sock, s.site.EmitPageError)
	c.SetLogHandler(s.Logger().Handler())
	c.SetMaxBodySize(s.maxBodySize)
	s.conns[c.ID()] = c

	c.OnRequest(s.site.Dispatch)
	c.OnError(func(e *fault.Error) {
		s.strand.Post(func() {
			s.EmitError(e)
		})
	})
	c.OnClosed(func() {
		s.strand.Post(func() {
			delete(s.conns, c.ID())
		})
	})

	s.Logger().Debug(
		"accepted connection",
		slogfield.ConnectionID(c.ID().String()),
		slogfield.RemoteAddr(sock.RemoteAddr()),
	)
	err := sock.Strand().Post(func() {
		if err := c.Start(); err != nil {
			c.EmitExceptionError(err, "Error starting connection", "web.Server")
			c.Close()
		}
	})
	if err != nil {
		delete(s.conns, c.ID())
	}
}
