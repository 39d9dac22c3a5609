// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"

	"github.com/z5labs/evhttp/event"
)

// OnConnect registers f for the "connect" event.
func (s *Socket) OnConnect(f func()) error {
	_, err := s.On(Connect, event.Func(f))
	return err
}

// Connect resolves host, connects to the first address that accepts and
// emits "connect". With TLS configured the client handshake completes
// before "connect" is emitted. Failures are emitted as "error".
func (s *Socket) Connect(ctx context.Context, host string, port uint16) error {
	switch {
	case s.closed:
		return ErrClosed
	case s.conn != nil || s.connecting:
		return ErrAlreadyConnected
	}
	s.connecting = true

	cfg := s.tlsConfig
	go func() {
		conn, err := dial(ctx, host, port, cfg)
		s.strand.Post(func() {
			s.onConnect(conn, err)
		})
	}()
	return nil
}

func (s *Socket) onConnect(conn net.Conn, err error) {
	s.connecting = false
	if s.closed {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.EmitCodeError(err, "Error connecting to host", "stream.Socket.Connect")
		return
	}

	s.conn = conn
	s.emit(Connect)
}

func dial(ctx context.Context, host string, port uint16, cfg *tls.Config) (net.Conn, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	var errs []error
	for _, addr := range addrs {
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(int(port))))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cfg == nil {
			return conn, nil
		}

		cfg = cfg.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tc := tls.Client(conn, cfg)
		err = tc.HandshakeContext(ctx)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return tc, nil
	}
	return nil, errors.Join(errs...)
}
