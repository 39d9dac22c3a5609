// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"slices"

	"github.com/z5labs/evhttp/event"
)

// OnData registers f for every "data_received" event.
func (s *Socket) OnData(f func(frame []byte, eof bool)) error {
	_, err := s.On(DataReceived, event.Func2(f))
	return err
}

// OnceData registers f for the next "data_received" event only.
func (s *Socket) OnceData(f func(frame []byte, eof bool)) error {
	_, err := s.Once(DataReceived, event.Func2(f))
	return err
}

// OnEOF registers f for the "eof" event.
func (s *Socket) OnEOF(f func()) error {
	_, err := s.On(EOF, event.Func(f))
	return err
}

// OnClosed registers f for the "closed" event.
func (s *Socket) OnClosed(f func()) error {
	_, err := s.On(Closed, event.Func(f))
	return err
}

// ReadAsync reads until the current framing mode yields one frame, then
// emits "data_received" with it. Bytes past the frame stay buffered for the
// next read. Call ReadAsync again from the listener to keep reading.
//
// When the peer closes its side, any buffered bytes are delivered with eof
// set, then "eof" and "closed" are emitted.
func (s *Socket) ReadAsync() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.conn == nil:
		return ErrNotConnected
	case s.reading:
		return ErrReadInProgress
	}
	s.reading = true
	s.clearCancel()

	if len(s.acc) > 0 {
		s.post(func() {
			s.onRead(nil, nil)
		})
		return nil
	}
	s.readOnce()
	return nil
}

// Read reads synchronously, draining buffered bytes first. It blocks the
// strand and is meant for small payloads only.
func (s *Socket) Read(p []byte) (int, error) {
	switch {
	case len(s.acc) > 0:
		n := copy(p, s.acc)
		s.acc = s.acc[n:]
		return n, nil
	case s.closed:
		return 0, ErrClosed
	case s.conn == nil:
		return 0, ErrNotConnected
	case s.reading:
		return 0, ErrReadInProgress
	}
	return s.conn.Read(p)
}

func (s *Socket) readOnce() {
	conn := s.conn
	size := s.maxReadSize - len(s.acc)
	if size < 512 {
		size = 512
	}

	go func() {
		if tc, ok := conn.(*tls.Conn); ok {
			err := tc.HandshakeContext(context.Background())
			if err != nil {
				s.post(func() {
					s.onHandshakeError(err)
				})
				return
			}
		}

		buf := make([]byte, size)
		n, err := conn.Read(buf)
		s.post(func() {
			s.onRead(buf[:n], err)
		})
	}()
}

func (s *Socket) onHandshakeError(err error) {
	s.reading = false
	s.EmitCodeError(s.codeOf(err), "TLS handshake failed", "stream.Socket.ReadAsync")
	s.Close(true)
}

func (s *Socket) onRead(b []byte, err error) {
	if !s.reading {
		return
	}
	s.acc = append(s.acc, b...)

	if frame, ok := s.nextFrame(); ok {
		s.reading = false
		s.emit(DataReceived, frame, false)
		return
	}

	if err == nil {
		s.readOnce()
		return
	}

	s.reading = false
	if errors.Is(err, io.EOF) {
		s.onEOF()
		return
	}
	if s.ended {
		s.Close(true)
		return
	}

	s.EmitCodeError(s.codeOf(err), "Error reading from socket", "stream.Socket.ReadAsync")
	if !s.canceled {
		s.Close(true)
	}
}

func (s *Socket) onEOF() {
	rest := s.acc
	s.acc = nil
	if len(rest) > 0 {
		s.emit(DataReceived, rest, true)
		if s.closed {
			return
		}
	}

	s.emit(EOF)
	if s.closed {
		return
	}
	if s.pending > 0 {
		s.closeAfterWrite = true
		return
	}
	s.Close(true)
}

// nextFrame cuts the next frame out of the accumulator. A full accumulator
// without a terminator is delivered as is.
func (s *Socket) nextFrame() ([]byte, bool) {
	if len(s.acc) == 0 {
		return nil, false
	}

	n, ok := s.framer.Split(s.acc, s.maxReadSize)
	if !ok || n <= 0 {
		if len(s.acc) < s.maxReadSize {
			return nil, false
		}
		n = s.maxReadSize
	}
	n = min(n, len(s.acc))

	frame := slices.Clone(s.acc[:n])
	s.acc = append(s.acc[:0], s.acc[n:]...)
	return frame, true
}
