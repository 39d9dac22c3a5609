// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package stream

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/z5labs/evhttp/fault"
	"github.com/z5labs/evhttp/reactor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestTLSConfig dynamically generates a self-signed TLS config for testing
func createTestTLSConfig(t *testing.T) *tls.Config {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  privateKey,
		}},
	}
}

type harness struct {
	t      *testing.T
	strand reactor.Strand
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	r := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	tctx, tcancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(tcancel)

	return &harness{t: t, strand: r.Strand(), ctx: tctx}
}

func (h *harness) exec(f func()) {
	h.t.Helper()
	require.NoError(h.t, h.strand.Exec(h.ctx, f))
}

// accept returns the client side of a loopback connection and a Socket
// wrapping the server side.
func (h *harness) accept(opts ...Option) (net.Conn, *Socket) {
	h.t.Helper()

	ls, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(h.t, err)
	defer ls.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ls.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("tcp", ls.Addr().String())
	require.NoError(h.t, err)
	h.t.Cleanup(func() { client.Close() })

	conn, ok := <-accepted
	require.True(h.t, ok)

	var s *Socket
	h.exec(func() {
		s = Accepted(h.strand, conn, opts...)
	})
	return client, s
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

type frame struct {
	data string
	eof  bool
}

func TestSocket_ReadAsync(t *testing.T) {
	t.Run("will emit one frame per read", func(t *testing.T) {
		h := newHarness(t)
		client, s := h.accept()

		frames := make(chan frame, 10)
		events := make(chan string, 10)
		h.exec(func() {
			assert.NoError(t, s.OnData(func(b []byte, eof bool) {
				frames <- frame{data: string(b), eof: eof}
				if !eof {
					s.ReadAsync()
				}
			}))
			assert.NoError(t, s.OnEOF(func() { events <- EOF }))
			assert.NoError(t, s.OnClosed(func() { events <- Closed }))
			assert.NoError(t, s.ReadAsync())
		})

		_, err := client.Write([]byte("one\ntwo\nthree"))
		require.NoError(t, err)
		require.NoError(t, client.(*net.TCPConn).CloseWrite())

		assert.Equal(t, frame{data: "one\n"}, recv(t, frames))
		assert.Equal(t, frame{data: "two\n"}, recv(t, frames))
		assert.Equal(t, frame{data: "three", eof: true}, recv(t, frames))
		assert.Equal(t, EOF, recv(t, events))
		assert.Equal(t, Closed, recv(t, events))
	})

	t.Run("will keep leftover bytes for the next read", func(t *testing.T) {
		h := newHarness(t)
		client, s := h.accept(Framing(DoubleNewline()))

		frames := make(chan frame, 10)
		h.exec(func() {
			assert.NoError(t, s.OnceData(func(b []byte, eof bool) {
				frames <- frame{data: string(b), eof: eof}
			}))
			assert.NoError(t, s.ReadAsync())
		})

		_, err := client.Write([]byte("GET / HTTP/1.1\r\n\r\nbody"))
		require.NoError(t, err)

		assert.Equal(t, frame{data: "GET / HTTP/1.1\r\n\r\n"}, recv(t, frames))

		h.exec(func() {
			s.SetFraming(Exactly(4))
			assert.NoError(t, s.OnceData(func(b []byte, eof bool) {
				frames <- frame{data: string(b), eof: eof}
			}))
			assert.NoError(t, s.ReadAsync())
		})
		assert.Equal(t, frame{data: "body"}, recv(t, frames))
	})

	t.Run("will deliver a full buffer without a terminator", func(t *testing.T) {
		h := newHarness(t)
		client, s := h.accept(MaxReadSize(8))

		frames := make(chan frame, 10)
		h.exec(func() {
			assert.NoError(t, s.OnceData(func(b []byte, eof bool) {
				frames <- frame{data: string(b), eof: eof}
			}))
			assert.NoError(t, s.ReadAsync())
		})

		_, err := client.Write([]byte("0123456789"))
		require.NoError(t, err)

		assert.Equal(t, frame{data: "01234567"}, recv(t, frames))
	})

	t.Run("will fail with ErrReadInProgress", func(t *testing.T) {
		t.Run("if a read is outstanding", func(t *testing.T) {
			h := newHarness(t)
			_, s := h.accept()

			h.exec(func() {
				assert.NoError(t, s.ReadAsync())
				assert.ErrorIs(t, s.ReadAsync(), ErrReadInProgress)
			})
		})
	})
}

func TestSocket_Cancel(t *testing.T) {
	h := newHarness(t)
	_, s := h.accept()

	errs := make(chan *fault.Error, 1)
	h.exec(func() {
		_, err := s.OnError(func(e *fault.Error) { errs <- e })
		assert.NoError(t, err)
		assert.NoError(t, s.ReadAsync())
		s.Cancel()
	})

	e := recv(t, errs)
	assert.ErrorIs(t, e, ErrCanceled)

	closed := true
	h.exec(func() {
		closed = s.IsClosed()
	})
	assert.False(t, closed)
}

func TestSocket_WriteAsync(t *testing.T) {
	t.Run("will write in order and half close on End", func(t *testing.T) {
		h := newHarness(t)
		client, s := h.accept()

		completions := make(chan int, 10)
		events := make(chan string, 10)
		h.exec(func() {
			assert.NoError(t, s.OnWriteCompletion(func(n int) { completions <- n }))
			assert.NoError(t, s.OnAllWritesCompleted(func() { events <- AllWritesCompleted }))
			assert.NoError(t, s.OnClosed(func() { events <- Closed }))

			assert.NoError(t, s.WriteAsync([]byte("hello")))
			assert.NoError(t, s.WriteString(" world"))
			assert.NoError(t, s.End())
			assert.ErrorIs(t, s.WriteAsync([]byte("late")), ErrEnded)
		})

		b, err := io.ReadAll(client)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(b))

		assert.Equal(t, 5, recv(t, completions))
		assert.Equal(t, 6, recv(t, completions))
		assert.Equal(t, AllWritesCompleted, recv(t, events))

		client.Close()
		assert.Equal(t, Closed, recv(t, events))
	})

	t.Run("will emit all_writes_completed immediately if nothing is pending", func(t *testing.T) {
		h := newHarness(t)
		client, s := h.accept()

		events := make(chan string, 10)
		h.exec(func() {
			assert.NoError(t, s.OnAllWritesCompleted(func() { events <- AllWritesCompleted }))
			assert.NoError(t, s.End())
		})

		assert.Equal(t, AllWritesCompleted, recv(t, events))

		b, err := io.ReadAll(client)
		require.NoError(t, err)
		assert.Empty(t, b)
	})
}

func TestSocket_Write(t *testing.T) {
	h := newHarness(t)
	client, s := h.accept()

	h.exec(func() {
		assert.NoError(t, s.WriteAsync([]byte("first ")))
		n, err := s.Write([]byte("second"))
		assert.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.NoError(t, s.End())
	})

	b, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "first second", string(b))
}

func TestSocket_SendFileAsync(t *testing.T) {
	t.Run("will stream the file before ending", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "index.html")
		require.NoError(t, os.WriteFile(path, []byte("<p>Hello</p>"), 0o644))

		h := newHarness(t)
		client, s := h.accept()

		h.exec(func() {
			assert.NoError(t, s.WriteAsync([]byte("HEAD\r\n")))
			assert.NoError(t, s.SendFileAsync(path))
			assert.NoError(t, s.End())
		})

		b, err := io.ReadAll(client)
		require.NoError(t, err)
		assert.Equal(t, "HEAD\r\n<p>Hello</p>", string(b))
	})

	t.Run("will emit an error if the file is missing", func(t *testing.T) {
		h := newHarness(t)
		_, s := h.accept()

		errs := make(chan *fault.Error, 1)
		h.exec(func() {
			_, err := s.OnError(func(e *fault.Error) { errs <- e })
			assert.NoError(t, err)
			assert.NoError(t, s.SendFileAsync(filepath.Join(t.TempDir(), "missing")))
		})

		e := recv(t, errs)
		assert.ErrorIs(t, e, os.ErrNotExist)
	})
}

func TestSocket_SendFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("IDX"), 0o644))

	h := newHarness(t)
	client, s := h.accept()

	h.exec(func() {
		assert.NoError(t, s.SendFile(path))
		assert.NoError(t, s.End())
	})

	b, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "IDX", string(b))
}

func TestSocket_Close(t *testing.T) {
	h := newHarness(t)
	client, s := h.accept()

	closed := 0
	h.exec(func() {
		assert.NoError(t, s.OnClosed(func() { closed++ }))
		assert.NoError(t, s.Close(true))
		assert.NoError(t, s.Close(true))
		assert.ErrorIs(t, s.WriteAsync([]byte("x")), ErrClosed)
		assert.ErrorIs(t, s.ReadAsync(), ErrClosed)
	})

	h.exec(func() {})
	assert.Equal(t, 1, closed)

	b, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestSocket_TLS(t *testing.T) {
	t.Run("will handshake before the first read", func(t *testing.T) {
		h := newHarness(t)
		client, s := h.accept(TLS(createTestTLSConfig(t)))

		frames := make(chan frame, 1)
		h.exec(func() {
			assert.True(t, s.IsTLS())
			assert.NoError(t, s.OnceData(func(b []byte, eof bool) {
				frames <- frame{data: string(b), eof: eof}
			}))
			assert.NoError(t, s.ReadAsync())
		})

		tc := tls.Client(client, &tls.Config{InsecureSkipVerify: true})
		_, err := tc.Write([]byte("ping\n"))
		require.NoError(t, err)

		assert.Equal(t, frame{data: "ping\n"}, recv(t, frames))
	})

	t.Run("will emit error then closed if the handshake fails", func(t *testing.T) {
		h := newHarness(t)
		client, s := h.accept(TLS(createTestTLSConfig(t)))

		events := make(chan string, 2)
		h.exec(func() {
			_, err := s.OnError(func(*fault.Error) { events <- "error" })
			assert.NoError(t, err)
			assert.NoError(t, s.OnClosed(func() { events <- Closed }))
			assert.NoError(t, s.ReadAsync())
		})

		_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
		require.NoError(t, err)

		assert.Equal(t, "error", recv(t, events))
		assert.Equal(t, Closed, recv(t, events))
	})
}

func TestSocket_Connect(t *testing.T) {
	t.Run("will emit connect", func(t *testing.T) {
		ls, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ls.Close()

		received := make(chan string, 1)
		go func() {
			conn, err := ls.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			b, _ := io.ReadAll(conn)
			received <- string(b)
		}()

		h := newHarness(t)
		port := uint16(ls.Addr().(*net.TCPAddr).Port)

		s := New(h.strand)
		connected := make(chan struct{})
		h.exec(func() {
			assert.NoError(t, s.OnConnect(func() {
				close(connected)
				s.WriteAsync([]byte("hi"))
				s.End()
			}))
			assert.NoError(t, s.Connect(context.Background(), "127.0.0.1", port))
			assert.ErrorIs(t, s.Connect(context.Background(), "127.0.0.1", port), ErrAlreadyConnected)
		})

		recv(t, connected)
		assert.Equal(t, "hi", recv(t, received))
	})

	t.Run("will emit error if the connection is refused", func(t *testing.T) {
		ls, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := uint16(ls.Addr().(*net.TCPAddr).Port)
		ls.Close()

		h := newHarness(t)
		s := New(h.strand)

		errs := make(chan *fault.Error, 1)
		h.exec(func() {
			_, err := s.OnError(func(e *fault.Error) { errs <- e })
			assert.NoError(t, err)
			assert.NoError(t, s.Connect(context.Background(), "127.0.0.1", port))
		})

		e := recv(t, errs)
		category, err := e.Get(fault.Category)
		require.NoError(t, err)
		assert.Equal(t, "system", category)
	})
}
