// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package web

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/z5labs/evhttp/fault"
	"github.com/z5labs/evhttp/reactor"
	"github.com/z5labs/evhttp/tcp"
	"github.com/z5labs/evhttp/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer listens on an ephemeral loopback port and runs the server
// until the test ends.
func startServer(t *testing.T, site *Site, opts ...ServerOption) *Server {
	t.Helper()

	r := reactor.New(reactor.Workers(2))
	s := NewServer(r, site, opts...)
	tcp.Host("127.0.0.1")(s.acceptor)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.ListenOn(ctx, 0, tcp.IPv4, 0))

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

// roundTrip writes raw to the server and reads until the server closes
// its side.
func roundTrip(t *testing.T, s *Server, raw string) string {
	t.Helper()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)

	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(b)
}

// parse splits a raw response into its head and body.
func parse(t *testing.T, raw string) (*wire.ResponseHead, string) {
	t.Helper()

	i := strings.Index(raw, "\r\n\r\n")
	require.GreaterOrEqual(t, i, 0, "response has no preamble: %q", raw)

	head, err := wire.ParseResponseHead([]byte(raw[:i+4]))
	require.NoError(t, err)
	return head, raw[i+4:]
}

func hello(_ *Request, resp *Response) {
	resp.Headers.Set("Content-Type", "text/html")
	resp.End([]byte("<p>Hello</p>\n"))
}

func TestServer(t *testing.T) {
	t.Run("will respond 200", func(t *testing.T) {
		t.Run("if a route matches a plain GET", func(t *testing.T) {
			site := NewSite()
			site.OnRequestsFor(wire.Get, "/", hello)
			s := startServer(t, site)

			raw := roundTrip(t, s, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
			require.True(t, strings.HasPrefix(raw, "HTTP/1.1 200 "), raw)

			head, body := parse(t, raw)
			assert.Equal(t, "13", head.Headers.Get("Content-Length"))
			assert.True(t, head.Headers.Has("Date"))
			assert.Equal(t, "text/html", head.Headers.Get("Content-Type"))
			assert.Equal(t, "<p>Hello</p>\n", body)

			_, err := time.Parse(http.TimeFormat, head.Headers.Get("Date"))
			assert.NoError(t, err)
		})
	})

	t.Run("will respond 400", func(t *testing.T) {
		t.Run("if the preamble is malformed", func(t *testing.T) {
			s := startServer(t, NewSite())

			raw := roundTrip(t, s, "NOT_A_METHOD / HTTP/1.1\r\n\r\n")
			assert.True(t, strings.HasPrefix(raw, "HTTP/1.1 400 "), raw)

			_, body := parse(t, raw)
			assert.Equal(t, "400 Bad Request\r\n", body)
		})
	})

	t.Run("will respond 404", func(t *testing.T) {
		t.Run("if no route matches", func(t *testing.T) {
			site := NewSite()
			site.OnRequestsFor(wire.Get, "/status", hello)
			s := startServer(t, site)

			raw := roundTrip(t, s, "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
			assert.True(t, strings.HasPrefix(raw, "HTTP/1.1 404 "), raw)
		})

		t.Run("through a custom page", func(t *testing.T) {
			site := NewSite()
			site.OnPageError(http.StatusNotFound, func(req *Request, resp *Response, code int) {
				resp.SetStatus(code)
				resp.End([]byte("nothing at " + req.URL.Path))
			})
			s := startServer(t, site)

			raw := roundTrip(t, s, "GET /gone HTTP/1.1\r\n\r\n")
			head, body := parse(t, raw)
			assert.Equal(t, http.StatusNotFound, head.Status)
			assert.Equal(t, "nothing at /gone", body)
		})
	})

	t.Run("will respond 500", func(t *testing.T) {
		t.Run("if the handler panics before sending", func(t *testing.T) {
			site := NewSite()
			site.OnRequestsFor(wire.Any, "/*", func(*Request, *Response) {
				panic("handler bug")
			})
			s := startServer(t, site)

			errs := make(chan *fault.Error, 1)
			require.NoError(t, s.Strand().Exec(context.Background(), func() {
				s.OnError(func(e *fault.Error) {
					errs <- e
				})
			}))

			raw := roundTrip(t, s, "GET / HTTP/1.1\r\n\r\n")
			assert.True(t, strings.HasPrefix(raw, "HTTP/1.1 500 "), raw)

			select {
			case e := <-errs:
				assert.Equal(t, "Error handling http request", e.Description())
			case <-time.After(5 * time.Second):
				t.Fatal("no error event")
			}
		})
	})

	t.Run("will omit the body", func(t *testing.T) {
		t.Run("if the method is HEAD", func(t *testing.T) {
			site := NewSite()
			site.OnRequestsFor(wire.Any, "/", hello)
			s := startServer(t, site)

			raw := roundTrip(t, s, "HEAD / HTTP/1.1\r\n\r\n")
			head, body := parse(t, raw)
			assert.Equal(t, http.StatusOK, head.Status)
			assert.Equal(t, "13", head.Headers.Get("Content-Length"))
			assert.Empty(t, body)
		})
	})

	t.Run("will echo the HTTP version", func(t *testing.T) {
		site := NewSite()
		site.OnRequestsFor(wire.Get, "/", hello)
		s := startServer(t, site)

		raw := roundTrip(t, s, "GET / HTTP/1.0\r\n\r\n")
		assert.True(t, strings.HasPrefix(raw, "HTTP/1.0 200 "), raw)
	})

	t.Run("will read the request body", func(t *testing.T) {
		site := NewSite()
		site.OnRequestsFor(wire.Post, "/echo", func(req *Request, resp *Response) {
			err := req.ReadBody(func(body []byte, err error) {
				if err != nil {
					resp.SetStatus(http.StatusBadRequest)
				}
				resp.End(body)
			})
			if err != nil {
				resp.SetStatus(http.StatusInternalServerError)
				resp.End()
			}
		})
		s := startServer(t, site)

		raw := roundTrip(t, s, "POST /echo HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world")
		head, body := parse(t, raw)
		assert.Equal(t, http.StatusOK, head.Status)
		assert.Equal(t, "hello world", body)
	})

	t.Run("will reject a body over the limit", func(t *testing.T) {
		site := NewSite()
		site.OnRequestsFor(wire.Post, "/", func(req *Request, resp *Response) {
			req.ReadBody(func(_ []byte, err error) {
				if err != nil {
					resp.SetStatus(http.StatusRequestEntityTooLarge)
				}
				resp.End()
			})
		})
		s := startServer(t, site, MaxBodySize(4))

		raw := roundTrip(t, s, "POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
		head, _ := parse(t, raw)
		assert.Equal(t, http.StatusRequestEntityTooLarge, head.Status)
	})

	t.Run("will stream after PrepareRawWrite", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "data.txt")
		require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))

		site := NewSite()
		site.OnRequestsFor(wire.Get, "/file", func(_ *Request, resp *Response) {
			resp.WriteString("discarded")
			if err := resp.PrepareRawWrite(12); err != nil {
				resp.Close(false)
				return
			}
			resp.WriteFile(path)
			resp.WriteString("!\n")
			resp.End()
		})
		s := startServer(t, site)

		raw := roundTrip(t, s, "GET /file HTTP/1.1\r\n\r\n")
		head, body := parse(t, raw)
		assert.Equal(t, "12", head.Headers.Get("Content-Length"))
		assert.Equal(t, "0123456789!\n", body)
	})

	t.Run("will send the preamble once", func(t *testing.T) {
		site := NewSite()
		site.OnRequestsFor(wire.Get, "/", func(_ *Request, resp *Response) {
			resp.WriteString("once")
			resp.Send()
			resp.Send()
			assert.ErrorIs(t, resp.Reset(), ErrCommitted)
			resp.End()
		})
		s := startServer(t, site)

		raw := roundTrip(t, s, "GET / HTTP/1.1\r\n\r\n")
		assert.Equal(t, 1, strings.Count(raw, "HTTP/1.1 200 OK\r\n"))

		_, body := parse(t, raw)
		assert.Equal(t, "once", body)
	})

	t.Run("will reject body writes after the body was sent", func(t *testing.T) {
		site := NewSite()
		site.OnRequestsFor(wire.Get, "/", func(_ *Request, resp *Response) {
			resp.WriteString("abc")
			resp.Send()

			_, err := resp.WriteString("EXTRA")
			assert.ErrorIs(t, err, ErrBodySent)
			assert.ErrorIs(t, resp.WriteFile("/dev/null"), ErrBodySent)
			resp.End()
		})
		s := startServer(t, site)

		raw := roundTrip(t, s, "GET / HTTP/1.1\r\n\r\n")
		head, body := parse(t, raw)
		assert.Equal(t, "3", head.Headers.Get("Content-Length"))
		assert.Equal(t, "abc", body)
	})

	t.Run("will serve health", func(t *testing.T) {
		site := NewSite()
		s := startServer(t, site)
		site.Register(HealthService("/health", s))

		raw := roundTrip(t, s, "GET /health HTTP/1.1\r\n\r\n")
		head, body := parse(t, raw)
		assert.Equal(t, http.StatusOK, head.Status)
		assert.Equal(t, "OK\n", body)
	})

	t.Run("will forget closed connections", func(t *testing.T) {
		site := NewSite()
		site.OnRequestsFor(wire.Get, "/", hello)
		s := startServer(t, site)

		roundTrip(t, s, "GET / HTTP/1.1\r\n\r\n")

		assert.Eventually(t, func() bool {
			n := -1
			err := s.Strand().Exec(context.Background(), func() {
				n = s.Connections()
			})
			return err == nil && n == 0
		}, 10*time.Second, 20*time.Millisecond)
	})
}

func TestServer_Run(t *testing.T) {
	t.Run("will close live connections", func(t *testing.T) {
		t.Run("if the context is cancelled", func(t *testing.T) {
			r := reactor.New()
			s := NewServer(r, NewSite())
			tcp.Host("127.0.0.1")(s.acceptor)

			ctx, cancel := context.WithCancel(context.Background())
			require.NoError(t, s.ListenOn(ctx, 0, tcp.IPv4, 0))
			assert.True(t, s.Healthy(ctx))

			done := make(chan error, 1)
			go func() {
				done <- s.Run(ctx)
			}()

			conn, err := net.Dial("tcp", s.Addr().String())
			require.NoError(t, err)
			defer conn.Close()

			// half a preamble keeps the connection open
			_, err = io.WriteString(conn, "GET / HTTP/1.1\r\n")
			require.NoError(t, err)

			assert.Eventually(t, func() bool {
				n := 0
				s.Strand().Exec(context.Background(), func() {
					n = s.Connections()
				})
				return n == 1
			}, 5*time.Second, 10*time.Millisecond)

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("server did not stop")
			}
			assert.False(t, s.Healthy(context.Background()))

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			_, err = bufio.NewReader(conn).ReadByte()
			assert.ErrorIs(t, err, io.EOF)
		})
	})
}

func TestListenConfig_Validate(t *testing.T) {
	testCases := []struct {
		Name   string
		Config ListenConfig
		Valid  bool
	}{
		{Name: "zero value", Config: ListenConfig{}, Valid: true},
		{Name: "ip host", Config: ListenConfig{Host: "127.0.0.1", Port: 8080}, Valid: true},
		{Name: "named host", Config: ListenConfig{Host: "localhost"}, Valid: true},
		{Name: "negative backlog", Config: ListenConfig{Backlog: -1}},
		{Name: "bad host", Config: ListenConfig{Host: "not a host!"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			err := testCase.Config.Validate()
			if testCase.Valid {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
		})
	}
}
