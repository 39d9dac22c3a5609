// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package client is a minimal HTTP/1.1 GET client running on a reactor.
package client

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/z5labs/evhttp/fault"
	"github.com/z5labs/evhttp/pkg/noop"
	"github.com/z5labs/evhttp/pkg/maskslog"
	"github.com/z5labs/evhttp/pkg/slogfield"
	"github.com/z5labs/evhttp/reactor"
	"github.com/z5labs/evhttp/stream"
	"github.com/z5labs/evhttp/wire"

	"github.com/sony/gobreaker"
)

// DefaultMaxBodySize bounds response bodies unless MaxBodySize is given.
const DefaultMaxBodySize = 8 << 20

var (
	// ErrUnsupportedScheme is returned for URLs other than http and https.
	ErrUnsupportedScheme = errors.New("client: unsupported url scheme")

	// ErrBodyTooLarge is reported when a response exceeds the body limit.
	ErrBodyTooLarge = errors.New("client: response body too large")
)

// StatusError is reported, with the response, for status codes the
// client counts as failures.
type StatusError struct {
	Status int
}

// Error implements the [builtin.error] interface.
func (e StatusError) Error() string {
	return fmt.Sprintf("client: unexpected status code: %d", e.Status)
}

// Response is a received response.
type Response struct {
	*wire.ResponseHead

	Body []byte
}

// Option configures a Client.
type Option func(*Client)

// LogHandler configures the logger.
func LogHandler(h slog.Handler) Option {
	return func(c *Client) {
		c.log = slog.New(h)
	}
}

// TLSConfig is used for https URLs.
func TLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tls = cfg
	}
}

// MaxBodySize bounds response bodies.
func MaxBodySize(n int) Option {
	return func(c *Client) {
		c.maxBodySize = n
	}
}

// UserAgent sets the User-Agent header of every request.
func UserAgent(s string) Option {
	return func(c *Client) {
		c.userAgent = s
	}
}

type breakerOptions struct {
	name        string
	maxRequests uint32
	interval    time.Duration
	timeout     time.Duration
	tripCount   uint32
	statusCodes []int
}

// BreakerOption configures the circuit breaker.
type BreakerOption func(*breakerOptions)

// MaxHalfOpenRequests is how many requests go through while half open.
func MaxHalfOpenRequests(n uint32) BreakerOption {
	return func(bo *breakerOptions) {
		bo.maxRequests = n
	}
}

// ResetInterval is how often failure counts are cleared while closed.
func ResetInterval(d time.Duration) BreakerOption {
	return func(bo *breakerOptions) {
		bo.interval = d
	}
}

// OpenTimeout is how long the circuit stays open before going half open.
func OpenTimeout(d time.Duration) BreakerOption {
	return func(bo *breakerOptions) {
		bo.timeout = d
	}
}

// TripAfter opens the circuit after n consecutive failures.
func TripAfter(n uint32) BreakerOption {
	return func(bo *breakerOptions) {
		bo.tripCount = n
	}
}

// FailOnStatus counts responses with the given codes as failures.
func FailOnStatus(codes ...int) BreakerOption {
	return func(bo *breakerOptions) {
		bo.statusCodes = append(bo.statusCodes, codes...)
	}
}

// CircuitBreaker guards requests with a circuit breaker. While the circuit
// is open Get fails immediately with [gobreaker.ErrOpenState].
func CircuitBreaker(name string, opts ...BreakerOption) Option {
	return func(c *Client) {
		bo := &breakerOptions{
			name:      name,
			tripCount: 5,
			timeout:   60 * time.Second,
		}
		for _, opt := range opts {
			opt(bo)
		}
		c.breaker = bo
	}
}

// Client issues GET requests. Each request uses its own connection on a
// strand of the reactor. Callbacks run on that strand.
type Client struct {
	log         *slog.Logger
	reactor     *reactor.Reactor
	tls         *tls.Config
	maxBodySize int
	userAgent   string

	breaker *breakerOptions
	cb      *gobreaker.TwoStepCircuitBreaker
	failOn  map[int]bool
}

// New returns a Client.
func New(r *reactor.Reactor, opts ...Option) *Client {
	c := &Client{
		log:         noop.Logger(),
		reactor:     r,
		maxBodySize: DefaultMaxBodySize,
		userAgent:   "evhttp",
		failOn:      make(map[int]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = slog.New(maskslog.NewHandler(c.log.Handler(), maskslog.Attr("url", maskslog.URLPassword)))
	if c.breaker == nil {
		return c
	}

	bo := c.breaker
	if len(bo.statusCodes) == 0 {
		bo.statusCodes = append(bo.statusCodes,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		)
	}
	for _, code := range bo.statusCodes {
		c.failOn[code] = true
	}

	logger := c.log
	c.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        bo.name,
		MaxRequests: bo.maxRequests,
		Interval:    bo.interval,
		Timeout:     bo.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bo.tripCount
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				logger.Error("circuit has been opened", slogfield.String("circuit", name))
			case gobreaker.StateHalfOpen:
				logger.Warn(
					"circuit is now half open and letting some requests through",
					slogfield.String("circuit", name),
					slogfield.Uint32("max_requests_allowed_through", bo.maxRequests),
				)
			case gobreaker.StateClosed:
				logger.Info("circuit has been closed", slogfield.String("circuit", name))
			}
		},
	})
	return c
}

// Get requests rawURL and calls f exactly once with the response or the
// failure. A response whose status the circuit breaker counts as a failure
// is passed along with a [StatusError].
func (c *Client) Get(ctx context.Context, rawURL string, f func(*Response, error)) error {
	u, err := wire.ParseURL(rawURL)
	if err != nil {
		return err
	}

	var opts []stream.Option
	opts = append(opts, stream.LogHandler(c.log.Handler()))
	var port uint16
	switch u.Scheme {
	case "http":
		port = u.PortOr(80)
	case "https":
		port = u.PortOr(443)
		cfg := c.tls
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		opts = append(opts, stream.TLS(cfg))
	default:
		return ErrUnsupportedScheme
	}

	report := func(bool) {}
	if c.cb != nil {
		done, err := c.cb.Allow()
		if err != nil {
			return err
		}
		report = done
	}

	strand := c.reactor.Strand()
	ex := &exchange{
		client: c,
		url:    u,
		sock:   stream.New(strand, opts...),
		report: report,
		f:      f,
	}
	err = strand.Post(func() {
		ex.start(ctx, port)
	})
	if err != nil {
		report(false)
		return err
	}
	return nil
}

func (c *Client) failed(status int) bool {
	return c.failOn[status]
}

// exchange is one request and its response. It lives on the socket's strand.
type exchange struct {
	client *Client
	url    wire.URL
	sock   *stream.Socket
	report func(success bool)
	f      func(*Response, error)

	resp     *Response
	length   int
	hasLen   bool
	finished bool
	stop     func() bool
}

func (ex *exchange) start(ctx context.Context, port uint16) {
	sock := ex.sock
	sock.OnError(func(err *fault.Error) {
		ex.finish(err)
	})
	sock.OnClosed(func() {
		ex.finish(io.ErrUnexpectedEOF)
	})
	sock.OnConnect(func() {
		ex.send()
	})

	ex.stop = context.AfterFunc(ctx, func() {
		sock.Strand().Post(func() {
			ex.finish(ctx.Err())
		})
	})

	if err := sock.Connect(ctx, ex.url.Host, port); err != nil {
		ex.finish(err)
	}
}

func (ex *exchange) send() {
	host := ex.url.Host
	if ex.url.HasPort {
		host = fmt.Sprintf("%s:%d", host, ex.url.Port)
	}

	path := wire.AbsPath{Path: "/"}
	if ex.url.Path != nil {
		path = *ex.url.Path
	}
	req := &wire.Request{
		Method: wire.Get,
		URL:    path,
		Major:  1,
		Minor:  1,
		Headers: wire.Headers{
			{Name: "Host", Value: host},
			{Name: "User-Agent", Value: ex.client.userAgent},
			{Name: "Accept", Value: "*/*"},
			{Name: "Connection", Value: "close"},
		},
	}
	if ex.url.Auth != nil {
		req.Headers.Add("Authorization", basicAuth(ex.url.Auth))
	}

	sock := ex.sock
	if err := sock.WriteAsync(req.Bytes()); err != nil {
		ex.finish(err)
		return
	}
	sock.SetFraming(stream.DoubleNewline())
	sock.OnceData(ex.onHead)
	if err := sock.ReadAsync(); err != nil {
		ex.finish(err)
	}
}

func basicAuth(a *wire.Auth) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.Username+":"+a.Password))
}

func (ex *exchange) onHead(frame []byte, eof bool) {
	head, err := wire.ParseResponseHead(frame)
	if err != nil {
		ex.finish(err)
		return
	}
	ex.resp = &Response{ResponseHead: head}

	n, ok := head.Headers.ContentLength()
	if ok && n > int64(ex.client.maxBodySize) {
		ex.finish(ErrBodyTooLarge)
		return
	}
	ex.length, ex.hasLen = int(n), ok
	if ok && n == 0 || eof {
		ex.finish(nil)
		return
	}

	sock := ex.sock
	if ok {
		sock.SetFraming(stream.Exactly(ex.length))
		if sock.MaxReadSize() < ex.length {
			sock.SetMaxReadSize(ex.length)
		}
	} else {
		sock.SetFraming(stream.BufferFull())
	}
	sock.OnData(ex.onBody)
	sock.OnEOF(func() {
		ex.finish(nil)
	})
	if err := sock.ReadAsync(); err != nil {
		ex.finish(err)
	}
}

func (ex *exchange) onBody(frame []byte, eof bool) {
	ex.resp.Body = append(ex.resp.Body, frame...)
	switch {
	case len(ex.resp.Body) > ex.client.maxBodySize:
		ex.finish(ErrBodyTooLarge)
	case ex.hasLen && len(ex.resp.Body) >= ex.length:
		ex.resp.Body = ex.resp.Body[:ex.length]
		ex.finish(nil)
	case eof:
		ex.finish(nil)
	default:
		if err := ex.sock.ReadAsync(); err != nil {
			ex.finish(err)
		}
	}
}

// finish reports the outcome once and releases the socket.
func (ex *exchange) finish(err error) {
	if ex.finished {
		return
	}
	ex.finished = true
	if ex.stop != nil {
		ex.stop()
	}

	resp := ex.resp
	if err == nil && ex.hasLen && len(resp.Body) < ex.length {
		err = io.ErrUnexpectedEOF
	}
	if err == nil && ex.client.failed(resp.Status) {
		err = StatusError{Status: resp.Status}
	}
	ex.report(err == nil)

	ex.sock.Close(false)
	if err != nil {
		var serr StatusError
		if !errors.As(err, &serr) {
			resp = nil
		}
		ex.client.log.Debug(
			"request failed",
			slogfield.String("url", ex.url.String()),
			slogfield.Error(err),
		)
	}
	ex.f(resp, err)
}
