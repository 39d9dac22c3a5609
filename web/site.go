// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package web

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/z5labs/evhttp/wire"
)

// AnyHost is the host of routes that match requests for every host.
const AnyHost = "*"

// HandlerFunc answers a request.
type HandlerFunc func(req *Request, resp *Response)

type route struct {
	host    string
	method  wire.Method
	pattern string
	prefix  string
	exact   bool
	seq     int
	h       HandlerFunc
}

func (rt route) matches(host string, method wire.Method, path string) bool {
	if rt.host != AnyHost && !strings.EqualFold(rt.host, host) {
		return false
	}
	if !rt.method.Matches(method) {
		return false
	}
	if rt.exact {
		return path == rt.prefix
	}
	return strings.HasPrefix(path, rt.prefix)
}

// compareRoutes orders concrete hosts before AnyHost, then longer paths
// before shorter ones, exact paths before prefixes of the same length and
// finally by registration order.
func compareRoutes(a, b route) int {
	if (a.host == AnyHost) != (b.host == AnyHost) {
		if a.host == AnyHost {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(len(b.prefix), len(a.prefix)); c != 0 {
		return c
	}
	if a.exact != b.exact {
		if a.exact {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.seq, b.seq)
}

// Site routes requests to handlers and answers failures with page errors.
//
// A path ending in '*' matches every request path starting with what
// precedes it; any other path must match exactly. Paths are compared
// percent-decoded.
//
// Registration may happen while requests are served.
type Site struct {
	mu         sync.RWMutex
	routes     []route
	seq        int
	pageErrors map[int]PageErrorFunc
}

// NewSite returns an empty Site.
func NewSite() *Site {
	return &Site{
		pageErrors: make(map[int]PageErrorFunc),
	}
}

// OnRequestsFor routes requests for any host.
func (s *Site) OnRequestsFor(method wire.Method, path string, h HandlerFunc) {
	s.OnRequestsForHost(AnyHost, method, path, h)
}

// OnRequestsForHost routes requests whose Host header names host.
func (s *Site) OnRequestsForHost(host string, method wire.Method, path string, h HandlerFunc) {
	rt := route{
		host:    host,
		method:  method,
		pattern: path,
		prefix:  strings.TrimSuffix(path, "*"),
		exact:   !strings.HasSuffix(path, "*"),
		h:       h,
	}
	if rt.host == "" {
		rt.host = AnyHost
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rt.seq = s.seq
	s.seq++
	s.routes = append(s.routes, rt)
	slices.SortStableFunc(s.routes, compareRoutes)
}

// Register lets svc add its routes.
func (s *Site) Register(svc Service) {
	svc.Register(s)
}

// Routes returns "host method path" for every route, in match order.
func (s *Site) Routes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.routes))
	for i, rt := range s.routes {
		out[i] = rt.host + " " + rt.method.String() + " " + rt.pattern
	}
	return out
}

// Match returns the handler for a request, if any route matches.
func (s *Site) Match(host string, method wire.Method, path string) (HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rt := range s.routes {
		if rt.matches(host, method, path) {
			return rt.h, true
		}
	}
	return nil, false
}

// Dispatch runs the matching handler or answers with a 404 page error.
func (s *Site) Dispatch(req *Request, resp *Response) {
	h, ok := s.Match(req.Host(), req.Method, req.Path())
	if !ok {
		s.EmitPageError(req, resp, http.StatusNotFound)
		return
	}
	h(req, resp)
}

// OnPageError registers the page for code.
func (s *Site) OnPageError(code int, f PageErrorFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageErrors[code] = f
}

// OnAnyPageError registers the page for codes without their own page.
func (s *Site) OnAnyPageError(f PageErrorFunc) {
	s.OnPageError(0, f)
}

// ExceptOnPageError removes the page for code.
func (s *Site) ExceptOnPageError(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pageErrors, code)
}

// EmitPageError answers with the page registered for code, the catch-all
// page, or a plain "<code> <reason>" page.
func (s *Site) EmitPageError(req *Request, resp *Response, code int) {
	s.mu.RLock()
	f, ok := s.pageErrors[code]
	if !ok {
		f, ok = s.pageErrors[0]
	}
	s.mu.RUnlock()

	if !ok {
		f = defaultPageError
	}
	f(req, resp, code)
}

func defaultPageError(_ *Request, resp *Response, code int) {
	resp.Reset()
	resp.SetStatus(code)
	resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	resp.End([]byte(strconv.Itoa(code) + " " + wire.Reason(code) + "\r\n"))
}
